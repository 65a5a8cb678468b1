package session

import (
	"fmt"
	"strings"

	"github.com/danmuck/brainrot/internal/protocol/frame"
)

const (
	maxNickRetries  = 3
	defaultPrefixes = "~&@%+"
)

// Identity is what the machine registers with.
type Identity struct {
	Nickname string
	Username string
	Realname string
	Password string
	Channels []string
}

// Step is the outcome of applying one frame: events to publish in order and
// commands to queue, in order, on the outbound throttle.
type Step struct {
	Events  []Event
	Replies []frame.Command
}

// Machine is the per-attempt state machine. It is not safe for concurrent use;
// exactly one goroutine owns it.
type Machine struct {
	id           Identity
	state        State
	active       bool
	nickAttempts int
}

func NewMachine(id Identity) *Machine {
	if strings.TrimSpace(id.Username) == "" {
		id.Username = id.Nickname
	}
	if strings.TrimSpace(id.Realname) == "" {
		id.Realname = id.Nickname
	}
	return &Machine{id: id, state: newState()}
}

func (m *Machine) Phase() Phase {
	return m.state.Phase
}

func (m *Machine) Nickname() string {
	return m.state.Nickname
}

func (m *Machine) Snapshot() Snapshot {
	return m.state.snapshot()
}

// Begin starts a new attempt from a clean state: Disconnected -> Connecting.
func (m *Machine) Begin() {
	m.state = newState()
	m.state.Phase = PhaseConnecting
	m.active = true
	m.nickAttempts = 0
}

// Established moves Connecting -> Registering once the transport is up and
// returns the registration commands to send.
func (m *Machine) Established() ([]frame.Command, error) {
	if m.state.Phase != PhaseConnecting {
		return nil, fmt.Errorf("%w: established in %s", ErrWrongPhase, m.state.Phase)
	}
	m.state.Phase = PhaseRegistering
	m.state.Nickname = m.id.Nickname

	out := make([]frame.Command, 0, 3)
	if m.id.Password != "" {
		out = append(out, frame.Pass(m.id.Password))
	}
	out = append(out, frame.Nick(m.id.Nickname), frame.User(m.id.Username, m.id.Realname))
	return out, nil
}

// Terminate moves any phase to Disconnected and resets state. It returns the
// Disconnected event only on the first call per attempt.
func (m *Machine) Terminate(reason string) (Event, bool) {
	if !m.active {
		return nil, false
	}
	m.active = false
	m.state = newState()
	return Disconnected{Reason: reason}, true
}

// Apply folds one inbound frame into state. A *frame.ParseError means the
// frame lacked required parameters and was dropped; a *ProtocolError is fatal
// and the returned Step carries the matching ProtocolErrorEvent.
func (m *Machine) Apply(f frame.Frame) (Step, error) {
	if m.state.Phase != PhaseRegistering && m.state.Phase != PhaseReady {
		return Step{}, nil
	}

	switch f.Command {
	case "PING":
		return Step{Replies: []frame.Command{frame.Pong(f.Last())}}, nil
	case "ERROR":
		return m.fatal(f.Command, f.Last())
	case "001":
		return m.applyWelcome(f), nil
	case "005":
		m.applyISupport(f)
		return Step{}, nil
	case "353":
		m.applyNames(f)
		return Step{}, nil
	case "432", "433", "436":
		return m.applyNickRejected(f)
	case "464", "465":
		return m.fatal(f.Command, f.Last())
	case "JOIN":
		return m.applyJoin(f)
	case "PART":
		return m.applyPart(f)
	case "KICK":
		return m.applyKick(f)
	case "QUIT":
		return m.applyQuit(f)
	case "NICK":
		return m.applyNick(f)
	case "PRIVMSG", "NOTICE":
		return m.applyMessage(f)
	default:
		return Step{}, nil
	}
}

func (m *Machine) fatal(command, detail string) (Step, error) {
	if strings.TrimSpace(detail) == "" {
		detail = "server closed the registration"
	}
	err := &ProtocolError{Command: command, Detail: detail}
	return Step{Events: []Event{ProtocolErrorEvent{Detail: err.Error()}}}, err
}

func malformed(f frame.Frame, reason string) error {
	return &frame.ParseError{Line: f.String(), Reason: reason}
}

func (m *Machine) applyWelcome(f frame.Frame) Step {
	if m.state.Phase != PhaseRegistering {
		return Step{}
	}
	if nick := f.Arg(0); nick != "" && nick != "*" {
		m.state.Nickname = nick
	}
	m.state.Phase = PhaseReady

	step := Step{
		Events: []Event{
			Connected{Server: f.Source()},
			Registered{Nickname: m.state.Nickname},
		},
	}
	for _, ch := range m.id.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			step.Replies = append(step.Replies, frame.Join(ch))
		}
	}
	return step
}

func (m *Machine) applyISupport(f frame.Frame) {
	// Params[0] is our nick; the trailing text is human readable.
	for _, token := range f.Params[min(1, len(f.Params)):] {
		if strings.HasPrefix(token, "-") {
			delete(m.state.Features, strings.TrimPrefix(token, "-"))
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		if key != "" {
			m.state.Features[key] = value
		}
	}
}

// prefixSymbols returns the membership prefix symbols from ISUPPORT PREFIX=(modes)symbols.
func (m *Machine) prefixSymbols() string {
	raw, ok := m.state.Features["PREFIX"]
	if !ok {
		return defaultPrefixes
	}
	if i := strings.IndexByte(raw, ')'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

func (m *Machine) applyNames(f frame.Frame) {
	args := f.Args()
	if len(args) < 3 {
		return
	}
	ch, ok := m.state.channel(args[len(args)-2])
	if !ok {
		return
	}
	symbols := m.prefixSymbols()
	for _, entry := range strings.Fields(args[len(args)-1]) {
		nick := strings.TrimLeft(entry, symbols)
		if i := strings.IndexByte(nick, '!'); i >= 0 {
			nick = nick[:i]
		}
		if nick != "" {
			m.state.addMember(ch, nick)
		}
	}
}

func (m *Machine) applyNickRejected(f frame.Frame) (Step, error) {
	if m.state.Phase != PhaseRegistering {
		return Step{}, nil
	}
	if f.Command == "432" {
		return m.fatal(f.Command, fmt.Sprintf("erroneous nickname %q", m.state.Nickname))
	}
	m.nickAttempts++
	if m.nickAttempts > maxNickRetries {
		return m.fatal(f.Command, fmt.Sprintf("nickname unavailable after %d retries", maxNickRetries))
	}
	m.state.Nickname += "_"
	return Step{Replies: []frame.Command{frame.Nick(m.state.Nickname)}}, nil
}

func (m *Machine) applyJoin(f frame.Frame) (Step, error) {
	name := f.Arg(0)
	who := f.Source()
	if name == "" || who == "" {
		return Step{}, malformed(f, "JOIN missing channel or source")
	}
	ch, tracked := m.state.channel(name)
	if !tracked && m.state.isSelf(who) {
		ch, tracked = m.state.ensureChannel(name), true
	}
	if tracked {
		name = ch.name
		m.state.addMember(ch, who)
	}
	return Step{Events: []Event{Joined{Channel: name, Who: who}}}, nil
}

func (m *Machine) applyPart(f frame.Frame) (Step, error) {
	name := f.Arg(0)
	who := f.Source()
	if name == "" || who == "" {
		return Step{}, malformed(f, "PART missing channel or source")
	}
	if ch, ok := m.state.channel(name); ok {
		name = ch.name
		m.state.removeMember(ch, who)
		if m.state.isSelf(who) {
			m.state.dropChannel(name)
		}
	}
	return Step{Events: []Event{Parted{Channel: name, Who: who, Reason: f.Arg(1), Cause: CausePart}}}, nil
}

func (m *Machine) applyKick(f frame.Frame) (Step, error) {
	name := f.Arg(0)
	target := f.Arg(1)
	if name == "" || target == "" {
		return Step{}, malformed(f, "KICK missing channel or target")
	}
	if ch, ok := m.state.channel(name); ok {
		name = ch.name
		m.state.removeMember(ch, target)
		if m.state.isSelf(target) {
			m.state.dropChannel(name)
		}
	}
	return Step{Events: []Event{Parted{
		Channel: name,
		Who:     target,
		Reason:  f.Arg(2),
		Cause:   CauseKick,
		By:      f.Source(),
	}}}, nil
}

func (m *Machine) applyQuit(f frame.Frame) (Step, error) {
	who := f.Source()
	if who == "" {
		return Step{}, malformed(f, "QUIT missing source")
	}
	reason := f.Arg(0)
	channels := m.state.channelsOf(who)
	if len(channels) == 0 {
		return Step{Events: []Event{Parted{Who: who, Reason: reason, Cause: CauseQuit}}}, nil
	}
	step := Step{Events: make([]Event, 0, len(channels))}
	for _, name := range channels {
		if ch, ok := m.state.channel(name); ok {
			m.state.removeMember(ch, who)
		}
		step.Events = append(step.Events, Parted{Channel: name, Who: who, Reason: reason, Cause: CauseQuit})
	}
	return step, nil
}

func (m *Machine) applyNick(f frame.Frame) (Step, error) {
	oldNick := f.Source()
	newNick := f.Arg(0)
	if oldNick == "" || newNick == "" {
		return Step{}, malformed(f, "NICK missing source or new nickname")
	}
	self := m.state.isSelf(oldNick)
	m.state.rename(oldNick, newNick)
	if self {
		m.state.Nickname = newNick
	}
	return Step{Events: []Event{NickChanged{Old: oldNick, New: newNick}}}, nil
}

func (m *Machine) applyMessage(f frame.Frame) (Step, error) {
	args := f.Args()
	if len(args) < 2 {
		return Step{}, malformed(f, f.Command+" missing target or text")
	}
	return Step{Events: []Event{Message{
		Target: args[0],
		From:   f.Source(),
		Text:   f.Last(),
		Notice: f.Command == "NOTICE",
		Tags:   f.Tags,
	}}}, nil
}
