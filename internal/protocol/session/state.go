package session

import (
	"sort"
	"strings"
)

// Phase is the connection phase of one attempt.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseRegistering
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseRegistering:
		return "registering"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// channel is one tracked channel: display name plus roster keyed by folded nick.
type channel struct {
	name    string
	members map[string]string
}

// State is the authoritative view of one connection.
type State struct {
	Phase    Phase
	Nickname string
	channels map[string]*channel
	Features map[string]string
}

func newState() State {
	return State{
		Phase:    PhaseDisconnected,
		channels: make(map[string]*channel),
		Features: make(map[string]string),
	}
}

// fold applies the server's CASEMAPPING (rfc1459 unless the server says ascii).
func (s *State) fold(name string) string {
	if strings.EqualFold(s.Features["CASEMAPPING"], "ascii") {
		return strings.ToLower(name)
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		case r == '~':
			return '^'
		default:
			return r
		}
	}, name)
}

func (s *State) isSelf(nick string) bool {
	return nick != "" && s.fold(nick) == s.fold(s.Nickname)
}

func (s *State) channel(name string) (*channel, bool) {
	ch, ok := s.channels[s.fold(name)]
	return ch, ok
}

func (s *State) ensureChannel(name string) *channel {
	key := s.fold(name)
	ch, ok := s.channels[key]
	if !ok {
		ch = &channel{name: name, members: make(map[string]string)}
		s.channels[key] = ch
	}
	return ch
}

func (s *State) dropChannel(name string) {
	delete(s.channels, s.fold(name))
}

func (s *State) addMember(ch *channel, nick string) {
	ch.members[s.fold(nick)] = nick
}

func (s *State) removeMember(ch *channel, nick string) bool {
	key := s.fold(nick)
	if _, ok := ch.members[key]; !ok {
		return false
	}
	delete(ch.members, key)
	return true
}

// channelsOf returns display names of channels where nick is present, sorted.
func (s *State) channelsOf(nick string) []string {
	key := s.fold(nick)
	out := make([]string, 0)
	for _, ch := range s.channels {
		if _, ok := ch.members[key]; ok {
			out = append(out, ch.name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *State) rename(oldNick, newNick string) {
	oldKey := s.fold(oldNick)
	newKey := s.fold(newNick)
	for _, ch := range s.channels {
		if _, ok := ch.members[oldKey]; ok {
			delete(ch.members, oldKey)
			ch.members[newKey] = newNick
		}
	}
}

// Snapshot is a read-only, serializable copy of State.
type Snapshot struct {
	Phase    string              `json:"phase"`
	Nickname string              `json:"nickname"`
	Channels map[string][]string `json:"channels"`
	Features map[string]string   `json:"features,omitempty"`
}

func (s *State) snapshot() Snapshot {
	out := Snapshot{
		Phase:    s.Phase.String(),
		Nickname: s.Nickname,
		Channels: make(map[string][]string, len(s.channels)),
	}
	for _, ch := range s.channels {
		members := make([]string, 0, len(ch.members))
		for _, nick := range ch.members {
			members = append(members, nick)
		}
		sort.Strings(members)
		out.Channels[ch.name] = members
	}
	if len(s.Features) > 0 {
		out.Features = make(map[string]string, len(s.Features))
		for k, v := range s.Features {
			out.Features[k] = v
		}
	}
	return out
}
