package brainrot

import (
	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/protocol/throttle"
	"github.com/danmuck/brainrot/internal/protocol/transport"
)

type (
	Frame          = frame.Frame
	Prefix         = frame.Prefix
	Command        = frame.Command
	TLSConfig      = transport.TLSConfig
	TLSMode        = transport.TLSMode
	ThrottleConfig = throttle.Config
	Subscription   = bus.Subscription
	Envelope       = session.Envelope
	Snapshot       = session.Snapshot
	Phase          = session.Phase
	Kind           = session.Kind
	PartCause      = session.PartCause
)

// Event variants. A type switch over these is exhaustive.
type (
	Event              = session.Event
	Connected          = session.Connected
	Registered         = session.Registered
	Joined             = session.Joined
	Parted             = session.Parted
	Message            = session.Message
	NickChanged        = session.NickChanged
	Disconnected       = session.Disconnected
	ProtocolErrorEvent = session.ProtocolErrorEvent
)

const (
	TLSModeOff      = transport.TLSModeOff
	TLSModeOn       = transport.TLSModeOn
	TLSModeInsecure = transport.TLSModeInsecure

	PhaseDisconnected = session.PhaseDisconnected
	PhaseConnecting   = session.PhaseConnecting
	PhaseRegistering  = session.PhaseRegistering
	PhaseReady        = session.PhaseReady

	CausePart = session.CausePart
	CauseQuit = session.CauseQuit
	CauseKick = session.CauseKick
)

// Command constructors.
var (
	Raw     = frame.Raw
	Join    = frame.Join
	Part    = frame.Part
	Privmsg = frame.Privmsg
	Notice  = frame.Notice
	Nick    = frame.Nick
	Quit    = frame.Quit

	Decode = frame.Decode
)
