package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags one member of the closed Event set.
type Kind string

const (
	KindConnected     Kind = "connected"
	KindRegistered    Kind = "registered"
	KindJoined        Kind = "joined"
	KindParted        Kind = "parted"
	KindMessage       Kind = "message"
	KindNickChanged   Kind = "nick_changed"
	KindDisconnected  Kind = "disconnected"
	KindProtocolError Kind = "protocol_error"
)

// Event is a normalized domain event. The set is closed: only this package
// implements it, so a type switch over the variants below is exhaustive.
type Event interface {
	Kind() Kind
	sealed()
}

type Connected struct {
	Server string `json:"server"`
}

type Registered struct {
	Nickname string `json:"nickname"`
}

type Joined struct {
	Channel string `json:"channel"`
	Who     string `json:"who"`
}

// PartCause says which frame removed a nick from a roster.
type PartCause string

const (
	CausePart PartCause = "part"
	CauseQuit PartCause = "quit"
	CauseKick PartCause = "kick"
)

// Parted reports a nick leaving a channel. Channel is empty for a QUIT from
// a nick that was not tracked in any roster.
type Parted struct {
	Channel string    `json:"channel"`
	Who     string    `json:"who"`
	Reason  string    `json:"reason,omitempty"`
	Cause   PartCause `json:"cause"`
	By      string    `json:"by,omitempty"`
}

// Message carries PRIVMSG/NOTICE text exactly as received.
type Message struct {
	Target string            `json:"target"`
	From   string            `json:"from"`
	Text   string            `json:"text"`
	Notice bool              `json:"notice,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

type NickChanged struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type Disconnected struct {
	Reason string `json:"reason"`
}

type ProtocolErrorEvent struct {
	Detail string `json:"detail"`
}

func (Connected) Kind() Kind          { return KindConnected }
func (Registered) Kind() Kind         { return KindRegistered }
func (Joined) Kind() Kind             { return KindJoined }
func (Parted) Kind() Kind             { return KindParted }
func (Message) Kind() Kind            { return KindMessage }
func (NickChanged) Kind() Kind        { return KindNickChanged }
func (Disconnected) Kind() Kind       { return KindDisconnected }
func (ProtocolErrorEvent) Kind() Kind { return KindProtocolError }

func (Connected) sealed()          {}
func (Registered) sealed()         {}
func (Joined) sealed()             {}
func (Parted) sealed()             {}
func (Message) sealed()            {}
func (NickChanged) sealed()        {}
func (Disconnected) sealed()       {}
func (ProtocolErrorEvent) sealed() {}

// Envelope stamps an event with its session and per-session sequence number.
type Envelope struct {
	SessionID string
	Seq       uint64
	At        time.Time
	Event     Event
}

type envelopeWire struct {
	Session string          `json:"session"`
	Seq     uint64          `json:"seq"`
	At      time.Time       `json:"at"`
	Kind    Kind            `json:"kind"`
	Event   json.RawMessage `json:"event"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("session: envelope seq=%d has no event", e.Seq)
	}
	body, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{
		Session: e.SessionID,
		Seq:     e.Seq,
		At:      e.At,
		Kind:    e.Event.Kind(),
		Event:   body,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ev, err := decodeEvent(wire.Kind, wire.Event)
	if err != nil {
		return err
	}
	*e = Envelope{SessionID: wire.Session, Seq: wire.Seq, At: wire.At, Event: ev}
	return nil
}

func decodeEvent(kind Kind, body json.RawMessage) (Event, error) {
	switch kind {
	case KindConnected:
		return decodeAs[Connected](body)
	case KindRegistered:
		return decodeAs[Registered](body)
	case KindJoined:
		return decodeAs[Joined](body)
	case KindParted:
		return decodeAs[Parted](body)
	case KindMessage:
		return decodeAs[Message](body)
	case KindNickChanged:
		return decodeAs[NickChanged](body)
	case KindDisconnected:
		return decodeAs[Disconnected](body)
	case KindProtocolError:
		return decodeAs[ProtocolErrorEvent](body)
	default:
		return nil, fmt.Errorf("session: unknown event kind %q", kind)
	}
}

func decodeAs[T Event](body json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
