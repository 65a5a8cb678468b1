package session

import (
	"errors"
	"fmt"
)

var (
	ErrProtocol   = errors.New("session: protocol error")
	ErrWrongPhase = errors.New("session: wrong phase")
)

// ProtocolError is an unrecoverable server sequence. It ends the attempt.
type ProtocolError struct {
	Command string
	Detail  string
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("session: protocol error: %s", e.Detail)
	}
	return fmt.Sprintf("session: protocol error: %s: %s", e.Command, e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}
