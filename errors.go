package brainrot

import (
	"errors"

	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/protocol/throttle"
	"github.com/danmuck/brainrot/internal/protocol/transport"
)

var (
	ErrReconnectExhausted = errors.New("brainrot: reconnect attempts exhausted")
	ErrNicknameRequired   = errors.New("brainrot: nickname required")
	ErrInvalidConfig      = errors.New("brainrot: invalid config")
)

// Errors surfaced by the internal layers, for errors.Is checks by callers.
var (
	ErrParse            = frame.ErrParse
	ErrInvalidParam     = frame.ErrInvalidParam
	ErrSessionClosed    = throttle.ErrSessionClosed
	ErrProtocol         = session.ErrProtocol
	ErrTransport        = transport.ErrTransport
	ErrConsumerOverflow = bus.ErrConsumerOverflow
	ErrClosed           = bus.ErrClosed
)

type (
	ParseError    = frame.ParseError
	ProtocolError = session.ProtocolError
	OverflowError = bus.OverflowError
)
