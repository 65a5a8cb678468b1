// Package relay mirrors a client's event stream into Redis: every envelope is
// published on a channel and appended to a capped history list, and the
// latest session snapshot is kept under a state key.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChannel    = "brainrot.events"
	DefaultHistoryLen = 500
)

var ErrChannelRequired = errors.New("relay: channel required")

// Stream is the consumer side of an event subscription.
type Stream interface {
	Next(ctx context.Context) (session.Envelope, error)
}

// StateFunc reports the current session snapshot. It may be nil.
type StateFunc func() session.Snapshot

type Option func(*Publisher)

// WithHistory caps the history list at n entries; n <= 0 disables it.
func WithHistory(n int) Option {
	return func(p *Publisher) {
		p.historyLen = n
	}
}

type Publisher struct {
	client     *backend.Client
	channel    string
	historyLen int
}

func New(address, password string, db int, channel string, opts ...Option) (*Publisher, error) {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, channel, opts...)
}

func NewFromClient(client *backend.Client, channel string, opts ...Option) (*Publisher, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	p := &Publisher{
		client:     client,
		channel:    channel,
		historyLen: DefaultHistoryLen,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Publisher) Channel() string    { return p.channel }
func (p *Publisher) HistoryKey() string { return p.channel + ":history" }
func (p *Publisher) StateKey() string   { return p.channel + ":state" }

func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// Run forwards envelopes from stream until it ends. A clean close of the event
// bus or cancellation of ctx returns nil; a Redis failure or any other close
// cause is returned.
func (p *Publisher) Run(ctx context.Context, stream Stream, state StateFunc) error {
	for {
		env, err := stream.Next(ctx)
		if err != nil {
			var overflow *bus.OverflowError
			switch {
			case errors.As(err, &overflow):
				log.Warn().Uint64("dropped", overflow.Dropped).Str("channel", p.channel).Msg("relay.Publisher.Run consumer overflow")
				continue
			case errors.Is(err, bus.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
		if err := p.Publish(ctx, env, state); err != nil {
			return err
		}
	}
}

// Publish writes one envelope (and the snapshot, if state is set) in a single
// transaction.
func (p *Publisher) Publish(ctx context.Context, env session.Envelope, state StateFunc) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encode envelope seq=%d: %w", env.Seq, err)
	}
	var snap []byte
	if state != nil {
		snap, err = json.Marshal(state())
		if err != nil {
			return fmt.Errorf("relay: encode snapshot: %w", err)
		}
	}
	_, err = p.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Publish(ctx, p.channel, body)
		if p.historyLen > 0 {
			pipe.RPush(ctx, p.HistoryKey(), body)
			pipe.LTrim(ctx, p.HistoryKey(), int64(-p.historyLen), -1)
		}
		if snap != nil {
			pipe.Set(ctx, p.StateKey(), snap, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("relay: publish seq=%d: %w", env.Seq, err)
	}
	log.Trace().Str("session", env.SessionID).Uint64("seq", env.Seq).Str("kind", string(env.Event.Kind())).Msg("relay.Publisher.Publish")
	return nil
}

// History returns up to n of the most recent envelopes, oldest first.
func (p *Publisher) History(ctx context.Context, n int) ([]session.Envelope, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.HistoryKey(), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay: read history: %w", err)
	}
	out := make([]session.Envelope, 0, len(raw))
	for _, item := range raw {
		var env session.Envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			return nil, fmt.Errorf("relay: decode history: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}

// State returns the last stored snapshot. ok is false when none was stored.
func (p *Publisher) State(ctx context.Context) (snap session.Snapshot, ok bool, err error) {
	raw, err := p.client.Get(ctx, p.StateKey()).Bytes()
	if errors.Is(err, backend.Nil) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("relay: read state: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return session.Snapshot{}, false, fmt.Errorf("relay: decode state: %w", err)
	}
	return snap, true, nil
}
