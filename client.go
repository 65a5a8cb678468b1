package brainrot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/brainrot/internal/observability"
	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/protocol/throttle"
	"github.com/danmuck/brainrot/internal/protocol/transport"
	"github.com/rs/zerolog/log"
)

// lineConn is the part of the transport handle a session uses.
type lineConn interface {
	ReadLine() (string, error)
	WriteLine(line []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, cfg transport.Config) (lineConn, error)

func dialTransport(ctx context.Context, cfg transport.Config) (lineConn, error) {
	return transport.Dial(ctx, cfg)
}

// Client is one supervised IRC connection. All methods are safe for
// concurrent use.
type Client struct {
	endpoint Endpoint
	creds    Credentials
	cfg      Config
	dial     dialFunc
	rng      *rand.Rand

	bus     *bus.Bus
	primary *bus.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu         sync.Mutex
	conn       lineConn
	thr        *throttle.Throttle
	sessionID  string
	backoff    BackoffState
	stopping   bool
	stopReason string

	snapshot atomic.Pointer[session.Snapshot]
	seq      uint64
}

// Connect validates its inputs and starts the supervisor. It returns without
// waiting for the first connection; progress is reported on Events. ctx
// bounds the client's whole lifetime: cancelling it is an operator shutdown.
func Connect(ctx context.Context, ep Endpoint, creds Credentials, cfg Config) (*Client, error) {
	c, err := newClient(ctx, ep, creds, cfg, dialTransport)
	if err != nil {
		return nil, err
	}
	c.start()
	return c, nil
}

func newClient(ctx context.Context, ep Endpoint, creds Credentials, cfg Config, dial dialFunc) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.transportConfig(ep).Validate(); err != nil {
		return nil, err
	}

	observability.RegisterMetrics()
	b := bus.New(cfg.EventBuffer)
	c := &Client{
		endpoint: ep,
		creds:    creds,
		cfg:      cfg,
		dial:     dial,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		bus:      b,
		primary:  b.Subscribe(),
		done:     make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	empty := session.NewMachine(session.Identity{}).Snapshot()
	c.snapshot.Store(&empty)
	return c, nil
}

func (c *Client) start() {
	go c.supervise()
}

// Events is the subscription created before the first connection attempt, so
// it sees every event the client emits.
func (c *Client) Events() *Subscription {
	return c.primary
}

// Subscribe adds a consumer that sees events published from now on.
func (c *Client) Subscribe() *Subscription {
	return c.bus.Subscribe()
}

// Send submits cmd to the live session's throttle and blocks until it is
// written. Without a Ready session it fails with ErrSessionClosed.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if _, err := cmd.Encode(); err != nil {
		return err
	}
	c.mu.Lock()
	thr := c.thr
	c.mu.Unlock()
	if thr == nil {
		return ErrSessionClosed
	}
	return thr.Submit(ctx, cmd)
}

// Disconnect is the operator shutdown. It sends QUIT when a session is live,
// stops every task and ends the supervisor; Wait then returns nil.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.stopReason = reason
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if line, err := frame.Quit(reason).Encode(); err == nil {
			if err := conn.WriteLine(line); err != nil {
				log.Debug().Err(err).Msg("brainrot.Client.Disconnect quit write failed")
			}
		}
	}
	log.Info().Str("reason", reason).Msg("brainrot.Client.Disconnect")
	c.cancel()
}

// Wait blocks until the supervisor ends. It returns nil after Disconnect and
// an error wrapping ErrReconnectExhausted when retries ran out.
func (c *Client) Wait() error {
	<-c.done
	return c.err
}

// Done is closed when the supervisor has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the state of the current session as of its last frame.
func (c *Client) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Backoff() BackoffState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff
}

func (c *Client) isStopping() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping, c.stopReason
}

// emit stamps ev and hands it to the bus. Only the goroutine currently
// driving the session calls it.
func (c *Client) emit(ev session.Event) {
	c.seq++
	env := session.Envelope{
		SessionID: c.SessionID(),
		Seq:       c.seq,
		At:        time.Now().UTC(),
		Event:     ev,
	}
	observability.RecordEvent(ev.Kind())
	log.Debug().
		Str("session", env.SessionID).
		Uint64("seq", env.Seq).
		Str("kind", string(ev.Kind())).
		Msg("brainrot.Client.emit")
	c.bus.Publish(env)
}

func (c *Client) publishState(m *session.Machine) {
	snap := m.Snapshot()
	c.snapshot.Store(&snap)
	observability.SetPhase(m.Phase())
}

func (c *Client) String() string {
	return fmt.Sprintf("brainrot.Client(%s as %s)", c.endpoint.Address, c.creds.Nickname)
}
