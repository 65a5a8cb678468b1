// Package throttle paces outbound IRC commands with a token bucket.
//
// Commands are released strictly in submission order by a single release
// task. Closing the throttle fails every command still queued.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/brainrot/internal/observability"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrSessionClosed = errors.New("throttle: session closed")
	ErrQueueFull     = errors.New("throttle: queue full")
	ErrInvalidConfig = errors.New("throttle: invalid config")
)

// Config is a token bucket: Burst tokens, refilled at Rate per second.
// Rate <= 0 disables pacing.
type Config struct {
	Rate      float64
	Burst     int
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Rate:      0.5,
		Burst:     4,
		QueueSize: 256,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

func (c Config) Validate() error {
	if c.Rate < 0 {
		return fmt.Errorf("%w: rate %v must not be negative", ErrInvalidConfig, c.Rate)
	}
	if c.Burst < 1 {
		return fmt.Errorf("%w: burst %d must be at least 1", ErrInvalidConfig, c.Burst)
	}
	return nil
}

// Sink writes one encoded line to the transport.
type Sink func(line []byte) error

const (
	reqPending int32 = iota
	reqClaimed
	reqCancelled
)

type request struct {
	cmd   frame.Command
	line  []byte
	done  chan error
	state *atomic.Int32
}

// claim marks req as being written. It fails once the submitter gave up.
func (r request) claim() bool {
	return r.state.CompareAndSwap(reqPending, reqClaimed)
}

func (r request) cancel() bool {
	return r.state.CompareAndSwap(reqPending, reqCancelled)
}

type Throttle struct {
	limiter *rate.Limiter
	sink    Sink
	queue   chan request

	closeOnce sync.Once
	closed    chan struct{}
}

func New(cfg Config, sink Sink) *Throttle {
	cfg = cfg.WithDefaults()
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, cfg.Burst),
		sink:    sink,
		queue:   make(chan request, cfg.QueueSize),
		closed:  make(chan struct{}),
	}
}

func (t *Throttle) prepare(cmd frame.Command) (request, error) {
	line, err := cmd.Encode()
	if err != nil {
		return request{}, err
	}
	return request{cmd: cmd, line: line, done: make(chan error, 1), state: new(atomic.Int32)}, nil
}

// Enqueue queues cmd without waiting. It is used by the session owner, which
// must never block on a slow release.
func (t *Throttle) Enqueue(cmd frame.Command) error {
	req, err := t.prepare(cmd)
	if err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case t.queue <- req:
		return nil
	case <-t.closed:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// Submit queues cmd and blocks until it has been written, the throttle is
// closed (ErrSessionClosed) or ctx ends. When ctx ends first the command is
// withdrawn and never written; if the release task already started writing
// it, Submit waits for that write and returns its result instead.
func (t *Throttle) Submit(ctx context.Context, cmd frame.Command) error {
	req, err := t.prepare(cmd)
	if err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case t.queue <- req:
	case <-t.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-t.closed:
		// The release task may have finished this one just before closing.
		select {
		case err := <-req.done:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		if req.cancel() {
			return ctx.Err()
		}
		select {
		case err := <-req.done:
			return err
		case <-t.closed:
			select {
			case err := <-req.done:
				return err
			default:
				return ErrSessionClosed
			}
		}
	}
}

// Run is the release task. It returns nil when ctx ends or the throttle is
// closed, and the sink error when a write fails.
func (t *Throttle) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-t.queue:
			if req.state.Load() == reqCancelled {
				log.Debug().Str("verb", req.cmd.Verb).Msg("throttle.Throttle.Run skipped withdrawn command")
				continue
			}
			start := time.Now()
			if err := t.limiter.Wait(ctx); err != nil || ctx.Err() != nil {
				req.done <- ErrSessionClosed
				return nil
			}
			observability.ObserveThrottleWait(time.Since(start))
			if !req.claim() {
				log.Debug().Str("verb", req.cmd.Verb).Msg("throttle.Throttle.Run skipped withdrawn command")
				continue
			}

			if err := t.sink(req.line); err != nil {
				observability.RecordCommand(req.cmd.Verb, false)
				req.done <- err
				return err
			}
			observability.RecordCommand(req.cmd.Verb, true)
			log.Debug().Str("verb", req.cmd.Verb).Msg("throttle.Throttle.Run released")
			req.done <- nil
		}
	}
}

// Close stops the throttle and fails every queued command with
// ErrSessionClosed. It is safe to call more than once.
func (t *Throttle) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		dropped := 0
		for {
			select {
			case req := <-t.queue:
				req.done <- ErrSessionClosed
				dropped++
			default:
				if dropped > 0 {
					log.Debug().Int("dropped", dropped).Msg("throttle.Throttle.Close drained queue")
				}
				return
			}
		}
	})
}

// Pending reports how many commands are waiting for release.
func (t *Throttle) Pending() int {
	return len(t.queue)
}
