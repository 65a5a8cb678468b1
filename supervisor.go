package brainrot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/brainrot/internal/observability"
	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/protocol/throttle"
	"github.com/danmuck/brainrot/internal/protocol/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// supervise is the retry loop. It owns the machine between sessions and is
// the only goroutine that starts one.
func (c *Client) supervise() {
	defer close(c.done)
	m := session.NewMachine(c.creds.identity(c.cfg.Channels))

	for {
		if c.stopped() {
			c.finish(nil)
			return
		}

		err := c.runSession(m)
		if c.stopped() {
			c.finish(nil)
			return
		}

		state := c.Backoff()
		if limit := c.cfg.Backoff.MaxAttempts; limit > 0 && state.Attempt >= limit {
			observability.RecordReconnect("exhausted")
			c.finish(fmt.Errorf("%w after %d consecutive failures: %w", ErrReconnectExhausted, state.Attempt+1, err))
			return
		}

		delay := NextBackoffDelay(c.cfg.Backoff, state.Attempt, c.rng)
		c.mu.Lock()
		c.backoff.NextDelay = delay
		c.mu.Unlock()
		observability.RecordReconnect("failed")
		log.Warn().
			Err(err).
			Int("attempt", state.Attempt).
			Dur("delay", delay).
			Str("addr", c.endpoint.Address).
			Msg("brainrot.Client.supervise backing off")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			c.finish(nil)
			return
		}

		c.mu.Lock()
		c.backoff.Attempt++
		c.mu.Unlock()
	}
}

func (c *Client) stopped() bool {
	stopping, _ := c.isStopping()
	return stopping || c.ctx.Err() != nil
}

// finish ends the event stream with err (ErrClosed for a clean shutdown).
func (c *Client) finish(err error) {
	c.err = err
	cause := err
	if cause == nil {
		cause = bus.ErrClosed
	}
	c.bus.Close(cause)
	c.cancel()
	if err != nil {
		log.Error().Err(err).Str("addr", c.endpoint.Address).Msg("brainrot.Client.supervise exhausted")
		return
	}
	log.Info().Str("addr", c.endpoint.Address).Msg("brainrot.Client.supervise stopped")
}

// runSession drives one attempt from Connecting to Disconnected. Every task
// it starts has returned, and the throttle queue has been failed, before it
// returns.
func (c *Client) runSession(m *session.Machine) error {
	sid := uuid.NewString()
	c.mu.Lock()
	c.sessionID = sid
	c.mu.Unlock()
	c.seq = 0
	logger := log.With().Str("session", sid).Str("addr", c.endpoint.Address).Logger()

	m.Begin()
	c.publishState(m)
	logger.Info().Int("attempt", c.Backoff().Attempt).Msg("brainrot.Client.runSession connecting")

	conn, err := c.dial(c.ctx, c.cfg.transportConfig(c.endpoint))
	if err != nil {
		c.teardown(m, err)
		return err
	}

	thr := throttle.New(c.cfg.Throttle, conn.WriteLine)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	registration, err := m.Established()
	if err != nil {
		_ = conn.Close()
		c.teardown(m, err)
		return err
	}
	for _, cmd := range registration {
		if err := thr.Enqueue(cmd); err != nil {
			logger.Warn().Err(err).Str("verb", cmd.Verb).Msg("brainrot.Client.runSession registration not queued")
		}
	}
	c.publishState(m)
	logger.Debug().Msg("brainrot.Client.runSession registering")

	frames := make(chan frame.Frame)
	g, gctx := errgroup.WithContext(c.ctx)
	g.Go(func() error {
		return c.readLoop(gctx, conn, frames, logger)
	})
	g.Go(func() error {
		return c.ownLoop(gctx, m, thr, frames, logger)
	})
	g.Go(func() error {
		return thr.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	err = g.Wait()

	c.mu.Lock()
	c.conn = nil
	c.thr = nil
	c.mu.Unlock()
	thr.Close()
	c.teardown(m, err)
	return err
}

// teardown emits the attempt's single Disconnected event and publishes the
// reset state.
func (c *Client) teardown(m *session.Machine, err error) {
	reason := "connection closed"
	if stopping, r := c.isStopping(); stopping {
		reason = r
		if reason == "" {
			reason = "disconnect requested"
		}
	} else if err != nil {
		reason = err.Error()
	}
	ev, ok := m.Terminate(reason)
	c.publishState(m)
	if ok {
		c.emit(ev)
	}
	log.Info().Str("session", c.SessionID()).Str("reason", reason).Msg("brainrot.Client.runSession disconnected")
}

// readLoop is the transport read task: lines in, decoded frames out.
func (c *Client) readLoop(ctx context.Context, conn lineConn, out chan<- frame.Frame, logger zerolog.Logger) error {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, transport.ErrLineTooLong) {
				observability.RecordFrame("", false)
				logger.Warn().Err(err).Msg("brainrot.Client.readLoop dropped line")
				continue
			}
			return err
		}
		f, err := frame.Decode(line)
		if err != nil {
			observability.RecordFrame("", false)
			logger.Warn().Err(err).Msg("brainrot.Client.readLoop dropped line")
			continue
		}
		observability.RecordFrame(f.Command, true)
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ownLoop is the state-machine task and the only goroutine touching m while
// the session is live.
func (c *Client) ownLoop(ctx context.Context, m *session.Machine, thr *throttle.Throttle, in <-chan frame.Frame, logger zerolog.Logger) error {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ping.C:
			if m.Phase() != session.PhaseReady {
				continue
			}
			if err := thr.Enqueue(frame.Ping(strconv.FormatInt(time.Now().Unix(), 10))); err != nil {
				logger.Warn().Err(err).Msg("brainrot.Client.ownLoop keepalive not queued")
			}

		case f := <-in:
			before := m.Phase()
			step, err := m.Apply(f)
			// State and Send are in place before consumers see the events.
			c.publishState(m)
			if before != session.PhaseReady && m.Phase() == session.PhaseReady {
				c.ready(thr, m, logger)
			}
			for _, ev := range step.Events {
				c.emit(ev)
			}
			for _, cmd := range step.Replies {
				if qerr := thr.Enqueue(cmd); qerr != nil {
					logger.Warn().Err(qerr).Str("verb", cmd.Verb).Msg("brainrot.Client.ownLoop reply not queued")
				}
			}

			if err != nil {
				var perr *frame.ParseError
				if errors.As(err, &perr) {
					logger.Warn().Err(err).Msg("brainrot.Client.ownLoop dropped frame")
					continue
				}
				logger.Error().Err(err).Msg("brainrot.Client.ownLoop protocol error")
				return err
			}
		}
	}
}

// ready opens Send to consumers and clears the failure count.
func (c *Client) ready(thr *throttle.Throttle, m *session.Machine, logger zerolog.Logger) {
	c.mu.Lock()
	c.thr = thr
	c.backoff = BackoffState{}
	c.mu.Unlock()
	observability.RecordReconnect("ready")
	logger.Info().Str("nickname", m.Nickname()).Msg("brainrot.Client.runSession ready")
}
