// Package bus fans session events out to independent consumers.
//
// There is one writer. Each subscription has its own bounded queue; when a
// queue is full the oldest event is dropped so Publish never blocks, and the
// consumer is told how many it lost on its next read.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/brainrot/internal/observability"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const DefaultBuffer = 256

var (
	ErrClosed           = errors.New("bus: closed")
	ErrConsumerOverflow = errors.New("bus: consumer overflow")
)

// OverflowError tells one consumer that Dropped events were discarded
// because it fell behind.
type OverflowError struct {
	Dropped uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("bus: consumer overflow: dropped %d events", e.Dropped)
}

func (e *OverflowError) Unwrap() error {
	return ErrConsumerOverflow
}

type Bus struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	cause  error
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{buffer: buffer, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a consumer. It sees every event published after this
// call. Subscribing to a closed bus yields a subscription that reports the
// close cause immediately.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:    b.nextID,
		bus:   b,
		queue: make(chan session.Envelope, b.buffer),
		done:  make(chan struct{}),
	}
	if b.closed {
		s.finish(b.cause)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers env to every subscription without blocking. Only one
// goroutine may publish.
func (b *Bus) Publish(env session.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.offer(env)
	}
}

// Close ends the stream. Consumers drain what is queued, then get cause
// (ErrClosed when cause is nil).
func (b *Bus) Close(cause error) {
	if cause == nil {
		cause = ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cause = cause
	for id, s := range b.subs {
		s.finish(cause)
		delete(b.subs, id)
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	s.finish(ErrClosed)
}

type Subscription struct {
	id    uint64
	bus   *Bus
	queue chan session.Envelope

	dropped atomic.Uint64

	doneOnce sync.Once
	done     chan struct{}
	cause    error
}

// offer is only called from Publish, so each queue has a single writer.
func (s *Subscription) offer(env session.Envelope) {
	for {
		select {
		case s.queue <- env:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
			observability.RecordBusDrop()
			log.Debug().Uint64("subscription", s.id).Uint64("seq", env.Seq).Msg("bus.Subscription.offer dropped oldest")
		default:
		}
	}
}

func (s *Subscription) finish(cause error) {
	s.doneOnce.Do(func() {
		s.cause = cause
		close(s.done)
	})
}

// Next returns the next event in publication order. After events were
// dropped it first returns an *OverflowError once. After close it drains the
// queue and then returns the close cause.
func (s *Subscription) Next(ctx context.Context) (session.Envelope, error) {
	if n := s.dropped.Swap(0); n > 0 {
		return session.Envelope{}, &OverflowError{Dropped: n}
	}
	select {
	case env := <-s.queue:
		return env, nil
	default:
	}
	select {
	case env := <-s.queue:
		return env, nil
	case <-s.done:
		select {
		case env := <-s.queue:
			return env, nil
		default:
			return session.Envelope{}, s.cause
		}
	case <-ctx.Done():
		return session.Envelope{}, ctx.Err()
	}
}

// Done is closed once the subscription will receive no further events.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe detaches the consumer. Queued events are discarded.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}
