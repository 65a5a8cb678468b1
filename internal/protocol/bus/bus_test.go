package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func env(seq uint64) session.Envelope {
	return session.Envelope{SessionID: "s", Seq: seq, At: time.Unix(0, 0), Event: session.Registered{Nickname: "bot"}}
}

func next(t *testing.T, s *Subscription) (session.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Next(ctx)
}

func TestEveryConsumerSeesEveryEventInOrder(t *testing.T) {
	testlog.Start(t)
	b := New(64)
	subs := []*Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	var wg sync.WaitGroup
	got := make([][]uint64, len(subs))
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *Subscription) {
			defer wg.Done()
			for {
				e, err := next(t, s)
				if err != nil {
					return
				}
				got[i] = append(got[i], e.Seq)
			}
		}(i, s)
	}

	for seq := uint64(1); seq <= 40; seq++ {
		b.Publish(env(seq))
	}
	b.Close(nil)
	wg.Wait()

	want := make([]uint64, 0, 40)
	for seq := uint64(1); seq <= 40; seq++ {
		want = append(want, seq)
	}
	for i := range subs {
		require.Equal(t, want, got[i], "consumer %d", i)
	}
}

func TestSlowConsumerDropsOldestAndIsSignalled(t *testing.T) {
	testlog.Start(t)
	b := New(4)
	slow := b.Subscribe()
	fast := b.Subscribe()

	for seq := uint64(1); seq <= 10; seq++ {
		b.Publish(env(seq))
		e, err := next(t, fast)
		require.NoError(t, err)
		require.Equal(t, seq, e.Seq)
	}

	_, err := next(t, slow)
	require.ErrorIs(t, err, ErrConsumerOverflow)
	var overflow *OverflowError
	require.True(t, errors.As(err, &overflow))
	require.Equal(t, uint64(6), overflow.Dropped)

	for _, want := range []uint64{7, 8, 9, 10} {
		e, err := next(t, slow)
		require.NoError(t, err)
		require.Equal(t, want, e.Seq)
	}
}

func TestPublishNeverBlocksOnIdleConsumer(t *testing.T) {
	testlog.Start(t)
	b := New(1)
	_ = b.Subscribe()

	done := make(chan struct{})
	go func() {
		for seq := uint64(0); seq < 10_000; seq++ {
			b.Publish(env(seq))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a consumer that never reads")
	}
}

func TestCloseDrainsThenReturnsCause(t *testing.T) {
	testlog.Start(t)
	b := New(8)
	s := b.Subscribe()
	b.Publish(env(1))
	b.Publish(env(2))

	cause := errors.New("reconnect exhausted")
	b.Close(cause)
	b.Close(errors.New("ignored"))
	b.Publish(env(3))

	for _, want := range []uint64{1, 2} {
		e, err := next(t, s)
		require.NoError(t, err)
		require.Equal(t, want, e.Seq)
	}
	_, err := next(t, s)
	require.ErrorIs(t, err, cause)
	<-s.Done()

	late := b.Subscribe()
	_, err = next(t, late)
	require.ErrorIs(t, err, cause)
	require.Zero(t, b.Subscribers())
}

func TestCloseWithoutCauseReportsErrClosed(t *testing.T) {
	testlog.Start(t)
	b := New(1)
	s := b.Subscribe()
	b.Close(nil)
	_, err := next(t, s)
	require.ErrorIs(t, err, ErrClosed)
}

func TestUnsubscribe(t *testing.T) {
	testlog.Start(t)
	b := New(4)
	s := b.Subscribe()
	other := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(env(1))
	s.Unsubscribe()
	s.Unsubscribe()
	require.Equal(t, 1, b.Subscribers())

	_, err := next(t, s)
	require.ErrorIs(t, err, ErrClosed)

	b.Publish(env(2))
	for _, want := range []uint64{1, 2} {
		e, err := next(t, other)
		require.NoError(t, err)
		require.Equal(t, want, e.Seq)
	}
}

func TestNextHonorsContext(t *testing.T) {
	testlog.Start(t)
	b := New(1)
	s := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
