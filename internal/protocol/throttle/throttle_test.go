package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
	at    []time.Time
	fail  error
}

func (r *recorder) sink(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.lines = append(r.lines, string(line))
	r.at = append(r.at, time.Now())
	return nil
}

func (r *recorder) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...), append([]time.Time(nil), r.at...)
}

func start(t *testing.T, cfg Config, sink Sink) (*Throttle, chan error) {
	t.Helper()
	thr := New(cfg, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- thr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		thr.Close()
	})
	return thr, done
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, DefaultConfig().Validate())
	require.ErrorIs(t, Config{Rate: -1, Burst: 1}.Validate(), ErrInvalidConfig)
	require.ErrorIs(t, Config{Rate: 1}.Validate(), ErrInvalidConfig)
	require.NoError(t, Config{Rate: 1}.WithDefaults().Validate())
}

func TestReleasesInSubmissionOrder(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	thr, _ := start(t, Config{Rate: 0, Burst: 1}, rec.sink)

	for i := 0; i < 50; i++ {
		require.NoError(t, thr.Enqueue(frame.Privmsg("#a", fmt.Sprintf("line %d", i))))
	}
	require.NoError(t, thr.Submit(context.Background(), frame.Privmsg("#a", "last")))

	lines, _ := rec.snapshot()
	require.Len(t, lines, 51)
	for i := 0; i < 50; i++ {
		require.Equal(t, fmt.Sprintf("PRIVMSG #a :line %d", i), lines[i])
	}
	require.Equal(t, "PRIVMSG #a :last", lines[50])
}

// Over any window w the release count is bounded by burst + rate*w.
func TestReleaseRateIsBounded(t *testing.T) {
	testlog.Start(t)
	const (
		r     = 20.0
		burst = 3
		total = 12
	)
	rec := &recorder{}
	thr, _ := start(t, Config{Rate: r, Burst: burst}, rec.sink)

	for i := 0; i < total; i++ {
		require.NoError(t, thr.Enqueue(frame.Ping(fmt.Sprintf("t%d", i))))
	}
	require.NoError(t, thr.Submit(context.Background(), frame.Ping("final")))

	_, at := rec.snapshot()
	require.Len(t, at, total+1)
	slack := 15 * time.Millisecond
	for i := range at {
		for j := i; j < len(at); j++ {
			window := at[j].Sub(at[i])
			allowed := burst + int((window+slack).Seconds()*r)
			require.LessOrEqual(t, j-i+1, allowed, "window %v from %d to %d", window, i, j)
		}
	}
	require.GreaterOrEqual(t, at[len(at)-1].Sub(at[0]), time.Duration(float64(total+1-burst)/r*float64(time.Second))-slack)
}

func TestCloseFailsQueuedCommands(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	thr := New(Config{Rate: 0.001, Burst: 1}, rec.sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- thr.Run(ctx) }()

	require.NoError(t, thr.Submit(ctx, frame.Nick("bot")))

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			results <- thr.Submit(context.Background(), frame.Privmsg("#a", fmt.Sprint(i)))
		}(i)
	}
	require.Eventually(t, func() bool { return thr.Pending() >= 2 }, time.Second, 5*time.Millisecond)

	thr.Close()
	thr.Close()
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			require.ErrorIs(t, err, ErrSessionClosed)
		case <-time.After(time.Second):
			t.Fatal("submit did not return after close")
		}
	}
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not exit after close")
	}

	require.ErrorIs(t, thr.Enqueue(frame.Quit("bye")), ErrSessionClosed)
	require.ErrorIs(t, thr.Submit(context.Background(), frame.Quit("bye")), ErrSessionClosed)
	lines, _ := rec.snapshot()
	require.Equal(t, []string{"NICK bot"}, lines)
}

func TestSinkFailureEndsRun(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("write: broken pipe")
	rec := &recorder{fail: boom}
	thr, done := start(t, Config{Burst: 1}, rec.sink)

	require.ErrorIs(t, thr.Submit(context.Background(), frame.Ping("x")), boom)
	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("run did not return the sink error")
	}
}

func TestInvalidCommandIsRejectedBeforeQueueing(t *testing.T) {
	testlog.Start(t)
	thr := New(DefaultConfig(), func([]byte) error { return nil })
	defer thr.Close()
	require.ErrorIs(t, thr.Enqueue(frame.Command{}), frame.ErrEmptyCommand)
	require.ErrorIs(t, thr.Enqueue(frame.Privmsg("#a", "line\r\nQUIT")), frame.ErrInvalidParam)
	require.Zero(t, thr.Pending())
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	testlog.Start(t)
	thr := New(Config{Burst: 1, QueueSize: 2}, func([]byte) error { return nil })
	defer thr.Close()
	require.NoError(t, thr.Enqueue(frame.Ping("1")))
	require.NoError(t, thr.Enqueue(frame.Ping("2")))
	require.ErrorIs(t, thr.Enqueue(frame.Ping("3")), ErrQueueFull)
}

func TestSubmitHonorsContext(t *testing.T) {
	testlog.Start(t)
	thr := New(Config{Burst: 1, QueueSize: 1}, func([]byte) error { return nil })
	defer thr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// No release task: the command is queued but never written.
	require.ErrorIs(t, thr.Submit(ctx, frame.Ping("x")), context.DeadlineExceeded)
}

func TestSubmitWithdrawsCommandWhenContextEnds(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	thr, _ := start(t, Config{Rate: 10, Burst: 1}, rec.sink)

	require.NoError(t, thr.Submit(context.Background(), frame.Privmsg("#a", "first")))

	// The bucket is empty, so this one is still waiting for a token when ctx ends.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, thr.Submit(ctx, frame.Privmsg("#a", "withdrawn")), context.DeadlineExceeded)

	require.NoError(t, thr.Submit(context.Background(), frame.Privmsg("#a", "after")))
	lines, _ := rec.snapshot()
	require.Equal(t, []string{"PRIVMSG #a :first", "PRIVMSG #a :after"}, lines)
}
