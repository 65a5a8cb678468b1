package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danmuck/brainrot/internal/protocol/bus"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/testutil/testlog"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newPublisher(t *testing.T, opts ...Option) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	p, err := NewFromClient(client, "rot.events", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, mr
}

func envelope(seq uint64, ev session.Event) session.Envelope {
	return session.Envelope{
		SessionID: "sess-1",
		Seq:       seq,
		At:        time.Date(2024, 5, 1, 12, 0, int(seq), 0, time.UTC),
		Event:     ev,
	}
}

func TestNewRequiresChannel(t *testing.T) {
	testlog.Start(t)
	_, err := NewFromClient(backend.NewClient(&backend.Options{Addr: "127.0.0.1:1"}), " ")
	require.ErrorIs(t, err, ErrChannelRequired)
}

func TestRunPublishesHistoryAndState(t *testing.T) {
	testlog.Start(t)
	p, mr := newPublisher(t)
	require.NoError(t, p.Ping(context.Background()))

	b := bus.New(16)
	sub := b.Subscribe()
	b.Publish(envelope(1, session.Connected{Server: "irc.test"}))
	b.Publish(envelope(2, session.Joined{Channel: "#x", Who: "rot"}))
	b.Publish(envelope(3, session.Message{Target: "#x", From: "bob", Text: "hi  there", Tags: map[string]string{"id": "7"}}))
	b.Close(nil)

	state := func() session.Snapshot {
		return session.Snapshot{Phase: "ready", Nickname: "rot", Channels: map[string][]string{"#x": {"rot"}}}
	}
	require.NoError(t, p.Run(context.Background(), sub, state))

	items, err := mr.List(p.HistoryKey())
	require.NoError(t, err)
	require.Len(t, items, 3)

	history, err := p.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, env := range history {
		require.Equal(t, uint64(i+1), env.Seq)
		require.Equal(t, "sess-1", env.SessionID)
	}
	msg, ok := history[2].Event.(session.Message)
	require.True(t, ok)
	require.Equal(t, "hi  there", msg.Text)
	require.Equal(t, "7", msg.Tags["id"])

	snap, ok, err := p.State(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ready", snap.Phase)
	require.Equal(t, []string{"rot"}, snap.Channels["#x"])
}

func TestHistoryIsCapped(t *testing.T) {
	testlog.Start(t)
	p, _ := newPublisher(t, WithHistory(2))
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, p.Publish(ctx, envelope(seq, session.Registered{Nickname: "rot"}), nil))
	}
	history, err := p.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, uint64(4), history[0].Seq)
	require.Equal(t, uint64(5), history[1].Seq)

	_, ok, err := p.State(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishReachesSubscribers(t *testing.T) {
	testlog.Start(t)
	p, mr := newPublisher(t, WithHistory(0))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reader := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer reader.Close()
	ps := reader.Subscribe(ctx, p.Channel())
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, envelope(9, session.NickChanged{Old: "rot", New: "rot_"}), nil))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	var env session.Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	require.Equal(t, uint64(9), env.Seq)
	require.Equal(t, session.NickChanged{Old: "rot", New: "rot_"}, env.Event)

	items, err := mr.List(p.HistoryKey())
	require.Error(t, err)
	require.Empty(t, items)
}

type scriptedStream struct {
	steps []func() (session.Envelope, error)
}

func (s *scriptedStream) Next(ctx context.Context) (session.Envelope, error) {
	if len(s.steps) == 0 {
		<-ctx.Done()
		return session.Envelope{}, ctx.Err()
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step()
}

func TestRunSkipsOverflowAndReturnsCause(t *testing.T) {
	testlog.Start(t)
	p, _ := newPublisher(t)
	cause := errors.New("boom")
	stream := &scriptedStream{steps: []func() (session.Envelope, error){
		func() (session.Envelope, error) { return session.Envelope{}, &bus.OverflowError{Dropped: 3} },
		func() (session.Envelope, error) { return envelope(4, session.Registered{Nickname: "rot"}), nil },
		func() (session.Envelope, error) { return session.Envelope{}, cause },
	}}
	err := p.Run(context.Background(), stream, nil)
	require.ErrorIs(t, err, cause)

	history, err := p.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRunStopsOnContext(t *testing.T) {
	testlog.Start(t)
	p, _ := newPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, &scriptedStream{}, nil) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRunReturnsRedisFailure(t *testing.T) {
	testlog.Start(t)
	p, mr := newPublisher(t)
	mr.Close()
	stream := &scriptedStream{steps: []func() (session.Envelope, error){
		func() (session.Envelope, error) { return envelope(1, session.Registered{Nickname: "rot"}), nil },
	}}
	require.Error(t, p.Run(context.Background(), stream, nil))
}
