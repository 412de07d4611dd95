package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/vector"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	wal, err := log.New("", log.Config{SegmentMaxBytes: 1 << 20, RetentionSegments: 4}, nil)
	require.NoError(t, err)
	se := state.New(nil)
	vm := vector.NewManager("", vector.Options{SegmentCapacity: 8, CompactionTombstoneRatio: 0.5, ExactFilterThreshold: 100}, nil)
	return eventbus.New(wal, se, vm, 16, nil)
}

func drain(t *testing.T, ch <-chan model.Event, n int, timeout time.Duration) []model.Event {
	t.Helper()
	var out []model.Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after receiving %d/%d events", len(out), n)
		}
	}
	return out
}

func TestReplayDeliversExistingEvents(t *testing.T) {
	bus := newTestBus(t)
	_, err := bus.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)
	_, err = bus.PutState("b", []byte("2"), 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(bus)
	ch := sub.Stream(ctx, 0, Filter{})

	events := drain(t, ch, 2, 2*time.Second)
	require.Len(t, events, 2)
	require.Equal(t, "a", events[0].Key)
	require.Equal(t, "b", events[1].Key)
}

func TestFilterByKeyPrefix(t *testing.T) {
	bus := newTestBus(t)
	_, err := bus.PutState("users/1", []byte("x"), 0, nil)
	require.NoError(t, err)
	_, err = bus.PutState("orders/1", []byte("y"), 0, nil)
	require.NoError(t, err)
	_, err = bus.PutState("users/2", []byte("z"), 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(bus)
	ch := sub.Stream(ctx, 0, Filter{KeyPrefix: "users/"})

	events := drain(t, ch, 2, 2*time.Second)
	require.Len(t, events, 2)
	require.Equal(t, "users/1", events[0].Key)
	require.Equal(t, "users/2", events[1].Key)
}

func TestLiveTailDeliversNewEvents(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(bus)
	ch := sub.Stream(ctx, 0, Filter{})

	_, err := bus.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)

	events := drain(t, ch, 1, 2*time.Second)
	require.Len(t, events, 1)
	require.Equal(t, "a", events[0].Key)
}

func TestStreamStopsWhenContextCanceled(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub := New(bus)
	ch := sub.Stream(ctx, 0, Filter{})
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "the channel must close once its context is canceled")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after context cancellation")
	}
}
