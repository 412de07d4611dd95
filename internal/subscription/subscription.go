// Package subscription turns the EventBus's durable log and live buffer
// into a single ordered stream for a caller that wants every mutation from
// some offset onward: a catch-up replay across WAL segments followed by a
// live tail of the ring buffer, with synthetic gap/progress events spliced
// in exactly as spec.md's streaming contract describes.
package subscription

import (
	"context"
	"strings"
	"time"

	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/model"
)

const heartbeatInterval = 15 * time.Second
const outputBufferSize = 64

// Filter restricts which persisted events a subscriber receives. Synthetic
// gap/progress events always pass through regardless of Filter, since a
// consumer needs them to track its own cursor correctly.
type Filter struct {
	Kinds      map[model.EventKind]bool // nil or empty matches every kind
	KeyPrefix  string
	Collection string
}

func (f Filter) matches(ev model.Event) bool {
	if len(f.Kinds) > 0 && !f.Kinds[ev.Kind] {
		return false
	}
	if f.KeyPrefix != "" && !strings.HasPrefix(ev.Key, f.KeyPrefix) {
		return false
	}
	if f.Collection != "" && ev.Collection != f.Collection {
		return false
	}
	return true
}

// Subscriber streams events from a Bus.
type Subscriber struct {
	bus *eventbus.Bus
}

func New(bus *eventbus.Bus) *Subscriber {
	return &Subscriber{bus: bus}
}

// Stream returns a channel delivering every event at or after since, in
// order, filtered by filter, until ctx is done. The channel is closed when
// the stream ends.
func (s *Subscriber) Stream(ctx context.Context, since uint64, filter Filter) <-chan model.Event {
	out := make(chan model.Event, outputBufferSize)
	go s.run(ctx, since, filter, out)
	return out
}

func (s *Subscriber) run(ctx context.Context, since uint64, filter Filter, out chan<- model.Event) {
	defer close(out)

	cursor, ok := s.replay(ctx, since, filter, out)
	if !ok {
		return
	}
	s.tailLive(ctx, cursor, filter, out)
}

// replay walks the WAL from since, splicing in a gap event for any offsets
// that are no longer on disk (pruned by retention or a snapshot truncate).
// It returns the cursor to resume from and whether the stream should
// continue.
func (s *Subscriber) replay(ctx context.Context, since uint64, filter Filter, out chan<- model.Event) (uint64, bool) {
	it := s.bus.WAL().ReadFrom(since)
	defer it.Close()

	cursor := since
	for it.Next() {
		ev := it.Event()
		if ev.Offset > cursor {
			gap := model.Event{
				Kind: model.EventGap, FromOffset: cursor, ToOffset: ev.Offset - 1,
				Dropped: ev.Offset - cursor, TimestampMs: time.Now().UnixMilli(),
			}
			if !emit(ctx, out, gap) {
				return cursor, false
			}
		}
		if filter.matches(ev) {
			if !emit(ctx, out, ev) {
				return cursor, false
			}
		}
		cursor = ev.Offset + 1
	}
	return cursor, true
}

// tailLive polls the live buffer from cursor onward, emitting a gap event
// whenever the buffer has advanced past retention before the subscriber
// consumed it, and a periodic progress heartbeat while idle.
func (s *Subscriber) tailLive(ctx context.Context, cursor uint64, filter Filter, out chan<- model.Event) {
	for {
		if ctx.Err() != nil {
			return
		}

		latest := s.bus.LiveLatest()
		if cursor >= latest {
			waitCtx, cancel := context.WithTimeout(ctx, heartbeatInterval)
			latest = s.bus.WaitForOffset(waitCtx, cursor)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if cursor >= latest {
				if !emit(ctx, out, model.Event{Kind: model.EventProgress, ToOffset: cursor, TimestampMs: time.Now().UnixMilli()}) {
					return
				}
				continue
			}
		}

		if oldest := s.bus.LiveOldestRetained(); cursor < oldest {
			gap := model.Event{
				Kind: model.EventGap, FromOffset: cursor, ToOffset: oldest - 1,
				Dropped: oldest - cursor, TimestampMs: time.Now().UnixMilli(),
			}
			if !emit(ctx, out, gap) {
				return
			}
			cursor = oldest
		}

		for cursor < latest {
			ev, ok := s.bus.LiveEventAt(cursor)
			if !ok {
				// Fell further behind between the bounds check above and
				// this read; recompute the gap and restart the loop.
				break
			}
			if filter.matches(ev) {
				if !emit(ctx, out, ev) {
					return
				}
			}
			cursor = ev.Offset + 1
		}
	}
}

func emit(ctx context.Context, out chan<- model.Event, ev model.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
