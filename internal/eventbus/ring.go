package eventbus

import (
	"context"
	"sync"

	"github.com/devrev/kissvdb/internal/model"
)

// ringBuffer is the EventBus's live broadcast buffer: the last capacity
// published events, addressable by offset, with a condition variable
// waking tailing subscribers. It has no pack-library equivalent — channels
// alone can't support multiple independent readers replaying from different
// points — so this stays a small stdlib primitive, justified in DESIGN.md.
type ringBuffer struct {
	mu          sync.Mutex
	cond        *sync.Cond
	capacity    uint64
	events      []model.Event
	writeOffset uint64 // one past the highest published offset
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	rb := &ringBuffer{capacity: uint64(capacity), events: make([]model.Event, capacity)}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

func (rb *ringBuffer) publish(ev model.Event) {
	rb.mu.Lock()
	rb.events[ev.Offset%rb.capacity] = ev
	rb.writeOffset = ev.Offset + 1
	rb.cond.Broadcast()
	rb.mu.Unlock()
}

// oldestRetained returns the smallest offset still present in the buffer.
func (rb *ringBuffer) oldestRetained() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.writeOffset <= rb.capacity {
		return 0
	}
	return rb.writeOffset - rb.capacity
}

func (rb *ringBuffer) latest() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.writeOffset
}

// eventAt returns the event at offset if it is still retained in the
// buffer.
func (rb *ringBuffer) eventAt(offset uint64) (model.Event, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if offset >= rb.writeOffset {
		return model.Event{}, false
	}
	if rb.writeOffset > rb.capacity && offset < rb.writeOffset-rb.capacity {
		return model.Event{}, false
	}
	return rb.events[offset%rb.capacity], true
}

// waitForMore blocks until the buffer has published something past after,
// or ctx is done, returning the buffer's write offset at that point.
func (rb *ringBuffer) waitForMore(ctx context.Context, after uint64) uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.writeOffset > after {
		return rb.writeOffset
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			rb.mu.Lock()
			rb.cond.Broadcast()
			rb.mu.Unlock()
		case <-stop:
		}
	}()

	for rb.writeOffset <= after && ctx.Err() == nil {
		rb.cond.Wait()
	}
	return rb.writeOffset
}
