// Package eventbus is the single serializing gate every mutation passes
// through: offset assignment, log append, apply to the State Engine or a
// vector Collection, then publish to the live buffer, in that order, so a
// published event is always durable first — the same persist-before-publish
// discipline storage_service.go's Write path follows for its commit log.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
	"github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/vector"
)

// Bus coordinates every write against the WAL, the State Engine, and the
// vector Manager behind a single mutex.
type Bus struct {
	mu      sync.Mutex
	wal     *log.WAL
	state   *state.Engine
	vectors *vector.Manager
	live    *ringBuffer
	logger  *zap.Logger
}

// New constructs a Bus. liveBufferCapacity sizes the live ring buffer (see
// SPEC_FULL.md's event_bus.live_buffer_capacity).
func New(wal *log.WAL, stateEngine *state.Engine, vectors *vector.Manager, liveBufferCapacity int, logger *zap.Logger) *Bus {
	return &Bus{wal: wal, state: stateEngine, vectors: vectors, live: newRingBuffer(liveBufferCapacity), logger: logger}
}

func (b *Bus) lock()   { b.mu.Lock() }
func (b *Bus) unlock() { b.mu.Unlock() }

// PutState applies a KV write through the log. When ifRevision is non-nil,
// the write is a compare-and-swap: it only applies if the key's current
// revision equals *ifRevision (0 meaning "key must not currently exist").
func (b *Bus) PutState(key string, value []byte, ttlMs int64, ifRevision *uint64) (model.KVEntry, error) {
	b.lock()
	defer b.unlock()

	current, exists := b.state.PeekRevision(key)
	if ifRevision != nil {
		var have uint64
		if exists {
			have = current
		}
		if have != *ifRevision {
			return model.KVEntry{}, kisserrors.Conflict("key %q revision mismatch: have %d, want %d", key, have, *ifRevision)
		}
	}

	newRevision := uint64(1)
	if exists {
		newRevision = current + 1
	}

	patch, err := encodeStatePatch(value, ttlMs)
	if err != nil {
		return model.KVEntry{}, kisserrors.Internal("encode state patch", err)
	}

	ev := &model.Event{Kind: model.EventStateUpdated, Key: key, Revision: newRevision, Patch: patch, TimestampMs: time.Now().UnixMilli()}
	if _, err := b.wal.Append(ev); err != nil {
		return model.KVEntry{}, kisserrors.IOError("append wal record", err)
	}

	result := b.state.ApplyPut(key, value, ttlMs, newRevision)
	b.live.publish(*ev)
	return result, nil
}

// DeleteState removes a key through the log. Deleting an absent key is a
// no-op reporting deleted=false and does not consume a log offset.
func (b *Bus) DeleteState(key string, ifRevision *uint64) (bool, error) {
	b.lock()
	defer b.unlock()
	return b.deleteStateLocked(key, ifRevision, model.DeleteOriginCaller)
}

func (b *Bus) deleteStateLocked(key string, ifRevision *uint64, origin model.DeleteOrigin) (bool, error) {
	current, exists := b.state.PeekRevision(key)
	if ifRevision != nil {
		var have uint64
		if exists {
			have = current
		}
		if have != *ifRevision {
			return false, kisserrors.Conflict("key %q revision mismatch: have %d, want %d", key, have, *ifRevision)
		}
	}
	if !exists {
		return false, nil
	}

	ev := &model.Event{Kind: model.EventStateDeleted, Key: key, Revision: current, DeleteOrigin: origin, TimestampMs: time.Now().UnixMilli()}
	if _, err := b.wal.Append(ev); err != nil {
		return false, kisserrors.IOError("append wal record", err)
	}

	b.state.ApplyDelete(key)
	b.live.publish(*ev)
	return true, nil
}

// SweepTTL deletes up to limit currently-expired keys through the log,
// tagging each with DeleteOriginTTL, and returns how many were removed.
func (b *Bus) SweepTTL(now time.Time, limit int) int {
	keys := b.state.ExpiredKeys(now, limit)
	removed := 0
	for _, key := range keys {
		b.lock()
		// Re-check: the key may have been refreshed by a concurrent put
		// between ExpiredKeys's read and this delete acquiring the gate.
		if rev, exists := b.state.PeekRevision(key); exists {
			ok, err := b.deleteStateLocked(key, &rev, model.DeleteOriginTTL)
			if err == nil && ok {
				removed++
			}
		}
		b.unlock()
	}
	if removed > 0 && b.logger != nil {
		b.logger.Info("ttl sweep removed expired keys", zap.Int("count", removed))
	}
	return removed
}

// AddVector writes a brand-new vector record through the log, failing with
// Conflict if id already exists in the collection. Always emits
// vector_added, regardless of how the collection looked before the call.
func (b *Bus) AddVector(collection, id string, vec []float32, meta map[string]any) (model.Event, error) {
	b.lock()
	defer b.unlock()

	coll, err := b.vectors.Get(collection)
	if err != nil {
		return model.Event{}, err
	}
	if _, _, exists := coll.Get(id); exists {
		return model.Event{}, kisserrors.Conflict("vector %q already exists in collection %q", id, collection)
	}

	return b.writeVectorEventLocked(coll, collection, model.EventVectorAdded, id, vec, meta)
}

// UpsertVector writes a vector record through the log and into the named
// collection's own durable store, unconditionally creating or replacing id.
// Always emits vector_upserted, even for a brand-new id — unlike AddVector,
// existence is never checked and never changes the emitted kind.
func (b *Bus) UpsertVector(collection, id string, vec []float32, meta map[string]any) (model.Event, error) {
	b.lock()
	defer b.unlock()

	coll, err := b.vectors.Get(collection)
	if err != nil {
		return model.Event{}, err
	}
	return b.writeVectorEventLocked(coll, collection, model.EventVectorUpserted, id, vec, meta)
}

// UpdateVector partially updates an existing vector record, failing with
// NotFound if id is absent. vector/meta are only replaced when their
// "Set" flag is true; otherwise the current stored value is kept. Emits
// vector_updated.
func (b *Bus) UpdateVector(collection, id string, vector []float32, vectorSet bool, meta map[string]any, metaSet bool) (model.Event, error) {
	b.lock()
	defer b.unlock()

	coll, err := b.vectors.Get(collection)
	if err != nil {
		return model.Event{}, err
	}

	curVector, curMeta, exists := coll.Get(id)
	if !exists {
		return model.Event{}, kisserrors.NotFound("vector %q not found in collection %q", id, collection)
	}

	newVector := curVector
	if vectorSet {
		newVector = vector
	}
	newMeta := curMeta
	if metaSet {
		newMeta = meta
	}

	return b.writeVectorEventLocked(coll, collection, model.EventVectorUpdated, id, newVector, newMeta)
}

// writeVectorEventLocked appends a vector upsert record to the log and
// applies it to coll, publishing kind as the emitted event. Callers hold
// b.mu and have already resolved coll from collection.
func (b *Bus) writeVectorEventLocked(coll *vector.Collection, collection string, kind model.EventKind, id string, vec []float32, meta map[string]any) (model.Event, error) {
	patch, err := encodeVectorPatch(model.VectorRecord{Op: model.VectorRecordUpsert, ID: id, Vector: vec, Meta: meta})
	if err != nil {
		return model.Event{}, kisserrors.Internal("encode vector patch", err)
	}

	ev := &model.Event{Kind: kind, Collection: collection, ID: id, Patch: patch, TimestampMs: time.Now().UnixMilli()}
	if _, err := b.wal.Append(ev); err != nil {
		return model.Event{}, kisserrors.IOError("append wal record", err)
	}

	if err := coll.Upsert(id, vec, meta); err != nil {
		return model.Event{}, err
	}
	if err := coll.SetAppliedOffset(ev.Offset); err != nil && b.logger != nil {
		b.logger.Warn("failed to persist collection applied offset", zap.String("collection", collection), zap.Error(err))
	}

	b.live.publish(*ev)
	return *ev, nil
}

// DeleteVector removes a vector record through the log, failing with
// NotFound if id is absent. Existence is checked before the WAL append, so
// a failed delete never consumes an offset, exactly like DeleteState.
func (b *Bus) DeleteVector(collection, id string) (model.Event, error) {
	b.lock()
	defer b.unlock()

	coll, err := b.vectors.Get(collection)
	if err != nil {
		return model.Event{}, err
	}
	if _, _, exists := coll.Get(id); !exists {
		return model.Event{}, kisserrors.NotFound("vector %q not found in collection %q", id, collection)
	}

	ev := &model.Event{Kind: model.EventVectorDeleted, Collection: collection, ID: id, TimestampMs: time.Now().UnixMilli()}
	if _, err := b.wal.Append(ev); err != nil {
		return model.Event{}, kisserrors.IOError("append wal record", err)
	}

	if err := coll.Delete(id); err != nil {
		return model.Event{}, err
	}
	if err := coll.SetAppliedOffset(ev.Offset); err != nil && b.logger != nil {
		b.logger.Warn("failed to persist collection applied offset", zap.String("collection", collection), zap.Error(err))
	}

	b.live.publish(*ev)
	return *ev, nil
}

// NextOffset reports the offset the next appended event will receive.
func (b *Bus) NextOffset() uint64 {
	return b.wal.NextOffset()
}

// Snapshot returns every live KV entry together with the next offset to be
// assigned (every event below it is reflected in the entries), captured
// atomically by briefly
// holding the same gate every mutation passes through. A snapshot taken
// this way never straddles a write: either a mutation is fully reflected in
// both Entries and Offset, or not at all.
func (b *Bus) Snapshot() (offset uint64, entries []model.KVEntry) {
	b.lock()
	defer b.unlock()
	return b.wal.NextOffset(), b.state.List("", 0)
}

// WAL exposes the underlying log to the subscription and snapshot packages.
func (b *Bus) WAL() *log.WAL { return b.wal }

// ReplayStateFrom re-applies every state_updated/state_deleted record at or
// after from directly into the State Engine, skipping vector records
// entirely since each Collection is self-durable and already reflects
// everything up to its own AppliedOffset. Used once at startup, after a
// snapshot's entries (if any) have been restored, to catch up the window
// between the snapshot's offset and whatever the WAL still holds.
func (b *Bus) ReplayStateFrom(from uint64) error {
	it := b.wal.ReadFrom(from)
	defer it.Close()

	applied := 0
	for it.Next() {
		ev := it.Event()
		switch ev.Kind {
		case model.EventStateUpdated:
			value, ttlMs, err := decodeStatePatch(ev.Patch)
			if err != nil {
				return kisserrors.Internal("decode state patch during replay", err)
			}
			var expiresAt int64
			if ttlMs > 0 {
				expiresAt = ev.TimestampMs + ttlMs
			}
			b.state.RestoreEntry(model.KVEntry{Key: ev.Key, Value: value, Revision: ev.Revision, ExpiresAt: expiresAt})
			applied++
		case model.EventStateDeleted:
			b.state.ApplyDelete(ev.Key)
			applied++
		}
	}
	if err := it.Err(); err != nil {
		return kisserrors.IOError("read wal during replay", err)
	}
	if applied > 0 && b.logger != nil {
		b.logger.Info("replayed wal records into state engine", zap.Uint64("from_offset", from), zap.Int("count", applied))
	}
	return nil
}

// WaitForOffset blocks until the live buffer has published past after, or
// ctx is done, returning the buffer's write offset at that point.
func (b *Bus) WaitForOffset(ctx context.Context, after uint64) uint64 {
	return b.live.waitForMore(ctx, after)
}

// LiveEventAt returns the event at offset if it is still retained in the
// live buffer.
func (b *Bus) LiveEventAt(offset uint64) (model.Event, bool) {
	return b.live.eventAt(offset)
}

// LiveOldestRetained returns the smallest offset still present in the live
// buffer, used by the subscriber to detect whether it fell behind far
// enough to need a gap event.
func (b *Bus) LiveOldestRetained() uint64 {
	return b.live.oldestRetained()
}

// LiveLatest returns the live buffer's current write offset.
func (b *Bus) LiveLatest() uint64 {
	return b.live.latest()
}
