package state

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
	"github.com/devrev/kissvdb/internal/model"
)

// entry is the skip list's payload: the current value, its revision, and an
// absolute-ms expiry (0 meaning no TTL).
type entry struct {
	value     []byte
	revision  uint64
	expiresAt int64
}

func (e *entry) expired(now time.Time) bool {
	return e.expiresAt != 0 && now.UnixMilli() >= e.expiresAt
}

func (e *entry) toModel(key string) model.KVEntry {
	return model.KVEntry{Key: key, Value: e.value, Revision: e.revision, ExpiresAt: e.expiresAt}
}

// Engine is the in-memory KV store: a lexicographically ordered skip list
// guarded by a single RWMutex, read-heavy and write-light exactly like
// storage-node's memtable. Writes into Engine are expected to already be
// serialized by the EventBus's single mutex gate; the RWMutex here exists so
// concurrent Get/List calls never block on each other.
type Engine struct {
	mu     sync.RWMutex
	sl     *skipList
	logger *zap.Logger
}

// New constructs an empty Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{sl: newSkipList(), logger: logger}
}

// Get returns the current value for key. An expired-but-not-yet-swept entry
// is reported as absent without being removed here; removal happens only
// under the write lock, via Delete or the TTL sweeper.
func (e *Engine) Get(key string) (model.KVEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent := e.sl.get(key)
	if ent == nil || ent.expired(time.Now()) {
		return model.KVEntry{}, false
	}
	return ent.toModel(key), true
}

// Put creates or overwrites key. ttlMs of 0 means no expiry. When ifRevision
// is non-nil, the write only applies if the key's current revision equals
// *ifRevision (or the key is absent/expired and *ifRevision == 0, which
// expresses "create only").
func (e *Engine) Put(key string, value []byte, ttlMs int64, ifRevision *uint64) (model.KVEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	existing := e.sl.get(key)
	if existing != nil && existing.expired(now) {
		existing = nil
	}

	if ifRevision != nil {
		var current uint64
		if existing != nil {
			current = existing.revision
		}
		if current != *ifRevision {
			return model.KVEntry{}, kisserrors.Conflict("key %q revision mismatch: have %d, want %d", key, current, *ifRevision)
		}
	}

	var newRevision uint64 = 1
	if existing != nil {
		newRevision = existing.revision + 1
	}

	var expiresAt int64
	if ttlMs > 0 {
		expiresAt = now.Add(time.Duration(ttlMs) * time.Millisecond).UnixMilli()
	}

	ent := &entry{value: value, revision: newRevision, expiresAt: expiresAt}
	e.sl.set(key, ent)
	return ent.toModel(key), nil
}

// PeekRevision returns key's current revision (0, false if absent or
// expired) without mutating anything. The EventBus uses this to validate a
// CAS precondition before it persists the corresponding event, so a failed
// CAS never consumes a log offset.
func (e *Engine) PeekRevision(key string) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent := e.sl.get(key)
	if ent == nil || ent.expired(time.Now()) {
		return 0, false
	}
	return ent.revision, true
}

// ApplyPut commits a write whose CAS precondition the caller has already
// validated (typically via PeekRevision, immediately before persisting the
// event to the log under the same lock). It never rejects on CAS.
func (e *Engine) ApplyPut(key string, value []byte, ttlMs int64, revision uint64) model.KVEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expiresAt int64
	if ttlMs > 0 {
		expiresAt = time.Now().Add(time.Duration(ttlMs) * time.Millisecond).UnixMilli()
	}
	ent := &entry{value: value, revision: revision, expiresAt: expiresAt}
	e.sl.set(key, ent)
	return ent.toModel(key)
}

// RestoreEntry installs ent exactly as captured by a snapshot, bypassing
// revision bookkeeping and TTL-from-now math entirely: ent.ExpiresAt is
// already an absolute timestamp. Used only during startup, before the WAL
// is replayed forward from the snapshot's offset.
func (e *Engine) RestoreEntry(ent model.KVEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sl.set(ent.Key, &entry{value: ent.Value, revision: ent.Revision, expiresAt: ent.ExpiresAt})
}

// ApplyDelete commits a delete whose CAS precondition the caller has already
// validated, reporting whether the key had been present.
func (e *Engine) ApplyDelete(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sl.delete(key)
}

// Delete removes key. When ifRevision is non-nil, the delete only applies if
// the key's current revision matches. Deleting an absent or expired key with
// a nil ifRevision is not an error and reports deleted=false.
func (e *Engine) Delete(key string, ifRevision *uint64) (deleted bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.sl.get(key)
	if existing != nil && existing.expired(time.Now()) {
		existing = nil
	}

	if ifRevision != nil {
		var current uint64
		if existing != nil {
			current = existing.revision
		}
		if current != *ifRevision {
			return false, kisserrors.Conflict("key %q revision mismatch: have %d, want %d", key, current, *ifRevision)
		}
	}

	if existing == nil {
		return false, nil
	}
	e.sl.delete(key)
	return true, nil
}

// List returns up to limit entries with the given key prefix, in
// lexicographic order. A limit <= 0 means unbounded.
func (e *Engine) List(prefix string, limit int) []model.KVEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	var out []model.KVEntry
	it := e.sl.iterFrom(prefix)
	for it.next() {
		key := it.key()
		if !strings.HasPrefix(key, prefix) {
			break
		}
		ent := it.entry()
		if ent.expired(now) {
			continue
		}
		out = append(out, ent.toModel(key))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len reports the number of live (including not-yet-swept-expired) keys.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sl.len()
}

// ExpiredKeys returns up to limit currently-expired keys without removing
// them. The EventBus turns each into a persisted, published
// state_deleted(delete_origin=ttl) event via ApplyDelete, so a TTL expiry is
// recorded on the log exactly like a caller-initiated delete. limit <= 0
// means unbounded.
func (e *Engine) ExpiredKeys(now time.Time, limit int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var expired []string
	it := e.sl.iterFrom("")
	for it.next() {
		if it.entry().expired(now) {
			expired = append(expired, it.key())
			if limit > 0 && len(expired) >= limit {
				break
			}
		}
	}
	return expired
}
