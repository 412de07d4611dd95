// Package docstore is the thin document view spec.md section 9's resolved
// open question describes: a document is just a KV entry at a synthesized
// key, so it rides the same state_updated/state_deleted event kinds, the
// same WAL and the same snapshot the KV path already has. Document reads
// and writes go straight to the State Engine, not through the KV read cache.
// There is no separate storage engine here, only a key-naming convention
// and its own validation front door.
package docstore

import (
	"encoding/json"
	"strings"

	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/validation"
)

const keyPrefix = "doc:"

// Document is one document-view entry, addressed by collection and id
// rather than by its underlying composite KV key.
type Document struct {
	Collection string
	ID         string
	Meta       json.RawMessage
	Revision   uint64
	ExpiresAt  int64
}

// Store layers the document naming convention over the Bus/Engine the KV
// path already uses.
type Store struct {
	bus   *eventbus.Bus
	state *state.Engine
	valid *validation.Validator
}

func New(bus *eventbus.Bus, stateEngine *state.Engine, valid *validation.Validator) *Store {
	return &Store{bus: bus, state: stateEngine, valid: valid}
}

// key builds the doc:{collection}:{id} composite key a document lives at.
func key(collection, id string) string {
	return keyPrefix + collection + ":" + id
}

// split recovers collection and id from a composite key produced by key.
// It takes the first ':' after the prefix as the collection/id boundary,
// so the split is exact only for a collection name without ':';
// CollectionName does not reject ':'.
func split(compositeKey string) (collection, id string, ok bool) {
	rest, ok := strings.CutPrefix(compositeKey, keyPrefix)
	if !ok {
		return "", "", false
	}
	collection, id, ok = strings.Cut(rest, ":")
	return collection, id, ok
}

func (s *Store) validate(collection, id string, meta []byte) error {
	if err := s.valid.CollectionName(collection); err != nil {
		return err
	}
	if err := s.valid.VectorID(id); err != nil {
		return err
	}
	return s.valid.Value(meta)
}

// Put creates or overwrites a document, with the same ttl/CAS semantics
// kv.put has: ifRevision, when non-nil, must match the document's current
// revision (0 if it doesn't exist yet) or the write is rejected.
func (s *Store) Put(collection, id string, meta json.RawMessage, ttlMs int64, ifRevision *uint64) (Document, error) {
	if err := s.validate(collection, id, meta); err != nil {
		return Document{}, err
	}
	ent, err := s.bus.PutState(key(collection, id), meta, ttlMs, ifRevision)
	if err != nil {
		return Document{}, err
	}
	return Document{Collection: collection, ID: id, Meta: json.RawMessage(ent.Value), Revision: ent.Revision, ExpiresAt: ent.ExpiresAt}, nil
}

// Get reads a document by collection and id.
func (s *Store) Get(collection, id string) (Document, bool) {
	ent, ok := s.state.Get(key(collection, id))
	if !ok {
		return Document{}, false
	}
	return Document{Collection: collection, ID: id, Meta: json.RawMessage(ent.Value), Revision: ent.Revision, ExpiresAt: ent.ExpiresAt}, true
}

// Delete removes a document, optionally gated by ifRevision the same way
// kv.delete is.
func (s *Store) Delete(collection, id string, ifRevision *uint64) (bool, error) {
	if err := s.valid.CollectionName(collection); err != nil {
		return false, err
	}
	if err := s.valid.VectorID(id); err != nil {
		return false, err
	}
	return s.bus.DeleteState(key(collection, id), ifRevision)
}

// List returns every document in collection, up to limit (0 means
// unbounded), ordered the same way state.Engine.List orders KV entries.
func (s *Store) List(collection string, limit int) ([]Document, error) {
	if err := s.valid.CollectionName(collection); err != nil {
		return nil, err
	}
	prefix := keyPrefix + collection + ":"
	entries := s.state.List(prefix, limit)
	out := make([]Document, 0, len(entries))
	for _, ent := range entries {
		_, id, ok := split(ent.Key)
		if !ok {
			continue
		}
		out = append(out, Document{Collection: collection, ID: id, Meta: json.RawMessage(ent.Value), Revision: ent.Revision, ExpiresAt: ent.ExpiresAt})
	}
	return out, nil
}
