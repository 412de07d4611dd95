// Package validation checks request shapes against the configured size
// limits before they reach the EventBus, following storage-node's
// Validator: a single struct holding the active limits, with one method per
// request kind, returning a tagged *errors.KissError on rejection.
package validation

import (
	"strings"
	"unicode"

	"github.com/devrev/kissvdb/internal/config"
	kisserrors "github.com/devrev/kissvdb/internal/errors"
)

// Validator holds the size limits a request is checked against.
type Validator struct {
	maxKeyLength        int
	maxCollectionLength int
	maxIDLength         int
	maxJSONBytes        int64
	maxDim              int
	maxK                int
	maxBatch            int
	maxVectorBatch      int
}

// New builds a Validator from the server configuration.
func New(cfg *config.Config) *Validator {
	return &Validator{
		maxKeyLength:        cfg.Storage.MaxKeyLength,
		maxCollectionLength: cfg.Storage.MaxCollectionLength,
		maxIDLength:         cfg.Storage.MaxIDLength,
		maxJSONBytes:        cfg.Server.MaxJSONBytes,
		maxDim:              cfg.Vector.MaxDim,
		maxK:                cfg.Vector.MaxK,
		maxBatch:             cfg.State.MaxBatch,
		maxVectorBatch:       cfg.Vector.MaxBatch,
	}
}

func hasControlOrNull(s string) bool {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// Key validates a KV key.
func (v *Validator) Key(key string) error {
	if key == "" {
		return kisserrors.InvalidArgument("key cannot be empty")
	}
	if len(key) > v.maxKeyLength {
		return kisserrors.InvalidArgument("key exceeds maximum length of %d bytes", v.maxKeyLength)
	}
	if hasControlOrNull(key) {
		return kisserrors.InvalidArgument("key cannot contain control characters")
	}
	return nil
}

// KeyPrefix validates a List/Stream key_prefix filter; empty is allowed (it
// means "no prefix restriction").
func (v *Validator) KeyPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if len(prefix) > v.maxKeyLength {
		return kisserrors.InvalidArgument("key_prefix exceeds maximum length of %d bytes", v.maxKeyLength)
	}
	if hasControlOrNull(prefix) {
		return kisserrors.InvalidArgument("key_prefix cannot contain control characters")
	}
	return nil
}

// Value validates a KV value's size. A nil value is valid; it represents an
// intentionally empty body, not a missing one.
func (v *Validator) Value(value []byte) error {
	if int64(len(value)) > v.maxJSONBytes {
		return kisserrors.InvalidArgument("value exceeds maximum size of %d bytes", v.maxJSONBytes)
	}
	return nil
}

// TTLMs validates a TTL in milliseconds; 0 (no expiry) is always valid.
func (v *Validator) TTLMs(ttlMs int64) error {
	if ttlMs < 0 {
		return kisserrors.InvalidArgument("ttl_ms cannot be negative")
	}
	return nil
}

// BatchSize validates the item count of a KV batch_put request.
func (v *Validator) BatchSize(n int) error {
	if n == 0 {
		return kisserrors.InvalidArgument("batch must contain at least one item")
	}
	if n > v.maxBatch {
		return kisserrors.InvalidArgument("batch exceeds maximum size of %d items", v.maxBatch)
	}
	return nil
}

// CollectionName validates a vector collection name.
func (v *Validator) CollectionName(name string) error {
	if name == "" {
		return kisserrors.InvalidArgument("collection name cannot be empty")
	}
	if len(name) > v.maxCollectionLength {
		return kisserrors.InvalidArgument("collection name exceeds maximum length of %d bytes", v.maxCollectionLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return kisserrors.InvalidArgument("collection name cannot contain path separators")
	}
	if hasControlOrNull(name) {
		return kisserrors.InvalidArgument("collection name cannot contain control characters")
	}
	return nil
}

// VectorID validates a vector record ID.
func (v *Validator) VectorID(id string) error {
	if id == "" {
		return kisserrors.InvalidArgument("vector id cannot be empty")
	}
	if len(id) > v.maxIDLength {
		return kisserrors.InvalidArgument("vector id exceeds maximum length of %d bytes", v.maxIDLength)
	}
	if hasControlOrNull(id) {
		return kisserrors.InvalidArgument("vector id cannot contain control characters")
	}
	return nil
}

// Dim validates a collection's declared dimensionality.
func (v *Validator) Dim(dim int) error {
	if dim < 1 {
		return kisserrors.InvalidArgument("dim must be positive")
	}
	if dim > v.maxDim {
		return kisserrors.InvalidArgument("dim exceeds maximum of %d", v.maxDim)
	}
	return nil
}

// VectorLength validates that a submitted vector's length matches the
// collection's declared dimensionality.
func (v *Validator) VectorLength(got, want int) error {
	if got != want {
		return kisserrors.InvalidArgument("vector has %d dimensions, collection expects %d", got, want)
	}
	return nil
}

// K validates a search request's result-count parameter.
func (v *Validator) K(k int) error {
	if k < 1 {
		return kisserrors.InvalidArgument("k must be positive")
	}
	if k > v.maxK {
		return kisserrors.InvalidArgument("k exceeds maximum of %d", v.maxK)
	}
	return nil
}

// VectorBatchSize validates the item count of a vector upsert_batch/delete_batch
// request.
func (v *Validator) VectorBatchSize(n int) error {
	if n == 0 {
		return kisserrors.InvalidArgument("batch must contain at least one item")
	}
	if n > v.maxVectorBatch {
		return kisserrors.InvalidArgument("batch exceeds maximum size of %d items", v.maxVectorBatch)
	}
	return nil
}
