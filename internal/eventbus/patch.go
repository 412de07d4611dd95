package eventbus

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/devrev/kissvdb/internal/model"
)

// statePatch is the JSON envelope carried in a state_updated event's Patch
// field, letting a subscriber reconstruct the write without consulting the
// State Engine directly.
type statePatch struct {
	Value []byte `json:"value"`
	TTLMs int64  `json:"ttl_ms,omitempty"`
}

func encodeStatePatch(value []byte, ttlMs int64) ([]byte, error) {
	return json.Marshal(statePatch{Value: value, TTLMs: ttlMs})
}

func decodeStatePatch(patch []byte) (value []byte, ttlMs int64, err error) {
	var p statePatch
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, 0, err
	}
	return p.Value, p.TTLMs, nil
}

// encodeVectorPatch carries the upserted vector/metadata on a
// vector_added/vector_upserted event, msgpack-framed the same way a
// vectors.bin record body is.
func encodeVectorPatch(rec model.VectorRecord) ([]byte, error) {
	return msgpack.Marshal(rec)
}

func decodeVectorPatch(patch []byte) (model.VectorRecord, error) {
	var rec model.VectorRecord
	err := msgpack.Unmarshal(patch, &rec)
	return rec, err
}
