// Package snapshot periodically captures the State Engine's full keyspace so
// the WAL does not have to retain every mutation back to the beginning of
// time, the same role a memtable flush plays for storage-node's commit log:
// once a snapshot covers offset N, every WAL segment whose records are all
// <= N can be pruned, and a restart only has to replay from N forward.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/state"
)

const fileName = "snapshot.json"

// record is the on-disk envelope. Offset is exclusive: every event with
// Offset < record.Offset is already reflected in Entries.
type record struct {
	Offset    uint64          `json:"offset"`
	Entries   []model.KVEntry `json:"entries"`
	TakenAtMs int64           `json:"taken_at_ms"`
}

func path(dir string) string { return filepath.Join(dir, fileName) }

// Write captures a consistent (state, offset) pair from bus, persists it
// atomically via a temp-file-then-rename, and then prunes any WAL segment
// fully covered by it. dir == "" (in-memory mode) is a no-op: there is
// nothing to make durable and nothing to truncate against.
func Write(dir string, bus *eventbus.Bus, now int64, logger *zap.Logger) (uint64, error) {
	offset, entries := bus.Snapshot()

	if dir == "" {
		return offset, nil
	}

	rec := record{Offset: offset, Entries: entries, TakenAtMs: now}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := path(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path(dir)); err != nil {
		return 0, fmt.Errorf("rename snapshot into place: %w", err)
	}

	if offset > 0 {
		if err := bus.WAL().TruncateThrough(offset - 1); err != nil {
			return offset, fmt.Errorf("truncate wal through snapshot offset: %w", err)
		}
	}

	if logger != nil {
		logger.Info("wrote snapshot", zap.Uint64("offset", offset), zap.Int("entries", len(entries)))
	}
	return offset, nil
}

// Load reads the most recent snapshot from dir. A missing file is not an
// error: it reports offset 0 and a nil entry set, meaning "replay the whole
// log from the beginning."
func Load(dir string) (offset uint64, entries []model.KVEntry, err error) {
	if dir == "" {
		return 0, nil, nil
	}

	data, err := os.ReadFile(path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("read snapshot: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec.Offset, rec.Entries, nil
}

// Restore installs entries directly into engine, used right after Load
// during startup, before the WAL is replayed forward from offset.
func Restore(engine *state.Engine, entries []model.KVEntry) {
	for _, e := range entries {
		engine.RestoreEntry(e)
	}
}
