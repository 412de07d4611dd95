package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/vector"
)

func newTestBus(t *testing.T, walDir string) *eventbus.Bus {
	wal, err := log.New(walDir, log.Config{SegmentMaxBytes: 1 << 20, RetentionSegments: 4}, nil)
	require.NoError(t, err)
	se := state.New(nil)
	vm := vector.NewManager("", vector.Options{SegmentCapacity: 8, CompactionTombstoneRatio: 0.5, ExactFilterThreshold: 100}, nil)
	return eventbus.New(wal, se, vm, 16, nil)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")

	bus := newTestBus(t, walDir)
	_, err := bus.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)
	_, err = bus.PutState("b", []byte("2"), 0, nil)
	require.NoError(t, err)

	offset, err := Write(dir, bus, 1000, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, offset)

	gotOffset, entries, err := Load(dir)
	require.NoError(t, err)
	require.EqualValues(t, 2, gotOffset)
	require.Len(t, entries, 2)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	offset, entries, err := Load(dir)
	require.NoError(t, err)
	require.Zero(t, offset)
	require.Nil(t, entries)
}

func TestWriteTruncatesCoveredWALSegments(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "wal")

	wal, err := log.New(walDir, log.Config{SegmentMaxBytes: 1, RetentionSegments: 16}, nil)
	require.NoError(t, err)
	se := state.New(nil)
	vm := vector.NewManager("", vector.Options{SegmentCapacity: 8, CompactionTombstoneRatio: 0.5, ExactFilterThreshold: 100}, nil)
	bus := eventbus.New(wal, se, vm, 16, nil)

	// SegmentMaxBytes of 1 forces a rotation before every append past the
	// first, so the first two writes land in their own now-closed segments
	// and only the third stays in the still-open active one.
	for _, v := range []string{"1", "2", "3"} {
		_, err := bus.PutState("k", []byte(v), 0, nil)
		require.NoError(t, err)
	}

	offset, err := Write(dir, bus, 2000, nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, offset)

	it := bus.WAL().ReadFrom(0)
	defer it.Close()
	require.True(t, it.Next(), "the still-open active segment must survive truncation")
	require.EqualValues(t, 2, it.Event().Offset)
	require.False(t, it.Next())
}

func TestRestoreInstallsSnapshotEntriesIntoEngine(t *testing.T) {
	se := state.New(nil)
	entries := []model.KVEntry{
		{Key: "a", Value: []byte("1"), Revision: 3},
		{Key: "b", Value: []byte("2"), Revision: 1},
	}
	Restore(se, entries)

	got, ok := se.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), got.Value)
	require.EqualValues(t, 3, got.Revision)

	_, ok = se.Get("b")
	require.True(t, ok)
}

func TestInMemoryModeWriteIsNoOp(t *testing.T) {
	bus := newTestBus(t, "")
	_, err := bus.PutState("a", []byte("1"), 0, nil)
	require.NoError(t, err)

	offset, err := Write("", bus, 3000, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, offset)
}
