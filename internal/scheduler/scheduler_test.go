package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/cache"
	"github.com/devrev/kissvdb/internal/config"
	"github.com/devrev/kissvdb/internal/diskmanager"
	"github.com/devrev/kissvdb/internal/eventbus"
	logpkg "github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/metrics"
	"github.com/devrev/kissvdb/internal/model"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/vector"
)

func newTestScheduler(t *testing.T) (*Scheduler, *eventbus.Bus, *vector.Manager, *state.Engine) {
	return newTestSchedulerWithRatio(t, 0.1)
}

func newTestSchedulerWithRatio(t *testing.T, tombstoneRatio float64) (*Scheduler, *eventbus.Bus, *vector.Manager, *state.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.State.TTLSweepIntervalMs = 10
	cfg.Vector.CompactionPollIntervalSecs = 1
	cfg.Vector.CompactionTombstoneRatio = tombstoneRatio

	wal, err := logpkg.New("", logpkg.Config{SegmentMaxBytes: 1 << 20, RetentionSegments: 4}, nil)
	require.NoError(t, err)
	engine := state.New(nil)
	vectors := vector.NewManager("", vector.Options{
		SegmentCapacity:          cfg.Vector.SegmentCapacity,
		CompactionTombstoneRatio: tombstoneRatio,
		ExactFilterThreshold:     cfg.Vector.ExactFilterThreshold,
	}, nil)
	bus := eventbus.New(wal, engine, vectors, 256, nil)
	c := cache.New(cache.Config{MaxEntries: 100, FrequencyWeight: 0.5, RecencyWeight: 0.5}, nil)
	disk := diskmanager.New("", 0.9, 0, nil)
	m := metrics.New()

	s := New(cfg, bus, engine, vectors, c, disk, m, zap.NewNop())
	t.Cleanup(func() { s.vacuumPool.Stop(time.Second) })
	return s, bus, vectors, engine
}

func TestTTLSweepRemovesExpiredKeys(t *testing.T) {
	s, bus, _, engine := newTestScheduler(t)

	_, err := bus.PutState("k", []byte("1"), 1, nil) // 1ms ttl, expires almost immediately
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go s.runTTLSweep(ctx)

	require.Eventually(t, func() bool {
		_, ok := engine.Get("k")
		return !ok
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestVacuumQuietCollectionsSkipsRecentlyWrittenCollection(t *testing.T) {
	s, bus, vectors, _ := newTestScheduler(t)

	_, err := bus.UpsertVector("docs", "v1", []float32{1, 0}, nil)
	require.Error(t, err, "collection must exist first")

	_, err = vectors.CreateCollection("docs", 2, model.MetricCosine)
	require.NoError(t, err)
	_, err = bus.UpsertVector("docs", "v1", []float32{1, 0}, nil)
	require.NoError(t, err)
	_, err = bus.DeleteVector("docs", "v1")
	require.NoError(t, err)

	// The collection was just written to, so the quiet-period gate must
	// skip it even though its tombstone ratio is now above threshold.
	s.vacuumQuietCollections()

	descs := vectors.List()
	require.Len(t, descs, 1)
	require.EqualValues(t, 2, descs[0].TotalRecords, "vacuum must not have rewritten yet: upsert + delete records are both still present")
}

func TestVacuumQuietCollectionsSkipsBelowTombstoneRatio(t *testing.T) {
	s, bus, vectors, _ := newTestSchedulerWithRatio(t, 0.9)

	_, err := vectors.CreateCollection("docs", 2, model.MetricCosine)
	require.NoError(t, err)
	for _, id := range []string{"v1", "v2", "v3"} {
		_, err = bus.UpsertVector("docs", id, []float32{1, 0}, nil)
		require.NoError(t, err)
	}
	_, err = bus.DeleteVector("docs", "v1")
	require.NoError(t, err)

	// 4 records (upsert x3, delete x1) with 2 still live is a (4-2)/4 = 0.5
	// ratio, below the 0.9 threshold, so the poll must leave it alone even once
	// quiet — that judgment belongs to vacuumQuietCollections, not to
	// Collection.Vacuum, which would rewrite unconditionally if called.
	time.Sleep(minQuietPeriod + 100*time.Millisecond)
	s.vacuumQuietCollections()

	descs := vectors.List()
	require.Len(t, descs, 1)
	require.EqualValues(t, 4, descs[0].TotalRecords, "vacuum must not rewrite a collection below the tombstone-ratio threshold")
}

func TestVacuumQuietCollectionsRewritesOnceQuiet(t *testing.T) {
	s, bus, vectors, _ := newTestScheduler(t)

	_, err := vectors.CreateCollection("docs", 2, model.MetricCosine)
	require.NoError(t, err)
	_, err = bus.UpsertVector("docs", "v1", []float32{1, 0}, nil)
	require.NoError(t, err)
	_, err = bus.DeleteVector("docs", "v1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.vacuumQuietCollections()
		descs := vectors.List()
		return len(descs) == 1 && descs[0].TotalRecords == 0
	}, minQuietPeriod+2*time.Second, 100*time.Millisecond, "vacuum must rewrite the collection once the quiet period elapses")
}
