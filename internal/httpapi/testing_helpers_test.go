package httpapi

import (
	"testing"

	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/cache"
	"github.com/devrev/kissvdb/internal/config"
	"github.com/devrev/kissvdb/internal/diskmanager"
	"github.com/devrev/kissvdb/internal/docstore"
	"github.com/devrev/kissvdb/internal/eventbus"
	logpkg "github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/metrics"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/subscription"
	"github.com/devrev/kissvdb/internal/validation"
	"github.com/devrev/kissvdb/internal/vector"
)

// newTestServer builds a fully in-memory Deps/Server pair: empty DataDir
// means the WAL and vector collections never touch disk, matching how the
// state engine's own tests exercise the Bus without a temp directory.
func newTestServer(t *testing.T) (*Server, *Deps) {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	logger := zap.NewNop()

	wal, err := logpkg.New("", logpkg.Config{SegmentMaxBytes: cfg.WAL.SegmentMaxBytes, RetentionSegments: cfg.WAL.RetentionSegments}, logger)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	engine := state.New(logger)
	vectors := vector.NewManager("", vector.Options{
		SegmentCapacity:          cfg.Vector.SegmentCapacity,
		CompactionTombstoneRatio: cfg.Vector.CompactionTombstoneRatio,
		ExactFilterThreshold:     cfg.Vector.ExactFilterThreshold,
	}, logger)
	bus := eventbus.New(wal, engine, vectors, cfg.EventBus.LiveBufferCapacity, logger)
	sub := subscription.New(bus)
	c := cache.New(cache.Config{MaxEntries: cfg.Cache.MaxEntries, FrequencyWeight: cfg.Cache.FrequencyWeight, RecencyWeight: cfg.Cache.RecencyWeight}, logger)
	disk := diskmanager.New("", cfg.Storage.MaxDiskUsage, 0, logger)
	val := validation.New(cfg)
	m := metrics.New()
	docs := docstore.New(bus, engine, val)

	deps := &Deps{
		Cfg:        cfg,
		Bus:        bus,
		State:      engine,
		Vectors:    vectors,
		Cache:      c,
		Validator:  val,
		Disk:       disk,
		Metrics:    m,
		Subscriber: sub,
		Docs:       docs,
		Logger:     logger,
		Ready:      func() bool { return true },
	}
	srv := New(cfg, deps, logger)
	return srv, deps
}
