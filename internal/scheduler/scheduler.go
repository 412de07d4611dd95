// Package scheduler runs kissvdb's periodic background work: TTL sweeping,
// snapshotting, vector compaction, cache weight adaptation, and the
// metrics/disk-usage refresh that feeds /metrics between writes. Everything
// here is supervised by one errgroup.Group per Run call, the way
// coordinator_service.go fans out and waits on its replica writes, so one
// job panicking or erroring doesn't silently leave the others running
// unsupervised.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/kissvdb/internal/cache"
	"github.com/devrev/kissvdb/internal/config"
	"github.com/devrev/kissvdb/internal/diskmanager"
	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/metrics"
	"github.com/devrev/kissvdb/internal/snapshot"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/vector"
	"github.com/devrev/kissvdb/internal/workerpool"
)

// vacuumPoolWorkers bounds how many collections can be vacuumed
// concurrently, so a data directory with hundreds of collections doesn't
// spawn hundreds of goroutines on one quiet-period poll tick.
const vacuumPoolWorkers = 4
const vacuumPoolStopTimeout = 5 * time.Second

// minQuietPeriod is how long a collection must go without a write before the
// vacuum poller will consider compacting it, so vacuum never competes with
// write pressure the way the open-question resolution describes.
const minQuietPeriod = 2 * time.Second

const ttlSweepBatchLimit = 1000
const cacheAdjustInterval = 30 * time.Second

// Scheduler owns every periodic background job for one running server.
type Scheduler struct {
	cfg        *config.Config
	bus        *eventbus.Bus
	state      *state.Engine
	vectors    *vector.Manager
	cache      *cache.Cache
	disk       *diskmanager.Manager
	metrics    *metrics.Metrics
	logger     *zap.Logger
	vacuumPool *workerpool.Pool
}

func New(cfg *config.Config, bus *eventbus.Bus, stateEngine *state.Engine, vectors *vector.Manager, c *cache.Cache, disk *diskmanager.Manager, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	vacuumPool := workerpool.New(workerpool.Config{Name: "vacuum", MaxWorkers: vacuumPoolWorkers, Logger: logger})
	return &Scheduler{cfg: cfg, bus: bus, state: stateEngine, vectors: vectors, cache: c, disk: disk, metrics: m, logger: logger, vacuumPool: vacuumPool}
}

// Run starts every background job and blocks until ctx is canceled or one
// job returns an error.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.vacuumPool.Stop(vacuumPoolStopTimeout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { s.runTTLSweep(gctx); return nil })
	g.Go(func() error { s.runSnapshots(gctx); return nil })
	g.Go(func() error { s.runVacuumPoll(gctx); return nil })
	g.Go(func() error { s.runCacheAdjust(gctx); return nil })
	g.Go(func() error { s.runMetricsRefresh(gctx); return nil })

	return g.Wait()
}

func (s *Scheduler) runTTLSweep(ctx context.Context) {
	interval := time.Duration(s.cfg.State.TTLSweepIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := s.bus.SweepTTL(now, ttlSweepBatchLimit)
			if removed > 0 && s.metrics != nil {
				s.metrics.TTLExpiredTotal.Add(float64(removed))
			}
		}
	}
}

func (s *Scheduler) runSnapshots(ctx context.Context) {
	if !s.cfg.Durable() {
		return
	}
	interval := time.Duration(s.cfg.Snapshot.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if _, err := snapshot.Write(s.cfg.Storage.DataDir, s.bus, start.UnixMilli(), s.logger); err != nil {
				s.logger.Error("snapshot write failed", zap.Error(err))
				continue
			}
			if s.metrics != nil {
				s.metrics.SnapshotsTotal.Inc()
				s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (s *Scheduler) runVacuumPoll(ctx context.Context) {
	interval := time.Duration(s.cfg.Vector.CompactionPollIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.vacuumQuietCollections()
		}
	}
}

// vacuumQuietCollections hands one vacuum task per eligible collection to
// the bounded pool so collections compact in parallel without letting the
// poll tick itself block on a slow rewrite. A collection the pool's queue
// is too full to accept right now simply waits for the next poll tick.
// Eligibility — the tombstone ratio and quiet-period judgment — lives here,
// not inside Collection.Vacuum itself, so a manual vacuum trigger (the HTTP
// route or the CLI subcommand) always rewrites regardless of ratio.
func (s *Scheduler) vacuumQuietCollections() {
	now := time.Now().UnixMilli()
	for _, desc := range s.vectors.List() {
		if now-desc.UpdatedAtMs < minQuietPeriod.Milliseconds() {
			continue
		}
		if desc.TotalRecords == 0 {
			continue
		}
		ratio := float64(desc.TotalRecords-desc.LiveCount) / float64(desc.TotalRecords)
		if ratio < s.cfg.Vector.CompactionTombstoneRatio {
			continue
		}
		name := desc.Name
		s.vacuumPool.TrySubmit(workerpool.Task{
			ID: "vacuum:" + name,
			Fn: func(context.Context) error { return s.vacuumOne(name) },
		})
	}
}

func (s *Scheduler) vacuumOne(name string) error {
	coll, err := s.vectors.Get(name)
	if err != nil {
		return nil
	}
	start := time.Now()
	rewrote, err := coll.Vacuum()
	if err != nil {
		s.logger.Error("vacuum failed", zap.String("collection", name), zap.Error(err))
		return err
	}
	if rewrote {
		s.logger.Info("vacuum rewrote collection", zap.String("collection", name))
		if s.metrics != nil {
			s.metrics.VacuumRunsTotal.Inc()
			s.metrics.VacuumDuration.Observe(time.Since(start).Seconds())
		}
	}
	return nil
}

func (s *Scheduler) runCacheAdjust(ctx context.Context) {
	ticker := time.NewTicker(cacheAdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cache.AdjustWeights()
		}
	}
}

// runMetricsRefresh polls gauges that have no natural write-time call site:
// key counts, WAL footprint, disk usage, per-collection live/tombstone
// counts.
func (s *Scheduler) runMetricsRefresh(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.KVKeysTotal.Set(float64(s.state.Len()))

			walStats := s.bus.WAL().Stats()
			s.metrics.WALSegmentsTotal.Set(float64(walStats.SegmentCount))
			s.metrics.WALCurrentSegmentBytes.Set(float64(walStats.CurrentSegmentBytes))

			if err := s.disk.ForceCheck(); err == nil {
				s.metrics.DiskUsagePercent.Set(s.disk.Usage().UsagePercent)
			}

			for _, desc := range s.vectors.List() {
				s.metrics.VectorLiveCount.WithLabelValues(desc.Name).Set(float64(desc.LiveCount))
				if desc.TotalRecords > 0 {
					ratio := float64(desc.TotalRecords-desc.LiveCount) / float64(desc.TotalRecords)
					s.metrics.VectorTombstoneRatio.WithLabelValues(desc.Name).Set(ratio)
				}
			}
		}
	}
}
