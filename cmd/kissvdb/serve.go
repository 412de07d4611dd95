package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/kissvdb/internal/cache"
	"github.com/devrev/kissvdb/internal/config"
	"github.com/devrev/kissvdb/internal/diskmanager"
	"github.com/devrev/kissvdb/internal/docstore"
	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/health"
	"github.com/devrev/kissvdb/internal/httpapi"
	logpkg "github.com/devrev/kissvdb/internal/log"
	"github.com/devrev/kissvdb/internal/metrics"
	"github.com/devrev/kissvdb/internal/scheduler"
	"github.com/devrev/kissvdb/internal/snapshot"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/subscription"
	"github.com/devrev/kissvdb/internal/validation"
	"github.com/devrev/kissvdb/internal/vector"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kissvdb server in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (absent uses built-in defaults)")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Logging.Format == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func runServe() error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	dataDir := cfg.Storage.DataDir
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	wal, err := logpkg.New(dataDir, logpkg.Config{
		SegmentMaxBytes:   cfg.WAL.SegmentMaxBytes,
		RetentionSegments: cfg.WAL.RetentionSegments,
		SyncWrites:        cfg.WAL.SyncWrites,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening wal: %w", err)
	}
	defer wal.Close()

	engine := state.New(logger)

	snapOffset, entries, err := snapshot.Load(dataDir)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	snapshot.Restore(engine, entries)

	vectors := vector.NewManager(dataDir, vector.Options{
		SegmentCapacity:          cfg.Vector.SegmentCapacity,
		CompactionTombstoneRatio: cfg.Vector.CompactionTombstoneRatio,
		ExactFilterThreshold:     cfg.Vector.ExactFilterThreshold,
	}, logger)
	if err := vectors.Open(); err != nil {
		return fmt.Errorf("opening vector collections: %w", err)
	}

	bus := eventbus.New(wal, engine, vectors, cfg.EventBus.LiveBufferCapacity, logger)
	if err := bus.ReplayStateFrom(snapOffset); err != nil {
		return fmt.Errorf("replaying wal into state engine: %w", err)
	}

	sub := subscription.New(bus)
	readCache := cache.New(cache.Config{
		MaxEntries:      cfg.Cache.MaxEntries,
		FrequencyWeight: cfg.Cache.FrequencyWeight,
		RecencyWeight:   cfg.Cache.RecencyWeight,
	}, logger)
	disk := diskmanager.New(dataDir, cfg.Storage.MaxDiskUsage, 0, logger)
	validator := validation.New(cfg)
	m := metrics.New()
	docs := docstore.New(bus, engine, validator)

	checker := health.New()

	deps := &httpapi.Deps{
		Cfg:        cfg,
		Bus:        bus,
		State:      engine,
		Vectors:    vectors,
		Cache:      readCache,
		Validator:  validator,
		Disk:       disk,
		Metrics:    m,
		Subscriber: sub,
		Docs:       docs,
		Logger:     logger,
		Ready:      checker.IsReady,
	}
	server := httpapi.New(cfg, deps, logger)

	sched := scheduler.New(cfg, bus, engine, vectors, readCache, disk, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- sched.Run(ctx) }()
	go func() { errCh <- server.Start(ctx, cfg.Server.ShutdownTimeout) }()

	checker.MarkReady()
	logger.Info("kissvdb server ready", zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)), zap.Bool("durable", cfg.Durable()))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			logger.Error("background component exited with error", zap.Error(err))
		}
	}

	if _, err := snapshot.Write(dataDir, bus, time.Now().UnixMilli(), logger); err != nil {
		logger.Error("final snapshot write failed", zap.Error(err))
	}
	return nil
}
