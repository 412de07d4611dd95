// Package config loads and validates the kissvdb server configuration,
// following storage-node's LoadConfig/setDefaults/Validate shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MaxJSONBytes    int64         `yaml:"max_json_bytes"`
}

// StorageConfig holds the on-disk layout and its size limits.
type StorageConfig struct {
	DataDir             string  `yaml:"data_dir"` // empty means purely in-memory, no durability
	MaxDiskUsage        float64 `yaml:"max_disk_usage"`
	MaxKeyLength        int     `yaml:"max_key_length"`
	MaxCollectionLength int     `yaml:"max_collection_length"`
	MaxIDLength         int     `yaml:"max_id_length"`
}

// WALConfig holds the write-ahead log's segmenting and retention policy.
type WALConfig struct {
	SegmentMaxBytes   int64 `yaml:"segment_max_bytes"`
	RetentionSegments int   `yaml:"retention_segments"`
	SyncWrites        bool  `yaml:"sync_writes"`
}

// SnapshotConfig holds the snapshot scheduler's policy.
type SnapshotConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// EventBusConfig holds the live broadcast buffer's capacity.
type EventBusConfig struct {
	LiveBufferCapacity int `yaml:"live_buffer_capacity"`
}

// VectorConfig holds vector-collection-wide limits and the compaction trigger.
type VectorConfig struct {
	MaxDim                     int     `yaml:"max_dim"`
	MaxK                       int     `yaml:"max_k"`
	MaxBatch                   int     `yaml:"max_batch"`
	SegmentCapacity            int     `yaml:"segment_capacity"`
	CompactionTombstoneRatio   float64 `yaml:"compaction_tombstone_ratio"`
	CompactionPollIntervalSecs int     `yaml:"compaction_poll_interval_seconds"`
	ExactFilterThreshold       int     `yaml:"exact_filter_threshold"`
}

// StateConfig holds KV-wide limits.
type StateConfig struct {
	MaxBatch          int `yaml:"max_batch"`
	TTLSweepIntervalMs int `yaml:"ttl_sweep_interval_ms"`
}

// CacheConfig holds the adaptive read-cache's sizing/weighting.
type CacheConfig struct {
	MaxEntries      int     `yaml:"max_entries"`
	FrequencyWeight float64 `yaml:"frequency_weight"`
	RecencyWeight   float64 `yaml:"recency_weight"`
}

// MetricsConfig holds the Prometheus endpoint's exposure.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects the zap logger profile.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "production" or "development"
}

// RateLimitConfig holds the HTTP throttling middleware's limits.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Config is the complete configuration for a kissvdb server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	WAL       WALConfig       `yaml:"wal"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	EventBus  EventBusConfig  `yaml:"event_bus"`
	Vector    VectorConfig    `yaml:"vector"`
	State     StateConfig     `yaml:"state"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Default returns a Config with every field populated with its default
// value, suitable for purely in-memory use (no DataDir) or as the base for
// LoadConfig's overlay.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadConfig reads and parses a YAML config file, applying defaults for
// unspecified fields and validating the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8089
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 8 << 20 // 8 MiB
	}
	if cfg.Server.MaxJSONBytes == 0 {
		cfg.Server.MaxJSONBytes = 4 << 20 // 4 MiB
	}

	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.9
	}
	if cfg.Storage.MaxKeyLength == 0 {
		cfg.Storage.MaxKeyLength = 1024
	}
	if cfg.Storage.MaxCollectionLength == 0 {
		cfg.Storage.MaxCollectionLength = 256
	}
	if cfg.Storage.MaxIDLength == 0 {
		cfg.Storage.MaxIDLength = 512
	}

	if cfg.WAL.SegmentMaxBytes == 0 {
		cfg.WAL.SegmentMaxBytes = 64 << 20 // 64 MiB
	}
	if cfg.WAL.RetentionSegments == 0 {
		cfg.WAL.RetentionSegments = 16
	}

	if cfg.Snapshot.IntervalSeconds == 0 {
		cfg.Snapshot.IntervalSeconds = 300
	}

	if cfg.EventBus.LiveBufferCapacity == 0 {
		cfg.EventBus.LiveBufferCapacity = 4096
	}

	if cfg.Vector.MaxDim == 0 {
		cfg.Vector.MaxDim = 4096
	}
	if cfg.Vector.MaxK == 0 {
		cfg.Vector.MaxK = 1000
	}
	if cfg.Vector.MaxBatch == 0 {
		cfg.Vector.MaxBatch = 1000
	}
	if cfg.Vector.SegmentCapacity == 0 {
		cfg.Vector.SegmentCapacity = 8192
	}
	if cfg.Vector.CompactionTombstoneRatio == 0 {
		cfg.Vector.CompactionTombstoneRatio = 0.2
	}
	if cfg.Vector.CompactionPollIntervalSecs == 0 {
		cfg.Vector.CompactionPollIntervalSecs = 30
	}
	if cfg.Vector.ExactFilterThreshold == 0 {
		cfg.Vector.ExactFilterThreshold = 512
	}

	if cfg.State.MaxBatch == 0 {
		cfg.State.MaxBatch = 1000
	}
	if cfg.State.TTLSweepIntervalMs == 0 {
		cfg.State.TTLSweepIntervalMs = 1000
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.FrequencyWeight == 0 {
		cfg.Cache.FrequencyWeight = 0.5
	}
	if cfg.Cache.RecencyWeight == 0 {
		cfg.Cache.RecencyWeight = 0.5
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "production"
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 1000
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 2000
	}
}

// Validate checks invariants that setDefaults cannot fill in on its own.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.MaxDiskUsage <= 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be in (0, 1]")
	}
	if c.Vector.CompactionTombstoneRatio <= 0 || c.Vector.CompactionTombstoneRatio >= 1 {
		return fmt.Errorf("vector.compaction_tombstone_ratio must be in (0, 1)")
	}
	if c.Vector.SegmentCapacity < 1 {
		return fmt.Errorf("vector.segment_capacity must be positive")
	}
	return nil
}

// Durable reports whether the server persists to disk.
func (c *Config) Durable() bool {
	return c.Storage.DataDir != ""
}

// WALRetentionWindowHint documents the approximate replay window the current
// WAL retention policy bounds, per SPEC_FULL.md's Open Question resolution.
func (c *Config) WALRetentionWindowHint() int64 {
	return c.WAL.SegmentMaxBytes * int64(c.WAL.RetentionSegments)
}
