// Package diskmanager guards durable writes against filesystem exhaustion,
// adapted from storage-node's DiskManager: a cached Statfs check behind
// warning/throttle/circuit-breaker thresholds, so a write fails fast with
// unavailable instead of wedging deep inside an fsync call.
package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
)

// Manager monitors one data directory's filesystem and enforces write
// admission policy against it.
type Manager struct {
	dataDir       string
	logger        *zap.Logger
	checkInterval time.Duration

	warningThreshold        float64
	throttleThreshold       float64
	circuitBreakerThreshold float64

	mu                   sync.RWMutex
	lastCheck            time.Time
	cachedUsagePercent   float64
	cachedAvailableBytes uint64
	isThrottled          bool
	isCircuitBroken      bool
}

// New builds a Manager for dataDir, deriving the warning/throttle/circuit
// tiers from maxDiskUsage (storage.max_disk_usage): circuit breaker engages
// exactly at maxDiskUsage, throttling begins at 90% of it, and the warning
// log starts at 80% of it. dataDir == "" (in-memory mode) makes every check
// a no-op: there is nothing on disk to run out of.
func New(dataDir string, maxDiskUsage float64, checkInterval time.Duration, logger *zap.Logger) *Manager {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	circuit := maxDiskUsage * 100
	return &Manager{
		dataDir:                 dataDir,
		logger:                  logger,
		checkInterval:           checkInterval,
		circuitBreakerThreshold: circuit,
		throttleThreshold:       circuit * 0.9,
		warningThreshold:        circuit * 0.8,
	}
}

// CheckBeforeWrite admits or rejects a write of estimatedBytes. A throttled
// manager still admits writes smaller than a tenth of remaining space; a
// circuit-broken one rejects everything.
func (m *Manager) CheckBeforeWrite(estimatedBytes uint64) error {
	if m.dataDir == "" {
		return nil
	}

	m.refreshIfStale()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.isCircuitBroken {
		return kisserrors.Unavailable("disk usage at %.2f%%, writes rejected", m.cachedUsagePercent)
	}
	if m.isThrottled && estimatedBytes > m.cachedAvailableBytes/10 {
		return kisserrors.Unavailable("disk usage at %.2f%%, write throttled", m.cachedUsagePercent)
	}
	if estimatedBytes > m.cachedAvailableBytes {
		return kisserrors.Unavailable("insufficient disk space: need %d bytes, have %d", estimatedBytes, m.cachedAvailableBytes)
	}
	return nil
}

func (m *Manager) refreshIfStale() {
	m.mu.RLock()
	stale := time.Since(m.lastCheck) > m.checkInterval
	m.mu.RUnlock()
	if !stale {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastCheck) <= m.checkInterval {
		return // another goroutine refreshed while we waited for the lock
	}
	if err := m.checkDiskSpaceLocked(); err != nil && m.logger != nil {
		m.logger.Warn("disk space check failed", zap.Error(err))
	}
}

// checkDiskSpaceLocked refreshes the cached usage figures. Callers hold mu.
func (m *Manager) checkDiskSpaceLocked() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.dataDir, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", m.dataDir, err)
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize)
	usedBytes := totalBytes - availableBytes
	usagePercent := float64(0)
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	m.cachedUsagePercent = usagePercent
	m.cachedAvailableBytes = availableBytes
	m.lastCheck = time.Now()

	wasThrottled, wasBroken := m.isThrottled, m.isCircuitBroken
	m.isCircuitBroken = usagePercent >= m.circuitBreakerThreshold
	m.isThrottled = usagePercent >= m.throttleThreshold && !m.isCircuitBroken

	if m.logger != nil {
		if m.isCircuitBroken && !wasBroken {
			m.logger.Error("disk circuit breaker engaged", zap.Float64("usage_percent", usagePercent))
		} else if !m.isCircuitBroken && wasBroken {
			m.logger.Info("disk circuit breaker disengaged", zap.Float64("usage_percent", usagePercent))
		}
		if m.isThrottled && !wasThrottled && !m.isCircuitBroken {
			m.logger.Warn("disk write throttling enabled", zap.Float64("usage_percent", usagePercent))
		} else if !m.isThrottled && wasThrottled {
			m.logger.Info("disk write throttling disabled", zap.Float64("usage_percent", usagePercent))
		}
		if usagePercent >= m.warningThreshold && !m.isThrottled && !m.isCircuitBroken {
			m.logger.Warn("disk usage warning", zap.Float64("usage_percent", usagePercent))
		}
	}
	return nil
}

// Usage reports the current cached disk usage, refreshing first if stale.
func (m *Manager) Usage() Stats {
	m.refreshIfStale()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		UsagePercent:    m.cachedUsagePercent,
		AvailableBytes:  m.cachedAvailableBytes,
		IsThrottled:     m.isThrottled,
		IsCircuitBroken: m.isCircuitBroken,
		LastCheck:       m.lastCheck,
	}
}

// ForceCheck runs an immediate, uncached disk space check.
func (m *Manager) ForceCheck() error {
	if m.dataDir == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDiskSpaceLocked()
}

// Stats is the disk usage snapshot returned by Usage.
type Stats struct {
	UsagePercent    float64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}
