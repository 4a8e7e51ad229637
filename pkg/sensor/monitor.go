// Package sensor watches the message store for write pressure and logs
// state transitions so operators see compaction debt building before it
// turns into latency.
package sensor

import (
	"context"
	"time"

	"campuschat/pkg/logger"
	"campuschat/pkg/store"
)

// MonitorConfig controls thresholds and intervals for the store monitor.
type MonitorConfig struct {
	PollInterval time.Duration

	MemtableHighBytes uint64
	MemtableLowBytes  uint64

	L0High int64
	L0Low  int64

	// hysteresis window to consider recovery
	RecoveryWindow time.Duration
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:      5 * time.Second,
		MemtableHighBytes: 256 << 20,
		MemtableLowBytes:  128 << 20,
		L0High:            16,
		L0Low:             8,
		RecoveryWindow:    30 * time.Second,
	}
}

// StartStoreMonitor starts a background monitor over the store's metrics.
// It returns a function to stop the monitor.
func StartStoreMonitor(ctx context.Context, st *store.Store, cfg MonitorConfig) context.CancelFunc {
	if cfg.PollInterval <= 0 {
		cfg = DefaultMonitorConfig()
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		state := "normal"
		var lastHigh time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := st.Stats()
				high := m.MemtableSz >= cfg.MemtableHighBytes || m.L0Files >= cfg.L0High
				low := m.MemtableSz <= cfg.MemtableLowBytes && m.L0Files <= cfg.L0Low
				switch {
				case high && state == "normal":
					state = "pressure"
					lastHigh = time.Now()
					logger.Warn("store_pressure",
						"memtable_bytes", m.MemtableSz,
						"l0_files", m.L0Files,
						"compactions", m.Compactions,
						"disk_bytes", m.DiskUsage)
				case high:
					lastHigh = time.Now()
				case low && state == "pressure" && time.Since(lastHigh) >= cfg.RecoveryWindow:
					state = "normal"
					logger.Info("store_pressure_recovered",
						"memtable_bytes", m.MemtableSz,
						"l0_files", m.L0Files)
				}
			}
		}
	}()
	return cancel
}
