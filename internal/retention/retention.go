// Package retention prunes messages older than the configured age on a
// cron schedule. Threads and their directory entries are never removed,
// only message rows and their id locators.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"campuschat/pkg/config"
	"campuschat/pkg/logger"
	"campuschat/pkg/state"
	"campuschat/pkg/store"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult, st *store.Store) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	if !ret.Enabled || ret.MaxAge.Std() <= 0 {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// stable retention folder under the DB path for run artifacts
	retentionPath := state.PathsVar.Retention
	if retentionPath == "" {
		retentionPath = filepath.Join(eff.DBPath, "state", "retention")
	}
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age", ret.MaxAge.Std().String(), "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, ret.MaxAge.Std(), retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, st *store.Store, maxAge time.Duration, runPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, st, maxAge, runPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce prunes every thread's log in a single pass and records a run
// summary under runPath. Exposed so admin triggers and tests can invoke a
// sweep directly.
func RunOnce(ctx context.Context, st *store.Store, maxAge time.Duration, runPath string) error {
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	started := time.Now().UTC()

	threads, err := st.AllThreads()
	if err != nil {
		return err
	}
	total := 0
	for _, th := range threads {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := st.PruneBefore(th.ID, cutoff)
		if err != nil {
			logger.Error("retention_prune_failed", "thread", th.ID, "error", err)
			continue
		}
		total += n
	}

	summary := map[string]any{
		"started_at": started.Format(time.RFC3339),
		"duration":   time.Since(started).String(),
		"cutoff":     cutoff,
		"threads":    len(threads),
		"pruned":     total,
	}
	if runPath != "" {
		b, _ := json.Marshal(summary)
		name := filepath.Join(runPath, fmt.Sprintf("run-%d.json", started.UnixNano()))
		if werr := os.WriteFile(name, b, 0o600); werr != nil {
			logger.Warn("retention_summary_write_failed", "path", name, "error", werr)
		}
	}
	logger.Info("retention_run_done", "pruned", total, "threads", len(threads))
	return nil
}
