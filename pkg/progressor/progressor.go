// Package progressor runs one-shot upgrade work when the binary version
// changes against an existing database.
package progressor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campuschat/pkg/logger"
	"campuschat/pkg/store"
)

const (
	versionKey    = "version"
	inProgressKey = "migration_in_progress"
)

// Sync performs upgrade work between versions. Edit in-place for migration
// logic. Every step must be idempotent; Sync may run again after a crash.
func Sync(ctx context.Context, st *store.Store, from, to string) error {
	logger.Info("progressor_sync_start", "from", from, "to", to)

	// Backfill locator rows for messages written before the id index
	// existed. Walking each thread log and re-listing is enough: ListSince
	// rows carry their own cursor, and AppendMessage has written locators
	// since the index was introduced, so threads touched recently are
	// no-ops here.
	threads, err := st.AllThreads()
	if err != nil {
		return err
	}
	for _, th := range threads {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		cur, err := st.MaxCursorForThread(th.ID)
		if err != nil {
			logger.Error("progressor_scan_failed", "thread", th.ID, "error", err)
			continue
		}
		if cur == "" {
			continue
		}
		msgs, _, err := st.ListSince(th.ID, "", 0)
		if err != nil {
			logger.Error("progressor_list_failed", "thread", th.ID, "error", err)
			continue
		}
		for _, m := range msgs {
			if _, err := st.GetMessage(m.ID); err == nil {
				continue
			}
			if err := st.BackfillLocator(m); err != nil {
				logger.Error("progressor_backfill_failed", "thread", th.ID, "id", m.ID, "error", err)
			}
		}
	}

	logger.Info("progressor_sync_done", "from", from, "to", to)
	return nil
}

// Run checks for a version change and runs Sync if needed.
// Returns (invoked, error): invoked is true if Sync ran.
func Run(ctx context.Context, st *store.Store, newVersion string) (bool, error) {
	stored, err := st.GetKey(versionKey)
	if err != nil {
		logger.Error("progressor_read_version_failed", "error", err)
	}
	logger.Info("progressor_version_check", "stored", stored, "running", newVersion)
	if stored == newVersion {
		logger.Info("progressor_noop", "version", newVersion)
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := st.SaveKey(inProgressKey, mb); err != nil {
		logger.Error("progressor_write_inprogress_failed", "error", err)
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	logger.Info("progressor_start_sync", "from", stored, "to", newVersion)
	if err := Sync(ctx, st, stored, newVersion); err != nil {
		logger.Error("progressor_sync_failed", "from", stored, "to", newVersion, "error", err)
		return true, err
	}

	if err := st.SaveKey(versionKey, []byte(newVersion)); err != nil {
		logger.Error("progressor_persist_version_failed", "version", newVersion, "error", err)
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := st.DeleteKey(inProgressKey); err != nil {
		logger.Error("progressor_delete_inprogress_failed", "error", err)
	}

	logger.Info("progressor_version_persisted", "version", newVersion)
	return true, nil
}
