// Package directory maps an origin reference plus an unordered participant
// pair to a single canonical thread, creating it on first use.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
	"campuschat/pkg/telemetry"
	"campuschat/pkg/utils"
	"campuschat/pkg/validation"
)

// Directory resolves (reference, pair) to a thread id with idempotent
// get-or-create semantics.
type Directory struct {
	store *store.Store

	// mu serializes the lookup-then-create window so concurrent calls for
	// the same pair cannot race a duplicate thread into existence.
	mu sync.Mutex
}

func New(st *store.Store) *Directory {
	return &Directory{store: st}
}

// GetOrCreate returns the canonical thread for the reference and the
// unordered pair {initiator, counterpart}, creating the thread plus both
// participant rows in one atomic batch when absent. Either argument order
// of the two users resolves to the same thread.
func (d *Directory) GetOrCreate(ctx context.Context, ref models.Reference, initiator, counterpart string) (models.Thread, error) {
	var zero models.Thread
	if initiator == "" {
		return zero, models.ErrNotAuthenticated
	}
	if err := validation.ValidateReference(ref); err != nil {
		return zero, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if err := validation.ValidatePair(initiator, counterpart); err != nil {
		return zero, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	dirKey := store.DirKey(ref, initiator, counterpart)

	d.mu.Lock()
	defer d.mu.Unlock()

	if tid, err := d.store.ResolveDir(dirKey); err == nil {
		th, err := d.store.GetThread(tid)
		if err != nil {
			return zero, fmt.Errorf("resolve thread %s: %w", tid, err)
		}
		return th, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return zero, fmt.Errorf("directory lookup: %w", err)
	}

	now := time.Now().UTC().UnixNano()
	th := models.Thread{ID: utils.GenThreadID(), Ref: ref, CreatedTS: now}
	parts := []models.Participant{
		{Thread: th.ID, User: initiator, JoinedTS: now},
		{Thread: th.ID, User: counterpart, JoinedTS: now},
	}
	if err := d.store.CreateThread(th, parts, dirKey); err != nil {
		return zero, fmt.Errorf("create thread: %w", err)
	}
	telemetry.ThreadsCreated.Inc()
	logger.Info("directory_thread_created", "thread", th.ID, "kind", ref.Kind, "ref", ref.ID)
	return th, nil
}
