package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"campuschat/pkg/logger"
	"campuschat/pkg/models"
)

// System keys live under the "system:" prefix, outside any thread log.

// GetKey returns the raw value of a system key, or "" when absent.
func (s *Store) GetKey(key string) (string, error) {
	v, err := s.get([]byte("system:" + key))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SaveKey writes a system key durably.
func (s *Store) SaveKey(key string, value []byte) error {
	return s.db.Set([]byte("system:"+key), value, pebble.Sync)
}

// DeleteKey removes a system key.
func (s *Store) DeleteKey(key string) error {
	return s.db.Delete([]byte("system:"+key), pebble.Sync)
}

// AllThreads scans every thread's metadata row. Used by migrations and the
// retention sweeper; not on any request path.
func (s *Store) AllThreads() ([]models.Thread, error) {
	prefix := []byte("thread:")
	suffix := []byte(":meta")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), suffix) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			return nil, fmt.Errorf("invalid thread metadata: %w", err)
		}
		out = append(out, th)
	}
	return out, iter.Error()
}

// PruneBefore deletes messages of a thread older than cutoffTS (UnixNano),
// including their id locators. Runs under the thread lock so it never races
// an append or an in-place update. Returns the number of messages removed.
func (s *Store) PruneBefore(threadID string, cutoffTS int64) (int, error) {
	l := s.threadLock(threadID)
	l.Lock()
	defer l.Unlock()

	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return 0, fmt.Errorf("invalid message row: %w", err)
		}
		if m.TS >= cutoffTS {
			// log keys are timestamp-ordered, nothing older past this point
			break
		}
		if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return 0, err
		}
		if err := b.Delete(locatorKey(m.ID), nil); err != nil {
			return 0, err
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("prune_failed", "thread", threadID, "error", err)
		return 0, err
	}
	logger.Info("messages_pruned", "thread", threadID, "count", n)
	return n, nil
}

// BackfillLocator writes the id locator for a message already present in a
// thread log. Used by migrations; idempotent.
func (s *Store) BackfillLocator(m models.Message) error {
	key := append(msgPrefix(m.Thread), m.Cursor...)
	loc, err := json.Marshal(locator{Thread: m.Thread, Key: string(key)})
	if err != nil {
		return fmt.Errorf("marshal locator: %w", err)
	}
	return s.db.Set(locatorKey(m.ID), loc, pebble.Sync)
}

// MaxCursorForThread returns the cursor of the thread's newest message, or
// "" for an empty log.
func (s *Store) MaxCursorForThread(threadID string) (string, error) {
	prefix := msgPrefix(threadID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return "", err
	}
	defer iter.Close()
	if !iter.Last() {
		return "", iter.Error()
	}
	var m models.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return "", fmt.Errorf("invalid message row: %w", err)
	}
	return m.Cursor, iter.Error()
}
