package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"campuschat/pkg/logger"
	"campuschat/pkg/models"
)

// ErrNotFound is returned when a point lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// Store is the durable table layer for threads, participants and the
// per-thread message log, backed by a single Pebble database.
//
// Key layout:
//
//	thread:<tid>:meta               thread metadata JSON
//	thread:<tid>:part:<uid>         participant row JSON
//	thread:<tid>:msg:<ts>-<seq>     message JSON, zero-padded sortable tail
//	user:<uid>:thread:<tid>         membership reverse index (empty value)
//	dir:<kind>:<ref>:<lo>|<hi>      directory entry -> thread id
//	msgid:<mid>                     message locator JSON {thread, key}
type Store struct {
	db *pebble.DB

	// seq disambiguates messages sharing a nanosecond timestamp.
	seq uint64

	// mu guards threads; per-thread locks serialize appends and in-place
	// delivery-state updates so readers observe append order.
	mu      sync.Mutex
	threads map[string]*threadState
}

// threadState is the per-thread lock plus the high-water append timestamp.
// lastTS clamps the next append so a wall clock stepping backwards cannot
// produce a key that sorts before an earlier row.
type threadState struct {
	sync.Mutex
	lastTS int64
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db, threads: make(map[string]*threadState)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed")
	return err
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

func (s *Store) threadLock(threadID string) *threadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.threads[threadID]
	if !ok {
		l = &threadState{}
		s.threads[threadID] = l
	}
	return l
}

func threadMetaKey(tid string) []byte { return []byte("thread:" + tid + ":meta") }

func participantKey(tid, uid string) []byte { return []byte("thread:" + tid + ":part:" + uid) }

func memberKey(uid, tid string) []byte { return []byte("user:" + uid + ":thread:" + tid) }

func msgPrefix(tid string) []byte { return []byte("thread:" + tid + ":msg:") }

func locatorKey(mid string) []byte { return []byte("msgid:" + mid) }

// DirKey builds the canonical directory key for a reference and an unordered
// participant pair. Either argument order yields the same key.
func DirKey(ref models.Reference, a, b string) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return "dir:" + string(ref.Kind) + ":" + ref.ID + ":" + lo + "|" + hi
}

// locator points a message id at its log position.
type locator struct {
	Thread string `json:"thread"`
	Key    string `json:"key"`
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// ResolveDir returns the thread id registered for the directory key, or
// ErrNotFound.
func (s *Store) ResolveDir(dirKey string) (string, error) {
	v, err := s.get([]byte(dirKey))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// CreateThread writes the thread, its participant rows, the membership
// reverse index and the directory entry in a single atomic batch. The
// creation is visible to subsequent lookups as soon as CreateThread returns.
func (s *Store) CreateThread(th models.Thread, parts []models.Participant, dirKey string) error {
	b := s.db.NewBatch()
	defer b.Close()

	tb, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := b.Set(threadMetaKey(th.ID), tb, nil); err != nil {
		return err
	}
	for _, p := range parts {
		pb, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		if err := b.Set(participantKey(th.ID, p.User), pb, nil); err != nil {
			return err
		}
		if err := b.Set(memberKey(p.User, th.ID), nil, nil); err != nil {
			return err
		}
	}
	if dirKey != "" {
		if err := b.Set([]byte(dirKey), []byte(th.ID), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("create_thread_failed", "thread", th.ID, "error", err)
		return err
	}
	logger.Info("thread_created", "thread", th.ID, "ref_kind", th.Ref.Kind, "ref_id", th.Ref.ID)
	return nil
}

// GetThread returns thread metadata by id.
func (s *Store) GetThread(threadID string) (models.Thread, error) {
	var th models.Thread
	v, err := s.get(threadMetaKey(threadID))
	if err != nil {
		return th, err
	}
	if err := json.Unmarshal(v, &th); err != nil {
		return th, fmt.Errorf("invalid thread metadata: %w", err)
	}
	return th, nil
}

// Participants returns the membership rows of a thread.
func (s *Store) Participants(threadID string) ([]models.Participant, error) {
	prefix := []byte("thread:" + threadID + ":part:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Participant
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Participant
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("invalid participant row: %w", err)
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// IsParticipant reports whether user belongs to the thread.
func (s *Store) IsParticipant(threadID, user string) (bool, error) {
	_, err := s.get(participantKey(threadID, user))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ThreadsFor returns the threads a user participates in, via the reverse
// index, in unspecified order.
func (s *Store) ThreadsFor(user string) ([]models.Thread, error) {
	prefix := []byte("user:" + user + ":thread:")
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
		tid := string(iter.Key()[len(prefix):])
		th, err := s.GetThread(tid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, iter.Error()
}

// AppendMessage assigns msg its position in the thread log and writes the
// log row plus the id locator atomically. onCommit, when non-nil, runs after
// the durable write while the thread lock is still held, so fan-out
// publication observes appends in log order.
func (s *Store) AppendMessage(msg *models.Message, onCommit func(models.Message)) error {
	l := s.threadLock(msg.Thread)
	l.Lock()
	defer l.Unlock()

	// seq is strictly increasing within the thread (appends are serialized
	// here) and ts never regresses, so the zero-padded cursor sorts in
	// append order for the full range of both fields.
	ts := time.Now().UTC().UnixNano()
	if ts < l.lastTS {
		ts = l.lastTS
	}
	l.lastTS = ts
	msg.TS = ts
	msg.Seq = atomic.AddUint64(&s.seq, 1)
	msg.Cursor = fmt.Sprintf("%020d-%020d", msg.TS, msg.Seq)
	key := append(msgPrefix(msg.Thread), msg.Cursor...)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	loc, err := json.Marshal(locator{Thread: msg.Thread, Key: string(key)})
	if err != nil {
		return fmt.Errorf("marshal locator: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return err
	}
	if err := b.Set(locatorKey(msg.ID), loc, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", "thread", msg.Thread, "id", msg.ID, "error", err)
		return err
	}
	logger.Debug("message_appended", "thread", msg.Thread, "id", msg.ID, "cursor", msg.Cursor)
	if onCommit != nil {
		onCommit(*msg)
	}
	return nil
}

// ListSince returns up to limit messages of a thread strictly after cursor,
// in append order, plus the cursor to resume from. An empty cursor starts at
// the beginning; limit <= 0 means no bound.
func (s *Store) ListSince(threadID, cursor string, limit int) ([]models.Message, string, error) {
	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, cursor, err
	}
	defer iter.Close()

	start := prefix
	if cursor != "" {
		// seek past the cursor position itself
		start = append(append([]byte(nil), prefix...), cursor...)
		start = append(start, 0x00)
	}
	var out []models.Message
	next := cursor
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, next, fmt.Errorf("invalid message row: %w", err)
		}
		out = append(out, m)
		next = m.Cursor
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, next, iter.Error()
}

// GetMessage returns a message by id via the locator index.
func (s *Store) GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	lv, err := s.get(locatorKey(msgID))
	if err != nil {
		return m, err
	}
	var loc locator
	if err := json.Unmarshal(lv, &loc); err != nil {
		return m, fmt.Errorf("invalid message locator: %w", err)
	}
	v, err := s.get([]byte(loc.Key))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message row: %w", err)
	}
	return m, nil
}

// UpdateMessage applies mutate to the message in place at its log position.
// mutate returns false to signal a no-op, in which case nothing is written.
// onCommit, when non-nil and the row changed, runs under the thread lock so
// update events keep log order relative to appends.
func (s *Store) UpdateMessage(msgID string, mutate func(*models.Message) bool, onCommit func(models.Message)) (models.Message, bool, error) {
	var zero models.Message
	lv, err := s.get(locatorKey(msgID))
	if err != nil {
		return zero, false, err
	}
	var loc locator
	if err := json.Unmarshal(lv, &loc); err != nil {
		return zero, false, fmt.Errorf("invalid message locator: %w", err)
	}

	l := s.threadLock(loc.Thread)
	l.Lock()
	defer l.Unlock()

	v, err := s.get([]byte(loc.Key))
	if err != nil {
		return zero, false, err
	}
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return zero, false, fmt.Errorf("invalid message row: %w", err)
	}
	if !mutate(&m) {
		return m, false, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return zero, false, fmt.Errorf("marshal message: %w", err)
	}
	if err := s.db.Set([]byte(loc.Key), data, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "thread", loc.Thread, "id", msgID, "error", err)
		return zero, false, err
	}
	logger.Debug("message_updated", "thread", loc.Thread, "id", msgID)
	if onCommit != nil {
		onCommit(m)
	}
	return m, true, nil
}
