// Package typing tracks the ephemeral per-user-per-thread composition
// signal. State lives only in memory: a new subscriber sees live updates
// from that point forward and loss on restart is acceptable.
package typing

import (
	"sync"
	"time"

	"campuschat/pkg/models"
	"campuschat/pkg/telemetry"
)

// DefaultWindow is the inactivity window after which a typing-true state
// expires without an explicit clear.
const DefaultWindow = 2 * time.Second

type entry struct {
	deadline time.Time
	gen      uint64
	timer    *time.Timer
}

// Tracker applies most-recent-write-wins semantics per (thread, user) and
// auto-expires stale typing-true states. Every effective change is handed to
// the publish callback for fan-out.
type Tracker struct {
	window  time.Duration
	publish func(models.TypingState)
	now     func() time.Time

	mu      sync.Mutex
	gen     uint64
	threads map[string]map[string]*entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock substitutes the time source, used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker. window <= 0 selects DefaultWindow. publish may be
// nil when no fan-out is attached.
func New(window time.Duration, publish func(models.TypingState), opts ...Option) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{
		window:  window,
		publish: publish,
		now:     time.Now,
		threads: make(map[string]map[string]*entry),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Set records the user's typing state. A true state must be refreshed within
// the window or it expires on its own; a false write clears immediately.
// Clearing when not typing is an idempotent no-op and publishes nothing.
func (t *Tracker) Set(threadID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.threads[threadID]
	if users == nil {
		if !isTyping {
			return
		}
		users = make(map[string]*entry)
		t.threads[threadID] = users
	}
	e := users[userID]

	if !isTyping {
		if e == nil {
			return
		}
		t.drop(threadID, userID, e)
		t.emit(threadID, userID, false)
		return
	}

	t.gen++
	gen := t.gen
	deadline := t.now().Add(t.window)
	if e == nil {
		e = &entry{}
		users[userID] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}
	e.deadline = deadline
	e.gen = gen
	e.timer = time.AfterFunc(t.window, func() { t.expire(threadID, userID, gen) })
	t.emit(threadID, userID, true)
}

// drop removes the entry; caller holds the lock.
func (t *Tracker) drop(threadID, userID string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(t.threads[threadID], userID)
	if len(t.threads[threadID]) == 0 {
		delete(t.threads, threadID)
	}
}

func (t *Tracker) expire(threadID, userID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.threads[threadID][userID]
	if e == nil || e.gen != gen || t.now().Before(e.deadline) {
		return
	}
	t.drop(threadID, userID, e)
	t.emit(threadID, userID, false)
}

// emit publishes an effective change. Caller holds the lock: publication
// order must match mutation order or a racing refresh could land its
// typing-true event after the clear that removed the entry, leaving
// subscribers stuck on a stale state with no timer left to correct it. The
// hub's publish path never blocks, so holding the lock here is safe.
func (t *Tracker) emit(threadID, userID string, isTyping bool) {
	telemetry.TypingUpdates.Inc()
	if t.publish == nil {
		return
	}
	t.publish(models.TypingState{
		Thread: threadID,
		User:   userID,
		Typing: isTyping,
		TS:     t.now().UnixNano(),
	})
}

// IsTyping reports the live state, treating a passed deadline as expired
// even if the timer has not fired yet.
func (t *Tracker) IsTyping(threadID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.threads[threadID][userID]
	return e != nil && t.now().Before(e.deadline)
}

// Typing returns the users currently composing in a thread.
func (t *Tracker) Typing(threadID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for u, e := range t.threads[threadID] {
		if t.now().Before(e.deadline) {
			out = append(out, u)
		}
	}
	return out
}
