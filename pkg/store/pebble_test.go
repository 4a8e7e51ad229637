package store

import (
	"testing"
	"time"

	"campuschat/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mkThread(t *testing.T, s *Store, id string, users ...string) models.Thread {
	t.Helper()
	th := models.Thread{
		ID:        id,
		Ref:       models.Reference{Kind: models.RefMarketplaceItem, ID: "item-1"},
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	var parts []models.Participant
	for _, u := range users {
		parts = append(parts, models.Participant{Thread: id, User: u, JoinedTS: th.CreatedTS})
	}
	if err := s.CreateThread(th, parts, DirKey(th.Ref, users[0], users[1])); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	return th
}

func TestDirKeyOrderIndependent(t *testing.T) {
	ref := models.Reference{Kind: models.RefCommunityPost, ID: "p9"}
	if DirKey(ref, "alice", "bob") != DirKey(ref, "bob", "alice") {
		t.Fatal("DirKey depends on argument order")
	}
	other := models.Reference{Kind: models.RefMarketplaceItem, ID: "p9"}
	if DirKey(ref, "alice", "bob") == DirKey(other, "alice", "bob") {
		t.Fatal("DirKey ignores reference kind")
	}
}

func TestCreateAndResolveThread(t *testing.T) {
	s := openTestStore(t)
	th := mkThread(t, s, "th_1", "alice", "bob")

	got, err := s.GetThread("th_1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.ID != th.ID || got.Ref != th.Ref {
		t.Fatalf("GetThread mismatch: %+v", got)
	}

	tid, err := s.ResolveDir(DirKey(th.Ref, "bob", "alice"))
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if tid != "th_1" {
		t.Fatalf("ResolveDir returned %q", tid)
	}

	if ok, _ := s.IsParticipant("th_1", "alice"); !ok {
		t.Fatal("alice should be a participant")
	}
	if ok, _ := s.IsParticipant("th_1", "mallory"); ok {
		t.Fatal("mallory should not be a participant")
	}

	parts, err := s.Participants("th_1")
	if err != nil || len(parts) != 2 {
		t.Fatalf("Participants: %v, %d rows", err, len(parts))
	}

	ths, err := s.ThreadsFor("bob")
	if err != nil || len(ths) != 1 || ths[0].ID != "th_1" {
		t.Fatalf("ThreadsFor(bob): %v, %+v", err, ths)
	}
	if ths, _ := s.ThreadsFor("nobody"); len(ths) != 0 {
		t.Fatal("ThreadsFor(nobody) should be empty")
	}
}

func TestAppendAssignsMonotonicCursors(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")

	var published []string
	var prev string
	for i := 0; i < 5; i++ {
		m := models.Message{ID: "m" + string(rune('0'+i)), Thread: "th_1", Sender: "alice", Content: "x"}
		err := s.AppendMessage(&m, func(got models.Message) {
			published = append(published, got.ID)
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if m.Cursor <= prev {
			t.Fatalf("cursor not increasing: %q after %q", m.Cursor, prev)
		}
		prev = m.Cursor
	}
	if len(published) != 5 {
		t.Fatalf("onCommit ran %d times, want 5", len(published))
	}

	msgs, next, err := s.ListSince("th_1", "", 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != published[i] {
			t.Fatalf("listing order diverges from publish order at %d", i)
		}
	}
	if next != msgs[4].Cursor {
		t.Fatalf("next cursor %q, want %q", next, msgs[4].Cursor)
	}
}

func TestListSinceResumesExclusively(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		m := models.Message{ID: id, Thread: "th_1", Sender: "alice", Content: id}
		if err := s.AppendMessage(&m, nil); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	first, cur, err := s.ListSince("th_1", "", 2)
	if err != nil || len(first) != 2 {
		t.Fatalf("first page: %v, %d rows", err, len(first))
	}
	rest, _, err := s.ListSince("th_1", cur, 0)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != "c" || rest[1].ID != "d" {
		t.Fatalf("resume returned %+v", rest)
	}
	// resuming past the tail yields nothing
	tail, _, _ := s.ListSince("th_1", rest[1].Cursor, 0)
	if len(tail) != 0 {
		t.Fatalf("past-tail resume returned %d rows", len(tail))
	}
}

func TestGetAndUpdateMessage(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")
	m := models.Message{ID: "m1", Thread: "th_1", Sender: "alice", Content: "hello"}
	if err := s.AppendMessage(&m, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.GetMessage("m1")
	if err != nil || got.Content != "hello" {
		t.Fatalf("GetMessage: %v, %+v", err, got)
	}

	if _, err := s.GetMessage("missing"); err != ErrNotFound {
		t.Fatalf("GetMessage(missing): %v, want ErrNotFound", err)
	}

	var events int
	upd, changed, err := s.UpdateMessage("m1", func(m *models.Message) bool {
		m.Seen = true
		return true
	}, func(models.Message) { events++ })
	if err != nil || !changed || !upd.Seen || events != 1 {
		t.Fatalf("UpdateMessage: err=%v changed=%v seen=%v events=%d", err, changed, upd.Seen, events)
	}

	// mutate returning false writes nothing and skips onCommit
	_, changed, err = s.UpdateMessage("m1", func(m *models.Message) bool { return false },
		func(models.Message) { events++ })
	if err != nil || changed || events != 1 {
		t.Fatalf("no-op update: err=%v changed=%v events=%d", err, changed, events)
	}

	// the durable row reflects the first update
	got, _ = s.GetMessage("m1")
	if !got.Seen {
		t.Fatal("seen flag not persisted")
	}
}

func TestSystemKeysRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if v, err := s.GetKey("version"); err != nil || v != "" {
		t.Fatalf("missing key: %q, %v", v, err)
	}
	if err := s.SaveKey("version", []byte("1.2.3")); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if v, _ := s.GetKey("version"); v != "1.2.3" {
		t.Fatalf("GetKey returned %q", v)
	}
	if err := s.DeleteKey("version"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if v, _ := s.GetKey("version"); v != "" {
		t.Fatalf("key survived delete: %q", v)
	}
}

func TestPruneBefore(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")
	var cutoff int64
	for i := 0; i < 4; i++ {
		m := models.Message{ID: "m" + string(rune('0'+i)), Thread: "th_1", Sender: "alice", Content: "x"}
		if err := s.AppendMessage(&m, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
		if i == 1 {
			cutoff = m.TS + 1
		}
	}

	n, err := s.PruneBefore("th_1", cutoff)
	if err != nil || n != 2 {
		t.Fatalf("PruneBefore: %v, removed %d, want 2", err, n)
	}
	msgs, _, _ := s.ListSince("th_1", "", 0)
	if len(msgs) != 2 {
		t.Fatalf("%d messages survive, want 2", len(msgs))
	}
	// locators of pruned messages are gone too
	if _, err := s.GetMessage("m0"); err != ErrNotFound {
		t.Fatalf("pruned locator still resolves: %v", err)
	}
	if _, err := s.GetMessage("m3"); err != nil {
		t.Fatalf("surviving message lost: %v", err)
	}
}

func TestAllThreadsAndMaxCursor(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")
	mkThread(t, s, "th_2", "carol", "dave")

	ths, err := s.AllThreads()
	if err != nil || len(ths) != 2 {
		t.Fatalf("AllThreads: %v, %d rows", err, len(ths))
	}

	if cur, err := s.MaxCursorForThread("th_1"); err != nil || cur != "" {
		t.Fatalf("empty log max cursor: %q, %v", cur, err)
	}
	m := models.Message{ID: "m1", Thread: "th_1", Sender: "alice", Content: "x"}
	_ = s.AppendMessage(&m, nil)
	if cur, _ := s.MaxCursorForThread("th_1"); cur != m.Cursor {
		t.Fatalf("max cursor %q, want %q", cur, m.Cursor)
	}
}

func TestCursorOrderAcrossSeqWidths(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")

	// straddle the boundary where a narrower zero-pad would stop sorting
	s.seq = 999998
	var prev string
	for i := 0; i < 4; i++ {
		m := models.Message{ID: "mw" + string(rune('0'+i)), Thread: "th_1", Sender: "alice", Content: "x"}
		if err := s.AppendMessage(&m, nil); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if prev != "" && m.Cursor <= prev {
			t.Fatalf("cursor order inverted across seq width: %q after %q", m.Cursor, prev)
		}
		prev = m.Cursor
	}

	msgs, _, err := s.ListSince("th_1", "", 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Fatalf("key order disagrees with append order at %d: %+v", i, msgs)
		}
	}
}

func TestAppendClampsRegressingClock(t *testing.T) {
	s := openTestStore(t)
	mkThread(t, s, "th_1", "alice", "bob")

	m1 := models.Message{ID: "mc1", Thread: "th_1", Sender: "alice", Content: "x"}
	if err := s.AppendMessage(&m1, nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	// pretend the previous append happened an hour ahead of the wall clock
	future := time.Now().Add(time.Hour).UTC().UnixNano()
	s.threadLock("th_1").lastTS = future

	m2 := models.Message{ID: "mc2", Thread: "th_1", Sender: "bob", Content: "y"}
	if err := s.AppendMessage(&m2, nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m2.TS != future {
		t.Fatalf("ts not clamped to high-water mark: got %d, want %d", m2.TS, future)
	}
	if m2.Cursor <= m1.Cursor {
		t.Fatalf("cursor regressed with the clock: %q after %q", m2.Cursor, m1.Cursor)
	}

	msgs, _, err := s.ListSince("th_1", "", 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "mc1" || msgs[1].ID != "mc2" {
		t.Fatalf("key order disagrees with append order: %+v", msgs)
	}
}
