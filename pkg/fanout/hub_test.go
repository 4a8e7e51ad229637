package fanout

import (
	"testing"

	"campuschat/pkg/models"
)

func msgEvent(id string) models.Event {
	return models.Event{Type: models.EventMessage, Thread: "t1", Message: &models.Message{ID: id}}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("t1", 4)
	b := h.Subscribe("t1", 4)
	other := h.Subscribe("t2", 4)
	defer a.Close()
	defer b.Close()
	defer other.Close()

	h.Publish("t1", msgEvent("m1"))

	for _, sub := range []*Subscription{a, b} {
		ev := <-sub.C()
		if ev.Message == nil || ev.Message.ID != "m1" {
			t.Fatalf("subscriber got %+v", ev)
		}
	}
	select {
	case ev := <-other.C():
		t.Fatalf("t2 subscriber received t1 event: %+v", ev)
	default:
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("t1", 16)
	defer sub.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		h.Publish("t1", msgEvent(id))
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		ev := <-sub.C()
		if ev.Message.ID != want {
			t.Fatalf("got %s, want %s", ev.Message.ID, want)
		}
	}
}

func TestLaggingSubscriberIsDropped(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe("t1", 1)

	h.Publish("t1", msgEvent("m1"))
	// buffer full: the next publish must not block, it drops the subscriber
	h.Publish("t1", msgEvent("m2"))

	if got := h.Subscribers("t1"); got != 0 {
		t.Fatalf("lagging subscriber still registered: %d", got)
	}
	// buffered event then channel close
	ev, ok := <-slow.C()
	if !ok || ev.Message.ID != "m1" {
		t.Fatalf("buffered event: %+v ok=%v", ev, ok)
	}
	if _, ok := <-slow.C(); ok {
		t.Fatal("channel should be closed after drop")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("t1", 1)
	sub.Close()
	sub.Close()
	if got := h.Subscribers("t1"); got != 0 {
		t.Fatalf("closed subscriber still registered: %d", got)
	}
	// publishing to a topic with no subscribers must not panic
	h.Publish("t1", msgEvent("m1"))
}

func TestTapObservesEveryPublish(t *testing.T) {
	h := NewHub()
	var seen []string
	h.SetTap(func(threadID string, ev models.Event) {
		seen = append(seen, threadID+":"+ev.Message.ID)
	})
	h.Publish("t1", msgEvent("m1"))
	h.Publish("t2", msgEvent("m2"))
	if len(seen) != 2 || seen[0] != "t1:m1" || seen[1] != "t2:m2" {
		t.Fatalf("tap saw %v", seen)
	}
}
