package events

import (
	"fmt"
	"sync"
	"testing"

	"github.com/oriolane/oriole/pkg/models"
)

func newTestStore(cap int) *Store {
	return NewStore(cap, nil, nil)
}

func TestBufferEvent_AssignsMonotonicSeq(t *testing.T) {
	store := newTestStore(0)

	for i := 1; i <= 10; i++ {
		ev := store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), nil)
		if ev == nil {
			t.Fatalf("event %d was nil", i)
		}
		if ev.Seq != int64(i) {
			t.Errorf("seq = %d, want %d", ev.Seq, i)
		}
	}
}

func TestBufferEvent_NoGapsAcrossGoroutines(t *testing.T) {
	store := newTestStore(0)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), nil)
		}()
	}
	wg.Wait()

	evs := store.EventsSince("s1", 0)
	if len(evs) != n {
		t.Fatalf("got %d events, want %d", len(evs), n)
	}
	for i, ev := range evs {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestBufferEvent_DoesNotMutateCaller(t *testing.T) {
	store := newTestStore(0)
	ev := models.NewEvent(models.EventPing, "s1")

	stamped := store.BufferEvent("s1", ev, nil)
	if ev.Seq != 0 {
		t.Errorf("caller event seq mutated to %d", ev.Seq)
	}
	if stamped.Seq != 1 {
		t.Errorf("stamped seq = %d, want 1", stamped.Seq)
	}
}

func TestBufferEvent_AdapterFiltersWithoutBurningSeq(t *testing.T) {
	store := newTestStore(0)
	drop := AdapterFunc(func(ev *models.Event) *models.Event { return nil })
	sub := store.Subscribe("s1")

	if got := store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), drop); got != nil {
		t.Fatalf("filtered event returned %+v, want nil", got)
	}

	// The next unfiltered event must get seq 1 and be the only notification.
	ev := store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), nil)
	if ev.Seq != 1 {
		t.Errorf("seq after filtered event = %d, want 1", ev.Seq)
	}

	got := <-sub
	if got.Seq != 1 {
		t.Errorf("subscriber saw seq %d, want 1", got.Seq)
	}
	select {
	case extra := <-sub:
		t.Errorf("unexpected extra notification: %+v", extra)
	default:
	}
}

func TestBufferEvent_AdapterTransformsInPlace(t *testing.T) {
	store := newTestStore(0)
	redact := AdapterFunc(func(ev *models.Event) *models.Event {
		out := ev.Clone()
		out.Data["delta"] = "[redacted]"
		return out
	})

	ev := store.BufferEvent("s1",
		models.NewEvent(models.EventContentDelta, "s1").WithData("delta", "secret"),
		redact)
	if ev.Data["delta"] != "[redacted]" {
		t.Errorf("delta = %v, want redacted", ev.Data["delta"])
	}
}

func TestEventsSince_ReplaysInOrder(t *testing.T) {
	store := newTestStore(0)
	for i := 0; i < 5; i++ {
		store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), nil)
	}

	evs := store.EventsSince("s1", 2)
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != int64(i+3) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, i+3)
		}
	}
}

func TestLogCap_EvictsOldest(t *testing.T) {
	store := newTestStore(3)
	for i := 0; i < 5; i++ {
		store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), nil)
	}

	evs := store.EventsSince("s1", 0)
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	if evs[0].Seq != 3 {
		t.Errorf("oldest retained seq = %d, want 3", evs[0].Seq)
	}
}

func TestLatest(t *testing.T) {
	store := newTestStore(0)
	for i := 0; i < 5; i++ {
		store.BufferEvent("s1", models.NewEvent(models.EventPing, "s1"), nil)
	}

	evs := store.Latest("s1", 2)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].Seq != 4 || evs[1].Seq != 5 {
		t.Errorf("latest seqs = %d,%d, want 4,5", evs[0].Seq, evs[1].Seq)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	store := newTestStore(0)
	for i := 0; i < 3; i++ {
		sid := fmt.Sprintf("s%d", i)
		ev := store.BufferEvent(sid, models.NewEvent(models.EventPing, sid), nil)
		if ev.Seq != 1 {
			t.Errorf("session %s first seq = %d, want 1", sid, ev.Seq)
		}
	}
}

func TestSessionContext_MergeAndHeartbeat(t *testing.T) {
	store := newTestStore(0)
	store.SetSessionContext("s1", SessionContext{UserID: "u1"})
	store.SetSessionContext("s1", SessionContext{ConversationID: "c1"})

	ctx, ok := store.GetSessionContext("s1")
	if !ok {
		t.Fatal("session context missing")
	}
	if ctx.UserID != "u1" || ctx.ConversationID != "c1" {
		t.Errorf("context = %+v, want merged fields", ctx)
	}

	before := ctx.Heartbeat
	store.UpdateHeartbeat("s1")
	ctx, _ = store.GetSessionContext("s1")
	if ctx.Heartbeat.Before(before) {
		t.Error("heartbeat went backwards")
	}
}

func TestCleanupSession_ClosesSubscribers(t *testing.T) {
	store := newTestStore(0)
	sub := store.Subscribe("s1")
	store.CleanupSession("s1")

	if _, open := <-sub; open {
		t.Error("subscriber channel still open after cleanup")
	}
	if _, ok := store.GetSessionContext("s1"); ok {
		t.Error("session context survived cleanup")
	}
}
