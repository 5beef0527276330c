package events

import (
	"testing"

	"github.com/oriolane/oriole/pkg/models"
)

func newTestBroadcaster() *Broadcaster {
	return NewBroadcaster(newTestStore(0), nil, nil)
}

func TestEmit_StampsUUID(t *testing.T) {
	b := newTestBroadcaster()

	ev := b.Ping("s1")
	if ev.EventUUID == "" {
		t.Error("event uuid not stamped")
	}

	ev2 := b.Ping("s1")
	if ev2.EventUUID == ev.EventUUID {
		t.Error("uuid reused across events")
	}
}

func TestEmit_BackfillsConversationID(t *testing.T) {
	b := newTestBroadcaster()
	b.ConversationStart("s1", "c1")

	ev := b.Ping("s1")
	if ev.ConversationID != "c1" {
		t.Errorf("conversation id = %q, want backfilled c1", ev.ConversationID)
	}
}

func TestEmit_RefreshesHeartbeat(t *testing.T) {
	b := newTestBroadcaster()
	b.SessionStart("s1", "u1", "i1")
	ctx1, _ := b.Store().GetSessionContext("s1")

	b.Ping("s1")
	ctx2, _ := b.Store().GetSessionContext("s1")
	if ctx2.Heartbeat.Before(ctx1.Heartbeat) {
		t.Error("heartbeat not refreshed on emission")
	}
}

func TestTypedHelpers_Payloads(t *testing.T) {
	b := newTestBroadcaster()

	ev := b.SessionStopped("s1", "user_requested")
	if ev.Type != models.EventSessionStopped || ev.Data["reason"] != "user_requested" {
		t.Errorf("session_stopped payload wrong: %+v", ev)
	}

	ev = b.MessageDelta("s1", "m1", models.DeltaProgress, "Working on step 2")
	if ev.Data["type"] != string(models.DeltaProgress) {
		t.Errorf("message_delta kind = %v", ev.Data["type"])
	}

	ev = b.ConversationDelta("s1", "c1", models.ConversationFieldTitle, "News summary")
	if ev.Data["title"] != "News summary" {
		t.Errorf("conversation_delta payload wrong: %+v", ev.Data)
	}

	block := models.ContentBlock{Type: models.ContentBlockText, Index: 0}
	ev = b.ContentStart("s1", "m1", block)
	if ev.MessageID != "m1" || ev.Data["index"] != 0 {
		t.Errorf("content_start payload wrong: %+v", ev)
	}
}

func TestContentOrdering_StartDeltaStop(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("s1")

	b.ContentStart("s1", "m1", models.ContentBlock{Type: models.ContentBlockText, Index: 0})
	b.ContentDelta("s1", "m1", 0, "hel")
	b.ContentDelta("s1", "m1", 0, "lo")
	b.ContentStop("s1", "m1", 0)

	want := []models.EventType{
		models.EventContentStart,
		models.EventContentDelta,
		models.EventContentDelta,
		models.EventContentStop,
	}
	var lastSeq int64
	for i, wt := range want {
		ev := <-sub
		if ev.Type != wt {
			t.Fatalf("event %d type = %s, want %s", i, ev.Type, wt)
		}
		if ev.Seq != lastSeq+1 {
			t.Fatalf("event %d seq = %d, want %d", i, ev.Seq, lastSeq+1)
		}
		lastSeq = ev.Seq
	}
}

func TestCloseSession_ClosesSubscription(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("s1")
	b.Ping("s1")
	b.CloseSession("s1")

	// Drain the buffered event, then observe close.
	<-sub
	if _, open := <-sub; open {
		t.Error("subscription open after CloseSession")
	}
}
