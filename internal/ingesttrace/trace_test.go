package ingesttrace

import (
	"testing"

	"github.com/you/chatdeck/internal/core"
)

func testMessage(t *testing.T, id, text string) core.ChatMessage {
	t.Helper()
	msg, err := core.NewChatMessage(core.PlatformTwitch, core.ChatUser{ID: "1", DisplayName: "Alice"}, text, core.WithID(id))
	if err != nil {
		t.Fatalf("NewChatMessage: %v", err)
	}
	return msg
}

func TestTraceIDDeterminism(t *testing.T) {
	first := NewTrace(testMessage(t, "a", "hello world"), "channel-a")
	second := NewTrace(testMessage(t, "a", "hello world"), "channel-a")
	if first.TraceID != second.TraceID {
		t.Fatalf("expected deterministic trace id, got %q and %q", first.TraceID, second.TraceID)
	}

	different := NewTrace(testMessage(t, "b", "hello world"), "channel-a")
	if first.TraceID == different.TraceID {
		t.Fatalf("expected different trace id when message id changes")
	}
}

func TestCounterIncrements(t *testing.T) {
	trace := NewTrace(testMessage(t, "c", "hi there"), "channel-b")

	if count := trace.IncCounter(StageNormalizedOK); count != 1 {
		t.Fatalf("expected normalized_ok to be 1, got %d", count)
	}
	if count := trace.IncCounter(StageDropped("stale_generation")); count != 1 {
		t.Fatalf("expected dropped_stale_generation to be 1, got %d", count)
	}
	if count := trace.IncCounter(StageDropped("stale_generation")); count != 2 {
		t.Fatalf("expected dropped_stale_generation to be 2 after increment, got %d", count)
	}
}

func TestSnippetTruncated(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "é"
	}
	trace := NewTrace(testMessage(t, "d", long), "x")
	if n := len([]rune(trace.Snippet)); n != snippetLen {
		t.Fatalf("expected %d runes, got %d", snippetLen, n)
	}
}

func TestRecorderTotals(t *testing.T) {
	rec := NewRecorder(nil)
	for i := 0; i < 3; i++ {
		tr := NewTrace(testMessage(t, "", "hi"), "chan")
		tr.IncCounter(StageAppendedToHub)
		rec.Finish(tr)
	}
	snap := rec.Snapshot()
	if snap["twitch"][StageSeenFromProvider] != 3 || snap["twitch"][StageAppendedToHub] != 3 {
		t.Fatalf("unexpected totals %v", snap)
	}
	snap["twitch"][StageAppendedToHub] = 0
	if rec.Snapshot()["twitch"][StageAppendedToHub] != 3 {
		t.Fatalf("snapshot must be a copy")
	}

	var nilRec *Recorder
	nilRec.Finish(NewTrace(testMessage(t, "", "hi"), "chan"))
	if len(nilRec.Snapshot()) != 0 {
		t.Fatalf("nil recorder should be empty")
	}
}
