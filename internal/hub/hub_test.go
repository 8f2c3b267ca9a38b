package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/you/chatdeck/internal/core"
)

func testMessage(t *testing.T, n int) core.ChatMessage {
	t.Helper()
	msg, err := core.NewChatMessage(core.PlatformTwitch, core.ChatUser{DisplayName: "user"}, "msg", core.WithID(strconv.Itoa(n)))
	if err != nil {
		t.Fatalf("NewChatMessage: %v", err)
	}
	return msg
}

func ids(msgs []core.ChatMessage) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		n, _ := strconv.Atoi(m.ID)
		out = append(out, n)
	}
	return out
}

func TestAppendEvictsOldest(t *testing.T) {
	h := New(Options{Capacity: 10})
	for i := 1; i <= 25; i++ {
		h.Append(testMessage(t, i))
	}
	got := ids(h.Recent(0))
	if len(got) != 10 {
		t.Fatalf("history size = %d, want 10", len(got))
	}
	for i, n := range got {
		if n != 16+i {
			t.Fatalf("history = %v, want 16..25", got)
		}
	}
	if last := ids(h.Recent(3)); len(last) != 3 || last[0] != 23 || last[2] != 25 {
		t.Fatalf("Recent(3) = %v", last)
	}
}

func TestCapacityIsClamped(t *testing.T) {
	h := New(Options{Capacity: 5000})
	if got := h.Stats().Capacity; got != core.MaxHistory {
		t.Fatalf("capacity = %d", got)
	}
	h.SetCapacity(1)
	if got := h.Stats().Capacity; got != core.MinHistory {
		t.Fatalf("capacity = %d", got)
	}
}

func TestSetCapacityKeepsNewest(t *testing.T) {
	h := New(Options{Capacity: 50})
	for i := 1; i <= 40; i++ {
		h.Append(testMessage(t, i))
	}
	h.SetCapacity(10)
	got := ids(h.Recent(0))
	if len(got) != 10 || got[0] != 31 || got[9] != 40 {
		t.Fatalf("after shrink history = %v", got)
	}
	h.Append(testMessage(t, 41))
	got = ids(h.Recent(0))
	if got[0] != 32 || got[9] != 41 {
		t.Fatalf("after append history = %v", got)
	}
}

func TestSubscribeReplaysHistoryFirst(t *testing.T) {
	h := New(Options{Capacity: 10})
	h.Append(testMessage(t, 1))
	h.Append(testMessage(t, 2))

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)
	h.Append(testMessage(t, 3))

	first := <-sub.Events()
	if first.Type != EventHistory {
		t.Fatalf("first event = %s", first.Type)
	}
	if got := ids(first.History); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("history batch = %v", got)
	}
	live := <-sub.Events()
	if live.Type != EventMessage || live.Message.ID != "3" {
		t.Fatalf("live event = %+v", live)
	}
}

func TestSubscribeEmptyHistory(t *testing.T) {
	h := New(Options{})
	sub := h.Subscribe()
	ev := <-sub.Events()
	if ev.Type != EventHistory || len(ev.History) != 0 {
		t.Fatalf("unexpected first event %+v", ev)
	}
}

func TestReplayBoundaryUnderConcurrentAppend(t *testing.T) {
	const total = 2000
	h := New(Options{Capacity: core.MaxHistory, SubscriberBuffer: total + 1})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; i++ {
			h.Append(testMessage(t, i))
		}
	}()

	time.Sleep(time.Millisecond)
	sub := h.Subscribe()
	wg.Wait()
	h.Unsubscribe(sub)

	var seq []int
	for ev := range sub.Events() {
		switch ev.Type {
		case EventHistory:
			if len(seq) != 0 {
				t.Fatalf("history batch arrived after live messages")
			}
			seq = append(seq, ids(ev.History)...)
		case EventMessage:
			n, _ := strconv.Atoi(ev.Message.ID)
			seq = append(seq, n)
		}
	}
	if len(seq) == 0 || seq[len(seq)-1] != total {
		t.Fatalf("sequence does not end at %d: tail=%v", total, seq[max(0, len(seq)-3):])
	}
	for i := 1; i < len(seq); i++ {
		if seq[i] != seq[i-1]+1 {
			t.Fatalf("gap or duplicate at %d: %d then %d", i, seq[i-1], seq[i])
		}
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := New(Options{Capacity: 10, SubscriberBuffer: 1})
	slow := h.Subscribe()
	fast := h.Subscribe()
	<-fast.Events()

	h.Append(testMessage(t, 1))
	if !slow.Dropped() {
		t.Fatalf("expected slow subscriber to be dropped")
	}
	if ev := <-fast.Events(); ev.Message.ID != "1" {
		t.Fatalf("fast subscriber got %+v", ev)
	}
	if ev, ok := <-slow.Events(); !ok || ev.Type != EventHistory {
		t.Fatalf("expected queued history before close")
	}
	if _, ok := <-slow.Events(); ok {
		t.Fatalf("expected slow subscriber channel to be closed")
	}
	if st := h.Stats(); st.Subscribers != 1 || st.Dropped != 1 {
		t.Fatalf("stats = %+v", st)
	}

	h.Unsubscribe(slow)
	h.Unsubscribe(slow)
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	h := New(Options{})
	sub := h.Subscribe()
	h.Close()
	<-sub.Events()
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	late := h.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Fatalf("expected closed channel after hub close")
	}
}

type fakeTransport struct {
	mu     sync.Mutex
	events []Event
	fail   error
	done   chan struct{}
	closed bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{done: make(chan struct{})} }

func (f *fakeTransport) Send(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestServePumpsUntilTransportDone(t *testing.T) {
	h := New(Options{})
	h.Append(testMessage(t, 1))
	tr := newFakeTransport()

	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(context.Background(), tr) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.Stats().Subscribers != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Append(testMessage(t, 2))
	for tr.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(tr.done)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if !tr.closed {
		t.Fatalf("expected transport to be closed")
	}
	if tr.events[0].Type != EventHistory || tr.events[1].Message.ID != "2" {
		t.Fatalf("unexpected events %+v", tr.events)
	}
	if h.Stats().Subscribers != 0 {
		t.Fatalf("subscriber leaked")
	}
}

func TestServeReturnsSendError(t *testing.T) {
	h := New(Options{})
	tr := newFakeTransport()
	tr.fail = errors.New("broken pipe")
	if err := h.Serve(context.Background(), tr); err == nil || err.Error() != "broken pipe" {
		t.Fatalf("Serve() = %v", err)
	}
}

func TestEventJSONEnvelope(t *testing.T) {
	msg := testMessage(t, 7)
	b, err := json.Marshal(Event{Type: EventMessage, Message: msg})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["type"]) != `"chat_message"` {
		t.Fatalf("type = %s", raw["type"])
	}
	b, _ = json.Marshal(Event{Type: EventHistory})
	if string(b) != `{"type":"chat_history","data":[]}` {
		t.Fatalf("empty history = %s", b)
	}

	var back Event
	if err := json.Unmarshal(b, &back); err != nil || back.Type != EventHistory {
		t.Fatalf("decode history: %v %+v", err, back)
	}
}
