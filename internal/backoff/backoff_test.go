package backoff

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestUpstreamSequenceCapsAndResets(t *testing.T) {
	b := New(Upstream)
	var got []time.Duration
	for i := 0; i < 7; i++ {
		d, ok := b.Next()
		if !ok {
			t.Fatalf("upstream policy must never give up")
		}
		got = append(got, d)
	}
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 16 * time.Second, 16 * time.Second,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("delay decreased at %d: %v", i, got)
		}
	}

	b.Reset()
	if d, _ := b.Next(); d != time.Second {
		t.Fatalf("after reset delay = %v, want 1s", d)
	}
}

func TestCappedPolicyGivesUp(t *testing.T) {
	b := New(Policy{Initial: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 3})
	for i := 0; i < 3; i++ {
		if _, ok := b.Next(); !ok {
			t.Fatalf("attempt %d unexpectedly refused", i+1)
		}
	}
	if _, ok := b.Next(); ok {
		t.Fatalf("expected attempts to be exhausted")
	}
	if b.Attempts() != 3 {
		t.Fatalf("attempts = %d", b.Attempts())
	}
	b.Reset()
	if _, ok := b.Next(); !ok {
		t.Fatalf("reset should restore the budget")
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Fatalf("expected Sleep to abort on cancelled context")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatalf("expected Sleep to complete")
	}
}
