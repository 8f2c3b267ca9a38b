package ytlive

import (
	"testing"
	"time"
)

func TestPollIntervalAdaptive(t *testing.T) {
	p := newPollInterval(2*time.Second, 20*time.Second)

	steps := []struct {
		n         int
		suggested time.Duration
		want      time.Duration
	}{
		{n: 0, want: 2 * time.Second},
		{n: 0, want: 4 * time.Second},
		{n: 0, want: 8 * time.Second},
		{n: 0, want: 16 * time.Second},
		{n: 0, want: 20 * time.Second},
		{n: 0, want: 20 * time.Second},
		{n: 3, want: 2 * time.Second},
		{n: 0, suggested: 5 * time.Second, want: 5 * time.Second},
		{n: 0, suggested: time.Second, want: 8 * time.Second},
		{n: 1, suggested: 10 * time.Second, want: 10 * time.Second},
	}
	for i, s := range steps {
		if got := p.next(s.n, s.suggested); got != s.want {
			t.Fatalf("step %d: next(%d, %s) = %s, want %s", i, s.n, s.suggested, got, s.want)
		}
	}
}

func TestPollIntervalStaysInBounds(t *testing.T) {
	p := newPollInterval(2*time.Second, 20*time.Second)
	for i := 0; i < 200; i++ {
		n := 0
		if i%7 == 0 {
			n = 1
		}
		got := p.next(n, 0)
		if got < 2*time.Second || got > 20*time.Second {
			t.Fatalf("iteration %d: wait %s out of bounds", i, got)
		}
		if n > 0 && got != 2*time.Second {
			t.Fatalf("iteration %d: expected reset to min after messages, got %s", i, got)
		}
	}
}

func TestPollIntervalReset(t *testing.T) {
	p := newPollInterval(0, 0)
	p.next(0, 0)
	p.next(0, 0)
	p.reset()
	if got := p.next(0, 0); got != DefaultMinPoll {
		t.Fatalf("expected %s after reset, got %s", DefaultMinPoll, got)
	}
}
