// Package backoff holds the doubling-delay policies used by the upstream
// adapters (unlimited retries) and by local display clients (capped retries).
package backoff

import (
	"context"
	"time"
)

// Policy describes a doubling delay sequence. MaxAttempts <= 0 means retry
// forever.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

var (
	// Upstream is used by the Twitch adapter: 1s, 2s, 4s, 8s, 16s, 16s, ...
	Upstream = Policy{Initial: time.Second, Max: 16 * time.Second}
	// Local is used by display clients reconnecting to the local server.
	Local = Policy{Initial: 500 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 10}
)

// Backoff is a stateful iterator over a Policy. Not safe for concurrent use.
type Backoff struct {
	policy   Policy
	next     time.Duration
	attempts int
}

func New(p Policy) *Backoff {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return &Backoff{policy: p, next: p.Initial}
}

// Next returns the delay before the next attempt. ok is false once the
// attempt budget is exhausted.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.policy.MaxAttempts > 0 && b.attempts >= b.policy.MaxAttempts {
		return 0, false
	}
	b.attempts++
	delay = b.next
	if b.next < b.policy.Max {
		b.next *= 2
		if b.next > b.policy.Max {
			b.next = b.policy.Max
		}
	}
	return delay, true
}

// Reset rewinds to the initial delay after a successful attempt.
func (b *Backoff) Reset() {
	b.next = b.policy.Initial
	b.attempts = 0
}

func (b *Backoff) Attempts() int { return b.attempts }

// Sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
