package ytlive

import "time"

const (
	DefaultMinPoll = 2 * time.Second
	DefaultMaxPoll = 20 * time.Second
)

// pollInterval is the adaptive wait between chat polls. Empty polls double
// the wait up to max; any poll with messages resets it to min. The platform
// suggestion acts as a floor.
type pollInterval struct {
	min, max time.Duration
	cur      time.Duration
}

func newPollInterval(min, max time.Duration) *pollInterval {
	if min <= 0 {
		min = DefaultMinPoll
	}
	if max < min {
		max = min
	}
	return &pollInterval{min: min, max: max}
}

// next records a poll that returned n messages and returns the wait before
// the following poll.
func (p *pollInterval) next(n int, suggested time.Duration) time.Duration {
	switch {
	case n > 0 || p.cur == 0:
		p.cur = p.min
	default:
		p.cur *= 2
		if p.cur > p.max {
			p.cur = p.max
		}
	}
	if suggested > p.cur {
		return suggested
	}
	return p.cur
}

func (p *pollInterval) reset() { p.cur = 0 }
