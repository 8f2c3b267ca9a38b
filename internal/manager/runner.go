package manager

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/you/chatdeck/internal/core"
)

// runner owns one adapter goroutine. live is the generation flag: once
// retire clears it, nothing the adapter emits reaches the hub.
type runner struct {
	platform core.Platform
	target   string
	adapter  Adapter

	gateMu sync.RWMutex
	live   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newRunner(p core.Platform, target string) *runner {
	return &runner{platform: p, target: target, live: true, done: make(chan struct{})}
}

func (r *runner) start(parent context.Context, onExit func(error)) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	go func() {
		defer close(r.done)
		err := r.adapter.Run(ctx)
		if ctx.Err() == nil && err != nil {
			log.Printf("manager: %s adapter exited: %v", r.platform, err)
		}
		onExit(err)
	}()
}

// gate runs fn while the runner is live and reports whether it ran. retire
// waits for in-flight calls.
func (r *runner) gate(fn func()) bool {
	r.gateMu.RLock()
	defer r.gateMu.RUnlock()
	if !r.live {
		return false
	}
	fn()
	return true
}

func (r *runner) current() bool {
	r.gateMu.RLock()
	defer r.gateMu.RUnlock()
	return r.live
}

func (r *runner) retire() {
	r.gateMu.Lock()
	r.live = false
	r.gateMu.Unlock()
}

// stop cancels the adapter, waits grace, closes it if it is an io.Closer,
// then waits hard before abandoning the goroutine.
func (r *runner) stop(grace, hard time.Duration) {
	r.retire()
	if r.cancel != nil {
		r.cancel()
	}
	if r.adapter == nil || waitDone(r.done, grace) {
		return
	}
	if c, ok := r.adapter.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("manager: close %s adapter: %v", r.platform, err)
		}
	}
	if !waitDone(r.done, hard) {
		log.Printf("manager: ERROR %s adapter for %q did not stop within %s; abandoning it", r.platform, r.target, grace+hard)
	}
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
