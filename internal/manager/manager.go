// Package manager coordinates the platform adapters: it starts and stops
// them as the chat configuration changes, gates their output into the hub
// and routes outbound messages.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/hub"
	"github.com/you/chatdeck/internal/ingesttrace"
)

const (
	DefaultGrace       = 3 * time.Second
	DefaultHardTimeout = 2 * time.Second
)

// Adapter is one running platform connection.
type Adapter interface {
	Run(ctx context.Context) error
	Send(ctx context.Context, text string) error
}

// Emit delivers a normalized message from an adapter.
type Emit func(core.ChatMessage)

// Factory builds an adapter for target (a Twitch channel or a YouTube video
// id, possibly empty for auto-detect). emit and status must only be called
// from Run.
type Factory func(ctx context.Context, target string, emit Emit, status core.StatusFunc) (Adapter, error)

type Options struct {
	Hub    *hub.Hub
	Emotes *emotes.Resolver
	Trace  *ingesttrace.Recorder

	TwitchFactory  Factory
	YouTubeFactory Factory

	Grace       time.Duration
	HardTimeout time.Duration
	// OnMessage observes every message that reached the hub.
	OnMessage func(core.ChatMessage)
}

// SendResult reports the outcome of one send per targeted platform.
type SendResult struct {
	Sent   []core.Platform          `json:"sent"`
	Errors map[core.Platform]string `json:"errors,omitempty"`
	errs   map[core.Platform]error
}

// OK reports whether at least one platform accepted the message.
func (r SendResult) OK() bool { return len(r.Sent) > 0 }

// Err returns the error of platform p, if any.
func (r SendResult) Err(p core.Platform) error { return r.errs[p] }

type Manager struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes Apply and Reconnect so a stop-then-start sequence
	// for one platform never interleaves with another.
	opMu sync.Mutex

	mu       sync.Mutex
	cfg      core.ChatConfig
	runners  map[core.Platform]*runner
	statuses map[core.Platform]core.SourceStatus
	closed   bool
}

func New(opts Options) *Manager {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = DefaultHardTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		runners:  make(map[core.Platform]*runner),
		statuses: make(map[core.Platform]core.SourceStatus),
	}
	now := time.Now().UTC()
	for _, p := range core.Platforms {
		m.statuses[p] = core.SourceStatus{Platform: p, State: core.StateDisabled, Since: now}
	}
	return m
}

// Config returns the configuration last applied.
func (m *Manager) Config() core.ChatConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Apply reconciles the running adapters with cfg. Only adapters whose
// target or enablement changed are restarted. A replaced adapter is fully
// stopped before its successor starts.
func (m *Manager) Apply(cfg core.ChatConfig) error {
	cfg = cfg.Normalize()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager: closed")
	}
	m.cfg = cfg
	var stops []*runner
	var starts []core.Platform
	for _, p := range core.Platforms {
		want, target := active(cfg, p)
		cur := m.runners[p]
		if cur != nil && want && cur.target == target {
			continue
		}
		if cur != nil {
			m.retireLocked(cur)
			stops = append(stops, cur)
		}
		if !want {
			m.setStatusLocked(p, core.StateDisabled, target, nil)
			continue
		}
		m.setStatusLocked(p, core.StateConnecting, target, nil)
		starts = append(starts, p)
	}
	m.mu.Unlock()

	if m.opts.Hub != nil {
		m.opts.Hub.SetCapacity(cfg.MaxMessages)
	}
	m.configureEmotes(cfg)
	m.stopAll(stops)
	_, err := m.startAll(starts)
	return err
}

func active(cfg core.ChatConfig, p core.Platform) (bool, string) {
	switch p {
	case core.PlatformTwitch:
		return cfg.TwitchActive(), cfg.TwitchChannel
	case core.PlatformYouTube:
		return cfg.YouTubeActive(), cfg.YouTubeVideoID
	}
	return false, ""
}

func (m *Manager) configureEmotes(cfg core.ChatConfig) {
	r := m.opts.Emotes
	if r == nil {
		return
	}
	scope := r.Scope()
	if !strings.EqualFold(scope.Channel, cfg.TwitchChannel) {
		scope = emotes.Scope{Channel: cfg.TwitchChannel}
	}
	if r.Configure(scope, cfg.EmoteProviders) {
		go r.Load(m.ctx, scope)
	}
}

// Reconnect restarts the adapter of target, or of every active platform
// when target is empty or "all". It fails with core.ErrNotRunning when
// nothing enabled matches.
func (m *Manager) Reconnect(target string) error {
	target = strings.TrimSpace(target)
	var platforms []core.Platform
	if target == "" || strings.EqualFold(target, "all") {
		target = "all"
		platforms = core.Platforms
	} else {
		p, err := core.ParsePlatform(target)
		if err != nil {
			return err
		}
		platforms = []core.Platform{p}
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager: closed")
	}
	var stops []*runner
	var starts []core.Platform
	for _, p := range platforms {
		want, tgt := active(m.cfg, p)
		if !want {
			continue
		}
		if cur := m.runners[p]; cur != nil {
			m.retireLocked(cur)
			stops = append(stops, cur)
		}
		m.setStatusLocked(p, core.StateReconnecting, tgt, nil)
		starts = append(starts, p)
	}
	m.mu.Unlock()

	if len(starts) == 0 {
		return fmt.Errorf("%w: %s is not enabled", core.ErrNotRunning, target)
	}
	m.stopAll(stops)
	_, err := m.startAll(starts)
	return err
}

// Send delivers text to target ("twitch", "youtube" or empty for every
// running adapter). Platform failures are reported per platform.
func (m *Manager) Send(ctx context.Context, target, text string) SendResult {
	res := SendResult{Errors: map[core.Platform]string{}, errs: map[core.Platform]error{}}
	fail := func(p core.Platform, err error) {
		res.errs[p] = err
		res.Errors[p] = err.Error()
	}

	var platforms []core.Platform
	if strings.TrimSpace(target) == "" || strings.EqualFold(target, "all") {
		platforms = core.Platforms
	} else {
		p, err := core.ParsePlatform(target)
		if err != nil {
			res.errs[core.Platform(target)] = err
			res.Errors[core.Platform(target)] = err.Error()
			return res
		}
		platforms = []core.Platform{p}
	}

	m.mu.Lock()
	adapters := make(map[core.Platform]Adapter, len(platforms))
	for _, p := range platforms {
		if r := m.runners[p]; r != nil {
			adapters[p] = r.adapter
		}
	}
	m.mu.Unlock()

	for _, p := range platforms {
		a, ok := adapters[p]
		if !ok {
			if len(platforms) == 1 {
				fail(p, fmt.Errorf("%w: %s", core.ErrNotRunning, p))
			}
			continue
		}
		if err := a.Send(ctx, text); err != nil {
			log.Printf("manager: send to %s failed: %v", p, err)
			fail(p, err)
			continue
		}
		res.Sent = append(res.Sent, p)
	}
	if len(res.Sent) == 0 && len(res.errs) == 0 {
		fail(core.Platform("all"), fmt.Errorf("%w: no platform connected", core.ErrNotRunning))
	}
	return res
}

// Status lists the status of every platform in display order.
func (m *Manager) Status() []core.SourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.SourceStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// Close stops every adapter and waits for them within the stop budget.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stops := make([]*runner, 0, len(m.runners))
	for p, r := range m.runners {
		r.retire()
		stops = append(stops, r)
		delete(m.runners, p)
		m.setStatusLocked(p, core.StateDisconnected, r.target, nil)
	}
	m.mu.Unlock()

	m.cancel()
	m.stopAll(stops)
}

func (m *Manager) setStatusLocked(p core.Platform, state core.SourceState, target string, err error) {
	st := core.SourceStatus{Platform: p, State: state, Target: target, Since: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
	}
	m.statuses[p] = st
}

// retireLocked closes the generation gate of r and removes it from the
// running set. Caller holds m.mu.
func (m *Manager) retireLocked(r *runner) {
	r.retire()
	if m.runners[r.platform] == r {
		delete(m.runners, r.platform)
	}
}

// startAll starts the adapters of platforms that are still enabled. It is
// called after their predecessors have stopped.
func (m *Manager) startAll(platforms []core.Platform) (int, error) {
	if len(platforms) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("manager: closed")
	}
	started := 0
	var errs []error
	for _, p := range platforms {
		want, target := active(m.cfg, p)
		if !want || m.runners[p] != nil {
			continue
		}
		if err := m.startLocked(p, target); err != nil {
			errs = append(errs, err)
			continue
		}
		started++
	}
	return started, errors.Join(errs...)
}

// startLocked builds and launches the adapter for p. Caller holds m.mu.
func (m *Manager) startLocked(p core.Platform, target string) error {
	factory := m.opts.TwitchFactory
	if p == core.PlatformYouTube {
		factory = m.opts.YouTubeFactory
	}
	if factory == nil {
		err := fmt.Errorf("manager: no adapter factory for %s", p)
		m.setStatusLocked(p, core.StateError, target, err)
		return err
	}

	r := newRunner(p, target)
	status := func(state core.SourceState, err error) {
		if !r.current() {
			return
		}
		m.mu.Lock()
		if m.runners[p] == r {
			m.setStatusLocked(p, state, target, err)
		}
		m.mu.Unlock()
	}
	adapter, err := factory(m.ctx, target, m.emitter(r), status)
	if err != nil {
		err = fmt.Errorf("manager: build %s adapter: %w", p, err)
		m.setStatusLocked(p, core.StateError, target, err)
		return err
	}
	r.adapter = adapter
	m.runners[p] = r
	m.setStatusLocked(p, core.StateConnecting, target, nil)
	r.start(m.ctx, func(err error) { m.onExit(r, err) })
	log.Printf("manager: started %s adapter for %q", p, target)
	return nil
}

// emitter returns the adapter output path: generation gate, trace, hub.
func (m *Manager) emitter(r *runner) Emit {
	return func(msg core.ChatMessage) {
		trace := ingesttrace.NewTrace(msg, r.target)
		defer m.opts.Trace.Finish(trace)

		if msg.Platform != r.platform {
			trace.IncCounter(ingesttrace.StageDropped("wrong_platform"))
			return
		}
		trace.IncCounter(ingesttrace.StageNormalizedOK)
		delivered := r.gate(func() {
			if m.opts.Hub != nil {
				m.opts.Hub.Append(msg)
			}
		})
		if !delivered {
			trace.IncCounter(ingesttrace.StageDropped("stale_generation"))
			return
		}
		trace.IncCounter(ingesttrace.StageAppendedToHub)
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(msg)
		}
	}
}

func (m *Manager) onExit(r *runner, err error) {
	if err == nil || core.Canceled(err) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runners[r.platform] != r {
		return
	}
	state := core.StateError
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		state = core.StateUnauthenticated
	case errors.Is(err, core.ErrNotLive):
		state = core.StateNotLive
	}
	slog.Warn("manager: adapter stopped", "platform", r.platform, "target", r.target, "state", state, "err", err)
	m.setStatusLocked(r.platform, state, r.target, err)
}

// stopAll stops retired runners concurrently and waits for them.
func (m *Manager) stopAll(stops []*runner) {
	if len(stops) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, r := range stops {
		wg.Add(1)
		go func(r *runner) {
			defer wg.Done()
			r.stop(m.opts.Grace, m.opts.HardTimeout)
		}(r)
	}
	wg.Wait()
}
