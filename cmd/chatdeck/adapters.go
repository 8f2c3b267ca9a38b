package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/you/chatdeck/internal/auth"
	"github.com/you/chatdeck/internal/config"
	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/manager"
	"github.com/you/chatdeck/internal/twitchbadges"
	"github.com/you/chatdeck/internal/twitchirc"
	"github.com/you/chatdeck/internal/ytlive"
)

// twitchLogin caches the login behind the stored Twitch token. IRC requires
// NICK to match it.
type twitchLogin struct {
	configured string
	tokens     *auth.Store
	hc         *http.Client

	mu    sync.Mutex
	login string
}

func (l *twitchLogin) Get() string {
	if l.configured != "" {
		return l.configured
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.login
}

// Refresh validates the current token and reports whether the login
// changed.
func (l *twitchLogin) Refresh(ctx context.Context) bool {
	if l.configured != "" {
		return false
	}
	login := ""
	if tok, ok := l.tokens.Token(core.PlatformTwitch); ok {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		v, err := auth.ValidateTwitchLogin(ctx, l.hc, tok.AccessToken)
		if err != nil {
			log.Printf("chatdeck: twitch token validation failed: %v", err)
			if !errors.Is(err, core.ErrAuth) {
				return false
			}
		}
		login = v
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := login != l.login
	l.login = login
	if changed && login != "" {
		log.Printf("chatdeck: twitch login=%s", login)
	}
	return changed
}

type adapterDeps struct {
	cfg     config.Config
	tokens  *auth.Store
	login   *twitchLogin
	emotes  *emotes.Resolver
	badges  *twitchbadges.Resolver
	metrics *twitchirc.Metrics
}

func (d *adapterDeps) twitchFactory(_ context.Context, channel string, emit manager.Emit, status core.StatusFunc) (manager.Adapter, error) {
	return twitchirc.New(twitchirc.Config{
		Channel: channel,
		Nick:    d.login.Get(),
		Auth:    d.tokens,
		URL:     d.cfg.Twitch.IRCURL,
		Emotes:  d.emotes,
		Badges:  d.badges,
		Status:  status,
		Metrics: d.metrics,
	}, twitchirc.Handler(emit)), nil
}

func (d *adapterDeps) youtubeFactory(ctx context.Context, videoID string, emit manager.Emit, status core.StatusFunc) (manager.Adapter, error) {
	return ytlive.New(ctx, ytlive.Config{
		VideoID:     strings.TrimSpace(videoID),
		Auth:        d.tokens,
		APIKey:      d.cfg.YouTube.APIKey,
		Status:      status,
		MinPoll:     d.cfg.YouTube.MinPoll,
		MaxPoll:     d.cfg.YouTube.MaxPoll,
		LiveRetries: d.cfg.YouTube.LiveRetries,
	}, ytlive.Handler(emit))
}

// operator backs the admin endpoints.
type operator struct {
	tokens *auth.Store
	mgr    *manager.Manager
}

func (o operator) ReloadTokens() ([]core.Platform, error) {
	return o.tokens.Reload()
}

func (o operator) Reconnect(target string) error {
	return o.mgr.Reconnect(target)
}

// onTokensChanged restarts adapters that depend on the identity behind a
// token: Twitch when the login changed, and either platform when it is
// stuck unauthenticated.
func onTokensChanged(ctx context.Context, p core.Platform, login *twitchLogin, mgr *manager.Manager) {
	loginChanged := p == core.PlatformTwitch && login.Refresh(ctx)
	reconnect := restartOnTokenChange(p, loginChanged, mgr.Status())
	if !reconnect {
		return
	}
	if err := mgr.Reconnect(string(p)); err != nil && !errors.Is(err, core.ErrNotRunning) {
		log.Printf("chatdeck: reconnect %s after token change: %v", p, err)
	}
}

func restartOnTokenChange(p core.Platform, loginChanged bool, statuses []core.SourceStatus) bool {
	if loginChanged {
		return true
	}
	for _, st := range statuses {
		if st.Platform == p && st.State == core.StateUnauthenticated {
			return true
		}
	}
	return false
}
