// Package auth keeps the per-platform OAuth tokens in tokens.json, refreshes
// them through the platform token endpoints and reloads them when the file is
// edited by an external login flow.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/you/chatdeck/internal/core"
)

// ErrNoRefresher is returned when a platform has no refresh grant configured.
var ErrNoRefresher = errors.New("auth: no refresher configured")

// Refresher exchanges the refresh token of current for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, current core.AuthTokens) (core.AuthTokens, error)
}

// Store implements core.TokenProvider on top of a JSON file keyed by
// platform. Refreshed tokens are written back atomically.
type Store struct {
	path       string
	refreshers map[core.Platform]Refresher
	now        func() time.Time

	// OnChange is called after tokens change through Refresh, Set or Reload.
	OnChange func(core.Platform)

	refreshMu sync.Mutex
	mu        sync.RWMutex
	tokens    map[core.Platform]core.AuthTokens
}

// Open loads path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:       strings.TrimSpace(path),
		refreshers: make(map[core.Platform]Refresher),
		now:        time.Now,
		tokens:     make(map[core.Platform]core.AuthTokens),
	}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRefresher installs the refresh grant for p.
func (s *Store) SetRefresher(p core.Platform, r Refresher) {
	s.mu.Lock()
	s.refreshers[p] = r
	s.mu.Unlock()
}

func (s *Store) Path() string { return s.path }

// Token returns the stored tokens of p when an access token is present.
func (s *Store) Token(p core.Platform) (core.AuthTokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[p]
	if !ok || strings.TrimSpace(tok.AccessToken) == "" {
		return core.AuthTokens{}, false
	}
	return tok, true
}

// Refresh runs p's refresh grant and persists the result. Concurrent
// callers are serialized; a caller that waited on another refresh gets the
// token it produced.
func (s *Store) Refresh(ctx context.Context, p core.Platform) (core.AuthTokens, error) {
	s.mu.RLock()
	before := s.tokens[p]
	s.mu.RUnlock()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	current := s.tokens[p]
	r := s.refreshers[p]
	s.mu.RUnlock()

	if current.AccessToken != before.AccessToken && current.Valid(s.now()) {
		return current, nil
	}
	if r == nil {
		return core.AuthTokens{}, fmt.Errorf("%w for %s", ErrNoRefresher, p)
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		return core.AuthTokens{}, fmt.Errorf("%w: no %s refresh token stored", core.ErrAuth, p)
	}

	next, err := r.Refresh(ctx, current)
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("auth: refresh %s: %w", p, err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if len(next.Scope) == 0 {
		next.Scope = current.Scope
	}
	if err := s.put(p, next); err != nil {
		return core.AuthTokens{}, err
	}
	log.Printf("auth: refreshed %s token; expires at %s", p, formatExpiry(next.ExpiresAt))
	return next, nil
}

// Set stores tokens for p, e.g. after an authorization-code exchange.
func (s *Store) Set(p core.Platform, tok core.AuthTokens) error {
	tok.AccessToken = strings.TrimPrefix(strings.TrimSpace(tok.AccessToken), "oauth:")
	tok.RefreshToken = strings.TrimSpace(tok.RefreshToken)
	return s.put(p, tok)
}

// Clear removes p's tokens.
func (s *Store) Clear(p core.Platform) error {
	s.mu.Lock()
	delete(s.tokens, p)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.write(snapshot); err != nil {
		return err
	}
	s.changed(p)
	return nil
}

func (s *Store) put(p core.Platform, tok core.AuthTokens) error {
	s.mu.Lock()
	s.tokens[p] = tok
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.write(snapshot); err != nil {
		return err
	}
	s.changed(p)
	return nil
}

func (s *Store) changed(p core.Platform) {
	if s.OnChange != nil {
		s.OnChange(p)
	}
}

func (s *Store) snapshotLocked() map[core.Platform]core.AuthTokens {
	out := make(map[core.Platform]core.AuthTokens, len(s.tokens))
	for p, tok := range s.tokens {
		out[p] = tok
	}
	return out
}

// Reload re-reads the token file and reports the platforms whose tokens
// changed.
func (s *Store) Reload() ([]core.Platform, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read %s: %w", s.path, err)
	}
	loaded := make(map[core.Platform]core.AuthTokens)
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("auth: decode %s: %w", s.path, err)
		}
	}

	s.mu.Lock()
	var changed []core.Platform
	for _, p := range core.Platforms {
		old, had := s.tokens[p]
		tok, has := loaded[p]
		tok.AccessToken = strings.TrimPrefix(strings.TrimSpace(tok.AccessToken), "oauth:")
		if has {
			loaded[p] = tok
		}
		if had != has || old.AccessToken != tok.AccessToken || old.RefreshToken != tok.RefreshToken {
			changed = append(changed, p)
		}
	}
	s.tokens = loaded
	s.mu.Unlock()

	for _, p := range changed {
		slog.Info("auth: tokens reloaded", "platform", p, "path", s.path)
		s.changed(p)
	}
	return changed, nil
}

func (s *Store) write(tokens map[core.Platform]core.AuthTokens) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode tokens: %w", err)
	}
	if err := atomicWrite(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", s.path, err)
	}
	return nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

// Redacted summarizes which tokens are present without exposing them.
func (s *Store) Redacted() map[core.Platform]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.Platform]map[string]any, len(core.Platforms))
	now := s.now()
	for _, p := range core.Platforms {
		tok := s.tokens[p]
		out[p] = map[string]any{
			"access_token":  tok.AccessToken != "",
			"refresh_token": tok.RefreshToken != "",
			"valid":         tok.Valid(now),
			"expires_at":    formatExpiry(tok.ExpiresAt),
		}
	}
	return out
}
