package auth

import (
	"context"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/you/chatdeck/internal/core"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the token file whenever it is written, replaced or
// removed, until ctx ends. The parent directory is watched so atomic
// renames are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(s.path)

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(watchDebounce)
				}
			case <-debounce.C:
				if _, err := s.Reload(); err != nil {
					slog.Error("auth: token reload failed", "path", s.path, "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("auth: watch error", "err", err)
			}
		}
	}()
	return nil
}

// StartAutoRefresh refreshes p's token before it expires: at 85% of the
// remaining lifetime, at least a minute apart, with doubling retry delays
// capped at a minute after failures.
func (s *Store) StartAutoRefresh(ctx context.Context, p core.Platform) {
	go func() {
		scheduled := s.expiry(p)
		timer := time.NewTimer(s.nextRefresh(p))
		defer timer.Stop()
		backoff := time.Second

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			tok, ok := s.Token(p)
			if !ok || tok.RefreshToken == "" || tok.ExpiresAt.IsZero() {
				scheduled = time.Time{}
				timer.Reset(time.Minute)
				continue
			}
			if !tok.ExpiresAt.Equal(scheduled) {
				// replaced since scheduling
				scheduled = tok.ExpiresAt
				timer.Reset(s.nextRefresh(p))
				continue
			}

			if _, err := s.Refresh(ctx, p); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("auth: %s auto-refresh failed: %v", p, err)
				timer.Reset(backoff)
				if backoff < time.Minute {
					backoff *= 2
					if backoff > time.Minute {
						backoff = time.Minute
					}
				}
				continue
			}
			backoff = time.Second
			scheduled = s.expiry(p)
			timer.Reset(s.nextRefresh(p))
		}
	}()
}

func (s *Store) expiry(p core.Platform) time.Time {
	tok, _ := s.Token(p)
	return tok.ExpiresAt
}

// nextRefresh is the wait before the token of p should be refreshed.
func (s *Store) nextRefresh(p core.Platform) time.Duration {
	tok, ok := s.Token(p)
	if !ok || tok.ExpiresAt.IsZero() {
		return time.Minute
	}
	remaining := tok.ExpiresAt.Sub(s.now())
	if remaining <= 2*time.Minute {
		return 0
	}
	next := time.Duration(float64(remaining) * 0.85)
	if next < time.Minute {
		next = time.Minute
	}
	return next
}
