package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/you/chatdeck/internal/core"
)

const settingsDebounce = 250 * time.Millisecond

// ChatStore persists the user-editable chat settings in chat_settings.json
// and notifies subscribers when they change, either through Set or through
// an edit of the file on disk.
type ChatStore struct {
	path string

	// writeMu is held from a write through its notification so subscribers
	// see changes in the order they were stored.
	writeMu sync.Mutex

	mu  sync.RWMutex
	cfg core.ChatConfig
	raw []byte

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(core.ChatConfig)
}

// OpenChatStore loads path. When the file does not exist, seed is written to
// it. Fields missing from the file keep their defaults.
func OpenChatStore(path string, seed core.ChatConfig) (*ChatStore, error) {
	s := &ChatStore{path: path, subs: make(map[int]func(core.ChatConfig))}
	cfg, raw, err := s.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = seed.Normalize()
		raw, err = encodeSettings(cfg)
		if err != nil {
			return nil, err
		}
		if err := writeAtomic(path, raw); err != nil {
			return nil, fmt.Errorf("config: write %s: %w", path, err)
		}
	case err != nil:
		return nil, err
	}
	s.cfg, s.raw = cfg, raw
	return s, nil
}

func (s *ChatStore) Path() string { return s.path }

func (s *ChatStore) Get() core.ChatConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Normalize()
}

// Set normalizes cfg, persists it and notifies subscribers. The stored value
// is returned.
func (s *ChatStore) Set(cfg core.ChatConfig) (core.ChatConfig, error) {
	cfg = cfg.Normalize()
	raw, err := encodeSettings(cfg)
	if err != nil {
		return core.ChatConfig{}, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if err := writeAtomic(s.path, raw); err != nil {
		s.mu.Unlock()
		return core.ChatConfig{}, fmt.Errorf("config: write %s: %w", s.path, err)
	}
	changed := !bytes.Equal(raw, s.raw)
	s.cfg, s.raw = cfg, raw
	s.mu.Unlock()

	if changed {
		s.notify(cfg)
	}
	return cfg, nil
}

// Subscribe registers fn for every subsequent change. Notifications are
// delivered in write order; fn must not call Set or Reload. The returned
// func removes it.
func (s *ChatStore) Subscribe(fn func(core.ChatConfig)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *ChatStore) notify(cfg core.ChatConfig) {
	s.subMu.Lock()
	fns := make([]func(core.ChatConfig), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(cfg.Normalize())
	}
}

// Reload re-reads the settings file and notifies subscribers when its
// content differs from the current settings.
func (s *ChatStore) Reload() (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg, raw, err := s.read()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if bytes.Equal(raw, s.raw) {
		s.mu.Unlock()
		return false, nil
	}
	s.cfg, s.raw = cfg, raw
	s.mu.Unlock()
	log.Printf("config: reloaded %s", s.path)
	s.notify(cfg)
	return true, nil
}

// Watch reloads the settings file on external edits until ctx ends.
func (s *ChatStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(s.path)

	go func() {
		defer w.Close()
		var debounce <-chan time.Time
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
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(settingsDebounce)
				}
			case <-debounce:
				debounce = nil
				if _, err := s.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
					slog.Error("config: settings reload failed", "path", s.path, "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("config: watch error", "err", err)
			}
		}
	}()
	return nil
}

func (s *ChatStore) read() (core.ChatConfig, []byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return core.ChatConfig{}, nil, err
	}
	cfg := core.DefaultChatConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return core.ChatConfig{}, nil, fmt.Errorf("config: decode %s: %w", s.path, err)
		}
	}
	cfg = cfg.Normalize()
	raw, err := encodeSettings(cfg)
	if err != nil {
		return core.ChatConfig{}, nil, err
	}
	return cfg, raw, nil
}

func encodeSettings(cfg core.ChatConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("config: encode settings: %w", err)
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
