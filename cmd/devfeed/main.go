// Command devfeed serves the display-client API without platform
// connections. Messages are injected with POST /dev/emit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/httpapi"
	"github.com/you/chatdeck/internal/hub"
	"github.com/you/chatdeck/internal/manager"
	"github.com/you/chatdeck/internal/version"
)

type emitReq struct {
	ID       string    `json:"id,omitempty"`
	Platform string    `json:"platform"`
	Username string    `json:"username"`
	UserID   string    `json:"user_id,omitempty"`
	Text     string    `json:"text"`
	Ts       time.Time `json:"ts,omitempty"`
	Color    string    `json:"color,omitempty"`
	Action   bool      `json:"action,omitempty"`
}

// memSettings keeps the chat settings in memory and applies them to mgr.
type memSettings struct {
	mu  sync.Mutex
	cfg core.ChatConfig
	mgr *manager.Manager
}

func (s *memSettings) Get() core.ChatConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *memSettings) Set(cfg core.ChatConfig) (core.ChatConfig, error) {
	cfg = cfg.Normalize()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	// Platform adapters are absent here; their start errors only show in
	// /api/chat/status.
	if err := s.mgr.Apply(cfg); err != nil {
		log.Printf("devfeed: apply settings: %v", err)
	}
	return cfg, nil
}

func main() {
	var (
		addr    string
		history int
		offline bool
	)
	flag.StringVar(&addr, "addr", ":8765", "HTTP listen address")
	flag.IntVar(&history, "history", core.DefaultHistory, "History capacity")
	flag.BoolVar(&offline, "offline", false, "Skip fetching third-party global emote catalogs")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var fetchers []emotes.Fetcher
	if !offline {
		fetchers = append(fetchers, &emotes.FFZFetcher{}, &emotes.BTTVFetcher{}, &emotes.SevenTVFetcher{})
	}
	resolver := emotes.NewResolver(fetchers...)

	h := hub.New(hub.Options{Capacity: core.ClampHistory(history)})
	defer h.Close()
	mgr := manager.New(manager.Options{Hub: h, Emotes: resolver})
	defer mgr.Close()

	cfg := core.DefaultChatConfig()
	cfg.MaxMessages = history
	settings := &memSettings{mgr: mgr}
	_, _ = settings.Set(cfg)

	api := httpapi.New(h, mgr, settings, httpapi.Options{
		Addr:  addr,
		Build: httpapi.BuildInfo{Version: version.Version, Revision: version.Commit},
		Mount: func(mux *http.ServeMux) {
			mux.HandleFunc("POST /dev/emit", emitHandler(h, resolver))
		},
	})
	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("devfeed: %v", err)
		}
	}()
	log.Printf("devfeed listening on %s", addr)

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("devfeed: shutdown: %v", err)
	}
}

func emitHandler(h *hub.Hub, resolver *emotes.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req emitReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Platform == "" || strings.TrimSpace(req.Username) == "" || req.Text == "" {
			http.Error(w, "platform, username, text required", http.StatusBadRequest)
			return
		}
		platform, err := core.ParsePlatform(req.Platform)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		userID := req.UserID
		if userID == "" {
			userID = strings.ToLower(strings.TrimSpace(req.Username))
		}
		opts := []core.MessageOption{
			core.WithID(req.ID),
			core.WithAction(req.Action),
			core.WithEmotes(resolver.Resolve(req.Text)),
		}
		if !req.Ts.IsZero() {
			ts := req.Ts
			opts = append(opts, core.WithClock(func() time.Time { return ts }))
		}
		msg, err := core.NewChatMessage(platform, core.ChatUser{
			ID:          userID,
			DisplayName: req.Username,
			Color:       req.Color,
		}, req.Text, opts...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Append(msg)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": msg.ID})
	}
}
