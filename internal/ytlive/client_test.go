package ytlive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/chatdeck/internal/backoff"
	"github.com/you/chatdeck/internal/core"
)

type fakeTokens struct {
	mu         sync.Mutex
	access     string
	refreshed  string
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) Token(p core.Platform) (core.AuthTokens, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.access == "" {
		return core.AuthTokens{}, false
	}
	return core.AuthTokens{AccessToken: f.access}, true
}

func (f *fakeTokens) Refresh(ctx context.Context, p core.Platform) (core.AuthTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return core.AuthTokens{}, f.refreshErr
	}
	f.access = f.refreshed
	return core.AuthTokens{AccessToken: f.access}, nil
}

func (f *fakeTokens) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type statusLog struct {
	mu     sync.Mutex
	states []core.SourceState
}

func (s *statusLog) report(state core.SourceState, err error) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

func (s *statusLog) has(state core.SourceState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st == state {
			return true
		}
	}
	return false
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

const firstPage = `{
  "nextPageToken": "p2",
  "pollingIntervalMillis": 1,
  "items": [
    {"id": "m1", "snippet": {"type": "textMessageEvent", "displayMessage": "hello 🎉",
      "textMessageDetails": {"messageText": "hello 🎉"}},
     "authorDetails": {"channelId": "UCowner", "displayName": "Owner", "isChatOwner": true}},
    {"id": "m2", "snippet": {"type": "superChatEvent", "displayMessage": "$5"},
     "authorDetails": {"channelId": "UCfan", "displayName": "Fan"}}
  ]
}`

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config, h Handler) *Client {
	t.Helper()
	cfg.Endpoint = srv.URL + "/"
	cfg.HTTP = srv.Client()
	if cfg.MinPoll == 0 {
		cfg.MinPoll = time.Millisecond
		cfg.MaxPoll = 5 * time.Millisecond
	}
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond}
	}
	c, err := New(context.Background(), cfg, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRunResolvesAndPolls(t *testing.T) {
	var pages atomic.Int32
	var seenTokens sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/videos"):
			if r.URL.Query().Get("id") != "dQw4w9WgXcQ" {
				t.Errorf("unexpected video id %q", r.URL.Query().Get("id"))
			}
			writeJSON(w, map[string]any{"items": []map[string]any{{
				"id": "dQw4w9WgXcQ", "liveStreamingDetails": map[string]any{"activeLiveChatId": "chat1"},
			}}})
		case strings.HasSuffix(r.URL.Path, "/liveChat/messages"):
			if r.URL.Query().Get("liveChatId") != "chat1" {
				t.Errorf("unexpected chat id %q", r.URL.Query().Get("liveChatId"))
			}
			seenTokens.Store(r.URL.Query().Get("pageToken"), true)
			if pages.Add(1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(firstPage))
				return
			}
			writeJSON(w, map[string]any{"nextPageToken": "p3", "pollingIntervalMillis": 1, "items": []any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got := make(chan core.ChatMessage, 4)
	status := &statusLog{}
	c := newTestClient(t, srv, Config{
		VideoID: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Auth:    &fakeTokens{access: "tok"},
		Status:  status.report,
	}, func(m core.ChatMessage) { got <- m })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case msg := <-got:
		if msg.ID != "m1" || msg.User.DisplayName != "Owner" || msg.Message != "hello 🎉" {
			t.Fatalf("unexpected message %+v", msg)
		}
		if msg.User.Roles[0] != core.RoleBroadcaster {
			t.Fatalf("expected broadcaster role, got %v", msg.User.Roles)
		}
		if len(msg.Emotes) != 1 || msg.Emotes[0].Provider != core.ProviderYouTube {
			t.Fatalf("unexpected emotes %+v", msg.Emotes)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}

	deadline := time.Now().Add(2 * time.Second)
	for pages.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := seenTokens.Load("p2"); !ok {
		t.Fatalf("expected second poll to use the next page token")
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected extra message %+v", extra)
	default:
	}
	if !status.has(core.StateResolving) || !status.has(core.StatePolling) {
		t.Fatalf("missing states: %v", status.states)
	}
	if c.ChatID() != "chat1" {
		t.Fatalf("expected chat id to be kept, got %q", c.ChatID())
	}
}

func TestRunRefreshesOnceOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeAPIError(w, http.StatusUnauthorized, "authError")
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/videos"):
			writeJSON(w, map[string]any{"items": []map[string]any{{
				"id": "dQw4w9WgXcQ", "liveStreamingDetails": map[string]any{"activeLiveChatId": "chat1"},
			}}})
		case strings.HasSuffix(r.URL.Path, "/liveChat/messages"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(firstPage))
		}
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refreshed: "fresh"}
	got := make(chan core.ChatMessage, 8)
	c := newTestClient(t, srv, Config{VideoID: "dQw4w9WgXcQ", Auth: tokens}, func(m core.ChatMessage) { got <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-got:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	cancel()
	<-done
	if n := tokens.Refreshes(); n != 1 {
		t.Fatalf("expected exactly one refresh, got %d", n)
	}
}

func TestRunStopsWhenRefreshFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusUnauthorized, "authError")
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refreshErr: errors.New("invalid_grant")}
	status := &statusLog{}
	c := newTestClient(t, srv, Config{VideoID: "dQw4w9WgXcQ", Auth: tokens, Status: status.report}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if calls.Load() != 1 || tokens.Refreshes() != 1 {
		t.Fatalf("expected one request and one refresh, got %d requests %d refreshes", calls.Load(), tokens.Refreshes())
	}
	if !status.has(core.StateUnauthenticated) {
		t.Fatalf("expected unauthenticated status, got %v", status.states)
	}
}

func TestRunGivesUpWhenNotLive(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"items": []any{}})
	}))
	defer srv.Close()

	status := &statusLog{}
	c := newTestClient(t, srv, Config{
		VideoID:     "dQw4w9WgXcQ",
		APIKey:      "key",
		LiveRetries: 3,
		Status:      status.report,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if !errors.Is(err, core.ErrNotLive) {
		t.Fatalf("expected ErrNotLive, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 resolve attempts, got %d", calls.Load())
	}
	if !status.has(core.StateNotLive) {
		t.Fatalf("expected not_live status, got %v", status.states)
	}
}

func TestRunAutoDetectNeedsToken(t *testing.T) {
	c, err := New(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Run(context.Background()); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRunAutoDetectsActiveBroadcast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/liveBroadcasts"):
			if r.URL.Query().Get("broadcastStatus") != "active" {
				t.Errorf("expected active broadcast filter, got %q", r.URL.RawQuery)
			}
			writeJSON(w, map[string]any{"items": []map[string]any{{
				"id": "b1", "snippet": map[string]any{"liveChatId": "chat-auto"},
			}}})
		case strings.HasSuffix(r.URL.Path, "/liveChat/messages"):
			writeJSON(w, map[string]any{"items": []any{}, "pollingIntervalMillis": 1})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{Auth: &fakeTokens{access: "tok"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.ChatID() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if c.ChatID() != "chat-auto" {
		t.Fatalf("expected auto-detected chat id, got %q", c.ChatID())
	}
}

func TestSendErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	anon := newTestClient(t, srv, Config{VideoID: "dQw4w9WgXcQ"}, nil)
	anon.setChatID("chat1")
	if err := anon.Send(context.Background(), "hi"); !errors.Is(err, core.ErrPermission) {
		t.Fatalf("expected ErrPermission without token, got %v", err)
	}

	authed := newTestClient(t, srv, Config{VideoID: "dQw4w9WgXcQ", Auth: &fakeTokens{access: "tok"}}, nil)
	if err := authed.Send(context.Background(), "hi"); !errors.Is(err, core.ErrNotLive) {
		t.Fatalf("expected ErrNotLive without chat id, got %v", err)
	}
}

func TestSendInsertsTextMessage(t *testing.T) {
	type body struct {
		Snippet struct {
			LiveChatID         string `json:"liveChatId"`
			Type               string `json:"type"`
			TextMessageDetails struct {
				MessageText string `json:"messageText"`
			} `json:"textMessageDetails"`
		} `json:"snippet"`
	}
	received := make(chan body, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/liveChat/messages") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		var b body
		_ = json.NewDecoder(r.Body).Decode(&b)
		received <- b
		writeJSON(w, map[string]any{"id": "sent-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{VideoID: "dQw4w9WgXcQ", Auth: &fakeTokens{access: "tok"}}, nil)
	c.setChatID("chat1")
	if err := c.Send(context.Background(), "  hello chat  "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	b := <-received
	if b.Snippet.LiveChatID != "chat1" || b.Snippet.Type != "textMessageEvent" || b.Snippet.TextMessageDetails.MessageText != "hello chat" {
		t.Fatalf("unexpected insert body %+v", b)
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("liveChatId") {
		case "ended":
			writeAPIError(w, http.StatusForbidden, "liveChatEnded")
		case "forbidden":
			writeAPIError(w, http.StatusForbidden, "forbidden")
		case "gone":
			writeAPIError(w, http.StatusNotFound, "notFound")
		case "busy":
			writeAPIError(w, http.StatusServiceUnavailable, "backendError")
		default:
			writeAPIError(w, http.StatusBadRequest, "invalid")
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{VideoID: "dQw4w9WgXcQ", Auth: &fakeTokens{access: "tok"}}, nil)
	cases := map[string]error{
		"ended":     core.ErrNotLive,
		"forbidden": core.ErrPermission,
		"gone":      core.ErrNotLive,
		"busy":      core.ErrTransport,
		"bad":       core.ErrProtocol,
	}
	for chatID, want := range cases {
		_, _, _, err := c.poll(context.Background(), chatID, "")
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", chatID, want, err)
		}
	}
}
