package helix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, tokenCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "app-token", "expires_in": 3600})
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer app-token" || r.Header.Get("Client-Id") != "cid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("login") != "examplechannel" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"id": "4242"}}})
	})
	mux.HandleFunc("/helix/chat/emotes/global", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": "305954156", "name": "PogChamp", "format": []string{"static"}},
			{"id": "emotesv2_x", "name": "Dance", "format": []string{"static", "animated"}},
		}})
	})
	mux.HandleFunc("/helix/chat/badges", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != "4242" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"set_id": "subscriber", "versions": []map[string]any{{"id": "12", "image_url_1x": "https://cdn/sub12.png"}}},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := New("cid", "secret")
	c.HTTP = srv.Client()
	c.BaseURL = srv.URL + "/helix"
	c.TokenURL = srv.URL + "/oauth2/token"
	return c
}

func TestClientCachesAppToken(t *testing.T) {
	calls := &atomic.Int64{}
	c := newTestClient(newTestServer(t, calls))

	id, err := c.UserID(context.Background(), "ExampleChannel")
	if err != nil || id != "4242" {
		t.Fatalf("UserID() = %q, %v", id, err)
	}
	emotes, err := c.Emotes(context.Background(), "")
	if err != nil {
		t.Fatalf("Emotes(): %v", err)
	}
	if len(emotes) != 2 || emotes[0].Name != "PogChamp" || emotes[0].Animated() || !emotes[1].Animated() {
		t.Fatalf("unexpected emotes %+v", emotes)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one token request, got %d", calls.Load())
	}
}

func TestClientBadgeSets(t *testing.T) {
	c := newTestClient(newTestServer(t, &atomic.Int64{}))
	sets, err := c.BadgeSets(context.Background(), "4242")
	if err != nil {
		t.Fatalf("BadgeSets(): %v", err)
	}
	if len(sets) != 1 || sets[0].Versions[0].ImageURL1x != "https://cdn/sub12.png" {
		t.Fatalf("unexpected sets %+v", sets)
	}
}

func TestClientUnknownUser(t *testing.T) {
	c := newTestClient(newTestServer(t, &atomic.Int64{}))
	if _, err := c.UserID(context.Background(), "nobody"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestClientNotConfigured(t *testing.T) {
	var c *Client
	if c.Configured() {
		t.Fatalf("nil client must not be configured")
	}
	if _, err := New("", "").Emotes(context.Background(), ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestIsNumericID(t *testing.T) {
	if !IsNumericID("123") || IsNumericID("") || IsNumericID("12a") {
		t.Fatalf("IsNumericID classification wrong")
	}
}
