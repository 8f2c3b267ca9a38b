package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/hub"
)

func TestEmitAppendsResolvedMessage(t *testing.T) {
	h := hub.New(hub.Options{Capacity: 10})
	defer h.Close()
	resolver := emotes.NewResolver()
	resolver.Put(core.ProviderBTTV, false, []core.Emote{{Code: "catJAM", URL: "https://cdn.example/catjam", Provider: core.ProviderBTTV}})

	handler := emitHandler(h, resolver)
	rec := httptest.NewRecorder()
	body := `{"platform":"YouTube","username":"Bob","text":"hello catJAM","ts":"2024-05-01T12:00:00Z"}`
	handler(rec, httptest.NewRequest(http.MethodPost, "/dev/emit", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got := h.Recent(0)
	if len(got) != 1 {
		t.Fatalf("expected one message, got %d", len(got))
	}
	msg := got[0]
	if msg.Platform != core.PlatformYouTube || msg.User.ID != "bob" || msg.User.DisplayName != "Bob" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(msg.Emotes) != 1 || msg.Emotes[0].Code != "catJAM" {
		t.Fatalf("expected catJAM emote, got %+v", msg.Emotes)
	}
	if msg.Timestamp.Year() != 2024 {
		t.Fatalf("expected supplied timestamp, got %s", msg.Timestamp)
	}
}

func TestEmitRejectsInvalidInput(t *testing.T) {
	h := hub.New(hub.Options{Capacity: 10})
	defer h.Close()
	handler := emitHandler(h, emotes.NewResolver())

	for _, body := range []string{
		`not json`,
		`{"platform":"twitch","username":"","text":"hi"}`,
		`{"platform":"kick","username":"a","text":"hi"}`,
	} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, "/dev/emit", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
	if n := len(h.Recent(0)); n != 0 {
		t.Fatalf("expected empty history, got %d", n)
	}
}
