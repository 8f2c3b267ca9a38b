package main

import (
	"bytes"
	"testing"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/hub"
)

func TestPrinterFormatsHistoryAndMessages(t *testing.T) {
	var buf bytes.Buffer
	p := printer{out: &buf, emotes: true}

	msg := core.ChatMessage{
		Platform: core.PlatformTwitch,
		User:     core.ChatUser{DisplayName: "Alice"},
		Message:  "hi PogChamp",
		Emotes:   []core.Emote{{Code: "PogChamp", Provider: core.ProviderTwitch}},
	}
	p.handle(hub.Event{Type: hub.EventHistory, History: []core.ChatMessage{msg}})
	action := msg
	action.IsAction = true
	action.Message = "waves"
	action.Emotes = nil
	p.handle(hub.Event{Type: hub.EventMessage, Message: action})

	want := "--- 1 recent messages ---\n" +
		"[twitch] Alice: hi PogChamp  {PogChamp(native-twitch)}\n" +
		"[twitch] * Alice waves\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}
