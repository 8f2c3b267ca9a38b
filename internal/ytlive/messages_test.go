package ytlive

import (
	"testing"

	"google.golang.org/api/youtube/v3"

	"github.com/you/chatdeck/internal/core"
)

func TestSplitRuns(t *testing.T) {
	runs := splitRuns("hi 👋🏽 there 👨‍👩‍👧 🇯🇵!")
	var emoji []string
	text := ""
	for _, r := range runs {
		if r.emoji {
			emoji = append(emoji, r.text)
		} else {
			text += r.text
		}
	}
	want := []string{"👋🏽", "👨‍👩‍👧", "🇯🇵"}
	if len(emoji) != len(want) {
		t.Fatalf("expected %d emoji runs, got %q", len(want), emoji)
	}
	for i := range want {
		if emoji[i] != want[i] {
			t.Fatalf("emoji run %d = %q, want %q", i, emoji[i], want[i])
		}
	}
	if text != "hi  there  !" {
		t.Fatalf("unexpected text runs %q", text)
	}
}

func TestEmojiEmotesDedupeAndURL(t *testing.T) {
	got := emojiEmotes("❤️ gg ❤️ 🔥")
	if len(got) != 2 {
		t.Fatalf("expected 2 emotes, got %+v", got)
	}
	if got[0].Code != "❤️" || got[0].Provider != core.ProviderYouTube {
		t.Fatalf("unexpected first emote %+v", got[0])
	}
	if got[0].URL != twemojiBase+"2764.png" {
		t.Fatalf("expected fe0f dropped from url, got %s", got[0].URL)
	}
	if got[1].URL != twemojiBase+"1f525.png" {
		t.Fatalf("unexpected url %s", got[1].URL)
	}
	if empty := emojiEmotes("plain text"); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestToChatMessageMapsAuthor(t *testing.T) {
	item := &youtube.LiveChatMessage{
		Id: "yt-1",
		Snippet: &youtube.LiveChatMessageSnippet{
			Type:               "textMessageEvent",
			TextMessageDetails: &youtube.LiveChatTextMessageDetails{MessageText: "hello 🎉"},
		},
		AuthorDetails: &youtube.LiveChatMessageAuthorDetails{
			ChannelId:       "UC123",
			DisplayName:     "Host",
			IsChatOwner:     true,
			IsChatModerator: true,
			IsChatSponsor:   true,
		},
	}
	msg, ok := toChatMessage(item)
	if !ok {
		t.Fatalf("expected message")
	}
	if msg.ID != "yt-1" || msg.Platform != core.PlatformYouTube || msg.Message != "hello 🎉" {
		t.Fatalf("unexpected message %+v", msg)
	}
	wantRoles := []core.UserRole{core.RoleBroadcaster, core.RoleModerator, core.RoleMember}
	if len(msg.User.Roles) != len(wantRoles) {
		t.Fatalf("unexpected roles %v", msg.User.Roles)
	}
	for i, r := range wantRoles {
		if msg.User.Roles[i] != r {
			t.Fatalf("role %d = %s, want %s", i, msg.User.Roles[i], r)
		}
	}
	if len(msg.User.Badges) != 3 || msg.User.Badges[0].Name != "owner" {
		t.Fatalf("unexpected badges %+v", msg.User.Badges)
	}
	if len(msg.Emotes) != 1 || msg.Emotes[0].Code != "🎉" {
		t.Fatalf("unexpected emotes %+v", msg.Emotes)
	}
}

func TestToChatMessageSkipsNonText(t *testing.T) {
	cases := []*youtube.LiveChatMessage{
		nil,
		{Snippet: &youtube.LiveChatMessageSnippet{Type: "superChatEvent", DisplayMessage: "$5"}},
		{Snippet: &youtube.LiveChatMessageSnippet{Type: "textMessageEvent", DisplayMessage: "   "},
			AuthorDetails: &youtube.LiveChatMessageAuthorDetails{ChannelId: "UC1", DisplayName: "x"}},
	}
	for i, item := range cases {
		if _, ok := toChatMessage(item); ok {
			t.Fatalf("case %d: expected skip", i)
		}
	}
}

func TestToChatMessageFallsBackToChannelID(t *testing.T) {
	msg, ok := toChatMessage(&youtube.LiveChatMessage{
		Snippet:       &youtube.LiveChatMessageSnippet{Type: "textMessageEvent", DisplayMessage: "hi"},
		AuthorDetails: &youtube.LiveChatMessageAuthorDetails{ChannelId: "UCabc"},
	})
	if !ok {
		t.Fatalf("expected message")
	}
	if msg.User.DisplayName != "UCabc" || len(msg.User.Roles) != 1 || msg.User.Roles[0] != core.RoleViewer {
		t.Fatalf("unexpected user %+v", msg.User)
	}
}
