package core

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNewChatMessageValidates(t *testing.T) {
	if _, err := NewChatMessage(PlatformTwitch, ChatUser{DisplayName: "  "}, "hi"); !errors.Is(err, errMissingDisplayName) {
		t.Fatalf("expected display name error, got %v", err)
	}
	if _, err := NewChatMessage("", ChatUser{DisplayName: "a"}, "hi"); !errors.Is(err, errMissingPlatform) {
		t.Fatalf("expected platform error, got %v", err)
	}
	if _, err := NewChatMessage("kick", ChatUser{DisplayName: "a"}, "hi"); err == nil {
		t.Fatalf("expected unknown platform error")
	}
}

func TestNewChatMessageDefaults(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	msg, err := NewChatMessage(PlatformYouTube, ChatUser{DisplayName: "Bob"}, "hello", WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewChatMessage: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !msg.Timestamp.Equal(fixed) || msg.Timestamp.Location() != time.UTC {
		t.Fatalf("unexpected timestamp %v", msg.Timestamp)
	}
	if !reflect.DeepEqual(msg.User.Roles, []UserRole{RoleViewer}) {
		t.Fatalf("expected viewer role, got %v", msg.User.Roles)
	}
	if msg.Emotes == nil {
		t.Fatalf("expected non-nil emote slice")
	}
}

func TestSortRoles(t *testing.T) {
	got := SortRoles([]UserRole{RoleSubscriber, "bogus", RoleBroadcaster, RoleSubscriber, RoleMember})
	want := []UserRole{RoleBroadcaster, RoleSubscriber, RoleMember}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SortRoles() = %v, want %v", got, want)
	}
}

func TestCloneIsolatesSlices(t *testing.T) {
	msg, _ := NewChatMessage(PlatformTwitch, ChatUser{DisplayName: "a", Badges: []ChatBadge{{Name: "vip"}}}, "x",
		WithEmotes([]Emote{{Code: "Kappa"}}))
	clone := msg.Clone()
	clone.User.Badges[0].Name = "changed"
	clone.Emotes[0].Code = "changed"
	if msg.User.Badges[0].Name != "vip" || msg.Emotes[0].Code != "Kappa" {
		t.Fatalf("clone shares backing arrays")
	}
}

func TestBadgeInitial(t *testing.T) {
	if got := (ChatBadge{Name: "moderator"}).Initial(); got != "M" {
		t.Fatalf("Initial() = %q", got)
	}
	if got := (ChatBadge{}).Initial(); got != "" {
		t.Fatalf("Initial() = %q", got)
	}
}

func TestChatConfigNormalize(t *testing.T) {
	cfg := ChatConfig{
		TwitchChannel:  " #ExampleChannel ",
		YouTubeVideoID: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=1",
		MaxMessages:    500,
	}.Normalize()
	if cfg.TwitchChannel != "examplechannel" {
		t.Fatalf("channel = %q", cfg.TwitchChannel)
	}
	if cfg.YouTubeVideoID != "dQw4w9WgXcQ" {
		t.Fatalf("video id = %q", cfg.YouTubeVideoID)
	}
	if cfg.MaxMessages != MaxHistory {
		t.Fatalf("max = %d", cfg.MaxMessages)
	}
	if ClampHistory(3) != MinHistory || ClampHistory(0) != DefaultHistory || ClampHistory(75) != 75 {
		t.Fatalf("ClampHistory bounds wrong")
	}
}

func TestNormalizeVideoID(t *testing.T) {
	tests := map[string]string{
		"dQw4w9WgXcQ":                                 "dQw4w9WgXcQ",
		"youtu.be/dQw4w9WgXcQ":                        "dQw4w9WgXcQ",
		"https://www.youtube.com/live/dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"https://m.youtube.com/shorts/dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"https://www.youtube.com/@creator/live":       "https://www.youtube.com/@creator/live",
		"":                                            "",
	}
	for in, want := range tests {
		if got := NormalizeVideoID(in); got != want {
			t.Fatalf("NormalizeVideoID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeChannelURL(t *testing.T) {
	if got := NormalizeChannel("https://www.twitch.tv/SomeOne/videos"); got != "someone" {
		t.Fatalf("NormalizeChannel() = %q", got)
	}
}

func TestEnabledProvidersOrder(t *testing.T) {
	got := EmoteProviders{FFZ: true, SevenTV: true}.Enabled()
	want := []EmoteProvider{ProviderTwitch, ProviderFFZ, ProviderSevenTV}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Enabled() = %v", got)
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(ErrNotLive) || !Terminal(ErrUnauthenticated) || Terminal(ErrTransport) {
		t.Fatalf("Terminal classification wrong")
	}
}
