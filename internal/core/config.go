package core

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	MinHistory     = 10
	MaxHistory     = 200
	DefaultHistory = 50
)

// EmoteProviders toggles the third-party catalogs. Native catalogs are always on.
type EmoteProviders struct {
	FFZ     bool `json:"enable_ffz"`
	BTTV    bool `json:"enable_bttv"`
	SevenTV bool `json:"enable_7tv"`
}

// Enabled lists active providers in resolution order.
func (e EmoteProviders) Enabled() []EmoteProvider {
	out := []EmoteProvider{ProviderTwitch}
	if e.FFZ {
		out = append(out, ProviderFFZ)
	}
	if e.BTTV {
		out = append(out, ProviderBTTV)
	}
	if e.SevenTV {
		out = append(out, ProviderSevenTV)
	}
	return out
}

// ChatConfig is an immutable snapshot per reconfiguration cycle.
type ChatConfig struct {
	TwitchEnabled  bool   `json:"twitch_enabled"`
	TwitchChannel  string `json:"twitch_channel"`
	YouTubeEnabled bool   `json:"youtube_enabled"`
	YouTubeVideoID string `json:"youtube_video_id"`

	EmoteProviders

	MaxMessages       int  `json:"max_messages"`
	ShowTimestamps    bool `json:"show_timestamps"`
	ShowBadges        bool `json:"show_badges"`
	ShowPlatformIcons bool `json:"show_platform_icons"`
	UnifiedView       bool `json:"unified_view"`

	FilterByRoles    []UserRole `json:"filter_by_roles"`
	BlockedKeywords  []string   `json:"blocked_keywords"`
	MinMessageLength int        `json:"min_message_length"`
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		EmoteProviders:    EmoteProviders{FFZ: true, BTTV: true, SevenTV: true},
		MaxMessages:       DefaultHistory,
		ShowTimestamps:    true,
		ShowBadges:        true,
		ShowPlatformIcons: true,
		UnifiedView:       true,
	}
}

// Normalize returns a copy with identifiers cleaned and limits clamped.
func (c ChatConfig) Normalize() ChatConfig {
	c.TwitchChannel = NormalizeChannel(c.TwitchChannel)
	c.YouTubeVideoID = NormalizeVideoID(c.YouTubeVideoID)
	c.MaxMessages = ClampHistory(c.MaxMessages)
	if c.MinMessageLength < 0 {
		c.MinMessageLength = 0
	}
	c.FilterByRoles = append([]UserRole(nil), c.FilterByRoles...)
	c.BlockedKeywords = append([]string(nil), c.BlockedKeywords...)
	return c
}

// TwitchActive reports whether a Twitch adapter should be running.
func (c ChatConfig) TwitchActive() bool {
	return c.TwitchEnabled && c.TwitchChannel != ""
}

// YouTubeActive reports whether a YouTube adapter should be running. An
// empty video id means "auto-detect the authenticated channel's broadcast".
func (c ChatConfig) YouTubeActive() bool {
	return c.YouTubeEnabled
}

func ClampHistory(n int) int {
	switch {
	case n <= 0:
		return DefaultHistory
	case n < MinHistory:
		return MinHistory
	case n > MaxHistory:
		return MaxHistory
	}
	return n
}

func NormalizeChannel(raw string) string {
	ch := strings.ToLower(strings.TrimSpace(raw))
	ch = strings.TrimPrefix(ch, "#")
	if u, err := url.Parse(ch); err == nil && strings.HasSuffix(u.Host, "twitch.tv") {
		ch = strings.Trim(u.Path, "/")
		if idx := strings.IndexByte(ch, '/'); idx != -1 {
			ch = ch[:idx]
		}
	}
	return ch
}

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// NormalizeVideoID accepts a bare id or a watch, live, shorts, embed or
// youtu.be URL and returns the 11-character video id. Input it cannot
// interpret is returned trimmed.
func NormalizeVideoID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || videoIDRe.MatchString(s) {
		return s
	}
	candidate := s
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return s
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); videoIDRe.MatchString(id) {
			return id
		}
	case "youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); videoIDRe.MatchString(id) {
			return id
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "live", "shorts", "embed":
				if videoIDRe.MatchString(parts[1]) {
					return parts[1]
				}
			}
		}
	}
	return s
}
