package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformTwitch, PlatformYouTube}

func (p Platform) Valid() bool {
	return p == PlatformTwitch || p == PlatformYouTube
}

func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("core: unknown platform %q", raw)
	}
	return p, nil
}

// UserRole is display metadata only; nothing authorizes on it.
type UserRole string

const (
	RoleBroadcaster UserRole = "broadcaster"
	RoleModerator   UserRole = "moderator"
	RoleVIP         UserRole = "vip"
	RoleSubscriber  UserRole = "subscriber"
	RoleMember      UserRole = "member"
	RoleViewer      UserRole = "viewer"
)

var roleRank = map[UserRole]int{
	RoleBroadcaster: 0,
	RoleModerator:   1,
	RoleVIP:         2,
	RoleSubscriber:  3,
	RoleMember:      4,
	RoleViewer:      5,
}

// SortRoles dedupes roles and orders them broadcaster first, viewer last.
// Unknown roles are dropped.
func SortRoles(roles []UserRole) []UserRole {
	var seen [6]bool
	for _, r := range roles {
		if rank, ok := roleRank[r]; ok {
			seen[rank] = true
		}
	}
	ordered := []UserRole{RoleBroadcaster, RoleModerator, RoleVIP, RoleSubscriber, RoleMember, RoleViewer}
	out := make([]UserRole, 0, len(roles))
	for i, r := range ordered {
		if seen[i] {
			out = append(out, r)
		}
	}
	return out
}

type ChatBadge struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// Initial is what a display client renders when the badge has no icon.
func (b ChatBadge) Initial() string {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return ""
	}
	return strings.ToUpper(string([]rune(name)[:1]))
}

type ChatUser struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Color       string      `json:"color,omitempty"`
	Roles       []UserRole  `json:"roles"`
	Badges      []ChatBadge `json:"badges"`
}

// Key identifies a user across platforms. Display names are not unique.
func (u ChatUser) Key(p Platform) string {
	return string(p) + ":" + u.ID
}

type EmoteProvider string

const (
	ProviderTwitch  EmoteProvider = "native-twitch"
	ProviderYouTube EmoteProvider = "native-youtube"
	ProviderFFZ     EmoteProvider = "ffz"
	ProviderBTTV    EmoteProvider = "bttv"
	ProviderSevenTV EmoteProvider = "seventv"
)

// ProviderOrder is the tie-break order used when two catalogs share a code.
var ProviderOrder = []EmoteProvider{ProviderTwitch, ProviderFFZ, ProviderBTTV, ProviderSevenTV}

type Emote struct {
	Code     string        `json:"code"`
	EmoteID  string        `json:"emote_id,omitempty"`
	URL      string        `json:"url"`
	Provider EmoteProvider `json:"provider"`
	Animated bool          `json:"is_animated"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Platform  Platform  `json:"platform"`
	User      ChatUser  `json:"user"`
	Message   string    `json:"message"`
	Emotes    []Emote   `json:"emotes"`
	Timestamp time.Time `json:"timestamp"`
	IsAction  bool      `json:"is_action"`
}

var (
	errMissingDisplayName = errors.New("core: display name is required")
	errMissingPlatform    = errors.New("core: platform is required")
)

// MessageOption adjusts a message during construction.
type MessageOption func(*ChatMessage)

// WithID sets the platform message id. Empty ids fall back to a random UUID.
func WithID(id string) MessageOption {
	return func(m *ChatMessage) { m.ID = strings.TrimSpace(id) }
}

func WithEmotes(emotes []Emote) MessageOption {
	return func(m *ChatMessage) { m.Emotes = append([]Emote(nil), emotes...) }
}

func WithAction(action bool) MessageOption {
	return func(m *ChatMessage) { m.IsAction = action }
}

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) MessageOption {
	return func(m *ChatMessage) { m.Timestamp = now().UTC() }
}

// NewChatMessage validates and builds a message stamped with the capture time.
func NewChatMessage(platform Platform, user ChatUser, text string, opts ...MessageOption) (ChatMessage, error) {
	if platform == "" {
		return ChatMessage{}, errMissingPlatform
	}
	if !platform.Valid() {
		return ChatMessage{}, fmt.Errorf("core: unknown platform %q", platform)
	}
	user.DisplayName = strings.TrimSpace(user.DisplayName)
	if user.DisplayName == "" {
		return ChatMessage{}, errMissingDisplayName
	}
	user.Roles = SortRoles(user.Roles)
	if len(user.Roles) == 0 {
		user.Roles = []UserRole{RoleViewer}
	}
	user.Badges = append([]ChatBadge(nil), user.Badges...)

	msg := ChatMessage{
		Platform:  platform,
		User:      user,
		Message:   text,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&msg)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Emotes == nil {
		msg.Emotes = []Emote{}
	}
	return msg, nil
}

// Clone returns a deep copy so callers cannot mutate shared history entries.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.Emotes = append([]Emote(nil), m.Emotes...)
	out.User.Roles = append([]UserRole(nil), m.User.Roles...)
	out.User.Badges = append([]ChatBadge(nil), m.User.Badges...)
	return out
}
