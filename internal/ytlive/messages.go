package ytlive

import (
	"fmt"
	"strings"

	"google.golang.org/api/youtube/v3"

	"github.com/you/chatdeck/internal/core"
)

const twemojiBase = "https://cdn.jsdelivr.net/gh/twitter/twemoji@14.0.2/assets/72x72/"

// run is a stretch of message text that is either plain text or one emoji.
type run struct {
	text  string
	emoji bool
}

const (
	zwj            = '‍'
	variationSel16 = '️'
)

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	case r == 0x203C || r == 0x2049 || r == 0x3030 || r == 0x303D:
		return true
	}
	return false
}

func isModifier(r rune) bool {
	return r == zwj || r == variationSel16 || (r >= 0x1F3FB && r <= 0x1F3FF) || r == 0x20E3
}

func isRegionalIndicator(r rune) bool { return r >= 0x1F1E6 && r <= 0x1F1FF }

// splitRuns breaks text into text runs and emoji runs. ZWJ sequences,
// skin-tone modifiers and flag pairs stay in one emoji run.
func splitRuns(text string) []run {
	var (
		out     []run
		buf     []rune
		inEmoji bool
		flagLen int
	)
	flush := func() {
		if len(buf) > 0 {
			out = append(out, run{text: string(buf), emoji: inEmoji})
		}
		buf = buf[:0]
		flagLen = 0
	}

	for _, r := range text {
		switch {
		case inEmoji && len(buf) > 0 && (isModifier(r) || buf[len(buf)-1] == zwj):
			buf = append(buf, r)
		case isRegionalIndicator(r):
			if inEmoji && flagLen == 1 {
				buf = append(buf, r)
				flagLen = 2
				continue
			}
			flush()
			inEmoji = true
			buf = append(buf, r)
			flagLen = 1
		case isEmojiRune(r):
			flush()
			inEmoji = true
			buf = append(buf, r)
		default:
			if inEmoji {
				flush()
				inEmoji = false
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

func twemojiURL(emoji string) string {
	hasZWJ := strings.ContainsRune(emoji, zwj)
	parts := make([]string, 0, 4)
	for _, r := range emoji {
		if r == variationSel16 && !hasZWJ {
			continue
		}
		parts = append(parts, fmt.Sprintf("%x", r))
	}
	return twemojiBase + strings.Join(parts, "-") + ".png"
}

// emojiEmotes lists each distinct emoji of text once, in order.
func emojiEmotes(text string) []core.Emote {
	out := []core.Emote{}
	seen := map[string]bool{}
	for _, r := range splitRuns(text) {
		if !r.emoji || seen[r.text] {
			continue
		}
		seen[r.text] = true
		out = append(out, core.Emote{
			Code:     r.text,
			URL:      twemojiURL(r.text),
			Provider: core.ProviderYouTube,
		})
	}
	return out
}

func authorUser(a *youtube.LiveChatMessageAuthorDetails) core.ChatUser {
	if a == nil {
		return core.ChatUser{}
	}
	user := core.ChatUser{ID: a.ChannelId, DisplayName: a.DisplayName}
	if strings.TrimSpace(user.DisplayName) == "" {
		user.DisplayName = a.ChannelId
	}
	if a.IsChatOwner {
		user.Roles = append(user.Roles, core.RoleBroadcaster)
		user.Badges = append(user.Badges, core.ChatBadge{Name: "owner"})
	}
	if a.IsChatModerator {
		user.Roles = append(user.Roles, core.RoleModerator)
		user.Badges = append(user.Badges, core.ChatBadge{Name: "moderator"})
	}
	if a.IsChatSponsor {
		user.Roles = append(user.Roles, core.RoleMember)
		user.Badges = append(user.Badges, core.ChatBadge{Name: "member"})
	}
	return user
}

// toChatMessage maps one API item. Items other than plain text messages are
// skipped.
func toChatMessage(item *youtube.LiveChatMessage) (core.ChatMessage, bool) {
	if item == nil || item.Snippet == nil || item.Snippet.Type != "textMessageEvent" {
		return core.ChatMessage{}, false
	}
	text := item.Snippet.DisplayMessage
	if d := item.Snippet.TextMessageDetails; d != nil && d.MessageText != "" {
		text = d.MessageText
	}
	if strings.TrimSpace(text) == "" {
		return core.ChatMessage{}, false
	}
	msg, err := core.NewChatMessage(core.PlatformYouTube, authorUser(item.AuthorDetails), text,
		core.WithID(item.Id),
		core.WithEmotes(emojiEmotes(text)),
	)
	if err != nil {
		return core.ChatMessage{}, false
	}
	return msg, true
}
