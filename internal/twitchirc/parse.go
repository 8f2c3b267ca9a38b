package twitchirc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/twitchbadges"
)

// parseLine wraps the IRC parser so a malformed line is dropped instead of
// taking the read loop down.
func parseLine(line string) (msg twitch.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = fmt.Errorf("%w: unparseable line: %v", core.ErrProtocol, r)
		}
	}()
	return twitch.ParseMessage(line), nil
}

// ircCommand returns the command word of a raw line with tags and prefix
// stripped.
func ircCommand(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "@") {
		_, rest, ok := strings.Cut(line, " ")
		if !ok {
			return ""
		}
		line = strings.TrimSpace(rest)
	}
	if strings.HasPrefix(line, ":") {
		_, rest, ok := strings.Cut(line, " ")
		if !ok {
			return ""
		}
		line = strings.TrimSpace(rest)
	}
	cmd, _, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd)
}

func authFailure(line string) bool {
	if ircCommand(line) != "NOTICE" {
		return false
	}
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "authentication failed")
}

// badgeRefs keeps the order of the badges tag.
func badgeRefs(raw string) []twitchbadges.Ref {
	if raw == "" {
		return nil
	}
	var out []twitchbadges.Ref
	for _, part := range strings.Split(raw, ",") {
		set, version, _ := strings.Cut(strings.TrimSpace(part), "/")
		if set == "" {
			continue
		}
		out = append(out, twitchbadges.Ref{Set: set, Version: version})
	}
	return out
}

func rolesFromBadges(refs []twitchbadges.Ref) []core.UserRole {
	var roles []core.UserRole
	for _, r := range refs {
		switch r.Set {
		case "broadcaster":
			roles = append(roles, core.RoleBroadcaster)
		case "moderator":
			roles = append(roles, core.RoleModerator)
		case "vip":
			roles = append(roles, core.RoleVIP)
		case "subscriber", "founder":
			roles = append(roles, core.RoleSubscriber)
		}
	}
	return roles
}

// nativeEmotes converts the emotes tag into catalog entries, ordered by
// first position in the text.
func nativeEmotes(list []*twitch.Emote) []core.Emote {
	type placed struct {
		e   core.Emote
		pos int
	}
	items := make([]placed, 0, len(list))
	for _, e := range list {
		if e == nil || e.Name == "" || e.ID == "" {
			continue
		}
		pos := 1 << 30
		for _, p := range e.Positions {
			if p.Start < pos {
				pos = p.Start
			}
		}
		items = append(items, placed{
			e:   core.Emote{Code: e.Name, EmoteID: e.ID, URL: emotes.NativeTwitchURL(e.ID), Provider: core.ProviderTwitch},
			pos: pos,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].pos < items[j].pos })
	out := make([]core.Emote, 0, len(items))
	for _, it := range items {
		out = append(out, it.e)
	}
	return out
}

// toChatMessage builds the canonical message for a PRIVMSG. Native emotes
// come from the tag; remaining tokens are matched against the catalogs.
func toChatMessage(ctx context.Context, m *twitch.PrivateMessage, badges *twitchbadges.Resolver, resolver *emotes.Resolver) (core.ChatMessage, error) {
	refs := badgeRefs(m.Tags["badges"])

	display := strings.TrimSpace(m.User.DisplayName)
	if display == "" {
		display = m.User.Name
	}
	id := m.User.ID
	if id == "" {
		id = m.User.Name
	}

	user := core.ChatUser{
		ID:          id,
		DisplayName: display,
		Color:       m.User.Color,
		Roles:       rolesFromBadges(refs),
		Badges:      badges.Enrich(ctx, m.RoomID, refs),
	}

	found := emotes.Merge(nativeEmotes(m.Emotes), resolver.Resolve(m.Message))
	return core.NewChatMessage(core.PlatformTwitch, user, m.Message,
		core.WithID(m.ID),
		core.WithEmotes(found),
		core.WithAction(m.Action),
	)
}
