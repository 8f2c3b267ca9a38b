package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/chatdeck/internal/core"
)

const defaultLimit = 50

// Order is the chronological order of a message listing.
type Order string

const (
	// OrderAsc returns messages oldest first, as the hub replays them.
	OrderAsc Order = "asc"
	// OrderDesc returns messages newest first.
	OrderDesc Order = "desc"
)

// Filters captures the parsed query parameters of /api/chat/messages.
type Filters struct {
	Platforms []core.Platform
	Users     []string
	Since     *time.Time
	Limit     int
	Order     Order
}

// ParseFilters parses query parameters into a Filters struct. The limit is
// capped by the history capacity at lookup time.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderAsc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > core.MaxHistory {
			n = core.MaxHistory
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			f.Order = OrderAsc
		case "desc":
			f.Order = OrderDesc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	seenPlatform := make(map[core.Platform]struct{})
	allowAll := false
	for _, part := range splitValues(values["platform"]) {
		p, ok := normalizePlatform(part)
		if !ok {
			return Filters{}, errors.New("invalid platform filter")
		}
		if p == "" {
			allowAll = true
			continue
		}
		if _, dup := seenPlatform[p]; !dup {
			seenPlatform[p] = struct{}{}
			f.Platforms = append(f.Platforms, p)
		}
	}
	if allowAll {
		f.Platforms = nil
	}

	seenUser := make(map[string]struct{})
	for _, part := range splitValues(append(values["user"], values["username"]...)) {
		lowered := strings.ToLower(part)
		if _, dup := seenUser[lowered]; !dup {
			seenUser[lowered] = struct{}{}
			f.Users = append(f.Users, lowered)
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func splitValues(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func normalizePlatform(p string) (core.Platform, bool) {
	switch strings.ToLower(p) {
	case "twitch", "tw", "t":
		return core.PlatformTwitch, true
	case "youtube", "yt", "y":
		return core.PlatformYouTube, true
	case "all", "*":
		return "", true
	default:
		return "", false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether msg satisfies the filters. Users match the display
// name by substring or the platform user id exactly.
func (f Filters) Matches(msg core.ChatMessage) bool {
	if len(f.Platforms) > 0 {
		match := false
		for _, p := range f.Platforms {
			if msg.Platform == p {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Users) > 0 {
		name := strings.ToLower(msg.User.DisplayName)
		id := strings.ToLower(msg.User.ID)
		match := false
		for _, u := range f.Users {
			if strings.Contains(name, u) || id == u {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.Since != nil && msg.Timestamp.Before(*f.Since) {
		return false
	}

	return true
}

// Apply filters history (oldest first) and returns at most Limit of the
// newest matches in the requested order.
func (f Filters) Apply(history []core.ChatMessage) []core.ChatMessage {
	out := make([]core.ChatMessage, 0, len(history))
	for _, msg := range history {
		if f.Matches(msg) {
			out = append(out, msg)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	if f.Order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
