package core

import (
	"context"
	"strings"
	"time"
)

type AuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        []string  `json:"scope,omitempty"`
}

func (t AuthTokens) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Valid reports whether the access token is present and not expired.
func (t AuthTokens) Valid(now time.Time) bool {
	return strings.TrimSpace(t.AccessToken) != "" && !t.Expired(now)
}

// TokenProvider is the core's view of the external auth store: read the
// current tokens, or ask the store to refresh them after an auth failure.
type TokenProvider interface {
	Token(p Platform) (AuthTokens, bool)
	Refresh(ctx context.Context, p Platform) (AuthTokens, error)
}
