package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/you/chatdeck/internal/core"
)

// YouTubeScopes covers reading and posting live chat messages.
var YouTubeScopes = []string{"https://www.googleapis.com/auth/youtube.force-ssl"}

// GoogleRefresher refreshes YouTube tokens with the Google OAuth endpoint.
type GoogleRefresher struct {
	Config *oauth2.Config
	HTTP   *http.Client
}

func NewGoogleRefresher(clientID, clientSecret, redirectURL string) *GoogleRefresher {
	return &GoogleRefresher{Config: &oauth2.Config{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       YouTubeScopes,
	}}
}

func (g *GoogleRefresher) Refresh(ctx context.Context, current core.AuthTokens) (core.AuthTokens, error) {
	if g == nil || g.Config == nil || g.Config.ClientID == "" {
		return core.AuthTokens{}, errors.New("google: client id is not configured")
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		return core.AuthTokens{}, errors.New("google: no refresh token")
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	if g.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.HTTP)
	}

	// An expired token forces the source to hit the endpoint.
	stale := &oauth2.Token{RefreshToken: current.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := g.Config.TokenSource(ctx, stale).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return core.AuthTokens{}, fmt.Errorf("%w: google refresh: %s", core.ErrAuth, rerr.ErrorCode)
		}
		return core.AuthTokens{}, fmt.Errorf("%w: google refresh: %v", core.ErrTransport, err)
	}
	return core.AuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
		Scope:        current.Scope,
	}, nil
}
