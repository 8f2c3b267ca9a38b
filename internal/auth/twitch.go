package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/chatdeck/internal/core"
)

var (
	twitchTokenEndpoint    = "https://id.twitch.tv/oauth2/token"
	twitchValidateEndpoint = "https://id.twitch.tv/oauth2/validate"
)

const defaultRefreshTimeout = 15 * time.Second

// TwitchRefresher runs the Twitch refresh-token grant.
type TwitchRefresher struct {
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
}

type twitchTokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
	Status       int      `json:"status"`
	Message      string   `json:"message"`
	Error        string   `json:"error"`
	ErrorDesc    string   `json:"error_description"`
}

func (r *TwitchRefresher) Refresh(ctx context.Context, current core.AuthTokens) (core.AuthTokens, error) {
	clientID := strings.TrimSpace(r.ClientID)
	clientSecret := strings.TrimSpace(r.ClientSecret)
	refresh := strings.TrimSpace(current.RefreshToken)
	if clientID == "" || clientSecret == "" || refresh == "" {
		return core.AuthTokens{}, errors.New("twitch: refresh requires client credentials and refresh token")
	}

	reqCtx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, twitchTokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("twitch: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient(r.HTTP).Do(req)
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("%w: twitch refresh request: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("twitch: read refresh response: %w", err)
	}
	var parsed twitchTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return core.AuthTokens{}, fmt.Errorf("%w: decode twitch refresh response: %v", core.ErrProtocol, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(parsed.Message)
		if msg == "" {
			msg = strings.TrimSpace(parsed.ErrorDesc)
		}
		if msg == "" {
			msg = strings.TrimSpace(parsed.Error)
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return core.AuthTokens{}, fmt.Errorf("%w: twitch refresh: %s", core.ErrAuth, msg)
	}

	token := strings.TrimSpace(parsed.AccessToken)
	if token == "" {
		return core.AuthTokens{}, errors.New("twitch: refresh returned empty token")
	}
	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if parsed.ExpiresIn <= 0 {
		expiresIn = time.Hour
	}
	return core.AuthTokens{
		AccessToken:  token,
		RefreshToken: strings.TrimSpace(parsed.RefreshToken),
		ExpiresAt:    time.Now().Add(expiresIn).UTC(),
		Scope:        parsed.Scope,
	}, nil
}

// ValidateTwitchLogin returns the login the access token belongs to. The
// IRC NICK must match it.
func ValidateTwitchLogin(ctx context.Context, hc *http.Client, access string) (string, error) {
	access = strings.TrimPrefix(strings.TrimSpace(access), "oauth:")
	if access == "" {
		return "", errors.New("twitch: empty access token")
	}
	reqCtx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, twitchValidateEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "OAuth "+access)
	resp, err := httpClient(hc).Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: twitch validate: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: twitch token rejected", core.ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twitch: validate status %d", resp.StatusCode)
	}
	var v struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("%w: decode validate response: %v", core.ErrProtocol, err)
	}
	if v.Login == "" {
		return "", errors.New("twitch: validate returned no login")
	}
	return strings.ToLower(v.Login), nil
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRefreshTimeout)
}

func httpClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return http.DefaultClient
}
