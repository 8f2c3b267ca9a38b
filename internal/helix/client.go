// Package helix is a small app-token client for the Twitch Helix endpoints
// the chat adapters need: user lookup, chat badges and chat emotes.
package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	defaultBaseURL  = "https://api.twitch.tv/helix"
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
)

// ErrNotConfigured is returned when no client credentials are available.
var ErrNotConfigured = errors.New("helix: client credentials not configured")

type Client struct {
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
	BaseURL      string
	TokenURL     string

	mu    sync.Mutex
	token cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

func New(clientID, clientSecret string) *Client {
	return &Client{ClientID: clientID, ClientSecret: clientSecret}
}

// Configured reports whether app credentials are present. A nil client is
// never configured.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

type BadgeSet struct {
	SetID    string         `json:"set_id"`
	Versions []BadgeVersion `json:"versions"`
}

type BadgeVersion struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ImageURL1x string `json:"image_url_1x"`
	ImageURL2x string `json:"image_url_2x"`
	ImageURL4x string `json:"image_url_4x"`
}

type Emote struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Format []string `json:"format"`
}

// Animated reports whether Helix offers an animated rendition.
func (e Emote) Animated() bool {
	for _, f := range e.Format {
		if f == "animated" {
			return true
		}
	}
	return false
}

// UserID resolves a login to a broadcaster id.
func (c *Client) UserID(ctx context.Context, login string) (string, error) {
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/users?login="+url.QueryEscape(strings.ToLower(login)), &parsed); err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 || parsed.Data[0].ID == "" {
		return "", fmt.Errorf("helix: user %q not found", login)
	}
	return parsed.Data[0].ID, nil
}

// BadgeSets fetches global badges when broadcasterID is empty, channel
// badges otherwise.
func (c *Client) BadgeSets(ctx context.Context, broadcasterID string) ([]BadgeSet, error) {
	path := "/chat/badges/global"
	if broadcasterID != "" {
		path = "/chat/badges?broadcaster_id=" + url.QueryEscape(broadcasterID)
	}
	var parsed struct {
		Data []BadgeSet `json:"data"`
	}
	if err := c.get(ctx, path, &parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}

// Emotes fetches global emotes when broadcasterID is empty, channel emotes
// otherwise.
func (c *Client) Emotes(ctx context.Context, broadcasterID string) ([]Emote, error) {
	path := "/chat/emotes/global"
	if broadcasterID != "" {
		path = "/chat/emotes?broadcaster_id=" + url.QueryEscape(broadcasterID)
	}
	var parsed struct {
		Data []Emote `json:"data"`
	}
	if err := c.get(ctx, path, &parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	token, err := c.AppToken(ctx)
	if err != nil {
		return fmt.Errorf("helix: app token: %w", err)
	}

	base := strings.TrimSuffix(c.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("helix: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", strings.TrimSpace(c.ClientID))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("helix: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = cachedToken{}
		c.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("helix: %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("helix: decode %s: %w", path, err)
	}
	return nil
}

// AppToken returns a cached client-credentials token, fetching a new one
// when it is missing or expired.
func (c *Client) AppToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.token != "" && time.Now().Before(c.token.expiresAt) {
		token := c.token.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("client_id", strings.TrimSpace(c.ClientID))
	form.Set("client_secret", strings.TrimSpace(c.ClientSecret))
	form.Set("grant_type", "client_credentials")

	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	token := strings.TrimSpace(parsed.AccessToken)
	if token == "" {
		return "", errors.New("empty access_token")
	}

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if parsed.ExpiresIn <= 0 {
		expiresIn = time.Hour
	}
	// expire a minute early
	if expiresIn > 2*time.Minute {
		expiresIn -= time.Minute
	}

	c.mu.Lock()
	c.token = cachedToken{token: token, expiresAt: time.Now().Add(expiresIn)}
	c.mu.Unlock()
	return token, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// IsNumericID reports whether value looks like a Twitch user id.
func IsNumericID(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
