// Package ytlive is the YouTube chat adapter. It resolves the live chat id of
// a broadcast through the YouTube Data API, polls liveChatMessages with an
// adaptive interval and posts outbound text messages.
package ytlive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/you/chatdeck/internal/backoff"
	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/telemetry"
)

const (
	tracerName         = "chatdeck/ytlive"
	defaultLiveRetries = 5
	seenLimit          = 2000
)

var errNoToken = errors.New("ytlive: no youtube access token")

type Config struct {
	// VideoID selects the broadcast. Empty means the authenticated channel's
	// active broadcast.
	VideoID string
	Auth    core.TokenProvider
	// APIKey is used for reads when no OAuth token is available.
	APIKey string

	HTTP     *http.Client
	Endpoint string
	Status   core.StatusFunc

	MinPoll     time.Duration
	MaxPoll     time.Duration
	LiveRetries int
	Backoff     backoff.Policy
}

type Handler func(core.ChatMessage)

type Client struct {
	cfg    Config
	handle Handler
	svc    *youtube.Service

	mu     sync.Mutex
	chatID string

	seen      map[string]struct{}
	seenOrder []string
}

// ParseVideoID accepts a bare video id or any common YouTube URL form.
func ParseVideoID(input string) string {
	return core.NormalizeVideoID(input)
}

func New(ctx context.Context, cfg Config, h Handler) (*Client, error) {
	cfg.VideoID = ParseVideoID(cfg.VideoID)
	if cfg.LiveRetries <= 0 {
		cfg.LiveRetries = defaultLiveRetries
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.Upstream
	}
	if cfg.MinPoll <= 0 {
		cfg.MinPoll = DefaultMinPoll
	}
	if cfg.MaxPoll <= 0 {
		cfg.MaxPoll = DefaultMaxPoll
	}

	base := http.DefaultTransport
	if cfg.HTTP != nil && cfg.HTTP.Transport != nil {
		base = cfg.HTTP.Transport
	}
	timeout := 15 * time.Second
	if cfg.HTTP != nil && cfg.HTTP.Timeout > 0 {
		timeout = cfg.HTTP.Timeout
	}
	hc := &http.Client{
		Timeout:   timeout,
		Transport: &bearerTransport{source: tokenSource{auth: cfg.Auth}, base: base},
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ytlive: create service: %w", err)
	}
	return &Client{cfg: cfg, handle: h, svc: svc, seen: make(map[string]struct{})}, nil
}

// tokenSource reads the current token from the auth store on every request
// so refreshed tokens apply without rebuilding the service.
type tokenSource struct {
	auth core.TokenProvider
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	if s.auth == nil {
		return nil, errNoToken
	}
	tok, ok := s.auth.Token(core.PlatformYouTube)
	if !ok || strings.TrimSpace(tok.AccessToken) == "" {
		return nil, errNoToken
	}
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tok.ExpiresAt,
	}, nil
}

// bearerTransport sets the Authorization header when a token is available
// and passes the request through unchanged otherwise, so API-key reads keep
// working.
type bearerTransport struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	tok.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}

func (c *Client) hasToken() bool {
	_, err := tokenSource{auth: c.cfg.Auth}.Token()
	return err == nil
}

// applyKey adds the API key to anonymous reads.
func (c *Client) applyKey(h http.Header) {
	if c.cfg.APIKey != "" && !c.hasToken() {
		h.Set("X-Goog-Api-Key", c.cfg.APIKey)
	}
}

// errUnauthorized marks a 401 before the refresh attempt.
var errUnauthorized = errors.New("ytlive: unauthorized")

// classify maps API errors onto the core error classes.
func classify(err error) error {
	if err == nil || core.Canceled(err) {
		return err
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	reason := ""
	if len(gerr.Errors) > 0 {
		reason = gerr.Errors[0].Reason
	}
	switch {
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", errUnauthorized, err)
	case reason == "liveChatEnded" || reason == "liveChatNotFound" || reason == "liveChatDisabled":
		return fmt.Errorf("%w: %s", core.ErrNotLive, reason)
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", core.ErrNotLive, err)
	case gerr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", core.ErrPermission, err)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	return fmt.Errorf("%w: %v", core.ErrProtocol, err)
}

// withAuthRetry runs call, refreshing the token once after a 401. A second
// 401 or a failed refresh yields core.ErrUnauthenticated.
func (c *Client) withAuthRetry(ctx context.Context, call func() error) error {
	err := classify(call())
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	if c.cfg.Auth == nil {
		return fmt.Errorf("%w: youtube rejected the request", core.ErrUnauthenticated)
	}
	log.Printf("ytlive: request unauthorized; refreshing token")
	if _, rerr := c.cfg.Auth.Refresh(ctx, core.PlatformYouTube); rerr != nil {
		if core.Canceled(rerr) {
			return rerr
		}
		return fmt.Errorf("%w: refresh: %v", core.ErrUnauthenticated, rerr)
	}
	err = classify(call())
	if errors.Is(err, errUnauthorized) {
		return fmt.Errorf("%w: youtube rejected the refreshed token", core.ErrUnauthenticated)
	}
	return err
}

// Run resolves the chat id and polls until ctx ends. It returns
// core.ErrUnauthenticated at once and core.ErrNotLive after LiveRetries
// failed resolutions; transport failures retry forever.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.VideoID == "" && !c.hasToken() {
		err := fmt.Errorf("%w: auto-detecting a broadcast needs a youtube token", core.ErrUnauthenticated)
		c.cfg.Status.Report(core.StateUnauthenticated, err)
		return err
	}

	bo := backoff.New(c.cfg.Backoff)
	interval := newPollInterval(c.cfg.MinPoll, c.cfg.MaxPoll)
	notLive := 0
	pageToken := ""

	wait := func(state core.SourceState, err error) bool {
		delay, _ := bo.Next()
		log.Printf("ytlive: %v; retrying in %s", err, delay)
		c.cfg.Status.Report(state, err)
		return backoff.Sleep(ctx, delay)
	}

	for {
		if ctx.Err() != nil {
			c.cfg.Status.Report(core.StateDisconnected, nil)
			return ctx.Err()
		}

		chatID := c.ChatID()
		if chatID == "" {
			c.cfg.Status.Report(core.StateResolving, nil)
			id, err := c.resolveChatID(ctx)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				c.cfg.Status.Report(core.StateDisconnected, nil)
				return ctx.Err()
			case errors.Is(err, core.ErrUnauthenticated):
				c.cfg.Status.Report(core.StateUnauthenticated, err)
				return err
			case errors.Is(err, core.ErrNotLive):
				notLive++
				if notLive >= c.cfg.LiveRetries {
					log.Printf("ytlive: giving up after %d attempts: %v", notLive, err)
					c.cfg.Status.Report(core.StateNotLive, err)
					return err
				}
				if !wait(core.StateNotLive, err) {
					c.cfg.Status.Report(core.StateDisconnected, nil)
					return ctx.Err()
				}
				continue
			default:
				if !wait(core.StateBackoff, err) {
					c.cfg.Status.Report(core.StateDisconnected, nil)
					return ctx.Err()
				}
				continue
			}
			c.setChatID(id)
			chatID = id
			notLive = 0
			pageToken = ""
			interval.reset()
			bo.Reset()
			log.Printf("ytlive: polling live chat %s", chatID)
			c.cfg.Status.Report(core.StatePolling, nil)
		}

		n, next, suggested, err := c.poll(ctx, chatID, pageToken)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			c.cfg.Status.Report(core.StateDisconnected, nil)
			return ctx.Err()
		case errors.Is(err, core.ErrUnauthenticated):
			c.cfg.Status.Report(core.StateUnauthenticated, err)
			return err
		case errors.Is(err, core.ErrNotLive):
			log.Printf("ytlive: chat %s ended: %v", chatID, err)
			c.setChatID("")
			continue
		default:
			if !wait(core.StateBackoff, err) {
				c.cfg.Status.Report(core.StateDisconnected, nil)
				return ctx.Err()
			}
			c.cfg.Status.Report(core.StatePolling, nil)
			continue
		}

		pageToken = next
		bo.Reset()
		if !backoff.Sleep(ctx, interval.next(n, suggested)) {
			c.cfg.Status.Report(core.StateDisconnected, nil)
			return ctx.Err()
		}
	}
}

// poll fetches one page and emits its messages. It returns the number of
// messages emitted, the next page token and the platform's suggested wait.
func (c *Client) poll(ctx context.Context, chatID, pageToken string) (int, string, time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "liveChatMessages.list",
		attribute.String("youtube.live_chat_id", chatID))

	var resp *youtube.LiveChatMessageListResponse
	err := c.withAuthRetry(ctx, func() error {
		call := c.svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		c.applyKey(call.Header())
		var err error
		resp, err = call.Do()
		return err
	})
	telemetry.End(span, err)
	if err != nil {
		return 0, pageToken, 0, err
	}

	emitted := 0
	for _, item := range resp.Items {
		if item == nil || c.markSeen(item.Id) {
			continue
		}
		msg, ok := toChatMessage(item)
		if !ok {
			continue
		}
		emitted++
		if c.handle != nil {
			c.handle(msg)
		}
	}
	suggested := time.Duration(resp.PollingIntervalMillis) * time.Millisecond
	return emitted, resp.NextPageToken, suggested, nil
}

// markSeen reports whether id was already emitted. Re-resolving a chat
// restarts paging, which replays recent items.
func (c *Client) markSeen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := c.seen[id]; ok {
		return true
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > seenLimit {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	return false
}

// Send posts a text message to the active chat.
func (c *Client) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("ytlive: empty message")
	}
	if !c.hasToken() {
		return fmt.Errorf("%w: youtube send requires a token", core.ErrPermission)
	}
	chatID := c.ChatID()
	if chatID == "" {
		return fmt.Errorf("%w: no active youtube chat", core.ErrNotLive)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "liveChatMessages.insert",
		attribute.String("youtube.live_chat_id", chatID))
	err := c.withAuthRetry(ctx, func() error {
		_, err := c.svc.LiveChatMessages.Insert([]string{"snippet"}, &youtube.LiveChatMessage{
			Snippet: &youtube.LiveChatMessageSnippet{
				LiveChatId: chatID,
				Type:       "textMessageEvent",
				TextMessageDetails: &youtube.LiveChatTextMessageDetails{
					MessageText: text,
				},
			},
		}).Context(ctx).Do()
		return err
	})
	telemetry.End(span, err)
	return err
}

// ChatID is the live chat currently polled, or empty while resolving.
func (c *Client) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

func (c *Client) setChatID(id string) {
	c.mu.Lock()
	c.chatID = id
	c.mu.Unlock()
}
