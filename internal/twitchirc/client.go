// Package twitchirc is the Twitch chat adapter: IRC over WebSocket with
// anonymous or token login, keepalive, reconnect and outbound PRIVMSG.
package twitchirc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"

	"github.com/you/chatdeck/internal/backoff"
	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/twitchbadges"
)

const (
	defaultPingInterval = 4 * time.Minute
	defaultIdleTimeout  = 6 * time.Minute
	// Twitch allows 20 messages per 30 seconds for regular users.
	sendBurst  = 20
	sendWindow = 30 * time.Second
)

type Config struct {
	Channel string
	// Nick is the login paired with the access token. Ignored when
	// connecting anonymously.
	Nick string
	Auth core.TokenProvider

	URL  string
	Dial Dialer

	Emotes  *emotes.Resolver
	Badges  *twitchbadges.Resolver
	Status  core.StatusFunc
	Metrics *Metrics

	Backoff      backoff.Policy
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

type Handler func(core.ChatMessage)

type Client struct {
	cfg     Config
	handle  Handler
	limiter *rate.Limiter
	drops   *dropLogger

	mu        sync.Mutex
	conn      Conn
	ready     bool
	anonymous bool
	roomID    string
	// readOnly holds the auth failure that forced the anonymous fallback.
	// It is kept for the life of the client; a token change restarts the
	// adapter.
	readOnly error
}

var errAuthFailed = errors.New("twitchirc: authentication failed")

func New(cfg Config, h Handler) *Client {
	cfg.Channel = core.NormalizeChannel(cfg.Channel)
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.Upstream
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Client{
		cfg:     cfg,
		handle:  h,
		limiter: rate.NewLimiter(rate.Every(sendWindow/sendBurst), sendBurst),
		drops:   newDropLogger(time.Now(), debugDropsFromEnv()),
	}
}

// Run connects and keeps the connection alive until ctx ends. Failures are
// retried forever with the upstream backoff; an auth failure triggers one
// token refresh, after which the client falls back to an anonymous,
// read-only identity and keeps reporting core.StateUnauthenticated.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.Channel == "" {
		return errors.New("twitchirc: channel is required")
	}

	bo := backoff.New(c.cfg.Backoff)
	refreshTried := false
	first := true

	for {
		if ctx.Err() != nil {
			c.cfg.Status.Report(core.StateDisconnected, nil)
			return ctx.Err()
		}
		if !first {
			c.cfg.Metrics.incReconnect()
		}
		first = false

		err := c.runOnce(ctx, bo, &refreshTried)
		c.setConn(nil, false, false)
		if ctx.Err() != nil || core.Canceled(err) {
			c.cfg.Status.Report(core.StateDisconnected, nil)
			return ctx.Err()
		}

		if errors.Is(err, errAuthFailed) {
			if !refreshTried && c.cfg.Auth != nil {
				refreshTried = true
				log.Printf("twitchirc: authentication failed; refreshing token")
				_, rerr := c.cfg.Auth.Refresh(ctx, core.PlatformTwitch)
				if rerr == nil {
					continue
				}
				err = fmt.Errorf("%w: %v", core.ErrUnauthenticated, rerr)
			} else {
				err = fmt.Errorf("%w: credentials rejected", core.ErrUnauthenticated)
			}
			log.Printf("twitchirc: %v; continuing read-only", err)
			c.mu.Lock()
			c.readOnly = err
			c.mu.Unlock()
			c.cfg.Status.Report(core.StateUnauthenticated, err)
			continue
		}

		delay, _ := bo.Next()
		log.Printf("twitchirc: disconnected: %v; reconnecting in %s", err, delay)
		c.cfg.Status.Report(core.StateReconnecting, err)
		if !backoff.Sleep(ctx, delay) {
			c.cfg.Status.Report(core.StateDisconnected, nil)
			return ctx.Err()
		}
	}
}

// identity returns PASS and NICK values and whether they are anonymous.
func (c *Client) identity(forceAnon bool) (pass, nick string, anonymous bool) {
	if !forceAnon && c.cfg.Auth != nil {
		if tok, ok := c.cfg.Auth.Token(core.PlatformTwitch); ok && strings.TrimSpace(tok.AccessToken) != "" {
			nick = strings.ToLower(strings.TrimSpace(c.cfg.Nick))
			if nick == "" {
				nick = c.cfg.Channel
			}
			return "oauth:" + strings.TrimPrefix(strings.TrimSpace(tok.AccessToken), "oauth:"), nick, false
		}
	}
	return "SCHMOOPIIE", "justinfan" + strconv.Itoa(10000+rand.IntN(90000)), true
}

func (c *Client) runOnce(ctx context.Context, bo *backoff.Backoff, refreshTried *bool) error {
	readOnly := c.ReadOnly()
	pass, nick, anonymous := c.identity(readOnly != nil)

	if readOnly == nil {
		c.cfg.Status.Report(core.StateConnecting, nil)
	}
	log.Printf("twitchirc: connecting to %s as %s", c.cfg.URL, nick)

	conn, err := c.cfg.Dial(ctx, c.cfg.URL)
	if err != nil {
		if !errors.Is(err, core.ErrTransport) {
			err = fmt.Errorf("%w: %v", core.ErrTransport, err)
		}
		return err
	}
	defer conn.Close()
	c.setConn(conn, false, anonymous)

	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
		"PASS " + pass,
		"NICK " + nick,
		"JOIN #" + c.cfg.Channel,
	} {
		if err := conn.WriteLine(ctx, line); err != nil {
			return fmt.Errorf("%w: handshake: %v", core.ErrTransport, err)
		}
	}

	type frame struct {
		data string
		err  error
	}
	frames := make(chan frame, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			data, err := conn.ReadFrame(ctx)
			select {
			case frames <- frame{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	tick := c.cfg.PingInterval / 4
	if tick > 30*time.Second {
		tick = 30 * time.Second
	}
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	lastRecv := time.Now()
	lastPing := lastRecv
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-frames:
			if f.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: read: %v", core.ErrTransport, f.err)
			}
			lastRecv = time.Now()
			for _, line := range splitLines(f.data) {
				if err := c.handleLine(ctx, conn, line, nick, bo, refreshTried); err != nil {
					return err
				}
			}

		case now := <-ticker.C:
			idle := now.Sub(lastRecv)
			if idle >= c.cfg.IdleTimeout {
				return fmt.Errorf("%w: no server traffic for %s", core.ErrTransport, idle.Round(time.Second))
			}
			if idle >= c.cfg.PingInterval && now.Sub(lastPing) >= c.cfg.PingInterval {
				if err := conn.WriteLine(ctx, "PING :tmi.twitch.tv"); err != nil {
					return fmt.Errorf("%w: send PING: %v", core.ErrTransport, err)
				}
				lastPing = now
			}
		}
	}
}

func (c *Client) handleLine(ctx context.Context, conn Conn, line, nick string, bo *backoff.Backoff, refreshTried *bool) error {
	if authFailure(line) {
		return errAuthFailed
	}
	if strings.HasPrefix(line, "PING") {
		payload := strings.TrimSpace(strings.TrimPrefix(line, "PING"))
		if payload == "" {
			payload = ":tmi.twitch.tv"
		}
		if err := conn.WriteLine(ctx, "PONG "+payload); err != nil {
			return fmt.Errorf("%w: send PONG: %v", core.ErrTransport, err)
		}
		return nil
	}
	switch ircCommand(line) {
	case "RECONNECT":
		return fmt.Errorf("%w: server requested reconnect", core.ErrTransport)
	case "001":
		c.mu.Lock()
		c.ready = true
		anonymous, readOnly := c.anonymous, c.readOnly
		c.mu.Unlock()
		bo.Reset()
		if !anonymous {
			*refreshTried = false
		}
		log.Printf("twitchirc: joined #%s as %s", c.cfg.Channel, nick)
		if readOnly != nil {
			c.cfg.Status.Report(core.StateUnauthenticated, readOnly)
			return nil
		}
		c.cfg.Status.Report(core.StateConnected, nil)
		return nil
	}

	msg, err := parseLine(line)
	if err != nil {
		log.Printf("twitchirc: %v", err)
		c.cfg.Metrics.incDropped("malformed")
		c.drops.note(time.Now(), "malformed", line)
		return nil
	}

	switch m := msg.(type) {
	case *twitch.PrivateMessage:
		if !strings.EqualFold(m.Channel, c.cfg.Channel) {
			c.drop("other_channel", line)
			return nil
		}
		c.mu.Lock()
		if m.RoomID == "" {
			m.RoomID = c.roomID
		}
		c.mu.Unlock()
		chat, err := toChatMessage(ctx, m, c.cfg.Badges, c.cfg.Emotes)
		if err != nil {
			c.drop("invalid", line)
			return nil
		}
		c.cfg.Metrics.incReceived()
		if c.handle != nil {
			c.handle(chat)
		}
	case *twitch.RoomStateMessage:
		c.onRoomState(ctx, m.RoomID)
	case *twitch.NoticeMessage:
		log.Printf("twitchirc: notice %s: %s", m.MsgID, redact(m.Message, dropSampleMaxLen))
	default:
		c.drop("not_privmsg", line)
	}
	return nil
}

func (c *Client) drop(reason, line string) {
	c.cfg.Metrics.incDropped(reason)
	c.drops.note(time.Now(), reason, line)
}

// onRoomState records the channel id and loads the channel catalogs once
// per id.
func (c *Client) onRoomState(ctx context.Context, roomID string) {
	if roomID == "" {
		return
	}
	c.mu.Lock()
	known := c.roomID == roomID
	c.roomID = roomID
	c.mu.Unlock()
	if known || c.cfg.Emotes == nil {
		return
	}
	scope := emotes.Scope{Channel: c.cfg.Channel, ChannelID: roomID}
	go c.cfg.Emotes.Load(ctx, scope)
}

func (c *Client) setConn(conn Conn, ready, anonymous bool) {
	c.mu.Lock()
	c.conn = conn
	c.ready = ready
	c.anonymous = anonymous
	c.mu.Unlock()
}

// Send writes a PRIVMSG on the live connection. Anonymous identities and a
// missing connection fail with core.ErrPermission without writing.
func (c *Client) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(text, "\r", " "), "\n", " "))
	if text == "" {
		return errors.New("twitchirc: empty message")
	}

	c.mu.Lock()
	conn, ready, anonymous := c.conn, c.ready, c.anonymous
	c.mu.Unlock()

	if conn == nil || !ready {
		return fmt.Errorf("%w: twitch chat is not connected", core.ErrPermission)
	}
	if anonymous {
		return fmt.Errorf("%w: anonymous twitch identity cannot send", core.ErrPermission)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := conn.WriteLine(ctx, "PRIVMSG #"+c.cfg.Channel+" :"+text); err != nil {
		return fmt.Errorf("%w: send: %v", core.ErrTransport, err)
	}
	c.cfg.Metrics.incSent()
	return nil
}

// ReadOnly returns the auth failure that forced the anonymous fallback, or
// nil while the client uses its configured identity.
func (c *Client) ReadOnly() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// RoomID is the numeric channel id once ROOMSTATE has been seen.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}
