// Package feedclient is the display-client side of the push channel: it
// keeps a WebSocket to the local server open and reconnects with a capped
// backoff.
package feedclient

import (
	"context"
	"errors"
	"fmt"
	"log"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/chatdeck/internal/backoff"
	"github.com/you/chatdeck/internal/hub"
)

// ErrGaveUp is returned by Run once the reconnect budget is exhausted.
var ErrGaveUp = errors.New("feedclient: reconnect attempts exhausted")

const readLimit = 4 << 20

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateGaveUp       State = "gave_up"
)

type Config struct {
	// URL of the server WebSocket, e.g. ws://127.0.0.1:8765/ws.
	URL     string
	Backoff backoff.Policy
	// OnState observes connection state changes. Optional.
	OnState func(State, error)
}

// Handler receives every event in arrival order. A chat_history event
// follows each (re)connect and replaces whatever the client displayed.
type Handler func(hub.Event)

type Client struct {
	cfg    Config
	handle Handler
}

func New(cfg Config, h Handler) *Client {
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.Local
	}
	return &Client{cfg: cfg, handle: h}
}

// Run reads events until ctx ends or the reconnect budget runs out. The
// budget is restored after every connection that delivered its history.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.New(c.cfg.Backoff)
	state := StateConnecting
	for {
		c.report(state, nil)
		delivered, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			bo.Reset()
		}
		delay, ok := bo.Next()
		if !ok {
			c.report(StateGaveUp, err)
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		log.Printf("feedclient: connection lost (%v); retry %d in %s", err, bo.Attempts(), delay)
		state = StateReconnecting
		c.report(state, err)
		if !backoff.Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// session runs one connection. delivered reports whether the history
// arrived.
func (c *Client) session(ctx context.Context) (delivered bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)

	for {
		var ev hub.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return delivered, err
		}
		if ev.Type == hub.EventHistory && !delivered {
			delivered = true
			c.report(StateConnected, nil)
		}
		if c.handle != nil {
			c.handle(ev)
		}
	}
}

func (c *Client) report(s State, err error) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(s, err)
	}
}
