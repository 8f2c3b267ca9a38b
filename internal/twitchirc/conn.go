package twitchirc

import (
	"context"
	"fmt"
	"strings"

	"nhooyr.io/websocket"

	"github.com/you/chatdeck/internal/core"
)

// DefaultURL is Twitch chat over WebSocket.
const DefaultURL = "wss://irc-ws.chat.twitch.tv:443"

// Conn is one live chat transport. A frame may carry several CRLF separated
// lines.
type Conn interface {
	ReadFrame(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	c *websocket.Conn
}

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", core.ErrTransport, url, err)
	}
	// tagged bursts exceed the 32KiB default
	c.SetReadLimit(1 << 20)
	return &wsConn{c: c}, nil
}

func (w *wsConn) ReadFrame(ctx context.Context) (string, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *wsConn) WriteLine(ctx context.Context, line string) error {
	return w.c.Write(ctx, websocket.MessageText, []byte(strings.TrimRight(line, "\r\n")+"\r\n"))
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

func splitLines(frame string) []string {
	raw := strings.Split(frame, "\n")
	out := raw[:0]
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
