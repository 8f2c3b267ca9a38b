package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/chatdeck/internal/hub"
)

const writeTimeout = 10 * time.Second

/***************
 * WebSocket transport
 ***************/

type wsTransport struct {
	conn    *websocket.Conn
	done    <-chan struct{}
	metrics *Metrics
}

func (t *wsTransport) Send(ctx context.Context, ev hub.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, t.conn, ev); err != nil {
		return err
	}
	t.metrics.IncEventsSent("ws", string(ev.Type))
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

func (t *wsTransport) Done() <-chan struct{} { return t.done }

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if s.cors == nil {
		// Without a configured origin list any local overlay may connect.
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	if s.cors.allowAll {
		return &websocket.AcceptOptions{OriginPatterns: []string{"*"}}
	}
	patterns := make([]string, 0, len(s.cors.origins))
	for origin := range s.cors.origins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(baseWriter(w), r, s.acceptOptions())
	if err != nil {
		log.Printf("httpapi: websocket accept: %v", err)
		return
	}
	s.metrics.IncClients("ws", 1)
	defer s.metrics.IncClients("ws", -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unlink := context.AfterFunc(s.streams, cancel)
	defer unlink()

	// CloseRead answers pings and reports the peer going away.
	readCtx := conn.CloseRead(ctx)
	wait := s.keepalive(ctx, cancel, conn.Ping)
	defer wait()

	t := &wsTransport{conn: conn, done: readCtx.Done(), metrics: s.metrics}
	s.streamEnded("ws", s.feed.Serve(ctx, t))
}

/***************
 * Server-Sent Events transport
 ***************/

type sseTransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}
	metrics *Metrics
}

func (t *sseTransport) Send(_ context.Context, ev hub.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	t.flusher.Flush()
	t.metrics.IncEventsSent("sse", string(ev.Type))
	return nil
}

func (t *sseTransport) comment(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.w, ":%s\n\n", text); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) Close() error { return nil }

func (t *sseTransport) Done() <-chan struct{} { return t.done }

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.metrics.IncClients("sse", 1)
	defer s.metrics.IncClients("sse", -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unlink := context.AfterFunc(s.streams, cancel)
	defer unlink()

	t := &sseTransport{w: w, flusher: flusher, done: ctx.Done(), metrics: s.metrics}
	if err := t.comment("ok"); err != nil {
		return
	}
	wait := s.keepalive(ctx, cancel, func(context.Context) error { return t.comment("ping") })
	defer wait()

	s.streamEnded("sse", s.feed.Serve(ctx, t))
}

// keepalive pings every PingInterval until ctx ends; a failed ping calls
// fail. The returned func blocks until the pinger has exited.
func (s *Server) keepalive(ctx context.Context, fail func(), ping func(context.Context) error) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := ping(pctx)
				cancel()
				if err != nil {
					fail()
					return
				}
			}
		}
	}()
	return func() { <-done }
}

func (s *Server) streamEnded(transport string, err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, hub.ErrDropped):
		s.metrics.IncSubscriberDrops(transport)
		log.Printf("httpapi: %s client dropped: too slow", transport)
	default:
		log.Printf("httpapi: %s client ended: %v", transport, err)
	}
}
