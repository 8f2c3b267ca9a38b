// Package httpapi serves the local display clients: history lookups, chat
// settings, outbound sends and the live push channel over WebSocket or SSE.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/hub"
	"github.com/you/chatdeck/internal/manager"
)

const (
	defaultPingInterval = 20 * time.Second
	maxBodyBytes        = 64 << 10
)

// Feed is the shared history and broadcast hub.
type Feed interface {
	Recent(limit int) []core.ChatMessage
	Serve(ctx context.Context, t hub.Transport) error
	Stats() hub.Stats
}

// Controller routes commands to the platform adapters.
type Controller interface {
	Send(ctx context.Context, target, text string) manager.SendResult
	Reconnect(target string) error
	Status() []core.SourceStatus
}

// Settings is the persisted chat configuration.
type Settings interface {
	Get() core.ChatConfig
	Set(cfg core.ChatConfig) (core.ChatConfig, error)
}

type Options struct {
	Addr  string
	Build BuildInfo

	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
	Gzip        bool
	Pprof       bool

	// PingInterval is the keepalive period of the push channels.
	PingInterval time.Duration
	// Mount registers extra routes, such as the admin endpoints.
	Mount func(mux *http.ServeMux)
}

type Server struct {
	httpServer *http.Server
	feed       Feed
	ctl        Controller
	settings   Settings
	opts       Options
	started    time.Time

	metrics *Metrics
	limiter *ipRateLimiter
	cors    *corsPolicy

	// streams ends every push channel on Shutdown.
	streams context.Context
	stop    context.CancelFunc
}

func New(feed Feed, ctl Controller, settings Settings, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	streams, stop := context.WithCancel(context.Background())
	srv := &Server{
		feed:     feed,
		ctl:      ctl,
		settings: settings,
		opts:     opts,
		started:  time.Now().UTC(),
		metrics:  newMetrics(),
		limiter:  newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:     newCORSPolicy(opts.CORSOrigins),
		streams:  streams,
		stop:     stop,
	}
	srv.metrics.registerFeed(feed)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", srv.metrics.Handler())
	mux.Handle("/info", srv.route("info", srv.handleInfo, false))
	mux.Handle("/api/chat/messages", srv.route("messages", srv.handleMessages, false))
	mux.Handle("/api/chat/config", srv.route("config", srv.handleConfig, false))
	mux.Handle("/api/chat/send", srv.route("send", srv.handleSend, false))
	mux.Handle("/api/chat/reconnect", srv.route("reconnect", srv.handleReconnect, false))
	mux.Handle("/api/chat/status", srv.route("status", srv.handleStatus, false))
	mux.Handle("/ws", srv.route("ws", srv.handleWS, true))
	mux.Handle("/stream", srv.route("stream", srv.handleStream, true))
	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if opts.Mount != nil {
		opts.Mount(mux)
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, filters.Apply(s.feed.Recent(0)))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.settings.Get())
		return
	}

	// Fields absent from the body keep their current values.
	next := s.settings.Get()
	if err := decodeBody(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.settings.Set(next)
	if err != nil {
		log.Printf("httpapi: save settings: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

type sendRequest struct {
	Text     string `json:"text"`
	Message  string `json:"message"`
	Platform string `json:"platform"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(req.Message)
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	target := strings.ToLower(strings.TrimSpace(req.Platform))
	if target != "" && target != "all" {
		if _, err := core.ParsePlatform(target); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res := s.ctl.Send(r.Context(), target, text)
	writeJSON(w, sendStatus(res), res)
}

// sendStatus maps a send result to a response code: 200 when any platform
// accepted the message, otherwise the code of the first failure class.
func sendStatus(res manager.SendResult) int {
	if res.OK() {
		return http.StatusOK
	}
	status := http.StatusBadGateway
	for _, p := range append([]core.Platform{"all"}, core.Platforms...) {
		err := res.Err(p)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrPermission):
			return http.StatusForbidden
		case errors.Is(err, core.ErrNotRunning), errors.Is(err, core.ErrNotLive):
			status = http.StatusConflict
		}
	}
	return status
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	target := r.URL.Query().Get("platform")
	if target == "" && r.ContentLength != 0 {
		var body struct {
			Platform string `json:"platform"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		target = body.Platform
	}
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "all" {
		target = ""
	}
	if target != "" {
		if _, err := core.ParsePlatform(target); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.ctl.Reconnect(target); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotRunning) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "reconnecting", "platform": target})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": s.ctl.Status(),
		"hub":     s.feed.Stats(),
	})
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

// Shutdown ends the push channels, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	return s.httpServer.Shutdown(ctx)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid json: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
