package httpapi

import (
	"compress/gzip"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// route wraps h with CORS, per-IP rate limiting, optional gzip and request
// metrics. Streaming routes pass stream=true and are never compressed.
func (s *Server) route(name string, h http.HandlerFunc, stream bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			s.metrics.ObserveRequest(name, r.Method, sw.code(), time.Since(start))
		}()

		switch s.cors.check(sw, r) {
		case corsDone:
			return
		case corsDenied:
			http.Error(sw, "origin not allowed", http.StatusForbidden)
			return
		}
		if !s.limiter.Allow(clientIP(r)) {
			s.metrics.IncRateLimited()
			sw.Header().Set("Retry-After", "1")
			http.Error(sw, "rate limited", http.StatusTooManyRequests)
			return
		}
		if !stream && s.opts.Gzip && acceptsGzip(r) {
			defer sw.compress().Close()
		}
		h(sw, r)
	})
}

// statusWriter remembers the response status for request metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// compress routes later writes through a gzip stream. The returned writer
// must be closed once the handler is done.
func (w *statusWriter) compress() *gzipWriter {
	h := w.Header()
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	gw := &gzipWriter{ResponseWriter: w.ResponseWriter, zw: gzip.NewWriter(w.ResponseWriter)}
	w.ResponseWriter = gw
	return gw
}

type gzipWriter struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.zw.Write(b) }

func (g *gzipWriter) Flush() {
	_ = g.zw.Flush()
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipWriter) Close() error { return g.zw.Close() }

// acceptsGzip excludes upgrades and event streams, which must reach the
// client unbuffered.
func acceptsGzip(r *http.Request) bool {
	if r.Header.Get("Upgrade") != "" {
		return false
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return false
	}
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// baseWriter returns the connection's own writer; WebSocket upgrades need
// its http.Hijacker.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	for {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return w
		}
		w = u.Unwrap()
	}
}

// ipRateLimiter keeps one token bucket per client address. Buckets idle
// for longer than lifetime are swept at most once per lifetime.
type ipRateLimiter struct {
	rate     rate.Limit
	burst    int
	lifetime time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &ipRateLimiter{
		rate:      rate.Limit(rps),
		burst:     burst,
		lifetime:  5 * time.Minute,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[ip]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	if now.Sub(l.lastSweep) >= l.lifetime {
		l.sweep(now)
	}
	return b.lim.AllowN(now, 1)
}

func (l *ipRateLimiter) sweep(now time.Time) {
	l.lastSweep = now
	for ip, b := range l.buckets {
		if now.Sub(b.seen) > l.lifetime {
			delete(l.buckets, ip)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop so overlays behind a local
// proxy are limited per viewer machine.
func clientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// corsPolicy is nil when no origins are configured; requests then pass
// without CORS headers.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

type corsResult int

const (
	corsContinue corsResult = iota
	corsDone                // preflight answered
	corsDenied              // origin not allowed
)

func newCORSPolicy(origins []string) *corsPolicy {
	var p *corsPolicy
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if p == nil {
			p = &corsPolicy{origins: make(map[string]struct{})}
		}
		if o == "*" {
			p.allowAll = true
			p.origins = nil
			return p
		}
		p.origins[o] = struct{}{}
	}
	return p
}

func (c *corsPolicy) allows(origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if c.allowAll {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// check answers preflights and sets the allow headers for cross-origin
// requests.
func (c *corsPolicy) check(w http.ResponseWriter, r *http.Request) corsResult {
	origin := r.Header.Get("Origin")
	if c == nil || origin == "" {
		return corsContinue
	}
	preflight := r.Method == http.MethodOptions
	if !c.allows(origin) {
		if preflight {
			w.WriteHeader(http.StatusForbidden)
			return corsDone
		}
		return corsDenied
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	if !preflight {
		return corsContinue
	}
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	if want := r.Header.Get("Access-Control-Request-Headers"); want != "" {
		h.Set("Access-Control-Allow-Headers", want)
	}
	h.Set("Access-Control-Max-Age", "300")
	w.WriteHeader(http.StatusNoContent)
	return corsDone
}
