package httpapi

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusWriterCompressesAndUnwraps(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	if baseWriter(sw) != rec {
		t.Fatalf("expected baseWriter to reach the recorder")
	}

	gz := sw.compress()
	sw.WriteHeader(http.StatusAccepted)
	if _, err := io.WriteString(sw, "hello overlay"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if sw.code() != http.StatusAccepted || rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got writer=%d recorder=%d", sw.code(), rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("missing Content-Encoding header")
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != "hello overlay" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestAcceptsGzipSkipsStreams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil)
	r.Header.Set("Accept-Encoding", "gzip, br")
	if !acceptsGzip(r) {
		t.Fatalf("expected gzip for a plain request")
	}
	r.Header.Set("Accept", "text/event-stream")
	if acceptsGzip(r) {
		t.Fatalf("event streams must not be compressed")
	}
}

func TestCORSCheck(t *testing.T) {
	var none *corsPolicy
	r := httptest.NewRequest(http.MethodGet, "/api/chat/config", nil)
	r.Header.Set("Origin", "http://overlay.test")
	if got := none.check(httptest.NewRecorder(), r); got != corsContinue {
		t.Fatalf("nil policy should pass requests, got %d", got)
	}

	p := newCORSPolicy([]string{" ", "http://overlay.test"})
	rec := httptest.NewRecorder()
	if got := p.check(rec, r); got != corsContinue || rec.Header().Get("Access-Control-Allow-Origin") != "http://overlay.test" {
		t.Fatalf("expected allowed origin, got %d %v", got, rec.Header())
	}

	r.Header.Set("Origin", "file://overlay")
	if got := p.check(httptest.NewRecorder(), r); got != corsDenied {
		t.Fatalf("expected non-http origin to be denied, got %d", got)
	}

	if newCORSPolicy([]string{"", " "}) != nil {
		t.Fatalf("blank origins should disable CORS")
	}
	if all := newCORSPolicy([]string{"*"}); all == nil || !all.allows("https://anything.test") {
		t.Fatalf("expected wildcard policy")
	}
}

func TestClientIPPrefersForwardedHop(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	if got := clientIP(r); got != "10.0.0.2" {
		t.Fatalf("expected remote host, got %q", got)
	}
	r.Header.Set("X-Forwarded-For", " , 192.168.1.7, 10.0.0.1")
	if got := clientIP(r); got != "192.168.1.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
