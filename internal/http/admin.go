// Package httpadmin exposes operator endpoints that are not meant for
// display clients.
package httpadmin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/you/chatdeck/internal/core"
)

// Operator performs the admin actions.
type Operator interface {
	// ReloadTokens re-reads the token file and reports which platforms
	// changed.
	ReloadTokens() ([]core.Platform, error)
	Reconnect(target string) error
}

type Server struct {
	op Operator
}

func New(op Operator) *Server { return &Server{op: op} }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/tokens/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		changed, err := s.op.ReloadTokens()
		if err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if changed == nil {
			changed = []core.Platform{}
		}
		writeJSON(w, map[string]any{"status": "ok", "reloaded": len(changed) > 0, "changed": changed})
	})
	mux.HandleFunc("/admin/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		target := strings.TrimSpace(r.URL.Query().Get("platform"))
		if err := s.op.Reconnect(target); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, core.ErrNotRunning) {
				status = http.StatusConflict
			}
			http.Error(w, "reconnect failed: "+err.Error(), status)
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "platform": target})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
