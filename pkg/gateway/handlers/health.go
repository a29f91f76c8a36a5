package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hanashi-live/hanashi/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports readiness. It flips unhealthy while the gateway is
// draining so load balancers stop routing new chat connections here.
type ReadyHandler struct {
	Lifecycle *lifecycle.State
	Store     interface{ Ping(ctx context.Context) error }
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues,omitempty"`
	}

	var issues []string
	if h.Lifecycle.Draining() {
		issues = append(issues, "gateway is draining")
	}
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			issues = append(issues, "store unavailable: "+err.Error())
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{OK: ok, Issues: issues})
}
