// Package server assembles the gateway's routes and middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/session"
	"github.com/hanashi-live/hanashi/pkg/chat/sessions"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
	"github.com/hanashi-live/hanashi/pkg/gateway/auth"
	"github.com/hanashi-live/hanashi/pkg/gateway/config"
	"github.com/hanashi-live/hanashi/pkg/gateway/handlers"
	"github.com/hanashi-live/hanashi/pkg/gateway/lifecycle"
	"github.com/hanashi-live/hanashi/pkg/gateway/metrics"
	"github.com/hanashi-live/hanashi/pkg/gateway/mw"
)

type Dependencies struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.State
	Tracker   *sessions.Tracker
	Sessions  store.SessionStore
	Log       store.ConversationLog
	Generator generate.Generator
	Metrics   *metrics.Metrics
	Pinger    interface{ Ping(ctx context.Context) error }
}

type Server struct {
	deps Dependencies
	mux  *http.ServeMux
}

func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle: s.deps.Lifecycle,
		Store:     s.deps.Pinger,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	var sessionMetrics session.Metrics
	if s.deps.Metrics != nil {
		sessionMetrics = s.deps.Metrics
	}
	s.mux.Handle("/v1/chat", handlers.ChatHandler{
		Config:    s.deps.Config,
		Logger:    s.deps.Logger,
		Verifier:  auth.NewVerifier(s.deps.Config.JWTSecret),
		Lifecycle: s.deps.Lifecycle,
		Tracker:   s.deps.Tracker,
		Sessions:  s.deps.Sessions,
		Log:       s.deps.Log,
		Generator: s.deps.Generator,
		Metrics:   sessionMetrics,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.deps.Logger, h)
	h = mw.AccessLog(s.deps.Logger, h)
	h = mw.RequestID(h)
	return h
}
