package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/session"
	"github.com/hanashi-live/hanashi/pkg/chat/sessions"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
	"github.com/hanashi-live/hanashi/pkg/gateway/auth"
	"github.com/hanashi-live/hanashi/pkg/gateway/config"
	"github.com/hanashi-live/hanashi/pkg/gateway/lifecycle"
	"github.com/hanashi-live/hanashi/pkg/gateway/mw"
)

// ChatHandler upgrades /v1/chat to a WebSocket and runs a chat session on it.
type ChatHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Verifier  *auth.Verifier
	Lifecycle *lifecycle.State
	Tracker   *sessions.Tracker
	Sessions  store.SessionStore
	Log       store.ConversationLog
	Generator generate.Generator
	Metrics   session.Metrics
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, reqID, "method not allowed")
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.Draining() {
		writeJSONError(w, http.StatusServiceUnavailable, reqID, "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		writeJSONError(w, http.StatusForbidden, reqID, "origin is not allowed")
		return
	}

	identity := h.resolveIdentity(r)

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Sessions:  h.Sessions,
		Log:       h.Log,
		Generator: h.Generator,
		Metrics:   h.Metrics,
		UserID:    identity.UserID,
		Anonymous: identity.Anonymous,
		Config: session.Config{
			MaxMessageBytes:    h.Config.MaxMessageBytes,
			MaxInputRunes:      h.Config.MaxInputRunes,
			ContextMaxPairs:    h.Config.ContextMaxPairs,
			KeepAliveInterval:  h.Config.KeepAliveInterval,
			SlowThreshold:      h.Config.SlowThreshold,
			StreamWarnAfter:    h.Config.StreamWarnAfter,
			StreamInterval:     h.Config.StreamInterval,
			PingInterval:       h.Config.WSPingInterval,
			WriteTimeout:       h.Config.WSWriteTimeout,
			ReadTimeout:        h.Config.WSReadTimeout,
			MaxSessionDuration: h.Config.MaxSessionDuration,
			OutboundQueueSize:  h.Config.OutboundQueueSize,
			InboundRPS:         h.Config.InboundRPS,
			InboundBurst:       h.Config.InboundBurst,
		},
	})
	if err != nil {
		h.Logger.Error("session setup failed", "request_id", reqID, "error", err)
		return
	}

	unregister := h.Tracker.Register(identity.UserID, sessions.Handle{
		Cancel: sess.Cancel,
		Warn:   sess.Warn,
	})
	defer unregister()

	h.Logger.Info("chat session opened",
		"request_id", reqID, "user_id", identity.UserID, "anonymous", identity.Anonymous)
	start := time.Now()
	if err := sess.Run(); err != nil {
		h.Logger.Debug("chat session error", "request_id", reqID, "user_id", identity.UserID, "error", err)
	}
	h.Logger.Info("chat session closed",
		"request_id", reqID, "user_id", identity.UserID,
		"duration_ms", time.Since(start).Milliseconds())
}

// resolveIdentity verifies the bearer token when present and valid; anything
// else gets a fresh anonymous identity rather than a rejection, since the chat
// works without an account.
func (h ChatHandler) resolveIdentity(r *http.Request) auth.Identity {
	token, ok := auth.TokenFrom(r)
	if !ok || h.Verifier == nil {
		return auth.Anonymous()
	}
	identity, err := h.Verifier.Verify(token)
	if err != nil {
		h.Logger.Debug("token rejected, treating as anonymous", "error", err)
		return auth.Anonymous()
	}
	return identity
}

func (h ChatHandler) originAllowed(r *http.Request) bool {
	if len(h.Config.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	if _, ok := h.Config.AllowedOrigins[origin]; ok {
		return true
	}
	if u, err := url.Parse(origin); err == nil {
		if _, ok := h.Config.AllowedOrigins[u.Host]; ok {
			return true
		}
	}
	return false
}

func writeJSONError(w http.ResponseWriter, status int, reqID, message string) {
	type errBody struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id,omitempty"`
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errBody{Error: message, RequestID: reqID})
}
