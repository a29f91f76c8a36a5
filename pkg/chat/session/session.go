// Package session runs the server side of one chat connection: a sequential
// command loop dispatching inbound frames to the session store, conversation
// log and streaming pipeline, with an outbound writer goroutine owning all
// writes to the socket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/faults"
	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/protocol"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
)

var errSessionClosed = errors.New("session closed")

// Conn is the slice of *websocket.Conn the session needs.
type Conn interface {
	wsWriter
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
}

// Metrics is implemented by the gateway's Prometheus registry. All methods are
// observation-only.
type Metrics interface {
	SessionStarted(anonymous bool)
	SessionEnded(duration time.Duration)
	MessageProcessed(characterID string)
	ResponseObserved(characterID string, elapsed time.Duration)
	FallbackServed(characterID string)
	ErrorObserved(kind string)
	StreamWarningObserved()
}

type Config struct {
	MaxMessageBytes    int64
	MaxInputRunes      int
	ContextMaxPairs    int
	KeepAliveInterval  time.Duration
	SlowThreshold      time.Duration
	StreamWarnAfter    time.Duration
	StreamInterval     time.Duration
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	MaxSessionDuration time.Duration
	OutboundQueueSize  int
	InboundRPS         float64
	InboundBurst       int
}

type Dependencies struct {
	Conn      Conn
	Logger    *slog.Logger
	Sessions  store.SessionStore
	Log       store.ConversationLog
	Generator generate.Generator
	Metrics   Metrics
	UserID    string
	Anonymous bool
	Config    Config
	Now       func() time.Time
}

type Session struct {
	conn      Conn
	logger    *slog.Logger
	sessions  store.SessionStore
	log       store.ConversationLog
	generator generate.Generator
	metrics   Metrics
	userID    string
	anonymous bool
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	monitor  *Monitor
	pipeline Pipeline
}

type inboundFrame struct {
	data []byte
	err  error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Log == nil {
		return nil, fmt.Errorf("conversation log is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.ContextMaxPairs <= 0 {
		deps.Config.ContextMaxPairs = 20
	}
	if deps.Config.MaxInputRunes <= 0 {
		deps.Config.MaxInputRunes = 2000
	}
	if deps.Config.KeepAliveInterval <= 0 {
		deps.Config.KeepAliveInterval = 2 * time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:             deps.Conn,
		logger:           deps.Logger,
		sessions:         deps.Sessions,
		log:              deps.Log,
		generator:        deps.Generator,
		metrics:          deps.Metrics,
		userID:           deps.UserID,
		anonymous:        deps.Anonymous,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, 16),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		monitor: NewMonitor(MonitorConfig{
			SlowThreshold: deps.Config.SlowThreshold,
			WarnAfter:     deps.Config.StreamWarnAfter,
			CheckInterval: deps.Config.StreamInterval,
		}, deps.Logger),
		pipeline: Pipeline{KeepAlive: deps.Config.KeepAliveInterval},
	}
	return s, nil
}

// Cancel aborts the session. Safe from any goroutine.
func (s *Session) Cancel() {
	s.cancel()
}

// Warn pushes a stream_warning frame; used by the tracker during drain.
func (s *Session) Warn(code, message string) error {
	return s.sendJSONPriority(protocol.ServerStreamWarning{Type: protocol.TypeStreamWarning, Code: code, Message: message})
}

// Run processes commands until the connection closes or the session is
// canceled. Commands are strictly sequential per connection: a user_message
// arriving while a stream is in flight waits for the stream to finish.
func (s *Session) Run() error {
	defer s.cancel()

	started := s.now()
	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		})
	}

	// Lazy session creation on first contact.
	if _, err := s.sessions.GetOrCreate(s.ctx, s.userID); err != nil {
		s.logger.Error("session create failed", "user_id", s.userID, "error", err)
		return err
	}
	s.metrics.SessionStarted(s.anonymous)
	defer func() {
		s.endSession()
		s.metrics.SessionEnded(s.now().Sub(started))
	}()

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
			priority:     s.outboundPriority,
			normal:       s.outboundNormal,
		}
		err := w.Run()
		if err != nil {
			s.cancel()
		}
		writerErrCh <- err
		close(writerErrCh)
	}()

	var limiter *rate.Limiter
	if s.cfg.InboundRPS > 0 {
		burst := s.cfg.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.InboundRPS), burst)
	}

	var deadlineCh <-chan time.Time
	if s.cfg.MaxSessionDuration > 0 {
		deadline := time.NewTimer(s.cfg.MaxSessionDuration)
		defer deadline.Stop()
		deadlineCh = deadline.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			return err
		case <-deadlineCh:
			_ = s.Warn("session_expired", "maximum session duration reached")
			return nil
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				s.logger.Debug("read failed", "user_id", s.userID, "error", frame.err)
				return nil
			}
			if limiter != nil && !limiter.Allow() {
				_ = s.Warn("rate_limited", "too many messages, slow down")
				continue
			}
			s.dispatch(frame.data)
		}
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(data []byte) {
	decoded, err := protocol.DecodeClientFrame(data)
	if err != nil {
		var decodeErr *protocol.DecodeError
		msg := "malformed frame"
		if errors.As(err, &decodeErr) {
			msg = decodeErr.Error()
		}
		_ = s.sendJSONPriority(protocol.ServerError{Type: protocol.TypeError, Message: msg, ErrorType: "bad_request"})
		return
	}

	switch cmd := decoded.(type) {
	case protocol.ClientUserMessage:
		s.handleUserMessage(cmd.Text)
	case protocol.ClientSwitchCharacter:
		s.handleSwitchCharacter(cmd.CharacterID)
	case protocol.ClientSwitchLanguage:
		s.handleSwitchLanguage(cmd.Language)
	}
}

func (s *Session) handleSwitchCharacter(raw string) {
	id, ok := character.Parse(raw)
	if !ok {
		s.sendFault(s.currentCharacter(), fmt.Errorf("%w: unknown character %q", faults.ErrInvalidInput, raw))
		return
	}
	sess, err := s.sessions.SwitchCharacter(s.ctx, s.userID, id)
	if err != nil {
		s.sendFault(s.currentCharacter(), err)
		return
	}
	_ = s.sendJSON(protocol.ServerCharacterSwitched{
		Type:        protocol.TypeCharacterSwitched,
		CharacterID: string(sess.CharacterID),
		Language:    string(sess.Language),
	})
}

func (s *Session) handleSwitchLanguage(raw string) {
	lang, ok := character.ParseLanguage(raw)
	if !ok {
		s.sendFault(s.currentCharacter(), fmt.Errorf("%w: unknown language %q", faults.ErrInvalidInput, raw))
		return
	}
	sess, err := s.sessions.SwitchLanguage(s.ctx, s.userID, lang)
	if err != nil {
		s.sendFault(s.currentCharacter(), err)
		return
	}
	_ = s.sendJSON(protocol.ServerLanguageSwitched{
		Type:     protocol.TypeLanguageSwitched,
		Language: string(sess.Language),
	})
}

func (s *Session) handleUserMessage(text string) {
	// Authoritative re-fetch: character/language may have changed since the
	// command was issued.
	sess, err := s.sessions.GetOrCreate(s.ctx, s.userID)
	if err != nil {
		s.sendFault(character.Default, err)
		return
	}
	char := sess.CharacterID

	// Validation runs before any generator call or persistence write.
	if err := faults.ValidateUserInput(text, s.cfg.MaxInputRunes); err != nil {
		s.sendFault(char, err)
		return
	}
	if !s.monitor.CheckConnection(s.conn) {
		s.sendFault(char, faults.ErrConnectionUnhealthy)
		return
	}
	if err := s.log.AppendUser(s.ctx, sess.ID, text); err != nil {
		s.sendFault(char, err)
		return
	}
	entries, err := s.log.RecentContext(s.ctx, sess.ID, s.cfg.ContextMaxPairs)
	if err != nil {
		s.sendFault(char, err)
		return
	}
	s.metrics.MessageProcessed(string(char))

	s.monitor.StartTimer(s.userID)
	streamCtx, cancelStream := context.WithCancel(s.ctx)
	defer cancelStream()
	go s.monitor.MonitorStream(streamCtx, s, s.now())

	_ = s.EmitThinking(true)

	stream, err := s.generator.Generate(streamCtx, generate.Request{
		CharacterID: char,
		Language:    sess.Language,
		Context:     entries,
		UserText:    text,
	})
	if err != nil {
		s.serveFallback(sess, text, err)
		s.monitor.EndTimer(s.userID, s)
		return
	}

	fullText, err := s.pipeline.Relay(streamCtx, stream, s)
	_ = stream.Close()
	if err != nil {
		if s.ctx.Err() != nil {
			// Connection is going away: the stream is lost and partial
			// text is not persisted.
			return
		}
		s.serveFallback(sess, text, err)
		s.monitor.EndTimer(s.userID, s)
		return
	}

	if err := s.log.AppendCharacter(s.ctx, sess.ID, fullText); err != nil {
		// The reply was delivered; the persistence failure is surfaced
		// rather than silently dropped.
		s.sendFault(char, err)
	}
	_ = s.sendJSON(protocol.ServerResponse{
		Type:    protocol.TypeResponse,
		Text:    fullText,
		Emotion: character.IdleEmotion(char),
	})
	elapsed := s.monitor.EndTimer(s.userID, s)
	s.metrics.ResponseObserved(string(char), elapsed)
}

// serveFallback answers with a locally synthesized reply after the generator
// failed, so an accepted message never ends in silence. The normal completion
// marker is never emitted on this path.
func (s *Session) serveFallback(sess store.Session, original string, cause error) {
	kind := faults.Categorize(cause)
	s.metrics.ErrorObserved(string(kind))
	s.logger.Warn("generation failed, serving fallback",
		"user_id", s.userID, "character", sess.CharacterID, "kind", kind, "error", cause)

	fb := faults.FallbackResponse(sess.CharacterID, original)
	_ = s.EmitAnimation(generate.AnimationCue{Emotion: fb.Emotion, Animation: fb.Animation, DurationMS: 1200})
	if err := s.log.AppendCharacter(s.ctx, sess.ID, fb.Text); err != nil {
		s.logger.Warn("fallback persistence failed", "user_id", s.userID, "error", err)
	}
	_ = s.sendJSON(protocol.ServerResponse{
		Type:     protocol.TypeResponse,
		Text:     fb.Text,
		Emotion:  fb.Emotion,
		Fallback: true,
	})
	s.metrics.FallbackServed(string(sess.CharacterID))
}

func (s *Session) sendFault(char character.ID, err error) {
	kind := faults.Categorize(err)
	s.metrics.ErrorObserved(string(kind))
	s.logger.Debug("command failed", "user_id", s.userID, "kind", kind, "error", err)
	_ = s.sendJSONPriority(protocol.ServerError{
		Type:      protocol.TypeError,
		Message:   faults.CharacterErrorMessage(char, kind),
		ErrorType: string(kind),
	})
}

func (s *Session) currentCharacter() character.ID {
	sess, err := s.sessions.GetOrCreate(s.ctx, s.userID)
	if err != nil {
		return character.Default
	}
	return sess.CharacterID
}

// endSession purges the session and its history. The session context may
// already be canceled, so this runs on its own deadline.
func (s *Session) endSession() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.End(ctx, s.userID); err != nil {
		s.logger.Warn("session end failed", "user_id", s.userID, "error", err)
	}
}

func (s *Session) EmitChunk(text string, complete bool) error {
	return s.sendJSON(protocol.ServerStreamChunk{Type: protocol.TypeStreamChunk, Text: text, IsComplete: complete})
}

func (s *Session) EmitAnimation(cue generate.AnimationCue) error {
	return s.sendJSON(protocol.ServerAnimation{
		Type:       protocol.TypeAnimation,
		Emotion:    cue.Emotion,
		Animation:  cue.Animation,
		DurationMS: cue.DurationMS,
	})
}

func (s *Session) EmitNote(note generate.Note) error {
	return s.sendJSON(protocol.ServerCulturalContext{Type: protocol.TypeCulturalContext, Note: note.Text})
}

func (s *Session) EmitThinking(thinking bool) error {
	return s.sendJSONPriority(protocol.ServerThinking{Type: protocol.TypeThinking, Thinking: thinking})
}

func (s *Session) EmitPerformance(elapsed time.Duration, slow bool) error {
	return s.sendJSON(protocol.ServerPerformanceMetrics{
		Type:      protocol.TypePerformanceMetrics,
		ElapsedMS: elapsed.Milliseconds(),
		Slow:      slow,
	})
}

func (s *Session) EmitStreamWarning(code, message string, elapsed time.Duration) error {
	s.metrics.StreamWarningObserved()
	return s.sendJSONPriority(protocol.ServerStreamWarning{
		Type:      protocol.TypeStreamWarning,
		Code:      code,
		Message:   message,
		ElapsedMS: elapsed.Milliseconds(),
	})
}

func (s *Session) sendJSON(v any) error {
	return s.enqueue(s.outboundNormal, v)
}

func (s *Session) sendJSONPriority(v any) error {
	return s.enqueue(s.outboundPriority, v)
}

func (s *Session) enqueue(ch chan<- outboundFrame, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	select {
	case ch <- outboundFrame{payload: payload}:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted(bool)                 {}
func (nopMetrics) SessionEnded(time.Duration)          {}
func (nopMetrics) MessageProcessed(string)             {}
func (nopMetrics) ResponseObserved(string, time.Duration) {}
func (nopMetrics) FallbackServed(string)               {}
func (nopMetrics) ErrorObserved(string)                {}
func (nopMetrics) StreamWarningObserved()              {}
