package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/generate/scripted"
	"github.com/hanashi-live/hanashi/pkg/chat/protocol"
)

// Transport carries client frames to a server (real or simulated) and yields
// decoded server frames. Implementations are single-use: after Close or a
// read failure a fresh Transport must be built for the next attempt.
type Transport interface {
	// Connect establishes the link. It must be called before Send or Frames.
	Connect(ctx context.Context) error
	// Send delivers one client frame.
	Send(frame any) error
	// Frames yields decoded server frames. The channel closes when the link
	// drops or Close is called.
	Frames() <-chan any
	Close() error
}

// TransportFactory builds a fresh Transport per connection attempt.
type TransportFactory func() Transport

var errTransportClosed = errors.New("transport closed")

// wsTransport speaks the gateway's WebSocket protocol at /v1/chat.
type wsTransport struct {
	baseURL          string
	token            string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan any
	closed bool
}

func newWSTransport(baseURL, token string, handshakeTimeout, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{
		baseURL:          baseURL,
		token:            token,
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		frames:           make(chan any, 64),
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	endpoint, err := chatEndpoint(t.baseURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.handshakeTimeout}
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return errTransportClosed
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	defer close(t.frames)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			// Unknown frames from newer servers are skipped, not fatal.
			continue
		}
		t.frames <- frame
	}
}

func (t *wsTransport) Send(frame any) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return errTransportClosed
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Frames() <-chan any {
	return t.frames
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		close(t.frames)
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// chatEndpoint turns an http(s) or ws(s) base URL into the chat socket URL.
func chatEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/chat"
	return u.String(), nil
}

// mockTransport simulates the gateway in-process using the scripted responder,
// emitting the full server vocabulary so application code runs unchanged while
// the real server is unreachable.
type mockTransport struct {
	responder generate.Generator
	delay     time.Duration

	mu     sync.Mutex
	char   character.ID
	lang   character.Language
	closed bool
	wg     sync.WaitGroup

	frames chan any
}

func newMockTransport(chunkDelay time.Duration) *mockTransport {
	return &mockTransport{
		responder: scripted.Responder{},
		delay:     chunkDelay,
		char:      character.Default,
		lang:      character.DefaultLanguage,
		frames:    make(chan any, 256),
	}
}

func (t *mockTransport) Connect(ctx context.Context) error {
	return nil
}

func (t *mockTransport) Frames() <-chan any {
	return t.frames
}

func (t *mockTransport) Send(frame any) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}

	switch f := frame.(type) {
	case protocol.ClientSwitchCharacter:
		id, ok := character.Parse(f.CharacterID)
		if !ok {
			t.mu.Unlock()
			t.push(protocol.ServerError{
				Type:      protocol.TypeError,
				Message:   fmt.Sprintf("unknown character %q", f.CharacterID),
				ErrorType: "input_invalid",
			})
			return nil
		}
		t.char = id
		t.lang = character.LanguageFor(id)
		charID, lang := t.char, t.lang
		t.mu.Unlock()
		t.push(protocol.ServerCharacterSwitched{
			Type:        protocol.TypeCharacterSwitched,
			CharacterID: string(charID),
			Language:    string(lang),
		})
		return nil

	case protocol.ClientSwitchLanguage:
		lang, ok := character.ParseLanguage(f.Language)
		if !ok {
			t.mu.Unlock()
			t.push(protocol.ServerError{
				Type:      protocol.TypeError,
				Message:   fmt.Sprintf("unknown language %q", f.Language),
				ErrorType: "input_invalid",
			})
			return nil
		}
		t.lang = lang
		t.mu.Unlock()
		t.push(protocol.ServerLanguageSwitched{
			Type:     protocol.TypeLanguageSwitched,
			Language: string(lang),
		})
		return nil

	case protocol.ClientUserMessage:
		charID, lang := t.char, t.lang
		t.wg.Add(1)
		t.mu.Unlock()
		go t.respond(charID, lang, f.Text)
		return nil

	default:
		t.mu.Unlock()
		return fmt.Errorf("unsupported client frame %T", frame)
	}
}

func (t *mockTransport) respond(charID character.ID, lang character.Language, text string) {
	defer t.wg.Done()
	start := time.Now()

	t.push(protocol.ServerThinking{Type: protocol.TypeThinking, Thinking: true})

	stream, err := t.responder.Generate(context.Background(), generate.Request{
		CharacterID: charID,
		Language:    lang,
		UserText:    text,
	})
	if err != nil {
		t.push(protocol.ServerError{Type: protocol.TypeError, Message: "offline responder failed", ErrorType: "generation_failed"})
		return
	}
	defer stream.Close()

	var full strings.Builder
	for {
		frag, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.push(protocol.ServerError{Type: protocol.TypeError, Message: "offline responder failed", ErrorType: "generation_failed"})
			return
		}
		t.push(protocol.ServerStreamChunk{Type: protocol.TypeStreamChunk, Text: frag.Text})
		full.WriteString(frag.Text)
		if frag.Animation != nil {
			t.push(protocol.ServerAnimation{
				Type:       protocol.TypeAnimation,
				Emotion:    frag.Animation.Emotion,
				Animation:  frag.Animation.Animation,
				DurationMS: frag.Animation.DurationMS,
			})
		}
		if frag.Note != nil {
			t.push(protocol.ServerCulturalContext{Type: protocol.TypeCulturalContext, Note: frag.Note.Text})
		}
		if t.delay > 0 {
			time.Sleep(t.delay)
		}
	}

	t.push(protocol.ServerStreamChunk{Type: protocol.TypeStreamChunk, IsComplete: true})
	t.push(protocol.ServerResponse{
		Type:    protocol.TypeResponse,
		Text:    full.String(),
		Emotion: character.IdleEmotion(charID),
	})
	t.push(protocol.ServerPerformanceMetrics{
		Type:      protocol.TypePerformanceMetrics,
		ElapsedMS: time.Since(start).Milliseconds(),
	})
}

// push delivers one frame unless the transport is closed. The send happens
// under the mutex so Close cannot close the channel between the closed check
// and the send; the select keeps it non-blocking either way.
func (t *mockTransport) push(frame any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.frames <- frame:
	default:
		// Receiver has stalled; dropping a mock frame beats blocking forever.
	}
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Responder goroutines still running see closed and drop their pushes;
	// once they drain, no sender can reach the channel.
	t.wg.Wait()
	close(t.frames)
	return nil
}
