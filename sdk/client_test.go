package sdk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanashi-live/hanashi/pkg/chat/protocol"
)

// fakeTransport records sent frames and lets tests inject server frames.
type fakeTransport struct {
	connectErr error

	mu     sync.Mutex
	sent   []any
	frames chan any
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan any, 32)}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeTransport) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Frames() <-chan any { return f.frames }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

func (f *fakeTransport) sentFrames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func newTestClient(t *testing.T, factory TransportFactory, mock TransportFactory) *Client {
	t.Helper()
	c, err := NewClient(Options{
		TransportFactory:         factory,
		MockFactory:              mock,
		ReconnectInitialInterval: 5 * time.Millisecond,
		ReconnectMaxInterval:     10 * time.Millisecond,
		DegradedAfter:            50 * time.Millisecond,
		// High cap: these tests exercise recovery, not exhaustion.
		MaxReconnectAttempts: 10000,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_ConnectAndReceiveEvents(t *testing.T) {
	transport := newFakeTransport()
	c := newTestClient(t, func() Transport { return transport }, nil)

	var mu sync.Mutex
	var texts []string
	c.On(EventStreamChunk, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		texts = append(texts, ev.(StreamChunkEvent).Frame.Text)
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateConnected })

	transport.frames <- protocol.ServerStreamChunk{Type: protocol.TypeStreamChunk, Text: "one"}
	transport.frames <- protocol.ServerStreamChunk{Type: protocol.TypeStreamChunk, Text: "two"}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if texts[0] != "one" || texts[1] != "two" {
		t.Fatalf("texts=%v", texts)
	}
}

func TestClient_QueuedActionsReplayInOrder(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	blocking := &blockingTransport{inner: transport, release: release}
	c, err := NewClient(Options{
		TransportFactory: func() Transport { return blocking },
		// Long grace so the test exercises the queue, not degraded mode.
		DegradedAfter: time.Hour,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Actions issued before the link is up are queued.
	_ = c.SwitchCharacter("kenji")
	_ = c.SendMessage("first")
	_ = c.SendMessage("second")

	close(release)
	waitFor(t, func() bool { return len(transport.sentFrames()) == 3 })

	sent := transport.sentFrames()
	if _, ok := sent[0].(protocol.ClientSwitchCharacter); !ok {
		t.Fatalf("sent[0]=%T", sent[0])
	}
	if msg := sent[1].(protocol.ClientUserMessage); msg.Text != "first" {
		t.Fatalf("sent[1]=%+v", sent[1])
	}
	if msg := sent[2].(protocol.ClientUserMessage); msg.Text != "second" {
		t.Fatalf("sent[2]=%+v", sent[2])
	}

	// The queue was cleared: nothing replays twice.
	time.Sleep(20 * time.Millisecond)
	if n := len(transport.sentFrames()); n != 3 {
		t.Fatalf("frames after settle=%d, want 3", n)
	}
}

type blockingTransport struct {
	inner   *fakeTransport
	release chan struct{}
}

func (b *blockingTransport) Connect(ctx context.Context) error {
	select {
	case <-b.release:
		return b.inner.Connect(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingTransport) Send(frame any) error { return b.inner.Send(frame) }
func (b *blockingTransport) Frames() <-chan any   { return b.inner.Frames() }
func (b *blockingTransport) Close() error         { return b.inner.Close() }

func TestClient_DegradesAfterGraceThenRecovers(t *testing.T) {
	mock := newFakeTransport()
	real := newFakeTransport()

	var mu sync.Mutex
	dialOK := false
	factory := func() Transport {
		mu.Lock()
		ok := dialOK
		mu.Unlock()
		if ok {
			return real
		}
		return &fakeTransport{connectErr: errors.New("connection refused"), frames: make(chan any)}
	}

	c := newTestClient(t, factory, func() Transport { return mock })

	var states []ConnectionState
	var stateMu sync.Mutex
	c.On(EventConnectionStatus, func(ev Event) {
		stateMu.Lock()
		defer stateMu.Unlock()
		states = append(states, ev.(ConnectionStatusEvent).State)
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, func() bool { return c.State() == StateDegraded })

	// Degraded mode serves actions through the offline transport.
	_ = c.SendMessage("are you there?")
	waitFor(t, func() bool { return len(mock.sentFrames()) == 1 })

	// The dialer keeps trying underneath; when the server returns the client
	// swaps the real transport back in.
	mu.Lock()
	dialOK = true
	mu.Unlock()
	waitFor(t, func() bool { return c.State() == StateConnected })

	_ = c.SendMessage("back online")
	waitFor(t, func() bool { return len(real.sentFrames()) == 1 })

	stateMu.Lock()
	defer stateMu.Unlock()
	sawDegraded := false
	for _, s := range states {
		if s == StateDegraded {
			sawDegraded = true
		}
	}
	if !sawDegraded {
		t.Fatalf("no degraded transition in %v", states)
	}
}

func TestClient_StopsDialingAtAttemptCap(t *testing.T) {
	mock := newFakeTransport()
	var attempts int32
	factory := func() Transport {
		atomic.AddInt32(&attempts, 1)
		return &fakeTransport{connectErr: errors.New("connection refused"), frames: make(chan any)}
	}

	c, err := NewClient(Options{
		TransportFactory:         factory,
		MockFactory:              func() Transport { return mock },
		ReconnectInitialInterval: time.Millisecond,
		ReconnectMaxInterval:     2 * time.Millisecond,
		DegradedAfter:            20 * time.Millisecond,
		MaxReconnectAttempts:     3,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&attempts) == 3 })
	waitFor(t, func() bool { return c.State() == StateDegraded })

	// The dialer gave up; the count must not grow.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("attempts=%d after cap of 3", n)
	}

	// The offline responder still serves.
	_ = c.SendMessage("anyone home?")
	waitFor(t, func() bool { return len(mock.sentFrames()) == 1 })
}

func TestClient_SendAfterClose(t *testing.T) {
	c := newTestClient(t, func() Transport { return newFakeTransport() }, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateConnected })

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.SendMessage("too late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%s after close", c.State())
	}
}
