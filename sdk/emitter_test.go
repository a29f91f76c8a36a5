package sdk

import (
	"log/slog"
	"testing"

	"github.com/hanashi-live/hanashi/pkg/chat/protocol"
)

func TestEmitter_HandlersRunInRegistrationOrder(t *testing.T) {
	em := newEmitter(slog.Default())
	var order []int
	em.on(EventResponse, func(Event) { order = append(order, 1) })
	em.on(EventResponse, func(Event) { order = append(order, 2) })
	em.on(EventResponse, func(Event) { order = append(order, 3) })

	em.emit(ResponseEvent{})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order=%v", order)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	em := newEmitter(slog.Default())
	calls := 0
	sub := em.on(EventThinking, func(Event) { calls++ })
	keep := 0
	em.on(EventThinking, func(Event) { keep++ })

	em.emit(ThinkingEvent{})
	sub()
	sub() // second call is a no-op
	em.emit(ThinkingEvent{})

	if calls != 1 {
		t.Fatalf("unsubscribed handler calls=%d, want 1", calls)
	}
	if keep != 2 {
		t.Fatalf("remaining handler calls=%d, want 2", keep)
	}
}

func TestEmitter_PanicIsolation(t *testing.T) {
	em := newEmitter(slog.Default())
	var after []string
	em.on(EventError, func(Event) { panic("handler bug") })
	em.on(EventError, func(Event) { after = append(after, "survivor") })

	em.emit(ErrorEvent{})
	em.emit(ErrorEvent{})

	if len(after) != 2 {
		t.Fatalf("survivor calls=%d, want 2", len(after))
	}
}

func TestEmitter_UnmatchedEventIsDropped(t *testing.T) {
	em := newEmitter(slog.Default())
	calls := 0
	em.on(EventResponse, func(Event) { calls++ })

	em.emit(ThinkingEvent{})
	em.emit(nil)

	if calls != 0 {
		t.Fatalf("handler called for unmatched events")
	}
}

func TestEventFromFrame(t *testing.T) {
	ev := eventFromFrame(protocol.ServerStreamChunk{Type: protocol.TypeStreamChunk, Text: "hi"})
	chunk, ok := ev.(StreamChunkEvent)
	if !ok {
		t.Fatalf("event=%T", ev)
	}
	if chunk.Frame.Text != "hi" {
		t.Fatalf("text=%q", chunk.Frame.Text)
	}
	if ev := eventFromFrame(struct{}{}); ev != nil {
		t.Fatalf("unknown frame produced event %T", ev)
	}
}
