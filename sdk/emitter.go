package sdk

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives one event. Handlers run on the client's event goroutine in
// registration order; a slow handler delays later ones.
type Handler func(Event)

// Subscription removes its handler when called. Safe to call more than once.
type Subscription func()

// emitter is the client-side fan-out table from event name to handlers. A
// panicking handler is logged and skipped; it never takes down the event loop
// or starves other handlers.
type emitter struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[string][]registration
}

type registration struct {
	id int
	fn Handler
}

func newEmitter(logger *slog.Logger) *emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &emitter{
		logger:   logger,
		handlers: make(map[string][]registration),
	}
}

func (e *emitter) on(name string, fn Handler) Subscription {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers[name] = append(e.handlers[name], registration{id: id, fn: fn})
	e.mu.Unlock()

	return func() { e.off(name, id) }
}

func (e *emitter) off(name string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.handlers[name]
	for i, reg := range regs {
		if reg.id == id {
			e.handlers[name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(ev Event) {
	if ev == nil {
		return
	}
	name := ev.eventName()

	e.mu.Lock()
	regs := make([]registration, len(e.handlers[name]))
	copy(regs, e.handlers[name])
	e.mu.Unlock()

	for _, reg := range regs {
		e.dispatch(name, reg, ev)
	}
}

func (e *emitter) dispatch(name string, reg registration, ev Event) {
	defer func() {
		if v := recover(); v != nil {
			e.logger.Error("event handler panic", "event", name, "panic", fmt.Sprint(v))
		}
	}()
	reg.fn(ev)
}
