// Package events implements the synchronous, named event bus that
// Reflec's core emits through and the (out-of-scope) plugin ecosystem
// would subscribe through. The core only ever calls Emit; it never
// depends on whether, or how many, subscribers exist.
//
// Grounded on original_source/lib/utils/event.py's EventHolder, replacing
// its duck-typed "call on_<event> if present, else call the object
// itself" dispatch with a typed Handler func value per spec.md's design
// note on replacing dynamic dispatch with a subscriber interface.
package events

import (
	"log"
	"sync"
)

// Name identifies an event channel.
type Name string

// Handler receives an event's name and payload. Payload shape is
// documented per event name at the call site that emits it.
type Handler func(name Name, payload any)

// Bus is a process-wide-capable (but not required to be a singleton)
// registry of named subscriber lists plus one list that receives every
// event, dispatched in registration order per list.
type Bus struct {
	mu       sync.Mutex
	handlers map[Name][]Handler
	global   []Handler
	logger   *log.Logger
}

// New creates an empty bus. A nil logger falls back to log.Default().
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger,
	}
}

// Subscribe registers fn to run whenever Emit(name, ...) is called.
func (b *Bus) Subscribe(name Name, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], fn)
}

// SubscribeAll registers fn to run for every event, after that event's
// own subscribers.
func (b *Bus) SubscribeAll(fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, fn)
}

// Emit invokes every subscriber of name in registration order, then every
// global subscriber in registration order. A subscriber panic is
// recovered and logged; it never aborts dispatch for the remaining
// subscribers, and Emit never re-enters itself for the same event on the
// same goroutine (subscribers run synchronously to completion before the
// next one is invoked, so there is no concurrent re-entry to guard
// against).
func (b *Bus) Emit(name Name, payload any) {
	b.mu.Lock()
	named := append([]Handler(nil), b.handlers[name]...)
	global := append([]Handler(nil), b.global...)
	b.mu.Unlock()

	for _, h := range named {
		b.invoke(name, h, payload)
	}
	for _, h := range global {
		b.invoke(name, h, payload)
	}
}

func (b *Bus) invoke(name Name, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("events: subscriber to %q panicked: %v", name, r)
		}
	}()
	h(name, payload)
}
