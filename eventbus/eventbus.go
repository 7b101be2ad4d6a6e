// Package eventbus provides the in-process publish/subscribe hub that
// decouples producers of behavioral triggers (command server, state machine)
// from their consumers. Delivery is synchronous and in subscription order on
// the emitter's goroutine, so an event emitted during a state transition is
// fully observed before the transition call returns.
package eventbus

import (
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Kind identifies the type of an event. The set is closed.
type Kind string

// Event kinds understood by the system.
const (
	StateChanged      Kind = "state_changed"
	CommandReceived   Kind = "command_received"
	AnimationStarted  Kind = "animation_started"
	AnimationFinished Kind = "animation_finished"
	ErrorOccurred     Kind = "error_occurred"
)

// Kinds returns every event kind the system emits, in a stable order.
func Kinds() []Kind {
	return []Kind{StateChanged, CommandReceived, AnimationStarted, AnimationFinished, ErrorOccurred}
}

// Event is an immutable notification delivered to subscribers.
type Event struct {
	Kind      Kind
	Payload   map[string]any
	Timestamp time.Time
}

// Callback receives events for a subscribed kind.
type Callback func(Event)

// subscriber pairs a callback with its identity so duplicate subscriptions
// of the same function can be suppressed and later removed.
type subscriber struct {
	id uintptr
	fn Callback
}

// Bus is the process-wide event hub. The zero value is not usable; construct
// with New. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex // protects subs
	subs   map[Kind][]subscriber
	logger *slog.Logger
}

// New creates an event bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Kind][]subscriber),
		logger: logger.With("component", "eventbus"),
	}
}

// callbackID returns a stable identity for a callback function value.
func callbackID(cb Callback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// Subscribe registers cb for events of the given kind. Subscribing the same
// function twice for the same kind is a no-op; invocation order follows
// subscription order. Callback identity is the function's code pointer, so
// method values bound to different receivers count as the same callback; a
// second component instance needs its own distinct forwarding function.
func (b *Bus) Subscribe(kind Kind, cb Callback) {
	if cb == nil {
		return
	}
	id := callbackID(cb)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[kind] {
		if sub.id == id {
			return
		}
	}
	b.subs[kind] = append(b.subs[kind], subscriber{id: id, fn: cb})
}

// Unsubscribe removes cb from the given kind. Unknown callbacks are ignored.
func (b *Bus) Unsubscribe(kind Kind, cb Callback) {
	if cb == nil {
		return
	}
	id := callbackID(cb)

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit constructs an Event and delivers it synchronously to every subscriber
// of kind, in subscription order, on the caller's goroutine. A panicking
// callback is recovered and logged; remaining callbacks still run.
func (b *Bus) Emit(kind Kind, payload map[string]any) {
	event := Event{
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	// Snapshot so callbacks can subscribe/unsubscribe without deadlocking.
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[kind]))
	copy(subs, b.subs[kind])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(sub, event)
	}
}

// invoke runs a single callback with panic isolation.
func (b *Bus) invoke(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"kind", string(event.Kind),
				"panic", r)
		}
	}()
	sub.fn(event)
}

// Clear removes all subscribers for the given kinds, or every subscriber
// when no kind is given.
func (b *Bus) Clear(kinds ...Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(kinds) == 0 {
		b.subs = make(map[Kind][]subscriber)
		return
	}
	for _, kind := range kinds {
		delete(b.subs, kind)
	}
}

// SubscriberCount reports how many callbacks are registered for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
