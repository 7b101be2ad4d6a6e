// Package state implements the behavioral state machine that owns what the
// face is doing at any moment. Handlers for the individual behaviors (idle,
// thinking, speaking, sleeping) implement the Handler interface; the Machine
// mediates transitions between them and announces each transition on the
// event bus.
package state

import (
	"time"
)

// Behavioral state names registered by default.
const (
	NameIdle     = "idle"
	NameThinking = "thinking"
	NameSpeaking = "speaking"
	NameSleeping = "sleeping"
)

// Params carries behavior parameters into a handler on activation, decoded
// from a network command or supplied by the application.
type Params map[string]any

// Float returns a numeric parameter. JSON decoding yields float64 for all
// numbers; int values are accepted for callers constructing Params directly.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// FloatSlice returns a numeric slice parameter such as a lip-sync pattern.
// Both []float64 and the []any produced by JSON decoding are accepted.
func (p Params) FloatSlice(key string) ([]float64, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []float64:
		out := make([]float64, len(s))
		copy(out, s)
		return out, true
	case []any:
		out := make([]float64, 0, len(s))
		for _, e := range s {
			n, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

// UpdateInfo is the per-tick result a handler reports back to the
// application loop. Handlers never drive transitions themselves; they signal
// intent through ShouldReturnToIdle and the orchestration layer acts on it.
type UpdateInfo struct {
	State   string
	Elapsed time.Duration

	// ShouldReturnToIdle is set when a bounded behavior (thinking or
	// speaking with a duration, or a finished lip-sync pattern) has run
	// its course.
	ShouldReturnToIdle bool

	// Thinking/speaking outputs.
	Intensity       float64
	Speaking        bool
	LipIntensity    float64
	LipSyncProgress float64
	BorderClock     float64

	// Idle outputs.
	EyeOffsetX float64
	EyeOffsetY float64
	BlinkRatio float64

	// Sleeping output.
	BreathingOffset float64
}

// InputType classifies a local input event.
type InputType int

// Input event types.
const (
	InputKeyDown InputType = iota
	InputKeyUp
	InputQuit
)

// Key identifies a pressed key for local input handling.
type Key int

// Keys the handlers react to.
const (
	KeyNone Key = iota
	KeySpace
	KeyArrowUp
	KeyArrowDown
	KeyEnter
	KeyEscape
)

// InputEvent is a local input event pumped through the application loop and
// offered to the active handler.
type InputEvent struct {
	Type InputType
	Key  Key
}

// Surface is the drawing target handed to the active handler each frame.
// Rendering backends live outside the control plane; the core only needs
// background fill and border overlay primitives.
type Surface interface {
	// Fill clears the surface with a solid color.
	Fill(r, g, b uint8)
	// DrawBorder draws a border overlay with the given color, width in
	// pixels and opacity in [0, 1].
	DrawBorder(r, g, b uint8, width int, alpha float64)
}

// Handler is the capability set every behavioral state implements. One
// instance exists per state name; it is pooled in the machine's registry and
// reused across activations, never recreated per transition.
type Handler interface {
	// Name returns the unique state name this handler is registered under.
	Name() string
	// Enter activates the handler. previous is the name of the state being
	// left, empty on first activation.
	Enter(previous string, params Params)
	// Update advances the handler by dt and reports the tick result.
	Update(dt time.Duration) UpdateInfo
	// Render draws the handler's overlay onto the surface.
	Render(surface Surface)
	// Exit deactivates the handler.
	Exit()
	// HandleInput offers a local input event; the return value reports
	// whether the handler consumed it.
	HandleInput(ev InputEvent) bool
	// Active reports whether the handler is the machine's active state.
	Active() bool
	// ActiveFor returns how long the handler has been active, accumulated
	// from Update ticks since the last Enter.
	ActiveFor() time.Duration
}

// base carries the bookkeeping shared by all handlers: name, activation flag
// and time accumulated while active. Elapsed time advances with Update ticks
// rather than wall clock so behavior is deterministic under a fixed-tick
// loop.
type base struct {
	name    string
	active  bool
	elapsed time.Duration
}

func (b *base) Name() string { return b.name }

func (b *base) Active() bool { return b.active }

func (b *base) ActiveFor() time.Duration {
	if !b.active {
		return 0
	}
	return b.elapsed
}

func (b *base) enter() {
	b.active = true
	b.elapsed = 0
}

func (b *base) exit() {
	b.active = false
}

func (b *base) tick(dt time.Duration) {
	if b.active {
		b.elapsed += dt
	}
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
