package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/he-be/raspi-eye/eventbus"
)

// Info is a snapshot of the machine's observable state.
type Info struct {
	CurrentState    string
	PreviousState   string
	AvailableStates []string
	Elapsed         time.Duration
}

// Machine owns the registry of behavioral state handlers and the single
// active handler. All mutation happens under mu, so a transition's exit/enter
// sequence is atomic to observers: no caller ever sees an exited-but-not-
// replaced handler. transMu serializes whole transitions including the
// StateChanged emit, so concurrent ChangeState calls deliver their events in
// transition order.
type Machine struct {
	transMu  sync.Mutex // serializes transition plus its StateChanged emit
	mu       sync.Mutex // protects registry, active, previous
	registry map[string]Handler
	active   Handler
	previous string

	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewMachine creates a state machine that announces transitions on bus.
func NewMachine(bus *eventbus.Bus, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		registry: make(map[string]Handler),
		bus:      bus,
		logger:   logger.With("component", "statemachine"),
	}
}

// AddState registers handler under its name, replacing any prior handler
// with the same name. Replacing the active handler without changing state
// first is a caller error; the prior handler is not auto-exited.
func (m *Machine) AddState(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[handler.Name()] = handler
}

// RemoveState deletes the named handler from the registry. If it is the
// active state it is exited first and the active pointer cleared.
func (m *Machine) RemoveState(name string) {
	m.transMu.Lock()
	defer m.transMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	handler, ok := m.registry[name]
	if !ok {
		return
	}
	if m.active == handler {
		m.active.Exit()
		m.active = nil
	}
	delete(m.registry, name)
}

// ChangeState transitions to the named state. Unknown names are rejected
// with a false return and no mutation. Re-entering the active state is a
// successful no-op: Enter is not called again and no event is emitted.
// Otherwise the active handler (if any) is exited, the target entered, and a
// StateChanged event emitted, with no external call between exit and enter.
// transMu is held until the emit returns: overlapping ChangeState calls
// cannot publish their events out of transition order, and every subscriber
// reading the machine during delivery sees the state the event announces.
// StateChanged subscribers must not call back into ChangeState.
func (m *Machine) ChangeState(name string, params Params) bool {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.mu.Lock()

	target, ok := m.registry[name]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("change to unknown state rejected", "state", name)
		return false
	}

	if m.active != nil && m.active.Name() == name {
		m.mu.Unlock()
		return true
	}

	previous := ""
	if m.active != nil {
		previous = m.active.Name()
		m.active.Exit()
	}

	m.previous = previous
	m.active = target
	target.Enter(previous, params)

	m.mu.Unlock()

	// Emitted after mu is released so subscribers may read the machine, but
	// still under transMu so the event cannot interleave with a later
	// transition. Delivery is synchronous, so the event is fully handled
	// before ChangeState returns.
	var prevPayload any
	if previous != "" {
		prevPayload = previous
	}
	m.bus.Emit(eventbus.StateChanged, map[string]any{
		"previous_state": prevPayload,
		"current_state":  name,
		"parameters":     map[string]any(params),
	})

	m.logger.Info("state changed", "from", previous, "to", name)
	return true
}

// Update advances the active handler by dt. Without an active state an
// empty UpdateInfo is returned. The machine's lock is held for the duration
// of the handler call; handlers themselves carry no locking.
func (m *Machine) Update(dt time.Duration) UpdateInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return UpdateInfo{}
	}
	return m.active.Update(dt)
}

// Render forwards to the active handler, if any.
func (m *Machine) Render(surface Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Render(surface)
	}
}

// HandleInput offers a local input event to the active handler and reports
// whether it was consumed.
func (m *Machine) HandleInput(ev InputEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return false
	}
	return m.active.HandleInput(ev)
}

// Adjust runs fn on the active handler under the machine's lock, serialized
// against Update and transitions. fn must not call back into the machine.
// Returns false when no state is active.
func (m *Machine) Adjust(fn func(Handler)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return false
	}
	fn(m.active)
	return true
}

// CurrentStateName returns the active state's name, empty when none.
func (m *Machine) CurrentStateName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.Name()
}

// PreviousStateName returns the name of the last exited state, empty before
// the first transition away from a state.
func (m *Machine) PreviousStateName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// StateNames returns the registered state names, sorted for stable output.
func (m *Machine) StateNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsStateActive reports whether the named state is the active one.
func (m *Machine) IsStateActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.Name() == name
}

// Info returns a consistent snapshot of the machine's observable state.
func (m *Machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		PreviousState:   m.previous,
		AvailableStates: make([]string, 0, len(m.registry)),
	}
	for name := range m.registry {
		info.AvailableStates = append(info.AvailableStates, name)
	}
	sort.Strings(info.AvailableStates)

	if m.active != nil {
		info.CurrentState = m.active.Name()
		info.Elapsed = m.active.ActiveFor()
	}
	return info
}
