package state

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/he-be/raspi-eye/eventbus"
)

// fakeHandler records lifecycle calls into a shared trace for ordering
// assertions.
type fakeHandler struct {
	base
	trace       *[]string
	consume     bool
	enterParams Params
}

func newFakeHandler(name string, trace *[]string) *fakeHandler {
	return &fakeHandler{base: base{name: name}, trace: trace}
}

func (h *fakeHandler) Enter(previous string, params Params) {
	h.enter()
	h.enterParams = params
	if h.trace != nil {
		*h.trace = append(*h.trace, h.name+".enter")
	}
}

func (h *fakeHandler) Update(dt time.Duration) UpdateInfo {
	h.tick(dt)
	return UpdateInfo{State: h.name, Elapsed: h.elapsed}
}

func (h *fakeHandler) Render(_ Surface) {
	if h.trace != nil {
		*h.trace = append(*h.trace, h.name+".render")
	}
}

func (h *fakeHandler) Exit() {
	h.exit()
	if h.trace != nil {
		*h.trace = append(*h.trace, h.name+".exit")
	}
}

func (h *fakeHandler) HandleInput(_ InputEvent) bool {
	return h.consume
}

func newTestMachine() (*Machine, *eventbus.Bus) {
	bus := eventbus.New(nil)
	return NewMachine(bus, nil), bus
}

func TestChangeStateUnknownRejected(t *testing.T) {
	m, bus := newTestMachine()

	events := 0
	bus.Subscribe(eventbus.StateChanged, func(eventbus.Event) { events++ })

	m.AddState(newFakeHandler("idle", nil))
	require.True(t, m.ChangeState("idle", nil))

	assert.False(t, m.ChangeState("nonexistent", nil))
	assert.Equal(t, "idle", m.CurrentStateName())
	assert.Equal(t, "", m.PreviousStateName())
	assert.Equal(t, 1, events, "rejected change must not emit")
}

func TestChangeStateIdempotentReentry(t *testing.T) {
	m, bus := newTestMachine()

	var trace []string
	events := 0
	bus.Subscribe(eventbus.StateChanged, func(eventbus.Event) { events++ })

	m.AddState(newFakeHandler("idle", &trace))
	require.True(t, m.ChangeState("idle", nil))
	require.True(t, m.ChangeState("idle", nil))

	assert.Equal(t, []string{"idle.enter"}, trace, "re-entering must not call Enter again")
	assert.Equal(t, 1, events, "re-entering must not emit a second event")
}

func TestChangeStateExitBeforeEnterBeforeEvent(t *testing.T) {
	m, bus := newTestMachine()

	var trace []string
	bus.Subscribe(eventbus.StateChanged, func(e eventbus.Event) {
		trace = append(trace, "event:"+e.Payload["current_state"].(string))
	})

	m.AddState(newFakeHandler("idle", &trace))
	m.AddState(newFakeHandler("thinking", &trace))

	require.True(t, m.ChangeState("idle", nil))
	trace = trace[:0]

	require.True(t, m.ChangeState("thinking", Params{"intensity": 1.5}))

	assert.Equal(t, []string{"idle.exit", "thinking.enter", "event:thinking"}, trace)
}

func TestChangeStateEventPayload(t *testing.T) {
	m, bus := newTestMachine()

	var got eventbus.Event
	bus.Subscribe(eventbus.StateChanged, func(e eventbus.Event) { got = e })

	m.AddState(newFakeHandler("idle", nil))
	m.AddState(newFakeHandler("speaking", nil))

	require.True(t, m.ChangeState("idle", nil))
	assert.Nil(t, got.Payload["previous_state"], "first activation has no previous state")

	require.True(t, m.ChangeState("speaking", Params{"intensity": 1.2}))
	assert.Equal(t, "idle", got.Payload["previous_state"])
	assert.Equal(t, "speaking", got.Payload["current_state"])
	params, ok := got.Payload["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.2, params["intensity"])
}

func TestChangeStateParamsReachHandler(t *testing.T) {
	m, _ := newTestMachine()

	h := newFakeHandler("thinking", nil)
	m.AddState(h)

	require.True(t, m.ChangeState("thinking", Params{"duration": 500.0}))
	v, ok := h.enterParams.Float("duration")
	require.True(t, ok)
	assert.Equal(t, 500.0, v)
}

func TestRemoveActiveStateExitsFirst(t *testing.T) {
	m, _ := newTestMachine()

	var trace []string
	m.AddState(newFakeHandler("idle", &trace))
	require.True(t, m.ChangeState("idle", nil))

	m.RemoveState("idle")

	assert.Equal(t, []string{"idle.enter", "idle.exit"}, trace)
	assert.Equal(t, "", m.CurrentStateName())
	assert.Empty(t, m.StateNames())

	// Removing an unknown state is a no-op.
	m.RemoveState("idle")
}

func TestAtMostOneActiveHandler(t *testing.T) {
	m, _ := newTestMachine()

	a := newFakeHandler("idle", nil)
	b := newFakeHandler("sleeping", nil)
	m.AddState(a)
	m.AddState(b)

	require.True(t, m.ChangeState("idle", nil))
	require.True(t, m.ChangeState("sleeping", nil))

	assert.False(t, a.Active())
	assert.True(t, b.Active())
	assert.True(t, m.IsStateActive("sleeping"))
	assert.False(t, m.IsStateActive("idle"))
}

func TestUpdateRenderInputForwarding(t *testing.T) {
	m, _ := newTestMachine()

	// Without an active state everything is a no-op.
	assert.Equal(t, UpdateInfo{}, m.Update(16*time.Millisecond))
	assert.False(t, m.HandleInput(InputEvent{Type: InputKeyDown, Key: KeySpace}))
	m.Render(&recordingSurface{})

	var trace []string
	h := newFakeHandler("idle", &trace)
	h.consume = true
	m.AddState(h)
	require.True(t, m.ChangeState("idle", nil))

	info := m.Update(32 * time.Millisecond)
	assert.Equal(t, "idle", info.State)
	assert.Equal(t, 32*time.Millisecond, info.Elapsed)

	assert.True(t, m.HandleInput(InputEvent{Type: InputKeyDown, Key: KeySpace}))

	m.Render(&recordingSurface{})
	assert.Contains(t, trace, "idle.render")
}

func TestInfoSnapshot(t *testing.T) {
	m, _ := newTestMachine()

	m.AddState(newFakeHandler("idle", nil))
	m.AddState(newFakeHandler("thinking", nil))

	info := m.Info()
	assert.Equal(t, "", info.CurrentState)
	assert.Equal(t, []string{"idle", "thinking"}, info.AvailableStates)

	require.True(t, m.ChangeState("idle", nil))
	require.True(t, m.ChangeState("thinking", nil))
	m.Update(250 * time.Millisecond)

	info = m.Info()
	assert.Equal(t, "thinking", info.CurrentState)
	assert.Equal(t, "idle", info.PreviousState)
	assert.Equal(t, 250*time.Millisecond, info.Elapsed)
}

func TestAdjustRunsOnActiveHandler(t *testing.T) {
	m, _ := newTestMachine()

	assert.False(t, m.Adjust(func(Handler) {
		t.Fatal("fn must not run without an active state")
	}))

	h := newFakeHandler("thinking", nil)
	m.AddState(h)
	require.True(t, m.ChangeState("thinking", nil))

	var seen Handler
	assert.True(t, m.Adjust(func(active Handler) { seen = active }))
	assert.Same(t, h, seen)
}

func TestConcurrentChangeStateDeliversConsistentEvents(t *testing.T) {
	m, bus := newTestMachine()

	m.AddState(newFakeHandler("thinking", nil))
	m.AddState(newFakeHandler("speaking", nil))

	var delivered, mismatches atomic.Int64
	bus.Subscribe(eventbus.StateChanged, func(e eventbus.Event) {
		delivered.Add(1)
		if m.CurrentStateName() != e.Payload["current_state"].(string) {
			mismatches.Add(1)
		}
	})

	var wg sync.WaitGroup
	for _, name := range []string{"thinking", "speaking"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m.ChangeState(name, nil)
			}
		}(name)
	}
	wg.Wait()

	assert.Positive(t, delivered.Load())
	assert.Zero(t, mismatches.Load(),
		"every delivery must observe the state its event announces")
}

func TestAddStateOverwrites(t *testing.T) {
	m, _ := newTestMachine()

	first := newFakeHandler("idle", nil)
	second := newFakeHandler("idle", nil)
	m.AddState(first)
	m.AddState(second)

	require.True(t, m.ChangeState("idle", nil))
	assert.True(t, second.Active())
	assert.False(t, first.Active())
	assert.Equal(t, []string{"idle"}, m.StateNames())
}
