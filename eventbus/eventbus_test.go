package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := New(nil)

	var got []Event
	bus.Subscribe(StateChanged, func(e Event) {
		got = append(got, e)
	})

	bus.Emit(StateChanged, map[string]any{"current_state": "idle"})

	require.Len(t, got, 1)
	assert.Equal(t, StateChanged, got[0].Kind)
	assert.Equal(t, "idle", got[0].Payload["current_state"])
	assert.WithinDuration(t, time.Now(), got[0].Timestamp, time.Second)
}

func TestEmitWithoutSubscribers(t *testing.T) {
	bus := New(nil)

	// Must not panic or block.
	bus.Emit(AnimationFinished, nil)
}

func TestDuplicateSubscribeIsNoOp(t *testing.T) {
	bus := New(nil)

	calls := 0
	cb := func(Event) { calls++ }

	bus.Subscribe(CommandReceived, cb)
	bus.Subscribe(CommandReceived, cb)
	require.Equal(t, 1, bus.SubscriberCount(CommandReceived))

	bus.Emit(CommandReceived, nil)
	assert.Equal(t, 1, calls)
}

func TestSameCallbackDifferentKinds(t *testing.T) {
	bus := New(nil)

	calls := 0
	cb := func(Event) { calls++ }

	bus.Subscribe(StateChanged, cb)
	bus.Subscribe(CommandReceived, cb)

	bus.Emit(StateChanged, nil)
	bus.Emit(CommandReceived, nil)
	assert.Equal(t, 2, calls)
}

func TestUnsubscribe(t *testing.T) {
	bus := New(nil)

	calls := 0
	cb := func(Event) { calls++ }

	bus.Subscribe(StateChanged, cb)
	bus.Unsubscribe(StateChanged, cb)
	bus.Emit(StateChanged, nil)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriberCount(StateChanged))

	// Removing an unknown callback is a no-op.
	bus.Unsubscribe(StateChanged, cb)
}

func TestFanOutOrderAndPanicIsolation(t *testing.T) {
	bus := New(nil)

	var order []int
	bus.Subscribe(ErrorOccurred, func(Event) { order = append(order, 1) })
	bus.Subscribe(ErrorOccurred, func(Event) {
		order = append(order, 2)
		panic("subscriber failure")
	})
	bus.Subscribe(ErrorOccurred, func(Event) { order = append(order, 3) })

	// The panicking subscriber must not stop delivery to later ones,
	// nor propagate to the emitter.
	require.NotPanics(t, func() {
		bus.Emit(ErrorOccurred, map[string]any{"message": "boom"})
	})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestClearSingleKind(t *testing.T) {
	bus := New(nil)

	bus.Subscribe(StateChanged, func(Event) {})
	bus.Subscribe(CommandReceived, func(Event) {})

	bus.Clear(StateChanged)

	assert.Equal(t, 0, bus.SubscriberCount(StateChanged))
	assert.Equal(t, 1, bus.SubscriberCount(CommandReceived))
}

func TestClearAll(t *testing.T) {
	bus := New(nil)

	bus.Subscribe(StateChanged, func(Event) {})
	bus.Subscribe(CommandReceived, func(Event) {})

	bus.Clear()

	assert.Equal(t, 0, bus.SubscriberCount(StateChanged))
	assert.Equal(t, 0, bus.SubscriberCount(CommandReceived))
}

func TestSubscribeDuringEmitDoesNotDeadlock(t *testing.T) {
	bus := New(nil)

	late := 0
	bus.Subscribe(StateChanged, func(Event) {
		bus.Subscribe(AnimationStarted, func(Event) { late++ })
	})

	bus.Emit(StateChanged, nil)
	bus.Emit(AnimationStarted, nil)

	assert.Equal(t, 1, late)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	total := 0
	bus.Subscribe(CommandReceived, func(Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Emit(CommandReceived, nil)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 800, total)
}
