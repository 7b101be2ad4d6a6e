package websocket

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/he-be/raspi-eye/eventbus"
)

func startTestGateway(t *testing.T) (*Gateway, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	gw := New("127.0.0.1", 0, "/events", bus, nil, nil)
	require.NoError(t, gw.Start())
	t.Cleanup(func() {
		_ = gw.Stop(2 * time.Second)
	})
	return gw, bus
}

func dialTestGateway(t *testing.T, gw *Gateway) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+gw.ListenAddress()+"/events", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestRelayDeliversBusEvents(t *testing.T) {
	gw, bus := startTestGateway(t)
	conn := dialTestGateway(t, gw)

	require.Eventually(t, func() bool { return gw.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	bus.Emit(eventbus.StateChanged, map[string]any{
		"previous_state": "idle",
		"current_state":  "thinking",
	})

	frame := readFrame(t, conn)
	assert.Equal(t, "state_changed", frame.Event)
	assert.Equal(t, "thinking", frame.Payload["current_state"])
	assert.NotZero(t, frame.Timestamp)
}

func TestRelayFansOutToAllClients(t *testing.T) {
	gw, bus := startTestGateway(t)
	conn1 := dialTestGateway(t, gw)
	conn2 := dialTestGateway(t, gw)

	require.Eventually(t, func() bool { return gw.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	bus.Emit(eventbus.AnimationStarted, map[string]any{"state": "speaking"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		frame := readFrame(t, conn)
		assert.Equal(t, "animation_started", frame.Event)
	}
}

func TestDisconnectedClientIsPruned(t *testing.T) {
	gw, bus := startTestGateway(t)
	conn1 := dialTestGateway(t, gw)
	conn2 := dialTestGateway(t, gw)

	require.Eventually(t, func() bool { return gw.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn2.Close())

	// The read loop notices the close and removes the client.
	require.Eventually(t, func() bool { return gw.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	bus.Emit(eventbus.ErrorOccurred, map[string]any{"message": "boom"})
	frame := readFrame(t, conn1)
	assert.Equal(t, "error_occurred", frame.Event)
}

func TestStopIsIdempotentAndClosesClients(t *testing.T) {
	bus := eventbus.New(nil)
	gw := New("127.0.0.1", 0, "/events", bus, nil, nil)
	require.NoError(t, gw.Start())

	conn := dialTestGateway(t, gw)
	require.Eventually(t, func() bool { return gw.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, gw.Stop(time.Second))
	require.NoError(t, gw.Stop(time.Second), "second stop is a no-op")

	// Bus subscriptions are gone; emitting must not panic or deliver.
	bus.Emit(eventbus.StateChanged, map[string]any{"current_state": "idle"})
	assert.Zero(t, bus.SubscriberCount(eventbus.StateChanged))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	gw, _ := startTestGateway(t)
	assert.Error(t, gw.Start())
}
