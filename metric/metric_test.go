package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	registry := NewRegistry()
	m := New()
	require.NoError(t, registry.Register(m))

	m.RecordTransition("", "idle")
	m.RecordTransition("idle", "thinking")
	m.RecordCommand("ping", "success")
	m.RecordCommand("ping", "success")
	m.SetClients(3)
	m.ObserveTick(16 * time.Millisecond)
	m.RecordEvent("state_changed")
	m.RecordBroadcastFailure()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("none", "idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("idle", "thinking")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("ping", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ClientsConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastFailures))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	// All record helpers must tolerate a nil receiver.
	m.RecordTransition("idle", "speaking")
	m.RecordCommand("ping", "error")
	m.SetClients(1)
	m.ObserveTick(time.Millisecond)
	m.RecordEvent("command_received")
	m.RecordBroadcastFailure()
}

func TestDoubleRegisterFails(t *testing.T) {
	registry := NewRegistry()
	m := New()
	require.NoError(t, registry.Register(m))
	assert.Error(t, registry.Register(m))
}
