// Package raspieye is the behavioral control plane for a robot face: a
// finite state machine for the face's behaviors, a synchronous event bus
// that decouples its components, and a TCP command server that lets other
// processes drive it.
//
// # Architecture
//
// Three core pieces connect through the event bus; nothing calls across
// layers directly:
//
//	┌──────────────────────────────┐
//	│       Command Server         │  line-delimited JSON over TCP
//	│  (ping, change_state, ...)   │  broadcasts to all clients
//	└──────────────┬───────────────┘
//	               │ emits command_received
//	┌──────────────▼───────────────┐
//	│          Event Bus           │  synchronous, in-order delivery
//	│   (subscribe / emit / clear) │  panic isolation per subscriber
//	└──────────────┬───────────────┘
//	               │ drives
//	┌──────────────▼───────────────┐
//	│        State Machine         │  idle, thinking, speaking, sleeping
//	│   (exit → enter → emit)      │  handlers pooled, one active
//	└──────────────────────────────┘
//
// The command server never touches the state machine: it announces inbound
// commands on the bus and the application layer performs the transition.
// Handlers never transition either; they signal intent through their tick
// result and the application acts on it. This keeps every piece testable in
// isolation and makes the protocol reply semantics explicit: a change_state
// reply acknowledges receipt, not completion.
//
// # Packages
//
// Core:
//   - eventbus: synchronous pub/sub hub
//   - state: behavior handlers and the state machine
//   - command: TCP protocol server
//   - app: wiring and the fixed-tick update loop
//
// Infrastructure:
//   - config: JSON configuration with defaults
//   - errors: classified error handling
//   - metric: Prometheus metrics and HTTP exposition
//
// Optional surfaces:
//   - gateway/websocket: event stream for browsers
//   - natsbridge: one-way event mirror onto NATS subjects
//
// # Binary
//
// Build and run the control plane:
//
//	go build -o bin/raspi-eye ./cmd/raspi-eye
//	./bin/raspi-eye --config configs/face.json
//
// Then drive it from any TCP client:
//
//	echo '{"command":"change_state","state":"thinking"}' | nc localhost 8888
package raspieye
