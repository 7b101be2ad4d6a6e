// Package app wires the behavioral control plane together: the state
// machine, the event bus, the TCP command server, and the optional metrics,
// WebSocket and NATS surfaces. It owns the fixed-tick update loop and is the
// only place that turns bus events into state transitions.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/he-be/raspi-eye/command"
	"github.com/he-be/raspi-eye/config"
	"github.com/he-be/raspi-eye/errors"
	"github.com/he-be/raspi-eye/eventbus"
	wsgateway "github.com/he-be/raspi-eye/gateway/websocket"
	"github.com/he-be/raspi-eye/metric"
	"github.com/he-be/raspi-eye/natsbridge"
	"github.com/he-be/raspi-eye/state"
)

const stopTimeout = 5 * time.Second

// Application is the assembled control plane. Construct with New, then call
// Run; Run blocks until the context is canceled or a shutdown command
// arrives.
type Application struct {
	cfg     *config.Config
	logger  *slog.Logger
	surface state.Surface

	bus     *eventbus.Bus
	machine *state.Machine

	thinking *state.Thinking
	speaking *state.Speaking

	server  *command.Server
	gateway *wsgateway.Gateway
	bridge  *natsbridge.Bridge

	metrics       *metric.Metrics
	registry      *metric.Registry
	metricsServer *metric.Server

	inputs   chan state.InputEvent
	quit     chan struct{}
	quitOnce sync.Once
}

// New assembles an application from cfg. surface may be nil for headless
// operation; rendering is skipped entirely then.
func New(cfg *config.Config, surface state.Surface, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Application", "New", "application config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Application{
		cfg:     cfg,
		logger:  logger.With("component", "app"),
		surface: surface,
		inputs:  make(chan state.InputEvent, 64),
		quit:    make(chan struct{}),
	}

	a.bus = eventbus.New(logger)
	a.machine = state.NewMachine(a.bus, logger)

	a.metrics = metric.New()
	if cfg.Metrics.Enabled {
		a.registry = metric.NewRegistry()
		if err := a.registry.Register(a.metrics); err != nil {
			return nil, err
		}
		a.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry, logger)
	}

	a.registerStates()

	a.server = command.NewServer(
		cfg.Server.Host, cfg.Server.Port, cfg.Server.BufferSize,
		a.bus, a.metrics, logger,
	)

	if cfg.WebSocket.Enabled {
		a.gateway = wsgateway.New(
			cfg.WebSocket.Host, cfg.WebSocket.Port, cfg.WebSocket.Path,
			a.bus, a.metrics, logger,
		)
	}
	if cfg.NATSEnabled() {
		a.bridge = natsbridge.New(cfg.NATS.URLs, cfg.NATS.SubjectPrefix, cfg.NATS.Name, a.bus, logger)
	}

	return a, nil
}

// registerStates builds the four stock behaviors from the config and adds
// them to the machine.
func (a *Application) registerStates() {
	idleCfg := a.cfg.States.Idle
	a.machine.AddState(state.NewIdle(state.IdleConfig{
		LookIntervalMin:  time.Duration(idleCfg.LookIntervalMinMS) * time.Millisecond,
		LookIntervalMax:  time.Duration(idleCfg.LookIntervalMaxMS) * time.Millisecond,
		MoveSpeed:        idleCfg.MoveSpeed,
		BlinkIntervalMin: secondsToDuration(idleCfg.BlinkIntervalMin),
		BlinkIntervalMax: secondsToDuration(idleCfg.BlinkIntervalMax),
		BlinkDuration:    secondsToDuration(idleCfg.BlinkDuration),
		GazeRange:        idleCfg.GazeRange,
	}, nil))

	a.thinking = state.NewThinking(state.ThinkingConfig{
		BorderWidth:      a.cfg.States.Thinking.BorderWidth,
		ColorChangeSpeed: a.cfg.States.Thinking.ColorChangeSpeed,
		PulseSpeed:       a.cfg.States.Thinking.PulseSpeed,
		IntensityDefault: a.cfg.States.Thinking.DefaultIntensity,
	})
	a.machine.AddState(a.thinking)

	a.speaking = state.NewSpeaking(state.SpeakingConfig{
		BorderWidth:      a.cfg.States.Speaking.BorderWidth,
		BlinkSpeed:       a.cfg.States.Speaking.BlinkSpeed,
		IntensityDefault: a.cfg.States.Speaking.DefaultIntensity,
	}, nil)
	a.machine.AddState(a.speaking)

	a.machine.AddState(state.NewSleeping(state.SleepingConfig{
		BreathingSpeed:     a.cfg.States.Sleeping.BreathingSpeed,
		BreathingAmplitude: a.cfg.States.Sleeping.BreathingAmplitude,
	}))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Bus exposes the event bus for embedders and tests.
func (a *Application) Bus() *eventbus.Bus { return a.bus }

// Machine exposes the state machine for embedders and tests.
func (a *Application) Machine() *state.Machine { return a.machine }

// Server exposes the command server for embedders and tests.
func (a *Application) Server() *command.Server { return a.server }

// PushInput queues a local input event for the next tick. Events are dropped
// when the queue is full.
func (a *Application) PushInput(ev state.InputEvent) {
	select {
	case a.inputs <- ev:
	default:
	}
}

// Run starts all configured components, enters the tick loop, and blocks
// until ctx is canceled or a shutdown command arrives. Components are
// stopped in reverse start order before Run returns.
func (a *Application) Run(ctx context.Context) error {
	a.bus.Subscribe(eventbus.CommandReceived, a.onCommand)
	a.bus.Subscribe(eventbus.StateChanged, a.onStateChanged)
	for _, kind := range eventbus.Kinds() {
		a.bus.Subscribe(kind, a.recordEvent)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return err
		}
		defer func() { _ = a.metricsServer.Stop(stopTimeout) }()
	}

	if err := a.server.Start(); err != nil {
		return err
	}
	defer func() { _ = a.server.Stop(stopTimeout) }()

	if a.gateway != nil {
		if err := a.gateway.Start(); err != nil {
			return err
		}
		defer func() { _ = a.gateway.Stop(stopTimeout) }()
	}

	if a.bridge != nil {
		// The mirror is an optional surface; a dead broker at startup is
		// logged and the face runs without it.
		if err := a.bridge.Start(); err != nil {
			if errors.IsTransient(err) {
				a.logger.Warn("nats bridge unavailable, continuing without mirror", "error", err)
			} else {
				return err
			}
		} else {
			defer func() { _ = a.bridge.Stop() }()
		}
	}

	if !a.machine.ChangeState(a.cfg.States.Initial, nil) {
		return errors.WrapFatal(errors.ErrStateNotFound, "Application", "Run", "enter initial state")
	}

	a.logger.Info("application started",
		"initial_state", a.cfg.States.Initial,
		"fps", a.cfg.Display.FPS,
		"command_address", a.server.ListenAddress())

	return a.loop(ctx)
}

// loop is the fixed-tick update loop. dt is constant per tick so handler
// behavior is deterministic for a given tick count regardless of scheduling
// jitter.
func (a *Application) loop(ctx context.Context) error {
	dt := time.Second / time.Duration(a.cfg.Display.FPS)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("application stopping", "reason", "context canceled")
			return ctx.Err()
		case <-a.quit:
			a.logger.Info("application stopping", "reason", "shutdown command")
			return nil
		case <-ticker.C:
			a.tick(dt)
		}
	}
}

// tick runs one update cycle: pump queued inputs, advance the active state,
// render, and act on the handler's return-to-idle signal.
func (a *Application) tick(dt time.Duration) {
	for {
		select {
		case ev := <-a.inputs:
			if ev.Type == state.InputQuit || (ev.Type == state.InputKeyDown && ev.Key == state.KeyEscape) {
				a.requestShutdown()
				return
			}
			a.machine.HandleInput(ev)
			continue
		default:
		}
		break
	}

	start := time.Now()
	info := a.machine.Update(dt)
	a.metrics.ObserveTick(time.Since(start))

	if a.surface != nil {
		a.machine.Render(a.surface)
	}

	if info.ShouldReturnToIdle {
		a.bus.Emit(eventbus.AnimationFinished, map[string]any{
			"state":      info.State,
			"elapsed_ms": info.Elapsed.Milliseconds(),
		})
		a.machine.ChangeState(state.NameIdle, nil)
	}
}

// onCommand reacts to commands announced by the server. This is the single
// point where network input becomes state machine calls, so the server never
// needs a reference to the machine.
func (a *Application) onCommand(event eventbus.Event) {
	cmd, _ := event.Payload["command"].(string)

	switch cmd {
	case "change_state":
		name, _ := event.Payload["state"].(string)
		params, _ := event.Payload["parameters"].(map[string]any)
		if !a.machine.ChangeState(name, state.Params(params)) {
			a.logger.Warn("requested state does not exist", "state", name)
			a.bus.Emit(eventbus.ErrorOccurred, map[string]any{
				"source":  "change_state",
				"message": "unknown state: " + name,
				"state":   name,
			})
		}
	case "set_parameter":
		params, _ := event.Payload["parameters"].(map[string]any)
		a.applyParameters(state.Params(params))
	case "shutdown":
		a.requestShutdown()
	}
}

// applyParameters adjusts the active behavior in place without a
// transition. The adjustment runs under the machine's lock so it never
// interleaves with an Update tick.
func (a *Application) applyParameters(params state.Params) {
	a.machine.Adjust(func(h state.Handler) {
		if v, ok := params.Float("intensity"); ok {
			switch active := h.(type) {
			case *state.Thinking:
				active.SetIntensity(v)
			case *state.Speaking:
				active.SetIntensity(v)
			default:
				a.logger.Debug("intensity parameter ignored", "state", h.Name())
			}
		}
		if pattern, ok := params.FloatSlice("lip_sync_pattern"); ok {
			if active, ok := h.(*state.Speaking); ok {
				active.SetPattern(pattern)
			}
		}
	})
}

// onStateChanged records the transition and pushes it to every connected
// command client.
func (a *Application) onStateChanged(event eventbus.Event) {
	prev, _ := event.Payload["previous_state"].(string)
	curr, _ := event.Payload["current_state"].(string)

	a.metrics.RecordTransition(prev, curr)

	a.server.Broadcast(map[string]any{
		"event":          "state_changed",
		"previous_state": event.Payload["previous_state"],
		"current_state":  curr,
		"timestamp":      event.Timestamp.UnixMilli(),
	})

	if curr == state.NameThinking || curr == state.NameSpeaking {
		a.bus.Emit(eventbus.AnimationStarted, map[string]any{
			"state":      curr,
			"parameters": event.Payload["parameters"],
		})
	}
}

// recordEvent feeds every bus event into the metrics counters.
func (a *Application) recordEvent(event eventbus.Event) {
	a.metrics.RecordEvent(string(event.Kind))
}

// requestShutdown makes the run loop exit. Safe to call from any goroutine,
// any number of times.
func (a *Application) requestShutdown() {
	a.quitOnce.Do(func() { close(a.quit) })
}
