// Package config loads and validates the application configuration from a
// JSON file. Every field has a usable default so the application runs with
// no config file at all; a file overrides only what it specifies.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/he-be/raspi-eye/errors"
)

// Config is the complete application configuration.
type Config struct {
	Display   DisplayConfig   `json:"display"`
	Server    ServerConfig    `json:"server"`
	States    StatesConfig    `json:"states"`
	Metrics   MetricsConfig   `json:"metrics"`
	WebSocket WebSocketConfig `json:"websocket"`
	NATS      NATSConfig      `json:"nats"`
}

// DisplayConfig controls the render surface and the update loop cadence.
type DisplayConfig struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	FPS        int  `json:"fps"`
	Fullscreen bool `json:"fullscreen"`
}

// ServerConfig controls the TCP command server.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	BufferSize int    `json:"buffer_size"` // max bytes per request line
}

// StatesConfig carries per-behavior tuning. Zero values mean "use the
// built-in default" so a partial config file stays valid.
type StatesConfig struct {
	Initial  string         `json:"initial"`
	Idle     IdleConfig     `json:"idle"`
	Thinking ThinkingConfig `json:"thinking"`
	Speaking SpeakingConfig `json:"speaking"`
	Sleeping SleepingConfig `json:"sleeping"`
}

// IdleConfig tunes gaze wandering and blinking.
type IdleConfig struct {
	LookIntervalMinMS int     `json:"look_interval_min_ms"`
	LookIntervalMaxMS int     `json:"look_interval_max_ms"`
	MoveSpeed         float64 `json:"move_speed"` // gaze speed, px/s
	BlinkIntervalMin  float64 `json:"blink_interval_min_s"`
	BlinkIntervalMax  float64 `json:"blink_interval_max_s"`
	BlinkDuration     float64 `json:"blink_duration_s"`
	GazeRange         float64 `json:"gaze_range"`
}

// ThinkingConfig tunes the pulsing border animation.
type ThinkingConfig struct {
	BorderWidth      int     `json:"border_width"`
	ColorChangeSpeed float64 `json:"color_change_speed"`
	PulseSpeed       float64 `json:"pulse_speed"`
	DefaultIntensity float64 `json:"default_intensity"`
}

// SpeakingConfig tunes lip-sync playback.
type SpeakingConfig struct {
	BorderWidth      int     `json:"border_width"`
	BlinkSpeed       float64 `json:"blink_speed"`
	DefaultIntensity float64 `json:"default_intensity"`
}

// SleepingConfig tunes the breathing animation.
type SleepingConfig struct {
	BreathingSpeed     float64 `json:"breathing_speed"`
	BreathingAmplitude float64 `json:"breathing_amplitude"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// WebSocketConfig controls the browser-facing event stream.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// NATSConfig controls the optional event mirror. Empty URLs leave the
// bridge disabled.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	SubjectPrefix string   `json:"subject_prefix,omitempty"`
	Name          string   `json:"name,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Display: DisplayConfig{
			Width:  800,
			Height: 480,
			FPS:    30,
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       8888,
			BufferSize: 64 * 1024,
		},
		States: StatesConfig{
			Initial: "idle",
			Idle: IdleConfig{
				LookIntervalMinMS: 2000,
				LookIntervalMaxMS: 5000,
				MoveSpeed:         120,
				BlinkIntervalMin:  2.0,
				BlinkIntervalMax:  6.0,
				BlinkDuration:     0.15,
				GazeRange:         50,
			},
			Thinking: ThinkingConfig{
				BorderWidth:      8,
				ColorChangeSpeed: 0.5,
				PulseSpeed:       0.7,
				DefaultIntensity: 1.0,
			},
			Speaking: SpeakingConfig{
				BorderWidth:      8,
				BlinkSpeed:       4.0,
				DefaultIntensity: 1.0,
			},
			Sleeping: SleepingConfig{
				BreathingSpeed:     0.5,
				BreathingAmplitude: 5,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		WebSocket: WebSocketConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8889,
			Path:    "/events",
		},
	}
}

// Load reads path and merges it over the defaults. An empty path returns
// the defaults unchanged. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the application cannot run
// with. It reports the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "validate config")
	}

	check := func(ok bool, format string, args ...any) error {
		if ok {
			return nil
		}
		return errors.WrapInvalid(fmt.Errorf(format, args...), "config", "Validate", "validate config")
	}

	if err := check(c.Display.Width > 0 && c.Display.Height > 0,
		"display dimensions must be positive, got %dx%d", c.Display.Width, c.Display.Height); err != nil {
		return err
	}
	if err := check(c.Display.FPS > 0 && c.Display.FPS <= 240,
		"fps must be in 1..240, got %d", c.Display.FPS); err != nil {
		return err
	}
	if err := check(c.Server.Port >= 0 && c.Server.Port <= 65535,
		"server port out of range: %d", c.Server.Port); err != nil {
		return err
	}
	if err := check(c.Server.BufferSize > 0,
		"server buffer_size must be positive, got %d", c.Server.BufferSize); err != nil {
		return err
	}
	if err := check(validInitial(c.States.Initial),
		"unknown initial state: %q", c.States.Initial); err != nil {
		return err
	}
	if err := check(c.States.Idle.LookIntervalMinMS <= c.States.Idle.LookIntervalMaxMS,
		"idle look interval min exceeds max"); err != nil {
		return err
	}
	if err := check(c.States.Idle.BlinkIntervalMin <= c.States.Idle.BlinkIntervalMax,
		"idle blink interval min exceeds max"); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if err := check(c.Metrics.Port > 0 && c.Metrics.Port <= 65535,
			"metrics port out of range: %d", c.Metrics.Port); err != nil {
			return err
		}
	}
	if c.WebSocket.Enabled {
		if err := check(c.WebSocket.Port > 0 && c.WebSocket.Port <= 65535,
			"websocket port out of range: %d", c.WebSocket.Port); err != nil {
			return err
		}
	}
	return nil
}

// NATSEnabled reports whether the event mirror should be started.
func (c *Config) NATSEnabled() bool {
	return len(c.NATS.URLs) > 0
}

func validInitial(name string) bool {
	switch name {
	case "idle", "thinking", "speaking", "sleeping":
		return true
	}
	return false
}
