package state

import (
	"math"
	"time"
)

// SleepingConfig holds the tunables for the breathing animation.
type SleepingConfig struct {
	BreathingSpeed     float64 // cycles per second
	BreathingAmplitude float64 // offset amplitude in pixels
}

// DefaultSleepingConfig returns the stock sleeping tunables.
func DefaultSleepingConfig() SleepingConfig {
	return SleepingConfig{
		BreathingSpeed:     0.5,
		BreathingAmplitude: 5,
	}
}

// Sleeping is the dormant behavior: no overlay, just a continuous sinusoidal
// breathing phase the external renderer uses as a vertical offset for the
// closed-eye arcs. It has no timeout.
type Sleeping struct {
	base
	cfg   SleepingConfig
	phase float64
}

// NewSleeping creates the sleeping handler.
func NewSleeping(cfg SleepingConfig) *Sleeping {
	def := DefaultSleepingConfig()
	if cfg.BreathingSpeed <= 0 {
		cfg.BreathingSpeed = def.BreathingSpeed
	}
	if cfg.BreathingAmplitude <= 0 {
		cfg.BreathingAmplitude = def.BreathingAmplitude
	}
	return &Sleeping{base: base{name: NameSleeping}, cfg: cfg}
}

// Enter resets the breathing phase.
func (s *Sleeping) Enter(_ string, _ Params) {
	s.enter()
	s.phase = 0
}

// Update advances the breathing phase.
func (s *Sleeping) Update(dt time.Duration) UpdateInfo {
	s.tick(dt)
	s.phase += dt.Seconds() * s.cfg.BreathingSpeed * 2 * math.Pi

	return UpdateInfo{
		State:           s.name,
		Elapsed:         s.elapsed,
		BreathingOffset: s.BreathingOffset(),
	}
}

// Render draws nothing; the sleeping face is produced by the shared eye
// renderer using the breathing offset.
func (s *Sleeping) Render(_ Surface) {}

// Exit deactivates the handler.
func (s *Sleeping) Exit() {
	s.exit()
}

// HandleInput consumes nothing while sleeping.
func (s *Sleeping) HandleInput(_ InputEvent) bool {
	return false
}

// BreathingOffset returns the current vertical offset.
func (s *Sleeping) BreathingOffset() float64 {
	return math.Sin(s.phase) * s.cfg.BreathingAmplitude
}
