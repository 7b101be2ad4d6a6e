package state

import (
	"math/rand"
	"time"
)

// IdleConfig holds the tunables for the idle behavior. Durations follow the
// display config; zero values are replaced by defaults.
type IdleConfig struct {
	LookIntervalMin  time.Duration // minimum delay between gaze shifts
	LookIntervalMax  time.Duration
	MoveSpeed        float64       // gaze interpolation speed, px/s
	BlinkIntervalMin time.Duration
	BlinkIntervalMax time.Duration
	BlinkDuration    time.Duration
	GazeRange        float64       // max gaze offset from center, px
}

// DefaultIdleConfig returns the stock idle timings.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		LookIntervalMin:  2 * time.Second,
		LookIntervalMax:  6 * time.Second,
		MoveSpeed:        120,
		BlinkIntervalMin: 3 * time.Second,
		BlinkIntervalMax: 7 * time.Second,
		BlinkDuration:    150 * time.Millisecond,
		GazeRange:        40,
	}
}

// Idle is the default behavior: the face blinks and its gaze wanders. It has
// no timeout and stays active until an external transition.
type Idle struct {
	base
	cfg IdleConfig
	rng *rand.Rand

	// Gaze animation.
	gazeX, gazeY     float64
	targetX, targetY float64
	nextLook         time.Duration

	// Blink animation.
	nextBlink  time.Duration
	blinkStart time.Duration
	blinking   bool
}

// NewIdle creates the idle handler. A nil source seeds from the clock.
func NewIdle(cfg IdleConfig, rng *rand.Rand) *Idle {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	def := DefaultIdleConfig()
	if cfg.LookIntervalMin <= 0 {
		cfg.LookIntervalMin = def.LookIntervalMin
	}
	if cfg.LookIntervalMax < cfg.LookIntervalMin {
		cfg.LookIntervalMax = cfg.LookIntervalMin
	}
	if cfg.MoveSpeed <= 0 {
		cfg.MoveSpeed = def.MoveSpeed
	}
	if cfg.BlinkIntervalMin <= 0 {
		cfg.BlinkIntervalMin = def.BlinkIntervalMin
	}
	if cfg.BlinkIntervalMax < cfg.BlinkIntervalMin {
		cfg.BlinkIntervalMax = cfg.BlinkIntervalMin
	}
	if cfg.BlinkDuration <= 0 {
		cfg.BlinkDuration = def.BlinkDuration
	}
	if cfg.GazeRange <= 0 {
		cfg.GazeRange = def.GazeRange
	}
	return &Idle{base: base{name: NameIdle}, cfg: cfg, rng: rng}
}

// Enter resets the gaze and blink timers.
func (s *Idle) Enter(_ string, _ Params) {
	s.enter()
	s.gazeX, s.gazeY = 0, 0
	s.targetX, s.targetY = 0, 0
	s.blinking = false
	s.nextLook = s.randomInterval(s.cfg.LookIntervalMin, s.cfg.LookIntervalMax)
	s.nextBlink = s.randomInterval(s.cfg.BlinkIntervalMin, s.cfg.BlinkIntervalMax)
}

// Update advances the gaze and blink timers by dt.
func (s *Idle) Update(dt time.Duration) UpdateInfo {
	s.tick(dt)

	// Pick a new gaze target when the look timer expires.
	if s.elapsed >= s.nextLook {
		s.targetX = (s.rng.Float64()*2 - 1) * s.cfg.GazeRange
		s.targetY = (s.rng.Float64()*2 - 1) * s.cfg.GazeRange
		s.nextLook = s.elapsed + s.randomInterval(s.cfg.LookIntervalMin, s.cfg.LookIntervalMax)
	}

	// Move the gaze toward the target at the configured speed.
	step := s.cfg.MoveSpeed * dt.Seconds()
	s.gazeX = approach(s.gazeX, s.targetX, step)
	s.gazeY = approach(s.gazeY, s.targetY, step)

	// Blink scheduling.
	if !s.blinking && s.elapsed >= s.nextBlink {
		s.blinking = true
		s.blinkStart = s.elapsed
	}
	if s.blinking && s.elapsed-s.blinkStart >= s.cfg.BlinkDuration {
		s.blinking = false
		s.nextBlink = s.elapsed + s.randomInterval(s.cfg.BlinkIntervalMin, s.cfg.BlinkIntervalMax)
	}

	return UpdateInfo{
		State:      s.name,
		Elapsed:    s.elapsed,
		EyeOffsetX: s.gazeX,
		EyeOffsetY: s.gazeY,
		BlinkRatio: s.blinkRatio(),
	}
}

// blinkRatio returns eyelid closure in [0, 1]: closed at the blink midpoint.
func (s *Idle) blinkRatio() float64 {
	if !s.blinking {
		return 0
	}
	progress := float64(s.elapsed-s.blinkStart) / float64(s.cfg.BlinkDuration)
	if progress > 1 {
		return 0
	}
	if progress < 0.5 {
		return progress * 2
	}
	return (1 - progress) * 2
}

// Render clears the surface; eye drawing happens in the external renderer
// driven by the UpdateInfo gaze and blink values.
func (s *Idle) Render(surface Surface) {
	surface.Fill(0, 0, 0)
}

// Exit deactivates the handler.
func (s *Idle) Exit() {
	s.exit()
}

// HandleInput triggers a blink on space.
func (s *Idle) HandleInput(ev InputEvent) bool {
	if ev.Type == InputKeyDown && ev.Key == KeySpace {
		s.ForceBlink()
		return true
	}
	return false
}

// ForceBlink starts a blink immediately.
func (s *Idle) ForceBlink() {
	s.blinking = true
	s.blinkStart = s.elapsed
}

// SetGazeTarget points the gaze at an explicit offset.
func (s *Idle) SetGazeTarget(x, y float64) {
	s.targetX = clamp(x, -s.cfg.GazeRange, s.cfg.GazeRange)
	s.targetY = clamp(y, -s.cfg.GazeRange, s.cfg.GazeRange)
}

func (s *Idle) randomInterval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// approach moves cur toward target by at most step.
func approach(cur, target, step float64) float64 {
	diff := target - cur
	if diff > step {
		return cur + step
	}
	if diff < -step {
		return cur - step
	}
	return target
}
