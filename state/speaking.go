package state

import (
	"math"
	"math/rand"
	"time"
)

// lipSyncStep is the fixed cadence of the lip-sync pattern: one sample every
// 100 ms of active time.
const lipSyncStep = 100 * time.Millisecond

// SpeakingConfig holds the tunables for the speaking border overlay.
type SpeakingConfig struct {
	BorderWidth      int
	BlinkSpeed       float64 // border blink frequency at intensity 1.0
	IntensityDefault float64
}

// DefaultSpeakingConfig returns the stock speaking tunables.
func DefaultSpeakingConfig() SpeakingConfig {
	return SpeakingConfig{
		BorderWidth:      8,
		BlinkSpeed:       4.0,
		IntensityDefault: 1.0,
	}
}

// Speaking shows a white blinking border while the robot talks and drives a
// discretized lip-sync progression: a precomputed intensity sequence sampled
// every 100 ms. Reaching the end of the pattern, or an optional duration,
// signals ShouldReturnToIdle.
type Speaking struct {
	base
	cfg SpeakingConfig
	rng *rand.Rand

	intensity float64
	duration  time.Duration // zero means unbounded
	speaking  bool

	pattern []float64
	index   int
}

// NewSpeaking creates the speaking handler. A nil source seeds from the
// clock; tests inject a fixed source for deterministic patterns.
func NewSpeaking(cfg SpeakingConfig, rng *rand.Rand) *Speaking {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	def := DefaultSpeakingConfig()
	if cfg.BorderWidth <= 0 {
		cfg.BorderWidth = def.BorderWidth
	}
	if cfg.BlinkSpeed <= 0 {
		cfg.BlinkSpeed = def.BlinkSpeed
	}
	if cfg.IntensityDefault <= 0 {
		cfg.IntensityDefault = def.IntensityDefault
	}
	return &Speaking{base: base{name: NameSpeaking}, cfg: cfg, rng: rng}
}

// Enter applies intensity, duration and lip-sync parameters. Without a
// supplied pattern a pseudo-random one is generated.
func (s *Speaking) Enter(_ string, params Params) {
	s.enter()
	s.intensity = s.cfg.IntensityDefault
	s.duration = 0
	s.speaking = true
	s.index = 0

	if v, ok := params.Float("intensity"); ok {
		s.intensity = clamp(v, intensityMin, intensityMax)
	}
	if v, ok := params.Float("duration"); ok && v > 0 {
		s.duration = time.Duration(v) * time.Millisecond
	}
	if pattern, ok := params.FloatSlice("lip_sync_pattern"); ok && len(pattern) > 0 {
		s.SetPattern(pattern)
	} else {
		s.pattern = s.generatePattern()
	}
}

// generatePattern builds a natural-looking 5 second pattern at the 100 ms
// cadence: ramp in over the first samples, ramp out over the last, smooth
// the middle against the previous sample.
func (s *Speaking) generatePattern() []float64 {
	const length = 50
	pattern := make([]float64, 0, length)

	for i := 0; i < length; i++ {
		var intensity float64
		switch {
		case i < 5:
			intensity = (float64(i) / 5) * (0.7 + s.rng.Float64()*0.3)
		case i > length-10:
			remaining := float64(length - i)
			intensity = (remaining / 10) * (0.3 + s.rng.Float64()*0.5)
		default:
			v := 0.4 + s.rng.Float64()*0.6
			if len(pattern) > 0 {
				v = (v + pattern[len(pattern)-1]) / 2
			}
			intensity = v
		}
		pattern = append(pattern, clamp(intensity, 0, 1))
	}
	return pattern
}

// Update advances the lip-sync index and checks the termination conditions.
func (s *Speaking) Update(dt time.Duration) UpdateInfo {
	s.tick(dt)

	// Index advances on the fixed cadence, clamped to the pattern length.
	target := int(s.elapsed / lipSyncStep)
	if target > len(s.pattern) {
		target = len(s.pattern)
	}
	s.index = target

	done := false
	if s.duration > 0 && s.elapsed >= s.duration {
		done = true
	}
	if s.index >= len(s.pattern) {
		done = true
	}
	if done {
		s.speaking = false
	}

	return UpdateInfo{
		State:              s.name,
		Elapsed:            s.elapsed,
		Intensity:          s.intensity,
		Speaking:           s.speaking,
		LipIntensity:       s.LipIntensity(),
		LipSyncProgress:    s.Progress(),
		ShouldReturnToIdle: done,
	}
}

// LipIntensity returns the pattern sample for the current index, 0 once the
// pattern is exhausted.
func (s *Speaking) LipIntensity() float64 {
	if s.index >= len(s.pattern) {
		return 0
	}
	return s.pattern[s.index]
}

// Progress reports how much of the pattern has played in [0, 1].
func (s *Speaking) Progress() float64 {
	if len(s.pattern) == 0 {
		return 1
	}
	return math.Min(1, float64(s.index)/float64(len(s.pattern)))
}

// Render draws the white blinking border while speech is active. The blink
// rate scales with intensity and the current lip-sync sample.
func (s *Speaking) Render(surface Surface) {
	if !s.speaking {
		return
	}
	speed := s.cfg.BlinkSpeed * s.intensity * (0.5 + s.LipIntensity()*0.5)
	phase := s.elapsed.Seconds() * speed
	alpha := 0.5 + 0.5*math.Sin(phase*2*math.Pi)
	surface.DrawBorder(255, 255, 255, s.cfg.BorderWidth, alpha)
}

// Exit deactivates the handler.
func (s *Speaking) Exit() {
	s.exit()
}

// HandleInput adjusts intensity with the arrow keys and toggles speech with
// enter.
func (s *Speaking) HandleInput(ev InputEvent) bool {
	if ev.Type != InputKeyDown {
		return false
	}
	switch ev.Key {
	case KeyArrowUp:
		s.intensity = clamp(s.intensity+0.1, intensityMin, intensityMax)
		return true
	case KeyArrowDown:
		s.intensity = clamp(s.intensity-0.1, intensityMin, intensityMax)
		return true
	case KeyEnter:
		s.speaking = !s.speaking
		return true
	}
	return false
}

// SetIntensity overrides the current intensity, clamped to the valid range.
func (s *Speaking) SetIntensity(v float64) {
	s.intensity = clamp(v, intensityMin, intensityMax)
}

// Intensity returns the current intensity.
func (s *Speaking) Intensity() float64 {
	return s.intensity
}

// SetPattern installs a lip-sync pattern, clamping each sample to [0, 1],
// and rewinds the index.
func (s *Speaking) SetPattern(pattern []float64) {
	cleaned := make([]float64, len(pattern))
	for i, v := range pattern {
		cleaned[i] = clamp(v, 0, 1)
	}
	s.pattern = cleaned
	s.index = 0
}
