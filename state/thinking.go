package state

import (
	"math"
	"time"
)

// Intensity bounds shared by the thinking and speaking behaviors.
const (
	intensityMin = 0.1
	intensityMax = 2.0
)

// ThinkingConfig holds the tunables for the thinking border overlay.
type ThinkingConfig struct {
	BorderWidth      int
	ColorChangeSpeed float64 // hue cycles per second at intensity 1.0
	PulseSpeed       float64
	IntensityDefault float64
}

// DefaultThinkingConfig returns the stock thinking tunables.
func DefaultThinkingConfig() ThinkingConfig {
	return ThinkingConfig{
		BorderWidth:      8,
		ColorChangeSpeed: 0.5,
		PulseSpeed:       0.7,
		IntensityDefault: 1.0,
	}
}

// Thinking shows a color-cycling border overlay while the robot is working
// on something. An optional duration bounds the behavior; when it elapses
// the handler signals ShouldReturnToIdle and waits for the application to
// transition back.
type Thinking struct {
	base
	cfg ThinkingConfig

	intensity   float64
	duration    time.Duration // zero means unbounded
	borderClock float64       // border animation time in seconds
}

// NewThinking creates the thinking handler.
func NewThinking(cfg ThinkingConfig) *Thinking {
	def := DefaultThinkingConfig()
	if cfg.BorderWidth <= 0 {
		cfg.BorderWidth = def.BorderWidth
	}
	if cfg.ColorChangeSpeed <= 0 {
		cfg.ColorChangeSpeed = def.ColorChangeSpeed
	}
	if cfg.PulseSpeed <= 0 {
		cfg.PulseSpeed = def.PulseSpeed
	}
	if cfg.IntensityDefault <= 0 {
		cfg.IntensityDefault = def.IntensityDefault
	}
	return &Thinking{base: base{name: NameThinking}, cfg: cfg}
}

// Enter applies the intensity and duration parameters and resets the border
// animation clock.
func (s *Thinking) Enter(_ string, params Params) {
	s.enter()
	s.borderClock = 0
	s.intensity = s.cfg.IntensityDefault
	s.duration = 0

	if v, ok := params.Float("intensity"); ok {
		s.intensity = clamp(v, intensityMin, intensityMax)
	}
	if v, ok := params.Float("duration"); ok && v > 0 {
		s.duration = time.Duration(v) * time.Millisecond
	}
}

// Update advances the border animation and checks the duration bound.
func (s *Thinking) Update(dt time.Duration) UpdateInfo {
	s.tick(dt)
	s.borderClock += dt.Seconds() * s.cfg.ColorChangeSpeed * s.intensity

	return UpdateInfo{
		State:              s.name,
		Elapsed:            s.elapsed,
		Intensity:          s.intensity,
		BorderClock:        s.borderClock,
		ShouldReturnToIdle: s.duration > 0 && s.elapsed >= s.duration,
	}
}

// Render draws the color-cycling border overlay.
func (s *Thinking) Render(surface Surface) {
	r, g, b := hueColor(s.borderClock)
	pulse := 0.75 + 0.25*math.Sin(s.borderClock*s.cfg.PulseSpeed*2*math.Pi)
	surface.DrawBorder(r, g, b, s.cfg.BorderWidth, pulse)
}

// Exit deactivates the handler.
func (s *Thinking) Exit() {
	s.exit()
}

// HandleInput adjusts intensity with the arrow keys.
func (s *Thinking) HandleInput(ev InputEvent) bool {
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
	}
	return false
}

// SetIntensity overrides the current intensity, clamped to the valid range.
func (s *Thinking) SetIntensity(v float64) {
	s.intensity = clamp(v, intensityMin, intensityMax)
}

// Intensity returns the current intensity.
func (s *Thinking) Intensity() float64 {
	return s.intensity
}

// Progress reports how far a bounded thinking run has come in [0, 1]; it is
// 0 while the behavior is unbounded.
func (s *Thinking) Progress() float64 {
	if s.duration <= 0 {
		return 0
	}
	return math.Min(1, float64(s.elapsed)/float64(s.duration))
}

// hueColor maps an animation clock to a cycling RGB color.
func hueColor(clock float64) (uint8, uint8, uint8) {
	hue := math.Mod(clock, 1)
	if hue < 0 {
		hue += 1
	}
	sector := hue * 6
	frac := sector - math.Floor(sector)
	q := uint8(255 * (1 - frac))
	t := uint8(255 * frac)

	switch int(sector) % 6 {
	case 0:
		return 255, t, 0
	case 1:
		return q, 255, 0
	case 2:
		return 0, 255, t
	case 3:
		return 0, q, 255
	case 4:
		return t, 0, 255
	default:
		return 255, 0, q
	}
}
