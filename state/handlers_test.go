package state

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSurface captures draw calls for render assertions.
type recordingSurface struct {
	fills   int
	borders []borderCall
}

type borderCall struct {
	r, g, b uint8
	width   int
	alpha   float64
}

func (s *recordingSurface) Fill(_, _, _ uint8) { s.fills++ }

func (s *recordingSurface) DrawBorder(r, g, b uint8, width int, alpha float64) {
	s.borders = append(s.borders, borderCall{r, g, b, width, alpha})
}

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestIdleBlinkScheduling(t *testing.T) {
	cfg := DefaultIdleConfig()
	cfg.BlinkIntervalMin = 100 * time.Millisecond
	cfg.BlinkIntervalMax = 100 * time.Millisecond
	cfg.BlinkDuration = 100 * time.Millisecond
	s := NewIdle(cfg, testRand())

	s.Enter("", nil)
	require.True(t, s.Active())

	info := s.Update(50 * time.Millisecond)
	assert.Zero(t, info.BlinkRatio, "no blink before the interval elapses")

	// Interval reached: blink starts, eyelids at midpoint halfway through.
	s.Update(50 * time.Millisecond)
	info = s.Update(50 * time.Millisecond)
	assert.InDelta(t, 1.0, info.BlinkRatio, 0.01)

	// Blink over, eyes open again.
	info = s.Update(60 * time.Millisecond)
	assert.Zero(t, info.BlinkRatio)
}

func TestIdleForceBlinkOnSpace(t *testing.T) {
	s := NewIdle(DefaultIdleConfig(), testRand())
	s.Enter("", nil)

	require.True(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeySpace}))
	info := s.Update(10 * time.Millisecond)
	assert.Greater(t, info.BlinkRatio, 0.0)

	assert.False(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeyEnter}))
}

func TestIdleGazeMovesTowardTarget(t *testing.T) {
	cfg := DefaultIdleConfig()
	cfg.MoveSpeed = 100
	// Keep the wander timer from retargeting mid-test.
	cfg.LookIntervalMin = time.Hour
	cfg.LookIntervalMax = time.Hour
	s := NewIdle(cfg, testRand())
	s.Enter("", nil)

	s.SetGazeTarget(30, -30)
	info := s.Update(100 * time.Millisecond) // 10 px of travel
	assert.InDelta(t, 10, info.EyeOffsetX, 0.01)
	assert.InDelta(t, -10, info.EyeOffsetY, 0.01)

	// Target clamped to the configured range.
	s.SetGazeTarget(1000, 0)
	for i := 0; i < 100; i++ {
		info = s.Update(100 * time.Millisecond)
	}
	assert.InDelta(t, cfg.GazeRange, info.EyeOffsetX, 0.01)
}

func TestThinkingIntensityClamp(t *testing.T) {
	tests := []struct {
		name     string
		param    float64
		expected float64
	}{
		{"below minimum", 0.01, 0.1},
		{"above maximum", 5.0, 2.0},
		{"in range", 1.5, 1.5},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := NewThinking(DefaultThinkingConfig())
			s.Enter("idle", Params{"intensity": test.param})
			assert.Equal(t, test.expected, s.Intensity())
		})
	}
}

func TestThinkingDefaultIntensityWithoutParam(t *testing.T) {
	s := NewThinking(DefaultThinkingConfig())
	s.Enter("idle", nil)
	assert.Equal(t, 1.0, s.Intensity())
}

func TestThinkingDurationSignalsReturnToIdle(t *testing.T) {
	s := NewThinking(DefaultThinkingConfig())
	s.Enter("idle", Params{"duration": 200.0})

	info := s.Update(150 * time.Millisecond)
	assert.False(t, info.ShouldReturnToIdle)
	assert.InDelta(t, 0.75, s.Progress(), 0.01)

	info = s.Update(60 * time.Millisecond)
	assert.True(t, info.ShouldReturnToIdle)
	assert.Equal(t, 1.0, s.Progress())
}

func TestThinkingUnboundedNeverSignals(t *testing.T) {
	s := NewThinking(DefaultThinkingConfig())
	s.Enter("idle", nil)

	info := s.Update(time.Hour)
	assert.False(t, info.ShouldReturnToIdle)
	assert.Zero(t, s.Progress())
}

func TestThinkingInputAdjustsIntensity(t *testing.T) {
	s := NewThinking(DefaultThinkingConfig())
	s.Enter("idle", Params{"intensity": 1.95})

	require.True(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeyArrowUp}))
	assert.Equal(t, 2.0, s.Intensity(), "clamped at maximum")

	require.True(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeyArrowDown}))
	assert.InDelta(t, 1.9, s.Intensity(), 0.001)

	assert.False(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeySpace}))
}

func TestThinkingRenderDrawsBorder(t *testing.T) {
	s := NewThinking(DefaultThinkingConfig())
	s.Enter("idle", nil)
	s.Update(100 * time.Millisecond)

	surface := &recordingSurface{}
	s.Render(surface)

	require.Len(t, surface.borders, 1)
	assert.Equal(t, 8, surface.borders[0].width)
	assert.Greater(t, surface.borders[0].alpha, 0.0)
}

func TestSpeakingLipSyncAdvancesAtFixedCadence(t *testing.T) {
	s := NewSpeaking(DefaultSpeakingConfig(), testRand())
	s.Enter("idle", Params{"lip_sync_pattern": []float64{0.2, 0.8, 0.4}})

	info := s.Update(50 * time.Millisecond)
	assert.Equal(t, 0.2, info.LipIntensity, "index 0 before first 100 ms")

	info = s.Update(60 * time.Millisecond) // 110 ms total
	assert.Equal(t, 0.8, info.LipIntensity)
	assert.False(t, info.ShouldReturnToIdle)

	info = s.Update(100 * time.Millisecond) // 210 ms total
	assert.Equal(t, 0.4, info.LipIntensity)

	// Pattern exhausted after 300 ms.
	info = s.Update(100 * time.Millisecond)
	assert.True(t, info.ShouldReturnToIdle)
	assert.False(t, info.Speaking)
	assert.Zero(t, info.LipIntensity)
	assert.Equal(t, 1.0, info.LipSyncProgress)
}

func TestSpeakingPatternValuesClamped(t *testing.T) {
	s := NewSpeaking(DefaultSpeakingConfig(), testRand())
	s.Enter("idle", Params{"lip_sync_pattern": []float64{-0.5, 1.5}})

	info := s.Update(time.Millisecond)
	assert.Equal(t, 0.0, info.LipIntensity)

	info = s.Update(100 * time.Millisecond)
	assert.Equal(t, 1.0, info.LipIntensity)
}

func TestSpeakingGeneratedPattern(t *testing.T) {
	s := NewSpeaking(DefaultSpeakingConfig(), testRand())
	s.Enter("idle", nil)

	require.Len(t, s.pattern, 50)
	assert.Zero(t, s.pattern[0], "pattern ramps in from silence")
	for i, v := range s.pattern {
		assert.GreaterOrEqual(t, v, 0.0, "sample %d", i)
		assert.LessOrEqual(t, v, 1.0, "sample %d", i)
	}
}

func TestSpeakingJSONDecodedPattern(t *testing.T) {
	// JSON decoding produces []any of float64.
	s := NewSpeaking(DefaultSpeakingConfig(), testRand())
	s.Enter("idle", Params{"lip_sync_pattern": []any{0.3, 0.6}})

	info := s.Update(time.Millisecond)
	assert.Equal(t, 0.3, info.LipIntensity)
}

func TestSpeakingDurationSignalsReturnToIdle(t *testing.T) {
	s := NewSpeaking(DefaultSpeakingConfig(), testRand())
	s.Enter("idle", Params{"duration": 100.0})

	info := s.Update(150 * time.Millisecond)
	assert.True(t, info.ShouldReturnToIdle)
}

func TestSpeakingToggleWithEnter(t *testing.T) {
	s := NewSpeaking(DefaultSpeakingConfig(), testRand())
	s.Enter("idle", nil)

	surface := &recordingSurface{}
	s.Render(surface)
	require.Len(t, surface.borders, 1, "border drawn while speaking")

	require.True(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeyEnter}))
	s.Render(surface)
	assert.Len(t, surface.borders, 1, "no border while paused")
}

func TestSleepingBreathingOscillates(t *testing.T) {
	s := NewSleeping(DefaultSleepingConfig())
	s.Enter("idle", nil)

	info := s.Update(0)
	assert.Zero(t, info.BreathingOffset)

	// Quarter cycle at 0.5 Hz is 500 ms: offset at the positive peak.
	info = s.Update(500 * time.Millisecond)
	assert.InDelta(t, 5.0, info.BreathingOffset, 0.01)

	// Half cycle later the offset is at the negative peak.
	info = s.Update(time.Second)
	assert.InDelta(t, -5.0, info.BreathingOffset, 0.01)

	assert.False(t, s.HandleInput(InputEvent{Type: InputKeyDown, Key: KeySpace}))
}

func TestHandlersReportElapsedFromTicks(t *testing.T) {
	s := NewThinking(DefaultThinkingConfig())
	assert.Zero(t, s.ActiveFor())

	s.Enter("idle", nil)
	s.Update(20 * time.Millisecond)
	s.Update(30 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, s.ActiveFor())

	s.Exit()
	assert.Zero(t, s.ActiveFor())
}
