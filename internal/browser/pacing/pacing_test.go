package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
)

func testProfile() *Profile {
	return NewProfile(config.PacingConfig{
		TypingHoldMeanMs: 70,
		MinDwell:         40 * time.Second,
		MaxDwell:         80 * time.Second,
		SlowFactor:       2.0,
	})
}

func TestDwellWindowBounds(t *testing.T) {
	p := testProfile()

	for i := 0; i < 50; i++ {
		d := p.DwellWindow(false)
		assert.GreaterOrEqual(t, d, 40*time.Second)
		assert.Less(t, d, 80*time.Second)
	}
}

func TestDwellWindowSlowFactor(t *testing.T) {
	p := testProfile()

	for i := 0; i < 50; i++ {
		d := p.DwellWindow(true)
		assert.GreaterOrEqual(t, d, 80*time.Second, "slow playback doubles the window")
		assert.Less(t, d, 160*time.Second)
	}
}

func TestNewProfileClampsDegenerateConfig(t *testing.T) {
	p := NewProfile(config.PacingConfig{
		TypingHoldMeanMs: -5,
		MinDwell:         time.Minute,
		MaxDwell:         time.Second, // inverted
		SlowFactor:       0.1,
	})

	d := p.DwellWindow(false)
	assert.Equal(t, time.Minute, d, "inverted window collapses to min dwell")
	assert.Equal(t, d, p.DwellWindow(true), "slow factor below 1 is clamped to 1")
}

func TestScrollOffsetsSmoothAndBounded(t *testing.T) {
	p := testProfile()
	offsets := p.ScrollOffsets(64)
	require.Len(t, offsets, 64)

	for i, o := range offsets {
		assert.LessOrEqual(t, o, 240.0)
		assert.GreaterOrEqual(t, o, -240.0)
		if i > 0 {
			// Perlin noise keeps consecutive samples correlated.
			assert.Less(t, abs(o-offsets[i-1]), 200.0)
		}
	}

	assert.Nil(t, p.ScrollOffsets(0))
}

func TestSimulateTypingCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testProfile().SimulateTyping(ctx, 30)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulateTypingEmptyString(t *testing.T) {
	assert.NoError(t, testProfile().SimulateTyping(context.Background(), 0))
}

func TestStaggerDelayBounds(t *testing.T) {
	assert.Equal(t, time.Duration(0), StaggerDelay(0))
	for i := 0; i < 50; i++ {
		d := StaggerDelay(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
