// Package pacing contains the human-like timing simulation used while
// typing credentials and dwelling on a playing video.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
)

// rngPool manages synchronized random number generators.
var rngPool = sync.Pool{
	New: func() interface{} {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	},
}

func getRNG() *rand.Rand {
	return rngPool.Get().(*rand.Rand)
}

func putRNG(r *rand.Rand) {
	rngPool.Put(r)
}

// Profile holds resolved pacing parameters for one run.
type Profile struct {
	typingHoldMeanMs float64
	minDwell         time.Duration
	maxDwell         time.Duration
	slowFactor       float64
}

// NewProfile builds a pacing profile from configuration, clamping values
// that would make the simulation degenerate.
func NewProfile(cfg config.PacingConfig) *Profile {
	p := &Profile{
		typingHoldMeanMs: float64(cfg.TypingHoldMeanMs),
		minDwell:         cfg.MinDwell,
		maxDwell:         cfg.MaxDwell,
		slowFactor:       cfg.SlowFactor,
	}
	if p.typingHoldMeanMs <= 0 {
		p.typingHoldMeanMs = 70
	}
	if p.minDwell <= 0 {
		p.minDwell = 30 * time.Second
	}
	if p.maxDwell < p.minDwell {
		p.maxDwell = p.minDwell
	}
	if p.slowFactor < 1 {
		p.slowFactor = 1
	}
	return p
}

// Hesitate pauses execution, respecting context cancellation.
func Hesitate(ctx context.Context, duration time.Duration) error {
	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SimulateTyping pauses between keystrokes for a string of length n,
// approximating human key-hold and inter-key times with normal jitter.
func (p *Profile) SimulateTyping(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}

	rng := getRNG()
	defer putRNG(rng)

	const (
		holdVariance     = 15.0
		interKeyMeanMs   = 100.0
		interKeyVariance = 40.0
	)

	for i := 0; i < n; i++ {
		holdMs := rng.NormFloat64()*holdVariance + p.typingHoldMeanMs
		if holdMs < 20 { // Minimum physical duration.
			holdMs = 20
		}
		if err := Hesitate(ctx, time.Duration(holdMs)*time.Millisecond); err != nil {
			return err
		}

		if i == n-1 {
			break
		}

		interKeyMs := rng.NormFloat64()*interKeyVariance + interKeyMeanMs
		if interKeyMs < 30 {
			interKeyMs = 30
		}
		if err := Hesitate(ctx, time.Duration(interKeyMs)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// DwellWindow picks a randomized watch duration inside the configured
// window, stretched by the slow factor when slow playback is requested.
func (p *Profile) DwellWindow(slow bool) time.Duration {
	rng := getRNG()
	defer putRNG(rng)

	span := p.maxDwell - p.minDwell
	d := p.minDwell
	if span > 0 {
		d += time.Duration(rng.Int63n(int64(span)))
	}
	if slow {
		d = time.Duration(float64(d) * p.slowFactor)
	}
	return d
}

// ScrollOffsets produces a smooth sequence of vertical scroll deltas for
// low-key activity during the dwell period. Perlin noise keeps consecutive
// deltas correlated the way a human flick-scrolls, instead of white noise.
func (p *Profile) ScrollOffsets(steps int) []float64 {
	if steps <= 0 {
		return nil
	}

	rng := getRNG()
	seed := rng.Int63()
	putRNG(rng)

	noise := perlin.NewPerlin(2, 2, 3, seed)
	offsets := make([]float64, steps)
	for i := range offsets {
		// Sample along one axis; scale into a modest pixel delta.
		offsets[i] = noise.Noise1D(float64(i)*0.17) * 240
	}
	return offsets
}

// StaggerDelay picks a random operation start delay in [0, max).
func StaggerDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	rng := getRNG()
	defer putRNG(rng)
	return time.Duration(rng.Int63n(int64(max)))
}
