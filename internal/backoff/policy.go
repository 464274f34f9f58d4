// Package backoff computes exponential retry delays and runs retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the delay before the second attempt, in milliseconds.
	InitialMs float64 `yaml:"initial_ms" json:"initial_ms"`
	// MaxMs caps every computed delay. Zero means uncapped.
	MaxMs float64 `yaml:"max_ms" json:"max_ms"`
	// Factor is the exponential growth factor per attempt.
	Factor float64 `yaml:"factor" json:"factor"`
	// Jitter is a proportional randomization factor (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" json:"jitter"`
	// JitterMs adds up to this many milliseconds of absolute random delay.
	JitterMs float64 `yaml:"jitter_ms" json:"jitter_ms"`
}

// Delay returns the wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-supplied random value in [0, 1).
//
//	delay = initial * factor^(attempt-1) * (1 + jitter*r) + jitterMs*r
func (p Policy) DelayWithRand(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}

	base := p.InitialMs * math.Pow(factor, exp)
	total := base + base*p.Jitter*r + p.JitterMs*r
	if p.MaxMs > 0 {
		total = math.Min(p.MaxMs, total)
	}
	return time.Duration(math.Round(total)) * time.Millisecond
}

// ProviderPolicy is the retry schedule for overloaded or rate limited model
// providers: 1.5s, 3s, 6s, 12s plus up to half a second of jitter each.
func ProviderPolicy() Policy {
	return Policy{
		InitialMs: 1500,
		MaxMs:     30000,
		Factor:    2,
		JitterMs:  500,
	}
}
