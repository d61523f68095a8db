// Package backoff provides exponential backoff with jitter for the model
// orchestrator's retry loop.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the base delay for the first retry.
	Initial time.Duration
	// Max caps the computed delay (before the Retry-After floor).
	Max time.Duration
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top.
	Jitter float64
}

// DefaultPolicy mirrors the orchestrator's conservative retry timing:
// 400ms initial, 30s cap, doubling, 25% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 400 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.25,
	}
}

// Delay computes the backoff for attempt (1-indexed). When the server
// supplied a Retry-After hint it is honored as a lower bound for the result.
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	return p.delay(attempt, retryAfter, rand.Float64()) // #nosec G404 -- jitter needs no crypto randomness
}

// delay is the deterministic core, split out for tests.
func (p Policy) delay(attempt int, retryAfter time.Duration, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jittered := base + base*p.Jitter*random
	d := time.Duration(math.Min(jittered, float64(p.Max)))
	if retryAfter > d {
		return retryAfter
	}
	return d
}

// Sleep waits for the given duration, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
