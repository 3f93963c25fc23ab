package clock

import (
	"math"
	"sync"
	"time"

	"go-crash/internal/lib/money"
)

// Clock is the time source for all round timing. Exactly one implementation
// is chosen at construction; call sites never branch on which one they got.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock directly. Used where manipulation resistance
// does not matter (tests, tooling).
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Secure derives the current time from a wall-clock epoch captured at
// construction plus the monotonic delta since then. A jump of the system
// clock moves DetectManipulation's reading, not Now's.
type Secure struct {
	mu        sync.Mutex
	epoch     time.Time
	started   time.Time
	maxDrift  time.Duration
	wallClock func() time.Time
}

const defaultMaxDrift = 5 * time.Second

func NewSecure() *Secure {
	now := time.Now()

	return &Secure{
		epoch:     now,
		started:   now,
		maxDrift:  defaultMaxDrift,
		wallClock: time.Now,
	}
}

func (c *Secure) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	// time.Since uses the monotonic reading carried by started.
	return c.epoch.Add(time.Since(c.started))
}

// DetectManipulation compares the live wall clock against the monotonic
// estimate. It only reports; it never blocks play by itself.
func (c *Secure) DetectManipulation() (bool, time.Duration) {
	wall := c.wallClock()

	drift := wall.Sub(c.Now())
	if drift < 0 {
		drift = -drift
	}

	return drift > c.maxDrift, drift
}

// Coefficient computes the live multiplier growthRate^ticks where
// ticks = elapsed_ms / tick_ms, quantized down to 2 decimals and capped at
// maxCoef. Durations before start and overflow both resolve safely.
func Coefficient(start, now time.Time, tickMS int64, growthRate float64, maxCoef money.Coef) money.Coef {
	elapsedMS := float64(now.Sub(start)) / float64(time.Millisecond)
	if elapsedMS < 0 {
		elapsedMS = 0
	}

	ticks := elapsedMS / float64(tickMS)

	raw := math.Pow(growthRate, ticks)
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw > maxCoef.Float64() {
		return maxCoef
	}

	coef := money.CoefFromFloat(raw)
	if coef < money.CoefOne {
		coef = money.CoefOne
	}

	if coef > maxCoef {
		coef = maxCoef
	}

	return coef
}
