package crash

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"golang.org/x/exp/slog"
)

// Tier thresholds: cumulative probability mass of the high and mid tiers.
// The remaining mass is the "normal" tier that carries the house edge.
const (
	highTierProb = 0.02
	midTierProb  = 0.025

	midTierBound = highTierProb + midTierProb // 0.045

	// houseEdgeWeight biases the normal-tier draw toward lower multipliers
	// so the expected return over that mass lands near 1 - house_edge.
	houseEdgeWeight = 1.5

	// fallbackCrash terminates the round even when sampling itself faults.
	fallbackCrash = money.Coef(101) // 1.01x
)

// HouseEdgeSource yields the current house edge, read fresh for every draw.
type HouseEdgeSource interface {
	HouseEdge(ctx context.Context) float64
}

// Config holds construction options for the Generator.
type Config struct {
	// HouseEdge provides the per-draw house edge. Required.
	HouseEdge HouseEdgeSource

	// Entropy is the random source. Defaults to crypto/rand. Never a
	// time-seeded PRNG; the crash point must not be predictable.
	Entropy io.Reader
}

// Generator samples the crash point for one round from a two-tier mixture:
// a rare log-uniform high tier [10,100), a rare log-uniform mid tier
// [4,10), and a normal tier whose reciprocal draw is biased by the house
// edge. The drawn value is never disclosed before the round crashes.
type Generator struct {
	houseEdge HouseEdgeSource
	entropy   io.Reader
	log       *slog.Logger
}

func NewGenerator(cfg *Config, log *slog.Logger) (*Generator, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.HouseEdge == nil {
		return nil, errors.New("house edge source cannot be nil")
	}

	entropy := cfg.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}

	return &Generator{
		houseEdge: cfg.HouseEdge,
		entropy:   entropy,
		log:       log,
	}, nil
}

// Generate draws a crash point >= 1.00 with 2-decimal precision. It never
// fails: any sampling fault substitutes the fixed minimal crash so the
// round always terminates.
func (g *Generator) Generate(ctx context.Context) money.Coef {
	const op = "crash.Generator.Generate"

	point, err := g.draw(ctx)
	if err != nil {
		g.log.Error("crash point draw failed, substituting minimal crash",
			sl.String("op", op), sl.Err(err))

		return fallbackCrash
	}

	return point
}

func (g *Generator) draw(ctx context.Context) (money.Coef, error) {
	const op = "crash.Generator.draw"

	u, err := g.uniform()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var crash float64

	switch {
	case u < highTierProb:
		crash = logUniform(u/highTierProb, 10, 100)
	case u < midTierBound:
		crash = logUniform((u-highTierProb)/midTierProb, 4, 10)
	default:
		normal := (u - midTierBound) / (1 - midTierBound)
		adjusted := normal + (1-normal)*g.houseEdge.HouseEdge(ctx)*houseEdgeWeight

		crash = 1 / adjusted
		if crash > 10 {
			crash = 10
		}
	}

	if math.IsNaN(crash) || math.IsInf(crash, 0) {
		return 0, fmt.Errorf("%s: non-finite crash value", op)
	}

	point := money.CoefFromFloat(crash)
	if point < money.CoefOne {
		point = money.CoefOne
	}

	return point, nil
}

// uniform hashes 32 bytes of cryptographic entropy and maps the first 13
// hex chars onto (0,1), clamped away from both edges.
func (g *Generator) uniform() (float64, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return 0, fmt.Errorf("read entropy: %w", err)
	}

	sum := sha256.Sum256(buf)
	digest := hex.EncodeToString(sum[:])

	n, err := strconv.ParseUint(digest[:13], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse digest: %w", err)
	}

	u := float64(n) / float64(uint64(1)<<52) // 16^13 == 2^52

	if u < 1e-13 {
		u = 1e-13
	}

	if u > 0.999999 {
		u = 0.999999
	}

	return u, nil
}

// logUniform maps u in [0,1) onto [lo,hi) with uniform density in log
// space, covering the whole range instead of piling onto the low end.
func logUniform(u, lo, hi float64) float64 {
	return math.Exp(math.Log(lo) + u*(math.Log(hi)-math.Log(lo)))
}
