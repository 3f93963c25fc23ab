package crash

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-crash/internal/lib/money"
	"golang.org/x/exp/slog"
)

type fixedEdge float64

func (e fixedEdge) HouseEdge(_ context.Context) float64 {
	return float64(e)
}

type brokenEntropy struct{}

func (brokenEntropy) Read(_ []byte) (int, error) {
	return 0, errors.New("entropy source unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T, edge float64, entropy io.Reader) *Generator {
	t.Helper()

	gen, err := NewGenerator(&Config{
		HouseEdge: fixedEdge(edge),
		Entropy:   entropy,
	}, discardLogger())
	require.NoError(t, err)

	return gen
}

func TestNewGeneratorValidatesConfig(t *testing.T) {
	_, err := NewGenerator(nil, discardLogger())
	assert.Error(t, err)

	_, err = NewGenerator(&Config{}, discardLogger())
	assert.Error(t, err)
}

func TestGenerateBounds(t *testing.T) {
	gen := newTestGenerator(t, 0.10, nil) // crypto/rand

	for i := 0; i < 5000; i++ {
		point := gen.Generate(context.Background())

		assert.GreaterOrEqual(t, point, money.CoefOne, "crash point below 1.00")
		assert.LessOrEqual(t, point, money.Coef(10000), "crash point above 100.00")
	}
}

func TestGenerateTierShares(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}

	gen := newTestGenerator(t, 0.10, nil)

	const n = 20000

	var high, mid int

	for i := 0; i < n; i++ {
		point := gen.Generate(context.Background())

		if point >= 1000 { // >= 10.00x
			high++
		} else if point >= 400 && point < 1000 {
			mid++
		}
	}

	// High tier carries 2% of the mass; mid tier multipliers can also come
	// from the top of the normal tier, so only bound it loosely.
	assert.InDelta(t, 0.02, float64(high)/n, 0.01)
	assert.Greater(t, mid, 0)
}

func TestGenerateHouseEdgeBiasesDownward(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}

	lowEdge := newTestGenerator(t, 0.05, nil)
	highEdge := newTestGenerator(t, 0.20, nil)

	const n = 20000

	var lowSum, highSum int64

	for i := 0; i < n; i++ {
		lowSum += int64(lowEdge.Generate(context.Background()))
		highSum += int64(highEdge.Generate(context.Background()))
	}

	assert.Greater(t, lowSum, highSum, "higher house edge should yield lower average crash points")
}

func TestGenerateSubstitutesMinimalCrashOnFault(t *testing.T) {
	gen := newTestGenerator(t, 0.10, brokenEntropy{})

	point := gen.Generate(context.Background())
	assert.Equal(t, fallbackCrash, point)
}

func TestGenerateNeverRepeatsEntropy(t *testing.T) {
	gen := newTestGenerator(t, 0.10, nil)

	seen := make(map[money.Coef]int)
	for i := 0; i < 1000; i++ {
		seen[gen.Generate(context.Background())]++
	}

	// A time-seeded or reused source would collapse onto few values.
	assert.Greater(t, len(seen), 50)
}

func TestLogUniformCoversRange(t *testing.T) {
	assert.InDelta(t, 10.0, logUniform(0, 10, 100), 1e-9)
	assert.InDelta(t, 100.0, logUniform(1, 10, 100), 1e-9)
	assert.InDelta(t, 31.62, logUniform(0.5, 10, 100), 0.01)
}
