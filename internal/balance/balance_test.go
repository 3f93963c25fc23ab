package balance

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"go-crash/internal/lib/money"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	svc, err := NewService(client, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return svc
}

func TestIncomeAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	got, err := svc.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), got)

	updated, err := svc.Income(ctx, 42, money.Amount(10000))
	require.NoError(t, err)
	assert.Equal(t, money.Amount(10000), updated)

	got, err = svc.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(10000), got)
}

func TestOutcome(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Income(ctx, 7, money.Amount(500))
	require.NoError(t, err)

	updated, err := svc.Outcome(ctx, 7, money.Amount(300))
	require.NoError(t, err)
	assert.Equal(t, money.Amount(200), updated)

	_, err = svc.Outcome(ctx, 7, money.Amount(300))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestOutcomeRejectsNonPositive(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Outcome(context.Background(), 7, 0)
	assert.Error(t, err)

	_, err = svc.Income(context.Background(), 7, -1)
	assert.Error(t, err)
}
