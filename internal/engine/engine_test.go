package engine

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"go-crash/internal/balance"
	"go-crash/internal/config"
	"go-crash/internal/lib/money"
	"go-crash/internal/round"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu       sync.Mutex
	betRound []string
}

func (s *recordingSink) RecordBet(roundID string, _ int64, _ money.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.betRound = append(s.betRound, roundID)
}

func (s *recordingSink) RecordCashout(string, int64, money.Amount, money.Coef, money.Amount) {}

func (s *recordingSink) RecordRound(round.Round, []*round.Stake) {}

func (s *recordingSink) betRounds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.betRound...)
}

type engineFixture struct {
	engine  *Engine
	store   *round.Store
	client  *redis.Client
	mr      *miniredis.Miniredis
	clock   *fakeClock
	history *recordingSink
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &fakeClock{now: time.Now()}

	store, err := round.NewStore(&round.StoreConfig{RedisClient: client}, log)
	require.NoError(t, err)

	ledger, err := round.NewLedger(&round.LedgerConfig{
		RedisClient: client,
		Store:       store,
		Clock:       clk,
	}, log)
	require.NoError(t, err)

	balances, err := balance.NewService(client, nil, log)
	require.NoError(t, err)

	sink := &recordingSink{}

	eng, err := New(&Config{
		RedisClient: client,
		Store:       store,
		Ledger:      ledger,
		Balance:     balances,
		History:     sink,
		Clock:       clk,
	}, log)
	require.NoError(t, err)

	return &engineFixture{
		engine:  eng,
		store:   store,
		client:  client,
		mr:      mr,
		clock:   clk,
		history: sink,
	}
}

func (f *engineFixture) seedRound(t *testing.T, status round.Status, crashPoint money.Coef) *round.Round {
	t.Helper()

	rnd := &round.Round{
		ID:         "round-1",
		StartTime:  f.clock.Now().UnixMilli(),
		CrashPoint: crashPoint,
		Status:     status,
		Config:     config.DefaultGameConfig(),
	}
	require.NoError(t, f.store.Write(context.Background(), rnd))

	return rnd
}

func TestGetStatusNoRound(t *testing.T) {
	f := newEngineFixture(t)

	status, err := f.engine.GetStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, round.StatusWaiting, status.Status)
	assert.Equal(t, money.CoefOne, status.Coefficient)
	assert.False(t, status.JustCrashed)
}

func TestGetStatusPlayingHidesCrashPoint(t *testing.T) {
	f := newEngineFixture(t)

	f.seedRound(t, round.StatusPlaying, 500)
	f.clock.Advance(1500 * time.Millisecond)

	status, err := f.engine.GetStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, round.StatusPlaying, status.Status)
	assert.Equal(t, money.Coef(110), status.Coefficient)
	assert.Zero(t, status.CrashPoint)
}

func TestGetStatusJustCrashed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seedRound(t, round.StatusCrashed, 245)
	require.NoError(t, f.client.Set(ctx, round.JustCrashedKey, "1", time.Minute).Err())
	require.NoError(t, f.client.Set(ctx, round.LastCrashKey, "2.45", 0).Err())

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)

	assert.True(t, status.JustCrashed)
	assert.Equal(t, money.Coef(245), status.LastCrashPoint)
	assert.Equal(t, money.Coef(245), status.CrashPoint)
}

func TestJoinAndPlayerState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seedRound(t, round.StatusWaiting, 0)
	require.NoError(t, f.client.HSet(ctx, balance.BalancesKey, "42", 10000).Err())

	require.NoError(t, f.engine.Join(ctx, 42, money.Amount(1000)))

	state, err := f.engine.GetPlayerState(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, state.Stake)
	assert.Equal(t, money.Amount(1000), state.Stake.BetAmount)
	assert.Equal(t, money.Amount(9000), state.Balance)

	// The bet record carries the round the stake committed against.
	assert.Equal(t, []string{"round-1"}, f.history.betRounds())
}

func TestCashoutCreditsPayout(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.seedRound(t, round.StatusWaiting, 0)
	require.NoError(t, f.client.HSet(ctx, balance.BalancesKey, "42", 10000).Err())
	require.NoError(t, f.engine.Join(ctx, 42, money.Amount(1000)))

	f.seedRound(t, round.StatusPlaying, 500)
	f.clock.Advance(1500 * time.Millisecond)

	result, err := f.engine.Cashout(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, money.Coef(110), result.Coef)
	assert.Equal(t, money.Amount(1100), result.Payout)

	state, err := f.engine.GetPlayerState(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(10100), state.Balance)
}

func TestGetLastRoundSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	got, err := f.engine.GetLastRoundSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	snapshot := round.Snapshot{
		Round: round.Round{ID: "round-0", Status: round.StatusCrashed, CrashPoint: 245},
		Stakes: []*round.Stake{
			{UserID: 42, BetAmount: 1000, CashedOut: true, CashoutCoef: 110, CashoutCount: 1},
		},
	}

	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, f.client.Set(ctx, round.LastRoundKey, raw, time.Minute).Err())

	got, err = f.engine.GetLastRoundSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "round-0", got.Round.ID)
	require.Len(t, got.Stakes, 1)
	assert.Equal(t, int64(42), got.Stakes[0].UserID)
}

func TestCrashHistory(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for _, coef := range []string{"1.01", "2.45", "10.00"} {
		require.NoError(t, f.client.LPush(ctx, round.CrashHistoryKey, coef).Err())
	}

	coefs, err := f.engine.CrashHistory(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, []money.Coef{1000, 245, 101}, coefs)
}
