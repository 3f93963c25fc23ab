package round

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"go-crash/internal/config"
	"go-crash/internal/lib/money"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(&StoreConfig{RedisClient: client}, discardLogger())
	require.NoError(t, err)

	return store, mr, client
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRound(status Status) *Round {
	return &Round{
		ID:         "0c8e3f1a-7a1e-4a5c-9f6d-2b4f8e1a9c3d",
		StartTime:  time.Now().UnixMilli(),
		CrashPoint: money.Coef(250),
		Status:     status,
		Config:     config.DefaultGameConfig(),
	}
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(nil, discardLogger())
	assert.EqualError(t, err, "config cannot be nil")

	_, err = NewStore(&StoreConfig{}, discardLogger())
	assert.EqualError(t, err, "redis client cannot be nil")
}

func TestStoreRoundtrip(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	rnd := testRound(StatusWaiting)
	require.NoError(t, store.Write(ctx, rnd))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, rnd.ID, got.ID)
	assert.Equal(t, rnd.StartTime, got.StartTime)
	assert.Equal(t, rnd.CrashPoint, got.CrashPoint)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, rnd.Config, got.Config)
}

func TestStoreReadAbsent(t *testing.T) {
	store, _, _ := newTestStore(t)

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreReadCorruptChecksum(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, testRound(StatusPlaying)))

	// Flip one field after the checksum was computed.
	raw, err := mr.Get(RoundKey)
	require.NoError(t, err)

	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))

	stored["crash_point"] = 999999

	tampered, err := json.Marshal(stored)
	require.NoError(t, err)
	mr.Set(RoundKey, string(tampered))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "tampered record must read as absent")
}

func TestStoreReadStale(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	rnd := testRound(StatusCrashed)

	payload, err := encodeRound(rnd, time.Now().Add(-6*time.Minute))
	require.NoError(t, err)
	mr.Set(RoundKey, string(payload))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "stale record must read as absent")
}

func TestStoreReadGarbage(t *testing.T) {
	store, mr, _ := newTestStore(t)

	mr.Set(RoundKey, "not json at all")

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeRoundRejectsUnknownStatus(t *testing.T) {
	rnd := testRound(StatusWaiting)
	rnd.Status = Status("exploded")

	payload, err := encodeRound(rnd, time.Now())
	require.NoError(t, err)

	_, err = decodeRound(payload, time.Now())
	assert.ErrorContains(t, err, "unknown status")
}

func TestStoreWriteTxCommits(t *testing.T) {
	store, _, client := newTestStore(t)
	ctx := context.Background()

	rnd := testRound(StatusPlaying)

	err := client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return store.WriteTx(ctx, pipe, rnd)
		})

		return err
	}, RoundKey)
	require.NoError(t, err)

	got, err := store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPlaying, got.Status)
}
