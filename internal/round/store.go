package round

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go-crash/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

// Redis keys for the round engine. The round record is shared out of
// process, so every transition commits through WATCH on these keys.
const (
	RoundKey        = "crash:round"
	StakesKey       = "crash:round:stakes"
	LastRoundKey    = "crash:round:last"
	EmptyRoundKey   = "crash:round:empty"
	JustCrashedKey  = "crash:just_crashed"
	LastCrashKey    = "crash:last_coefficient"
	CrashHistoryKey = "crash:history"

	JustCrashedTTL = 15 * time.Second
	SnapshotTTL    = 10 * time.Minute

	// maxRecordAge marks a stored round stale. A stale record means the
	// scheduler has been gone far longer than any legal round, so it is
	// treated as absent and a fresh round is created.
	maxRecordAge = 5 * time.Minute
)

const (
	SignalIntegrityFault   = "integrity_fault"
	SignalDuplicateJoin    = "duplicate_join"
	SignalTimingViolation  = "timing_violation"
	SignalPostCrashCashout = "post_crash_cashout"
	SignalTimeManipulation = "time_manipulation"
)

// storedRound wraps the Round with an integrity checksum and a write
// timestamp so a corrupted or replayed record is caught on read.
type storedRound struct {
	Round
	Checksum string  `json:"_checksum"`
	StoredAt float64 `json:"_timestamp"` // unix seconds
}

// StoreConfig holds construction options for the Store.
type StoreConfig struct {
	// RedisClient is the shared client. Required.
	RedisClient *redis.Client

	// Monitor receives integrity events. Optional.
	Monitor Monitor
}

// Store is the single authoritative record of the in-flight round.
type Store struct {
	client  *redis.Client
	monitor Monitor
	log     *slog.Logger
}

func NewStore(cfg *StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	return &Store{
		client:  cfg.RedisClient,
		monitor: cfg.Monitor,
		log:     log,
	}, nil
}

// Read returns the current round, or nil when no valid record exists.
// A checksum mismatch or a stale record is a high-severity integrity
// event: the record is treated as absent so the scheduler starts fresh.
func (s *Store) Read(ctx context.Context) (*Round, error) {
	const op = "round.Store.Read"

	raw, err := s.client.Get(ctx, RoundKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rnd, err := decodeRound(raw, time.Now())
	if err != nil {
		s.log.Error("round record failed integrity check, treating as absent",
			sl.String("op", op), sl.Err(err))

		if s.monitor != nil {
			s.monitor.Report(ctx, SignalIntegrityFault, 0, map[string]interface{}{
				"reason": err.Error(),
			})
		}

		return nil, nil
	}

	return rnd, nil
}

// Write persists the round outside of any transaction. Transitions that
// race concurrent writers go through WriteTx under WATCH instead.
func (s *Store) Write(ctx context.Context, rnd *Round) error {
	const op = "round.Store.Write"

	payload, err := encodeRound(rnd, time.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = s.client.Set(ctx, RoundKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// WriteTx queues the round write on a transaction pipeline so it commits
// or aborts atomically with the caller's other changes.
func (s *Store) WriteTx(ctx context.Context, pipe redis.Pipeliner, rnd *Round) error {
	const op = "round.Store.WriteTx"

	payload, err := encodeRound(rnd, time.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pipe.Set(ctx, RoundKey, payload, 0)

	return nil
}

// ReadTx reads the round through a WATCHed connection, so a concurrent
// write aborts the caller's commit. Integrity faults read as absent.
func (s *Store) ReadTx(ctx context.Context, tx *redis.Tx) (*Round, error) {
	const op = "round.Store.ReadTx"

	raw, err := tx.Get(ctx, RoundKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rnd, err := decodeRound(raw, time.Now())
	if err != nil {
		s.log.Error("round record failed integrity check inside transaction",
			sl.String("op", op), sl.Err(err))

		return nil, nil
	}

	return rnd, nil
}

func encodeRound(rnd *Round, now time.Time) ([]byte, error) {
	sum, err := checksum(rnd)
	if err != nil {
		return nil, err
	}

	return json.Marshal(storedRound{
		Round:    *rnd,
		Checksum: sum,
		StoredAt: float64(now.UnixMilli()) / 1000,
	})
}

func decodeRound(raw []byte, now time.Time) (*Round, error) {
	var stored storedRound

	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal round: %w", err)
	}

	if !stored.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", stored.Status)
	}

	sum, err := checksum(&stored.Round)
	if err != nil {
		return nil, err
	}

	if sum != stored.Checksum {
		return nil, fmt.Errorf("checksum mismatch: stored %s, calculated %s", stored.Checksum, sum)
	}

	age := now.Sub(time.UnixMilli(int64(stored.StoredAt * 1000)))
	if age > maxRecordAge {
		return nil, fmt.Errorf("record is stale: written %s ago", age)
	}

	rnd := stored.Round

	return &rnd, nil
}

// checksum hashes the canonical JSON form of the round. Struct marshaling
// emits fields in declaration order, so the form is deterministic.
func checksum(rnd *Round) (string, error) {
	payload, err := json.Marshal(rnd)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:]), nil
}
