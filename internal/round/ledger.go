package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go-crash/internal/balance"
	"go-crash/internal/clock"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"golang.org/x/exp/slog"
)

var (
	ErrRoundNotWaiting     = errors.New("round is not accepting bets")
	ErrRoundNotPlaying     = errors.New("round is not playing")
	ErrAlreadyJoined       = errors.New("user already joined this round")
	ErrBetOutOfBounds      = errors.New("bet amount is out of bounds")
	ErrRoundFull           = errors.New("round is full")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoStake             = errors.New("user has no stake in this round")
	ErrAlreadyCashedOut    = errors.New("stake already cashed out")
	ErrTooEarly            = errors.New("cashout before minimum delay")
	ErrPostCrash           = errors.New("cashout after crash point")
	ErrConflict            = errors.New("concurrent update, try again")
)

// CashoutResult is the committed outcome of a successful cashout. The
// payout is computed from the committed coefficient, never recomputed.
type CashoutResult struct {
	RoundID string
	Coef    money.Coef
	Bet     money.Amount
	Payout  money.Amount
	Win     money.Amount
}

// LedgerConfig holds construction options for the Ledger.
type LedgerConfig struct {
	RedisClient *redis.Client
	Store       *Store
	Clock       clock.Clock
	Monitor     Monitor
}

// Ledger owns the stakes of the current round. Every mutation runs inside
// a transaction watching the round record, the stakes hash and, for joins,
// the balances hash. A concurrent commit on any watched key aborts the
// whole operation; nothing is retried within the same request.
type Ledger struct {
	client  *redis.Client
	store   *Store
	clock   clock.Clock
	monitor Monitor
	log     *slog.Logger
}

func NewLedger(cfg *LedgerConfig, log *slog.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, errors.New("clock cannot be nil")
	}

	return &Ledger{
		client:  cfg.RedisClient,
		store:   cfg.Store,
		clock:   cfg.Clock,
		monitor: cfg.Monitor,
		log:     log,
	}, nil
}

// Join places a bet for the user in the waiting round and returns the ID
// of the round the stake committed against. The debit and the stake commit
// atomically: either both land or neither does.
func (l *Ledger) Join(ctx context.Context, userID int64, bet money.Amount) (string, error) {
	const op = "round.Ledger.Join"

	var roundID string

	// The whole balances hash is watched, so a balance write for any user
	// aborts this join with ErrConflict. Callers see the conflict instead
	// of a silent retry.
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		rnd, err := l.store.ReadTx(ctx, tx)
		if err != nil {
			return err
		}

		if rnd == nil || rnd.Status != StatusWaiting {
			return ErrRoundNotWaiting
		}

		roundID = rnd.ID

		if bet < rnd.Config.MinBet || bet > rnd.Config.MaxBet {
			return ErrBetOutOfBounds
		}

		exists, err := tx.HExists(ctx, StakesKey, userField(userID)).Result()
		if err != nil {
			return err
		}

		if exists {
			l.report(ctx, SignalDuplicateJoin, userID, map[string]interface{}{
				"round_id": rnd.ID,
			})

			return ErrAlreadyJoined
		}

		count, err := tx.HLen(ctx, StakesKey).Result()
		if err != nil {
			return err
		}

		if count >= int64(rnd.Config.MaxPlayers) {
			return ErrRoundFull
		}

		current, err := tx.HGet(ctx, balance.BalancesKey, userField(userID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if money.Amount(current) < bet {
			return ErrInsufficientBalance
		}

		stake := Stake{
			UserID:    userID,
			BetAmount: bet,
			JoinedAt:  l.clock.Now().UnixMilli(),
		}

		raw, err := json.Marshal(stake)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, balance.BalancesKey, userField(userID), -int64(bet))
			pipe.HSet(ctx, StakesKey, userField(userID), raw)

			return nil
		})

		return err
	}, RoundKey, StakesKey, balance.BalancesKey)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return "", ErrConflict
		}

		if isLedgerError(err) {
			return "", err
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	l.log.Info("user joined round",
		sl.Int64("user_id", userID),
		sl.String("bet", bet.String()))

	return roundID, nil
}

// Cashout settles the user's stake at the coefficient current at commit
// time. The coefficient is computed inside the transaction from the
// watched round record, so a crash committed first always wins the race.
func (l *Ledger) Cashout(ctx context.Context, userID int64) (*CashoutResult, error) {
	const op = "round.Ledger.Cashout"

	var result *CashoutResult

	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		rnd, err := l.store.ReadTx(ctx, tx)
		if err != nil {
			return err
		}

		if rnd == nil || rnd.Status != StatusPlaying {
			return ErrRoundNotPlaying
		}

		stake, err := readStake(ctx, tx, userID)
		if err != nil {
			return err
		}

		if stake == nil {
			return ErrNoStake
		}

		if stake.CashedOut || stake.CashoutCount > 0 {
			return ErrAlreadyCashedOut
		}

		now := l.clock.Now()

		elapsed := now.Sub(rnd.Start())
		if elapsed < rnd.Config.MinCashoutDelay() {
			l.report(ctx, SignalTimingViolation, userID, map[string]interface{}{
				"round_id":   rnd.ID,
				"elapsed_ms": elapsed.Milliseconds(),
			})

			return ErrTooEarly
		}

		coef := clock.Coefficient(rnd.Start(), now,
			rnd.Config.TickMS, rnd.Config.GrowthRate, rnd.Config.MaxCoefficient)

		if coef >= rnd.CrashPoint {
			l.report(ctx, SignalPostCrashCashout, userID, map[string]interface{}{
				"round_id":    rnd.ID,
				"coefficient": coef.String(),
				"crash_point": rnd.CrashPoint.String(),
			})

			return ErrPostCrash
		}

		updated := *stake
		updated.CashedOut = true
		updated.CashoutCoef = coef
		updated.CashoutCount = stake.CashoutCount + 1

		raw, err := json.Marshal(updated)
		if err != nil {
			return err
		}

		payout := money.Payout(stake.BetAmount, coef)

		// The stake flip and the payout credit commit together: a crash
		// that lands first aborts both.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, StakesKey, userField(userID), raw)
			pipe.HIncrBy(ctx, balance.BalancesKey, userField(userID), int64(payout))

			return nil
		})
		if err != nil {
			return err
		}

		result = &CashoutResult{
			RoundID: rnd.ID,
			Coef:    coef,
			Bet:     stake.BetAmount,
			Payout:  payout,
			Win:     money.Win(stake.BetAmount, coef),
		}

		return nil
	}, RoundKey, StakesKey)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrConflict
		}

		if isLedgerError(err) {
			return nil, err
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	l.log.Info("user cashed out",
		sl.Int64("user_id", userID),
		sl.String("coefficient", result.Coef.String()),
		sl.String("payout", result.Payout.String()))

	return result, nil
}

// PlayerState returns the user's stake in the current round, or nil when
// the user has not joined.
func (l *Ledger) PlayerState(ctx context.Context, userID int64) (*Stake, error) {
	const op = "round.Ledger.PlayerState"

	raw, err := l.client.HGet(ctx, StakesKey, userField(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var stake Stake

	if err = json.Unmarshal(raw, &stake); err != nil {
		return nil, fmt.Errorf("%s: unmarshal stake: %w", op, err)
	}

	return &stake, nil
}

// Stakes returns every stake of the current round.
func (l *Ledger) Stakes(ctx context.Context) ([]*Stake, error) {
	const op = "round.Ledger.Stakes"

	raw, err := l.client.HGetAll(ctx, StakesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	stakes := make([]*Stake, 0, len(raw))

	for field, value := range raw {
		var stake Stake

		if err = json.Unmarshal([]byte(value), &stake); err != nil {
			l.log.Warn("skipping malformed stake",
				sl.String("op", op), sl.String("field", field), sl.Err(err))

			continue
		}

		stakes = append(stakes, &stake)
	}

	return stakes, nil
}

func (l *Ledger) report(ctx context.Context, signal string, userID int64, details map[string]interface{}) {
	if l.monitor == nil {
		return
	}

	l.monitor.Report(ctx, signal, userID, details)
}

func readStake(ctx context.Context, tx *redis.Tx, userID int64) (*Stake, error) {
	raw, err := tx.HGet(ctx, StakesKey, userField(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, err
	}

	var stake Stake

	if err = json.Unmarshal(raw, &stake); err != nil {
		return nil, fmt.Errorf("unmarshal stake: %w", err)
	}

	return &stake, nil
}

func userField(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func isLedgerError(err error) bool {
	for _, known := range []error{
		ErrRoundNotWaiting, ErrRoundNotPlaying, ErrAlreadyJoined,
		ErrBetOutOfBounds, ErrRoundFull, ErrInsufficientBalance,
		ErrNoStake, ErrAlreadyCashedOut, ErrTooEarly, ErrPostCrash,
	} {
		if errors.Is(err, known) {
			return true
		}
	}

	return false
}
