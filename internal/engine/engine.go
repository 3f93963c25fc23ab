package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go-crash/internal/balance"
	"go-crash/internal/clock"
	"go-crash/internal/lib/money"
	"go-crash/internal/round"
	"golang.org/x/exp/slog"
)

// Status is the public answer to a status query: the live round state plus
// the short-lived crash marker and the previous round's outcome.
type Status struct {
	round.State
	JustCrashed    bool       `json:"just_crashed"`
	LastCrashPoint money.Coef `json:"last_crash_point,omitempty"`
}

// PlayerState is one user's standing: their stake in the current round, if
// any, and their balance.
type PlayerState struct {
	Stake   *round.Stake `json:"stake,omitempty"`
	Balance money.Amount `json:"balance"`
}

// Config holds construction options for the Engine.
type Config struct {
	RedisClient *redis.Client
	Store       *round.Store
	Ledger      *round.Ledger
	Balance     *balance.Service
	History     round.HistorySink
	Clock       clock.Clock
}

// Engine is the request-side facade of the game: everything the HTTP
// handlers need, behind one type. The scheduler drives the rounds; the
// engine only reads them and forwards bets and cashouts to the ledger.
type Engine struct {
	client  *redis.Client
	store   *round.Store
	ledger  *round.Ledger
	balance *balance.Service
	history round.HistorySink
	clock   clock.Clock
	log     *slog.Logger
}

func New(cfg *Config, log *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}

	if cfg.Balance == nil {
		return nil, errors.New("balance service cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, errors.New("clock cannot be nil")
	}

	return &Engine{
		client:  cfg.RedisClient,
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		balance: cfg.Balance,
		history: cfg.History,
		clock:   cfg.Clock,
		log:     log,
	}, nil
}

// GetStatus reports the current public round state. Between rounds, or
// right after a wiped record, it reports an empty waiting state rather
// than failing.
func (e *Engine) GetStatus(ctx context.Context) (Status, error) {
	const op = "engine.Engine.GetStatus"

	rnd, err := e.store.Read(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("%s: %w", op, err)
	}

	var state round.State

	if rnd == nil {
		state = round.State{
			Status:      round.StatusWaiting,
			Coefficient: money.CoefOne,
		}
	} else {
		players, err := e.client.HLen(ctx, round.StakesKey).Result()
		if err != nil {
			players = 0
		}

		state = round.StateOf(rnd, e.clock.Now(), int(players))
	}

	status := Status{State: state}

	if _, err = e.client.Get(ctx, round.JustCrashedKey).Result(); err == nil {
		status.JustCrashed = true
	}

	if raw, err := e.client.Get(ctx, round.LastCrashKey).Result(); err == nil {
		if coef, perr := money.ParseCoef(raw); perr == nil {
			status.LastCrashPoint = coef
		}
	}

	return status, nil
}

// Join places a bet in the waiting round. The history record carries the
// round ID the stake actually committed against.
func (e *Engine) Join(ctx context.Context, userID int64, bet money.Amount) error {
	roundID, err := e.ledger.Join(ctx, userID, bet)
	if err != nil {
		return err
	}

	if e.history != nil {
		e.history.RecordBet(roundID, userID, bet)
	}

	return nil
}

// Cashout settles the user's stake at the committed coefficient. The
// payout is already credited when this returns.
func (e *Engine) Cashout(ctx context.Context, userID int64) (*round.CashoutResult, error) {
	result, err := e.ledger.Cashout(ctx, userID)
	if err != nil {
		return nil, err
	}

	if e.history != nil {
		e.history.RecordCashout(result.RoundID, userID, result.Bet, result.Coef, result.Payout)
	}

	return result, nil
}

// GetPlayerState returns the user's stake and balance.
func (e *Engine) GetPlayerState(ctx context.Context, userID int64) (PlayerState, error) {
	const op = "engine.Engine.GetPlayerState"

	stake, err := e.ledger.PlayerState(ctx, userID)
	if err != nil {
		return PlayerState{}, fmt.Errorf("%s: %w", op, err)
	}

	bal, err := e.balance.Get(ctx, userID)
	if err != nil {
		return PlayerState{}, fmt.Errorf("%s: %w", op, err)
	}

	return PlayerState{Stake: stake, Balance: bal}, nil
}

// GetLastRoundSnapshot returns the archived final state of the last round
// that had players, or nil when none is available.
func (e *Engine) GetLastRoundSnapshot(ctx context.Context) (*round.Snapshot, error) {
	const op = "engine.Engine.GetLastRoundSnapshot"

	raw, err := e.client.Get(ctx, round.LastRoundKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var snapshot round.Snapshot

	if err = json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("%s: unmarshal snapshot: %w", op, err)
	}

	return &snapshot, nil
}

// CrashHistory returns the most recent crash points, newest first.
func (e *Engine) CrashHistory(ctx context.Context, limit int64) ([]money.Coef, error) {
	const op = "engine.Engine.CrashHistory"

	if limit <= 0 || limit > 50 {
		limit = 50
	}

	raw, err := e.client.LRange(ctx, round.CrashHistoryKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	coefs := make([]money.Coef, 0, len(raw))

	for _, item := range raw {
		coef, err := money.ParseCoef(item)
		if err != nil {
			e.log.Warn("skipping malformed crash history entry", slog.String("entry", item))

			continue
		}

		coefs = append(coefs, coef)
	}

	return coefs, nil
}
