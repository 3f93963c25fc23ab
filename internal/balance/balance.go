package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go-crash/internal/event"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"golang.org/x/exp/slog"
)

// BalancesKey is the hash of user balances in cents, field = user id.
// The round ledger debits it inside its join transaction, so the key name
// lives here and is shared instead of duplicated.
const BalancesKey = "crash:balances"

var ErrInsufficientFunds = errors.New("insufficient funds")

// Service adjusts user balances outside of round transactions. Payout
// credits and deposits go through here; bet debits commit atomically with
// the stake inside the ledger's transaction instead.
type Service struct {
	client   *redis.Client
	notifier event.Notifier
	log      *slog.Logger
}

// NewService builds the balance service. The notifier is optional; when
// set, every balance change is announced to the user's clients.
func NewService(client *redis.Client, notifier event.Notifier, log *slog.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	return &Service{client: client, notifier: notifier, log: log}, nil
}

func (s *Service) Get(ctx context.Context, userID int64) (money.Amount, error) {
	const op = "balance.Service.Get"

	raw, err := s.client.HGet(ctx, BalancesKey, field(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: parse balance: %w", op, err)
	}

	return money.Amount(cents), nil
}

// Income credits the user and returns the new balance.
func (s *Service) Income(ctx context.Context, userID int64, amount money.Amount) (money.Amount, error) {
	const op = "balance.Service.Income"

	if amount <= 0 {
		return 0, fmt.Errorf("%s: amount must be positive", op)
	}

	updated, err := s.client.HIncrBy(ctx, BalancesKey, field(userID), int64(amount)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("balance credited",
		sl.Int64("user_id", userID),
		sl.String("amount", amount.String()),
		sl.String("balance", money.Amount(updated).String()))

	s.notify(userID, money.Amount(updated))

	return money.Amount(updated), nil
}

// Outcome debits the user with a WATCH on the balances hash so a racing
// credit never lets the balance go negative.
func (s *Service) Outcome(ctx context.Context, userID int64, amount money.Amount) (money.Amount, error) {
	const op = "balance.Service.Outcome"

	if amount <= 0 {
		return 0, fmt.Errorf("%s: amount must be positive", op)
	}

	var updated money.Amount

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, BalancesKey, field(userID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if money.Amount(current) < amount {
			return ErrInsufficientFunds
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, BalancesKey, field(userID), -int64(amount))

			return nil
		})
		if err != nil {
			return err
		}

		updated = money.Amount(current) - amount

		return nil
	}, BalancesKey)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return 0, ErrInsufficientFunds
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.notify(userID, updated)

	return updated, nil
}

func (s *Service) notify(userID int64, updated money.Amount) {
	if s.notifier == nil {
		return
	}

	err := s.notifier.TriggerEvent(event.Message{
		Channel: fmt.Sprintf("user.%d", userID),
		Event:   "balance.updated",
		Data: map[string]interface{}{
			"user_id": userID,
			"balance": updated.String(),
		},
	})
	if err != nil {
		s.log.Warn("failed to announce balance change",
			sl.Int64("user_id", userID), sl.Err(err))
	}
}

func field(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
