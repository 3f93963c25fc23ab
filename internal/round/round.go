package round

import (
	"context"
	"time"

	"go-crash/internal/config"
	"go-crash/internal/lib/money"
)

// Status is the round lifecycle phase. Transitions are strictly cyclic:
// waiting -> playing -> crashed -> waiting, never skipped or reordered.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusCrashed Status = "crashed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusPlaying, StatusCrashed:
		return true
	}

	return false
}

// CanTransitionTo reports whether next is the legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusPlaying
	case StatusPlaying:
		return next == StatusCrashed
	case StatusCrashed:
		return next == StatusWaiting
	}

	return false
}

// Round is the single in-flight round. The crash point is drawn when the
// round enters playing and must never reach a client before the crash.
// The config snapshot is taken once at waiting start and stays fixed for
// the whole round, so the ledger and the scheduler always agree on timing.
type Round struct {
	ID         string            `json:"id"`
	StartTime  int64             `json:"start_time"` // unix milliseconds
	CrashPoint money.Coef        `json:"crash_point"`
	Status     Status            `json:"status"`
	Config     config.GameConfig `json:"config"`
}

func (r *Round) Start() time.Time {
	return time.UnixMilli(r.StartTime)
}

// Stake is one user's bet in the current round. Created only while the
// round is waiting; archived into the last-round snapshot at crash time.
type Stake struct {
	UserID       int64        `json:"user_id"`
	BetAmount    money.Amount `json:"bet_amount"`
	JoinedAt     int64        `json:"joined_at"` // unix milliseconds
	CashedOut    bool         `json:"cashed_out"`
	CashoutCoef  money.Coef   `json:"cashout_coef,omitempty"`
	CashoutCount int          `json:"cashout_count"`
}

// Monitor receives abuse and integrity signals. Reports are advisory: they
// feed alerting, never change a round's outcome.
type Monitor interface {
	Report(ctx context.Context, signal string, userID int64, details map[string]interface{})
}

// HistorySink receives finished-round and per-player transaction facts.
// Delivery is fire-and-forget; round progression never depends on it.
type HistorySink interface {
	RecordBet(roundID string, userID int64, bet money.Amount)
	RecordCashout(roundID string, userID int64, bet money.Amount, coef money.Coef, payout money.Amount)
	RecordRound(round Round, stakes []*Stake)
}
