package round

import (
	"time"

	"go-crash/internal/clock"
	"go-crash/internal/lib/money"
)

// State is the public view of a round. It never carries the crash point
// while the round is playing: CrashPoint is filled in only once the round
// has crashed.
type State struct {
	RoundID     string     `json:"round_id"`
	Status      Status     `json:"status"`
	Coefficient money.Coef `json:"coefficient"`
	CrashPoint  money.Coef `json:"crash_point,omitempty"`
	WaitLeftMS  int64      `json:"wait_left_ms,omitempty"`
	Players     int        `json:"players"`

	// CashoutDelay is the minimum cashout delay frozen into the round's
	// config snapshot. Broadcast delays must use it, not the live config,
	// so a config change cannot desynchronize them mid-round. Not part of
	// the public payload.
	CashoutDelay time.Duration `json:"-"`
}

// StateOf projects the round into its public view at the given instant.
func StateOf(rnd *Round, now time.Time, players int) State {
	state := State{
		RoundID:      rnd.ID,
		Status:       rnd.Status,
		Players:      players,
		CashoutDelay: rnd.Config.MinCashoutDelay(),
	}

	switch rnd.Status {
	case StatusWaiting:
		state.Coefficient = money.CoefOne

		left := rnd.Start().Add(rnd.Config.WaitingTime).Sub(now)
		if left > 0 {
			state.WaitLeftMS = left.Milliseconds()
		}
	case StatusPlaying:
		state.Coefficient = clock.Coefficient(rnd.Start(), now,
			rnd.Config.TickMS, rnd.Config.GrowthRate, rnd.Config.MaxCoefficient)
	case StatusCrashed:
		state.Coefficient = rnd.CrashPoint
		state.CrashPoint = rnd.CrashPoint
	}

	return state
}
