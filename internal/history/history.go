package history

import (
	"errors"
	"fmt"
	"time"

	"go-crash/internal/job"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"go-crash/internal/round"
	"go-crash/internal/storage/mysql"
	"golang.org/x/exp/slog"
)

// Repository persists round facts to MySQL. Writes go through the job
// queue, so the round loop never waits on the database.
type Repository struct {
	dbhandler *mysql.Handler
}

func NewRepository(dbhandler *mysql.Handler) *Repository {
	return &Repository{dbhandler: dbhandler}
}

func (repo *Repository) SaveBet(roundID string, userID int64, bet money.Amount) error {
	const op = "history.Repository.SaveBet"

	now := time.Now()

	_, err := repo.dbhandler.PrepareAndExecute(
		"INSERT INTO crash_bets(round_id, user_id, amount, created_at, updated_at) "+
			"VALUES(?, ?, ?, ?, ?)",
		roundID, userID, int64(bet), now, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (repo *Repository) SaveCashout(roundID string, userID int64, bet money.Amount, coef money.Coef, payout money.Amount) error {
	const op = "history.Repository.SaveCashout"

	now := time.Now()

	_, err := repo.dbhandler.PrepareAndExecute(
		"INSERT INTO crash_cashouts(round_id, user_id, amount, coefficient, payout, created_at, updated_at) "+
			"VALUES(?, ?, ?, ?, ?, ?, ?)",
		roundID, userID, int64(bet), int64(coef), int64(payout), now, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (repo *Repository) SaveRound(rnd round.Round, stakes []*round.Stake) error {
	const op = "history.Repository.SaveRound"

	now := time.Now()

	var cashouts int

	for _, stake := range stakes {
		if stake.CashedOut {
			cashouts++
		}
	}

	_, err := repo.dbhandler.PrepareAndExecute(
		"INSERT INTO crash_rounds(round_id, crash_point, started_at, players, cashouts, created_at, updated_at) "+
			"VALUES(?, ?, ?, ?, ?, ?, ?)",
		rnd.ID, int64(rnd.CrashPoint), rnd.Start(), len(stakes), cashouts, now, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (repo *Repository) CountRounds() (int, error) {
	const op = "history.Repository.CountRounds"

	row, err := repo.dbhandler.PrepareAndQueryRow("SELECT COUNT(*) FROM crash_rounds")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var count int

	if err = row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return count, nil
}

// Recorder adapts the repository to the fire-and-forget sink the round
// engine expects. Each record becomes a queued job; failures are logged
// and dropped, never surfaced to the round loop.
type Recorder struct {
	repo  *Repository
	queue job.Queue
	log   *slog.Logger
}

func NewRecorder(repo *Repository, queue job.Queue, log *slog.Logger) (*Recorder, error) {
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}

	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}

	return &Recorder{
		repo:  repo,
		queue: queue,
		log:   log,
	}, nil
}

func (r *Recorder) RecordBet(roundID string, userID int64, bet money.Amount) {
	r.queue.Dispatch(&writeJob{
		log:  r.log,
		name: "record bet",
		run: func() error {
			return r.repo.SaveBet(roundID, userID, bet)
		},
	}, 0)
}

func (r *Recorder) RecordCashout(roundID string, userID int64, bet money.Amount, coef money.Coef, payout money.Amount) {
	r.queue.Dispatch(&writeJob{
		log:  r.log,
		name: "record cashout",
		run: func() error {
			return r.repo.SaveCashout(roundID, userID, bet, coef, payout)
		},
	}, 0)
}

func (r *Recorder) RecordRound(rnd round.Round, stakes []*round.Stake) {
	r.queue.Dispatch(&writeJob{
		log:  r.log,
		name: "record round",
		run: func() error {
			return r.repo.SaveRound(rnd, stakes)
		},
	}, 0)
}

type writeJob struct {
	log  *slog.Logger
	name string
	run  func() error
}

func (j *writeJob) Execute() {
	if err := j.run(); err != nil {
		j.log.Error("history write failed",
			sl.String("write", j.name), sl.Err(err))
	}
}
