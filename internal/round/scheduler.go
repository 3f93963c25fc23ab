package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go-crash/internal/clock"
	"go-crash/internal/config"
	"go-crash/internal/crash"
	"go-crash/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

// Broadcaster receives the public round state once per tick. Publishing is
// advisory: a slow or failing broadcaster never stalls the round.
type Broadcaster interface {
	Publish(ctx context.Context, state State)
}

// ManipulationDetector reports whether the wall clock has drifted from the
// scheduler's monotonic time source.
type ManipulationDetector interface {
	DetectManipulation() (bool, time.Duration)
}

// Snapshot is the archived final state of a finished round.
type Snapshot struct {
	Round  Round    `json:"round"`
	Stakes []*Stake `json:"stakes"`
}

// SchedulerConfig holds construction options for the Scheduler.
type SchedulerConfig struct {
	RedisClient    *redis.Client
	Store          *Store
	Ledger         *Ledger
	Generator      *crash.Generator
	Clock          clock.Clock
	ConfigProvider *config.GameConfigProvider
	Broadcaster    Broadcaster
	History        HistorySink
	Monitor        Monitor
	Detector       ManipulationDetector
}

// Scheduler drives the round lifecycle from a single goroutine. All state
// lives in the store, so a restarted scheduler picks up wherever the last
// one stopped; a corrupted record simply starts a fresh waiting round.
type Scheduler struct {
	client    *redis.Client
	store     *Store
	ledger    *Ledger
	generator *crash.Generator
	clock     clock.Clock
	cfg       *config.GameConfigProvider
	broadcast Broadcaster
	history   HistorySink
	monitor   Monitor
	detector  ManipulationDetector
	log       *slog.Logger
}

func NewScheduler(cfg *SchedulerConfig, log *slog.Logger) (*Scheduler, error) {
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

	if cfg.Generator == nil {
		return nil, errors.New("generator cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, errors.New("clock cannot be nil")
	}

	if cfg.ConfigProvider == nil {
		return nil, errors.New("config provider cannot be nil")
	}

	return &Scheduler{
		client:    cfg.RedisClient,
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		generator: cfg.Generator,
		clock:     cfg.Clock,
		cfg:       cfg.ConfigProvider,
		broadcast: cfg.Broadcaster,
		history:   cfg.History,
		monitor:   cfg.Monitor,
		detector:  cfg.Detector,
		log:       log,
	}, nil
}

// Run ticks the round lifecycle until the context is cancelled. A panic in
// one tick is logged and the loop continues with the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	const op = "round.Scheduler.Run"

	s.log.Info("round scheduler started", sl.String("op", op))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("round scheduler stopped", sl.String("op", op))

			return ctx.Err()
		default:
		}

		started := s.clock.Now()

		tickInterval, failed := s.tickSafely(ctx)

		// Sleep off the remainder of the tick so processing time does not
		// stretch the interval. Minimum 1ms keeps the loop yielding even
		// when a tick overruns. A failed tick backs off harder so a dead
		// Redis does not turn the loop into a hot spin.
		sleep := tickInterval - s.clock.Now().Sub(started)
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}

		if failed {
			sleep = time.Second
		}

		select {
		case <-ctx.Done():
		case <-time.After(sleep):
		}
	}
}

func (s *Scheduler) tickSafely(ctx context.Context) (tickInterval time.Duration, failed bool) {
	tickInterval = s.cfg.Current(ctx).TickInterval()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked",
				sl.Any("panic", r),
				sl.String("stack", string(debug.Stack())))

			failed = true
		}
	}()

	if err := s.tick(ctx); err != nil {
		s.log.Error("tick failed", sl.Err(err))

		failed = true
	}

	return tickInterval, failed
}

func (s *Scheduler) tick(ctx context.Context) error {
	s.checkClock(ctx)

	rnd, err := s.store.Read(ctx)
	if err != nil {
		return err
	}

	if rnd == nil {
		return s.startWaiting(ctx)
	}

	now := s.clock.Now()

	switch rnd.Status {
	case StatusWaiting:
		if now.Sub(rnd.Start()) >= rnd.Config.WaitingTime {
			return s.startPlaying(ctx, rnd)
		}

		s.publish(ctx, rnd, now)
	case StatusPlaying:
		coef := clock.Coefficient(rnd.Start(), now,
			rnd.Config.TickMS, rnd.Config.GrowthRate, rnd.Config.MaxCoefficient)

		if coef >= rnd.CrashPoint {
			return s.handleCrash(ctx, rnd)
		}

		s.publish(ctx, rnd, now)
	case StatusCrashed:
		return s.startWaiting(ctx)
	}

	return nil
}

// startWaiting archives the finished round, clears the stakes and opens a
// fresh waiting round with a new config snapshot.
func (s *Scheduler) startWaiting(ctx context.Context) error {
	const op = "round.Scheduler.startWaiting"

	prev, err := s.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if prev != nil && prev.Status == StatusCrashed {
		if err = s.archive(ctx, prev); err != nil {
			// Archival failure must not block the next round.
			s.log.Error("failed to archive finished round",
				sl.String("op", op), sl.Err(err))
		}
	}

	if err = s.client.Del(ctx, StakesKey).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rnd := &Round{
		ID:        uuid.NewString(),
		StartTime: s.clock.Now().UnixMilli(),
		Status:    StatusWaiting,
		Config:    s.cfg.Current(ctx),
	}

	if err = s.store.Write(ctx, rnd); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("round waiting",
		sl.String("round_id", rnd.ID),
		sl.Any("waiting_time", rnd.Config.WaitingTime))

	s.publish(ctx, rnd, s.clock.Now())

	return nil
}

// startPlaying draws the crash point and flips the round to playing. The
// write goes through WATCH so two scheduler instances never both flip the
// same round.
func (s *Scheduler) startPlaying(ctx context.Context, rnd *Round) error {
	const op = "round.Scheduler.startPlaying"

	crashPoint := s.generator.Generate(ctx)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.store.ReadTx(ctx, tx)
		if err != nil {
			return err
		}

		if current == nil || current.Status != StatusWaiting {
			return nil
		}

		updated := *current
		updated.Status = StatusPlaying
		updated.StartTime = s.clock.Now().UnixMilli()
		updated.CrashPoint = crashPoint

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.store.WriteTx(ctx, pipe, &updated)
		})

		return err
	}, RoundKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer got there first; retry on the next tick.
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("round playing", sl.String("round_id", rnd.ID))

	return nil
}

// handleCrash flips the round to crashed and records the public outcome
// keys in the same transaction.
func (s *Scheduler) handleCrash(ctx context.Context, rnd *Round) error {
	const op = "round.Scheduler.handleCrash"

	var crashed Round

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.store.ReadTx(ctx, tx)
		if err != nil {
			return err
		}

		if current == nil || current.Status != StatusPlaying {
			return nil
		}

		crashed = *current
		crashed.Status = StatusCrashed

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := s.store.WriteTx(ctx, pipe, &crashed); err != nil {
				return err
			}

			pipe.Set(ctx, LastCrashKey, crashed.CrashPoint.String(), 0)
			pipe.Set(ctx, JustCrashedKey, "1", JustCrashedTTL)
			pipe.LPush(ctx, CrashHistoryKey, crashed.CrashPoint.String())
			pipe.LTrim(ctx, CrashHistoryKey, 0, 49)

			return nil
		})

		return err
	}, RoundKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer got there first; crash again on the next tick.
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if crashed.ID == "" {
		return nil
	}

	s.log.Info("round crashed",
		sl.String("round_id", crashed.ID),
		sl.String("crash_point", crashed.CrashPoint.String()))

	s.publish(ctx, &crashed, s.clock.Now())

	return nil
}

// archive snapshots the finished round for get_last_round_snapshot and
// hands the facts to the history sink.
func (s *Scheduler) archive(ctx context.Context, rnd *Round) error {
	const op = "round.Scheduler.archive"

	stakes, err := s.ledger.Stakes(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if len(stakes) == 0 {
		if err = s.client.Set(ctx, EmptyRoundKey, rnd.ID, SnapshotTTL).Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return nil
	}

	raw, err := json.Marshal(Snapshot{Round: *rnd, Stakes: stakes})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, LastRoundKey, raw, SnapshotTTL)
	pipe.Del(ctx, EmptyRoundKey)

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if s.history != nil {
		s.history.RecordRound(*rnd, stakes)
	}

	return nil
}

func (s *Scheduler) checkClock(ctx context.Context) {
	if s.detector == nil {
		return
	}

	manipulated, drift := s.detector.DetectManipulation()
	if !manipulated {
		return
	}

	s.log.Warn("wall clock drifted from monotonic time",
		sl.Any("drift", drift))

	if s.monitor != nil {
		s.monitor.Report(ctx, SignalTimeManipulation, 0, map[string]interface{}{
			"drift_ms": drift.Milliseconds(),
		})
	}
}

func (s *Scheduler) publish(ctx context.Context, rnd *Round, now time.Time) {
	if s.broadcast == nil {
		return
	}

	players, err := s.client.HLen(ctx, StakesKey).Result()
	if err != nil {
		players = 0
	}

	s.broadcast.Publish(ctx, StateOf(rnd, now, int(players)))
}
