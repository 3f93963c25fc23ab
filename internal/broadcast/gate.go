package broadcast

import (
	"context"
	"errors"
	"time"

	"go-crash/internal/config"
	"go-crash/internal/event"
	"go-crash/internal/job"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/round"
	"golang.org/x/exp/slog"
)

const (
	Channel = "crash"

	EventRoundState = "round.state"
)

// GateConfig holds construction options for the Gate.
type GateConfig struct {
	Notifier       event.Notifier
	Queue          job.Queue
	ConfigProvider *config.GameConfigProvider
}

// Gate publishes round states to clients. While the round is playing every
// state is held back for two ticks before delivery, so even a client that
// reverse-engineers the stream cannot act on a fresher coefficient than
// the cashout path will accept.
type Gate struct {
	notifier event.Notifier
	queue    job.Queue
	cfg      *config.GameConfigProvider
	log      *slog.Logger
}

func NewGate(cfg *GateConfig, log *slog.Logger) (*Gate, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}

	if cfg.Queue == nil {
		return nil, errors.New("queue cannot be nil")
	}

	if cfg.ConfigProvider == nil {
		return nil, errors.New("config provider cannot be nil")
	}

	return &Gate{
		notifier: cfg.Notifier,
		queue:    cfg.Queue,
		cfg:      cfg.ConfigProvider,
		log:      log,
	}, nil
}

func (g *Gate) Publish(ctx context.Context, state round.State) {
	message := event.Message{
		Channel: Channel,
		Event:   EventRoundState,
		Data:    stateData(state),
	}

	var delay time.Duration

	if state.Status == round.StatusPlaying {
		// The delay comes from the round's own config snapshot, the same
		// one the cashout path enforces. The live config is only a
		// fallback for states built without a snapshot.
		delay = state.CashoutDelay
		if delay <= 0 {
			delay = g.cfg.Current(ctx).MinCashoutDelay()
		}
	}

	g.queue.Dispatch(&sendStateJob{
		notifier: g.notifier,
		message:  message,
		log:      g.log,
	}, delay)
}

func stateData(state round.State) map[string]interface{} {
	data := map[string]interface{}{
		"round_id":    state.RoundID,
		"status":      string(state.Status),
		"coefficient": state.Coefficient.String(),
		"players":     state.Players,
	}

	if state.CrashPoint > 0 {
		data["crash_point"] = state.CrashPoint.String()
	}

	if state.WaitLeftMS > 0 {
		data["wait_left_ms"] = state.WaitLeftMS
	}

	return data
}

type sendStateJob struct {
	notifier event.Notifier
	message  event.Message
	log      *slog.Logger
}

func (j *sendStateJob) Execute() {
	if err := j.notifier.TriggerEvent(j.message); err != nil {
		j.log.Error("failed to deliver round state", sl.Err(err))
	}
}
