package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go-crash/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

const (
	eventsKey = "crash:monitor:events"

	// maxEvents caps the event list; older entries roll off.
	maxEvents = 500
)

type event struct {
	Signal    string                 `json:"signal"`
	UserID    int64                  `json:"user_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp int64                  `json:"timestamp"` // unix milliseconds
}

// Collector records abuse and integrity signals for offline review. It is
// purely observational: reporting never blocks or fails the caller.
type Collector struct {
	client *redis.Client
	log    *slog.Logger
}

func NewCollector(client *redis.Client, log *slog.Logger) (*Collector, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	return &Collector{client: client, log: log}, nil
}

func (c *Collector) Report(ctx context.Context, signal string, userID int64, details map[string]interface{}) {
	const op = "monitor.Collector.Report"

	c.log.Warn("suspicious activity",
		sl.String("signal", signal),
		sl.Int64("user_id", userID),
		sl.Any("details", details))

	raw, err := json.Marshal(event{
		Signal:    signal,
		UserID:    userID,
		Details:   details,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		c.log.Error("failed to encode monitor event",
			sl.String("op", op), sl.Err(err))

		return
	}

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, eventsKey, raw)
	pipe.LTrim(ctx, eventsKey, 0, maxEvents-1)

	if _, err = pipe.Exec(ctx); err != nil {
		c.log.Error("failed to store monitor event",
			sl.String("op", op), sl.Err(err))
	}
}

// Recent returns the newest stored events, most recent first.
func (c *Collector) Recent(ctx context.Context, limit int64) ([]map[string]interface{}, error) {
	const op = "monitor.Collector.Recent"

	if limit <= 0 || limit > maxEvents {
		limit = maxEvents
	}

	raw, err := c.client.LRange(ctx, eventsKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]map[string]interface{}, 0, len(raw))

	for _, item := range raw {
		var ev map[string]interface{}

		if err = json.Unmarshal([]byte(item), &ev); err != nil {
			c.log.Warn("skipping malformed monitor event",
				sl.String("op", op), sl.Err(err))

			continue
		}

		events = append(events, ev)
	}

	return events, nil
}
