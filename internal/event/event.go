package event

import (
	"context"
	"encoding/json"

	"github.com/pusher/pusher-http-go/v5"
	"github.com/redis/go-redis/v9"
	"go-crash/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

// Message is one outbound event on a named channel.
type Message struct {
	Channel string                 `json:"channel"`
	Event   string                 `json:"event"`
	Data    map[string]interface{} `json:"data"`
}

// Notifier delivers messages to connected clients.
type Notifier interface {
	TriggerEvent(message Message) error
}

// PusherNotifier delivers through a hosted Pusher app.
type PusherNotifier struct {
	log    *slog.Logger
	pusher *pusher.Client
}

func NewPusherNotifier(log *slog.Logger, pusherClient *pusher.Client) *PusherNotifier {
	return &PusherNotifier{
		log:    log,
		pusher: pusherClient,
	}
}

func (p *PusherNotifier) TriggerEvent(message Message) error {
	if err := p.pusher.Trigger(message.Channel, message.Event, message.Data); err != nil {
		p.log.Error("failed to trigger pusher event", sl.Err(err))

		return err
	}

	return nil
}

// RedisChannel carries events between the engine and the socket relay.
const RedisChannel = "crash:events"

// RedisNotifier publishes events on a Redis channel. The socket relay
// subscribes there and pushes them to its connected clients.
type RedisNotifier struct {
	log    *slog.Logger
	client *redis.Client
}

func NewRedisNotifier(log *slog.Logger, client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		log:    log,
		client: client,
	}
}

func (n *RedisNotifier) TriggerEvent(message Message) error {
	raw, err := json.Marshal(message)
	if err != nil {
		n.log.Error("failed to encode event", sl.Err(err))

		return err
	}

	if err = n.client.Publish(context.Background(), RedisChannel, raw).Err(); err != nil {
		n.log.Error("failed to publish event", sl.Err(err))

		return err
	}

	return nil
}

// MultiNotifier fans one message out to several transports. Delivery is
// best-effort per transport; the first error is returned after all have
// been tried.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) TriggerEvent(message Message) error {
	var first error

	for _, n := range m.notifiers {
		if err := n.TriggerEvent(message); err != nil && first == nil {
			first = err
		}
	}

	return first
}
