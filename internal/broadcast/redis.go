package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

// EventsChannel carries notifications between processes, e.g. from the
// reprocessing worker to the API process that owns the websocket subscribers.
const EventsChannel = "docpulse:events"

const publishTimeout = 2 * time.Second

type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish is fire-and-forget: failures are logged, never returned.
func (p *RedisPublisher) Publish(evt models.NotificationEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("encode notification", "error", err, "file_id", evt.DocumentID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("publish notification to redis", "channel", p.channel, "file_id", evt.DocumentID, "error", err)
	}
}

// Relay forwards notifications published on channel by other processes into
// sink until ctx is done.
func Relay(ctx context.Context, client *redis.Client, channel string, sink Notifier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	logger.Info("relaying notifications", "channel", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			evt, err := decodeEvent(msg.Payload)
			if err != nil {
				logger.Warn("skipping malformed notification", "channel", channel, "error", err)
				continue
			}
			sink.Publish(evt)
		}
	}
}

func decodeEvent(payload string) (models.NotificationEvent, error) {
	var evt models.NotificationEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return evt, fmt.Errorf("decode notification: %w", err)
	}
	if evt.Type == "" {
		return evt, errors.New("notification without event type")
	}
	return evt, nil
}
