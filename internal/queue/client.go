package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docpulse/internal/config"
)

// ErrAlreadyQueued is returned when an identical task is still pending.
var ErrAlreadyQueued = errors.New("task already queued")

const (
	reprocessMaxRetry = 5
	reprocessTimeout  = 5 * time.Minute
	reprocessUnique   = time.Hour
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(RedisOpt(cfg)),
	}
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueReprocess schedules a reprocessing task and returns its id. Asking
// again for the same file while a task is pending yields ErrAlreadyQueued.
func (c *Client) EnqueueReprocess(ctx context.Context, payload ReprocessPayload) (string, error) {
	return c.enqueue(ctx, TypeDocumentReprocess, payload,
		asynq.MaxRetry(reprocessMaxRetry),
		asynq.Timeout(reprocessTimeout),
		asynq.Unique(reprocessUnique),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", ErrAlreadyQueued
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}
