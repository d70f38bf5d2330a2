package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueWarmVariant schedules a warm task. The task ID is the cache key, so
// a second request for a variant still pending is rejected by asynq with
// asynq.ErrTaskIDConflict.
func (c *Client) EnqueueWarmVariant(ctx context.Context, payload WarmVariantPayload) (*asynq.TaskInfo, error) {
	task, err := NewWarmVariantTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, warmOptions(c.queue, payload)...)
}

func warmOptions(queueName string, payload WarmVariantPayload) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	}
	if payload.CacheKey != "" {
		opts = append(opts, asynq.TaskID(payload.CacheKey), asynq.Retention(time.Hour))
	}
	return opts
}

func (c *Client) Close() error {
	return c.client.Close()
}
