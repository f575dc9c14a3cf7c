package queue

import (
	"context"

	"orbyt-api/core/logger"

	"github.com/hibiken/asynq"
)

// Queue enqueues background tasks. Handlers are registered on the asynq
// server mux by each module.
type Queue interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error
}

type asynqQueue struct {
	client *asynq.Client
}

func NewQueue(redisOpt asynq.RedisClientOpt) Queue {
	return &asynqQueue{client: asynq.NewClient(redisOpt)}
}

func (q *asynqQueue) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		logger.Error("Queue:Enqueue:Error", "type", task.Type(), "error", err)
		return err
	}
	logger.Info("Queue:Enqueued", "type", task.Type(), "id", info.ID, "queue", info.Queue)
	return nil
}
