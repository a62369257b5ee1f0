package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Publisher hands a signed job payload to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// AsynqPublisher enqueues jobs on Redis through asynq. The task type is the
// routing key and the queue is the listener name, so each listener's workers
// consume only their own jobs.
type AsynqPublisher struct {
	client *asynq.Client
	prefix string
}

// NewAsynqPublisher connects to Redis.
func NewAsynqPublisher(opt asynq.RedisClientOpt, prefix string) *AsynqPublisher {
	return &AsynqPublisher{client: asynq.NewClient(opt), prefix: prefix}
}

// Publish enqueues payload once. Retries belong to the consumer.
func (p *AsynqPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	task, opts, err := p.task(routingKey, payload)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", routingKey, err)
	}
	return nil
}

func (p *AsynqPublisher) task(routingKey string, payload []byte) (*asynq.Task, []asynq.Option, error) {
	listener, ok := ListenerFromRoutingKey(p.prefix, routingKey)
	if !ok {
		return nil, nil, fmt.Errorf("routing key %q lacks prefix %q", routingKey, p.prefix)
	}
	return asynq.NewTask(routingKey, payload), []asynq.Option{asynq.Queue(listener), asynq.MaxRetry(0)}, nil
}

// Close releases the Redis connection.
func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}
