package drain

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/webhook-relay/internal/delivery"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

const drainConsumerName = "drain"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type taskRunner interface {
	Run(ctx context.Context, task delivery.DrainTask) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, taskID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, taskID uuid.UUID) error
}

// Consumer runs drain tasks published by the scheduler. Redeliveries of a task
// that already ran are acknowledged without draining again.
type Consumer struct {
	subscription receiver
	runner       taskRunner
	manager      idempotencyChecker
	logg         *logger.Logger
}

func NewConsumer(subscription *gcppubsub.Subscriber, runner taskRunner, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("drain subscription is required")
	}
	return newConsumer(subscription, runner, manager, logg)
}

func newConsumer(subscription receiver, runner taskRunner, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("drain subscription is required")
	}
	if runner == nil {
		return nil, errors.New("task runner is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		runner:       runner,
		manager:      manager,
		logg:         logg,
	}, nil
}

type processResult struct {
	nack bool
}

// Run consumes drain tasks until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}

	task, err := delivery.DecodeDrainTask(msg.Data)
	if err != nil {
		fields["error"] = err.Error()
		c.logg.Warn(c.logg.WithFields(ctx, fields), "invalid drain task")
		return processResult{}
	}
	fields["task_id"] = task.TaskID.String()
	fields["payload_id"] = task.PayloadID
	fields["mode"] = task.Mode
	logCtx := c.logg.WithFields(ctx, fields)

	already, err := c.manager.CheckAndMarkProcessed(logCtx, drainConsumerName, task.TaskID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "drain task already processed")
		return processResult{}
	}

	// A failed drain is not redelivered: its mailbox lease expires and the next
	// scheduling tick dispatches it again.
	if err := c.runner.Run(logCtx, task); err != nil {
		if ctx.Err() != nil {
			// Shutting down: hand the task to another worker.
			_ = c.manager.Release(context.WithoutCancel(ctx), drainConsumerName, task.TaskID)
			return processResult{nack: true}
		}
		c.logg.Error(logCtx, "drain task failed", err)
		return processResult{}
	}
	c.logg.Debug(logCtx, "drain task handled")
	return processResult{}
}
