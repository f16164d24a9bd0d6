package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/webhook-relay/internal/delivery"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

type deliveryTicker interface {
	Tick(ctx context.Context) (delivery.TickResult, error)
}

// NewScheduleDeliveryJob runs one scheduling pass over the due mailboxes per cycle.
func NewScheduleDeliveryJob(logg *logger.Logger, scheduler deliveryTicker) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	return &scheduleDeliveryJob{logg: logg, scheduler: scheduler}, nil
}

type scheduleDeliveryJob struct {
	logg      *logger.Logger
	scheduler deliveryTicker
}

func (j *scheduleDeliveryJob) Name() string { return "schedule-webhook-delivery" }

func (j *scheduleDeliveryJob) Run(ctx context.Context) error {
	result, err := j.scheduler.Tick(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":        result.Due,
		"sequential": result.Sequential,
		"parallel":   result.Parallel,
		"raced":      result.Raced,
		"deferred":   result.Deferred,
	})
	if err != nil {
		return fmt.Errorf("schedule webhook delivery: %w", err)
	}
	if result.Due > 0 {
		j.logg.Info(logCtx, "schedule_webhook_delivery.tick")
	}
	return nil
}
