package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

type dueMailboxCounter interface {
	CountDueMailboxes(ctx context.Context, now time.Time) (int64, error)
}

type deadLetterCounter interface {
	Count(ctx context.Context) (int64, error)
}

type BacklogJobParams struct {
	Logger      *logger.Logger
	Mailboxes   dueMailboxCounter
	DeadLetters deadLetterCounter
	Metrics     *metrics.BacklogMetrics
}

// NewBacklogJob publishes the due-mailbox and dead-letter counts as gauges.
func NewBacklogJob(params BacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Mailboxes == nil || params.DeadLetters == nil {
		return nil, fmt.Errorf("mailbox and dead letter counters required")
	}
	return &backlogJob{
		logg:        params.Logger,
		mailboxes:   params.Mailboxes,
		deadLetters: params.DeadLetters,
		metrics:     params.Metrics,
		now:         time.Now,
	}, nil
}

type backlogJob struct {
	logg        *logger.Logger
	mailboxes   dueMailboxCounter
	deadLetters deadLetterCounter
	metrics     *metrics.BacklogMetrics
	now         func() time.Time
}

func (j *backlogJob) Name() string { return "webhook-backlog" }

func (j *backlogJob) Run(ctx context.Context) error {
	due, err := j.mailboxes.CountDueMailboxes(ctx, j.now())
	if err != nil {
		return fmt.Errorf("count due mailboxes: %w", err)
	}
	letters, err := j.deadLetters.Count(ctx)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}
	j.metrics.SetDueMailboxes(due)
	j.metrics.SetDeadLetters(letters)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"due_mailboxes": due,
		"dead_letters":  letters,
	}), "webhook backlog measured")
	return nil
}
