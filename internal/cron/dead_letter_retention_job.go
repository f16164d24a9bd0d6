package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

const deadLetterRetentionDays = 30

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type deadLetterPruner interface {
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type DeadLetterRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    deadLetterPruner
	RetentionDays int
}

// NewDeadLetterRetentionJob prunes dead letters nobody replayed within the
// retention window.
func NewDeadLetterRetentionJob(params DeadLetterRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("dead letter repository required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = deadLetterRetentionDays
	}
	return &deadLetterRetentionJob{
		logg: params.Logger,
		db:   params.DB,
		repo: params.Repository,
		days: days,
		now:  time.Now,
	}, nil
}

type deadLetterRetentionJob struct {
	logg *logger.Logger
	db   txRunner
	repo deadLetterPruner
	days int
	now  func() time.Time
}

func (j *deadLetterRetentionJob) Name() string { return "dead-letter-retention" }

func (j *deadLetterRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	var deleted int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeleteOlderThan(ctx, tx, cutoff)
		deleted = rows
		return err
	}); err != nil {
		return fmt.Errorf("prune dead letters: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.days,
		"rows_deleted":   deleted,
	}), "dead letter retention complete")
	return nil
}
