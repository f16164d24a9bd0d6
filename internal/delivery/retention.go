package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

type staleStore interface {
	DeleteOlderThan(ctx context.Context, mailbox string, cutoff time.Time, limit int) (int64, error)
}

type RetentionSweeperParams struct {
	Logger   *logger.Logger
	Metrics  *metrics.DeliveryMetrics
	Store    staleStore
	MaxAge   time.Duration
	BatchMax int
}

// RetentionSweeper drops payloads that have waited in a mailbox longer than
// MaxAge. Old payloads are low value once a mailbox is this far behind.
type RetentionSweeper struct {
	logg     *logger.Logger
	metrics  *metrics.DeliveryMetrics
	store    staleStore
	maxAge   time.Duration
	batchMax int
	now      func() time.Time
}

func NewRetentionSweeper(params RetentionSweeperParams) (*RetentionSweeper, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Store == nil {
		return nil, errors.New("mailbox store required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxDeliveryAge
	}
	batchMax := params.BatchMax
	if batchMax <= 0 {
		batchMax = DefaultStaleDiscardBatch
	}
	return &RetentionSweeper{
		logg:     params.Logger,
		metrics:  params.Metrics,
		store:    params.Store,
		maxAge:   maxAge,
		batchMax: batchMax,
		now:      time.Now,
	}, nil
}

// Sweep removes stale payloads from head's mailbox. Nothing is queried when the
// head itself is younger than the max age.
func (s *RetentionSweeper) Sweep(ctx context.Context, head *models.WebhookPayload) (int64, error) {
	if head == nil {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.maxAge)
	if !head.DateAdded.Before(cutoff) {
		return 0, nil
	}
	deleted, err := s.store.DeleteOlderThan(ctx, head.MailboxName, cutoff, s.batchMax)
	if err != nil {
		return 0, fmt.Errorf("discard stale payloads of %s: %w", head.MailboxName, err)
	}
	if deleted > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"mailbox_name": head.MailboxName,
			"deleted":      deleted,
		}), "deliver_webhook_parallel.max_age_discard")
		s.metrics.IncDelivery(enums.OutcomeMaxAge, int(deleted))
	}
	return deleted, nil
}
