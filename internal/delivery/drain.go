package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/webhook-relay/internal/mailbox"
	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

// DrainStore is the part of the mailbox store drainers mutate.
type DrainStore interface {
	Get(ctx context.Context, id int64) (*models.WebhookPayload, error)
	FetchWindow(ctx context.Context, mailbox string, fromID int64, limit int) ([]models.WebhookPayload, error)
	ScheduleNextAttempt(ctx context.Context, payload *models.WebhookPayload) (int64, error)
	Delete(ctx context.Context, ids ...int64) (int64, error)
	Discard(ctx context.Context, payload *models.WebhookPayload, reason enums.DeadLetterReason) (int64, error)
	DeleteOlderThan(ctx context.Context, mailbox string, cutoff time.Time, limit int) (int64, error)
}

type DrainerParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.DeliveryMetrics
	Store     DrainStore
	Deliverer Deliverer
	Settings  Settings
}

// drainer holds what the sequential and parallel drainers share.
type drainer struct {
	logg      *logger.Logger
	metrics   *metrics.DeliveryMetrics
	store     DrainStore
	deliverer Deliverer
	settings  Settings
	now       func() time.Time
}

func newDrainer(params DrainerParams) (drainer, error) {
	if params.Logger == nil {
		return drainer{}, errors.New("logger required")
	}
	if params.Store == nil {
		return drainer{}, errors.New("mailbox store required")
	}
	if params.Deliverer == nil {
		return drainer{}, errors.New("deliverer required")
	}
	return drainer{
		logg:      params.Logger,
		metrics:   params.Metrics,
		store:     params.Store,
		deliverer: params.Deliverer,
		settings:  params.Settings.withDefaults(),
		now:       time.Now,
	}, nil
}

// loadHead returns nil without an error when the payload is already gone.
func (d drainer) loadHead(ctx context.Context, payloadID int64, raceEvent string) (*models.WebhookPayload, error) {
	head, err := d.store.Get(ctx, payloadID)
	if err == nil {
		return head, nil
	}
	if mailbox.IsNotFound(err) {
		d.metrics.IncDelivery(enums.OutcomeRace, 1)
		d.logg.Info(d.logg.WithPayloadID(ctx, payloadID), raceEvent)
		return nil, nil
	}
	return nil, fmt.Errorf("load payload %d: %w", payloadID, err)
}

func (d drainer) mailboxContext(ctx context.Context, head *models.WebhookPayload) context.Context {
	return d.logg.WithFields(ctx, map[string]any{
		"mailbox_name": head.MailboxName,
		"provider":     head.Provider,
	})
}

func (d drainer) expired(deadline time.Time) bool {
	return !d.now().Before(deadline)
}

func (d drainer) discard(ctx context.Context, payload *models.WebhookPayload, event string) error {
	if _, err := d.store.Discard(ctx, payload, enums.DeadLetterAttemptsExceeded); err != nil {
		return err
	}
	d.metrics.IncDelivery(enums.OutcomeAttemptsExceed, 1)
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"payload_id": payload.ID,
		"attempts":   payload.Attempts,
	}), event)
	return nil
}

// settle deletes a payload that needs no further attempts.
func (d drainer) settle(ctx context.Context, payload *models.WebhookPayload, outcome Outcome) error {
	if _, err := d.store.Delete(ctx, payload.ID); err != nil {
		return fmt.Errorf("delete payload %d: %w", payload.ID, err)
	}
	if outcome.Kind == KindTerminal {
		d.metrics.IncDelivery(enums.OutcomeTerminal, 1)
		return nil
	}
	d.metrics.IncDelivery(enums.OutcomeOK, 1)
	d.metrics.ObserveDeliveryTime(d.now().Sub(payload.DateAdded))
	return nil
}
