package delivery

import (
	"context"
	"fmt"

	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
)

// SequentialDrainer delivers a mailbox strictly in id order and stops at the
// first payload that has to be retried.
type SequentialDrainer struct {
	drainer
}

func NewSequentialDrainer(params DrainerParams) (*SequentialDrainer, error) {
	base, err := newDrainer(params)
	if err != nil {
		return nil, err
	}
	return &SequentialDrainer{drainer: base}, nil
}

// Drain delivers the mailbox that payloadID heads until it is empty, a delivery
// fails or one scheduling offset has passed.
func (d *SequentialDrainer) Drain(ctx context.Context, payloadID int64) error {
	head, err := d.loadHead(ctx, payloadID, "deliver_webhook.potential_race")
	if err != nil || head == nil {
		return err
	}
	ctx = d.mailboxContext(ctx, head)

	delivered := 0
	deadline := d.now().Add(d.settings.BatchScheduleOffset)
	fromID := head.ID
	for {
		if d.expired(deadline) {
			d.deadlineReached(ctx, delivered)
			return nil
		}
		records, err := d.store.FetchWindow(ctx, head.MailboxName, fromID, d.settings.SequentialSlice)
		if err != nil {
			return fmt.Errorf("fetch mailbox %s: %w", head.MailboxName, err)
		}
		if len(records) == 0 {
			d.logg.Debug(d.logg.WithField(ctx, "delivered", delivered), "deliver_webhook.delivery_complete")
			return nil
		}
		for i := range records {
			if d.expired(deadline) {
				d.deadlineReached(ctx, delivered)
				return nil
			}
			record := &records[i]
			step, err := d.deliverMessage(ctx, record)
			if err != nil || step == messageHalt {
				return err
			}
			if step == messageHandled {
				delivered++
			}
			fromID = record.ID + 1
		}
	}
}

func (d *SequentialDrainer) deadlineReached(ctx context.Context, delivered int) {
	d.metrics.IncDelivery(enums.OutcomeDeliveryDeadline, 1)
	d.logg.Info(d.logg.WithField(ctx, "delivered", delivered), "deliver_webhook.delivery_deadline")
}

type messageStep int

const (
	// messageHandled means the payload was delivered, settled or discarded.
	messageHandled messageStep = iota
	// messageRaced means another worker removed the payload first.
	messageRaced
	// messageHalt means the mailbox has to wait for a later tick.
	messageHalt
)

func (d *SequentialDrainer) deliverMessage(ctx context.Context, record *models.WebhookPayload) (messageStep, error) {
	if record.Attempts >= d.settings.MaxAttempts {
		return messageHandled, d.discard(ctx, record, "deliver_webhook.discard")
	}

	// The attempt is recorded before the request so a crash mid-request still
	// counts against the attempt budget.
	updated, err := d.store.ScheduleNextAttempt(ctx, record)
	if err != nil {
		return messageHalt, fmt.Errorf("schedule next attempt for payload %d: %w", record.ID, err)
	}
	if updated == 0 {
		d.logg.Debug(d.logg.WithPayloadID(ctx, record.ID), "deliver_webhook.potential_race")
		return messageRaced, nil
	}

	outcome := d.deliverer.Deliver(ctx, record)
	switch outcome.Kind {
	case KindRetry:
		d.metrics.IncDelivery(enums.OutcomeRetry, 1)
		return messageHalt, nil
	case KindUnexpected:
		d.metrics.IncDelivery(enums.OutcomeRetry, 1)
		return messageHalt, fmt.Errorf("deliver payload %d: %w", record.ID, outcome.Err)
	}
	return messageHandled, d.settle(ctx, record, outcome)
}
