package delivery

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
)

type ParallelDrainerParams struct {
	DrainerParams
	// Sweeper defaults to one built from the drainer store and settings.
	Sweeper *RetentionSweeper
}

// ParallelDrainer trades strict ordering for throughput on mailboxes that fell
// behind. Each batch of WorkerThreads payloads is sent concurrently and fully
// settled before the next one is fetched.
type ParallelDrainer struct {
	drainer
	sweeper *RetentionSweeper
}

func NewParallelDrainer(params ParallelDrainerParams) (*ParallelDrainer, error) {
	base, err := newDrainer(params.DrainerParams)
	if err != nil {
		return nil, err
	}
	sweeper := params.Sweeper
	if sweeper == nil {
		sweeper, err = NewRetentionSweeper(RetentionSweeperParams{
			Logger:   base.logg,
			Metrics:  base.metrics,
			Store:    base.store,
			MaxAge:   base.settings.MaxDeliveryAge,
			BatchMax: base.settings.StaleDiscardBatch,
		})
		if err != nil {
			return nil, err
		}
	}
	return &ParallelDrainer{drainer: base, sweeper: sweeper}, nil
}

func (d *ParallelDrainer) Drain(ctx context.Context, payloadID int64) error {
	head, err := d.loadHead(ctx, payloadID, "deliver_webhook_parallel.potential_race")
	if err != nil || head == nil {
		return err
	}
	ctx = d.mailboxContext(ctx, head)
	if _, err := d.sweeper.Sweep(ctx, head); err != nil {
		return err
	}

	delivered := 0
	deadline := d.now().Add(d.settings.BatchScheduleOffset)
	for {
		if d.expired(deadline) {
			d.metrics.IncDelivery(enums.OutcomeDeliveryDeadline, 1)
			d.logg.Info(d.logg.WithField(ctx, "delivered", delivered), "deliver_webhook_parallel.delivery_deadline")
			return nil
		}
		batch, err := d.store.FetchWindow(ctx, head.MailboxName, head.ID, d.settings.WorkerThreads)
		if err != nil {
			return fmt.Errorf("fetch mailbox %s: %w", head.MailboxName, err)
		}
		if len(batch) == 0 {
			d.logg.Info(d.logg.WithField(ctx, "delivered", delivered), "deliver_webhook_parallel.task_complete")
			return nil
		}

		result := d.runBatch(ctx, batch)
		delivered += result.delivered
		if result.err != nil {
			return result.err
		}
		if result.failed {
			d.logg.Info(d.logg.WithField(ctx, "delivered", delivered), "deliver_webhook_parallel.delivery_request_failed")
			return nil
		}
	}
}

type batchResult struct {
	delivered int
	failed    bool
	err       error
}

// runBatch sends every payload of batch that still has attempts left and waits
// for all of them before touching the store.
func (d *ParallelDrainer) runBatch(ctx context.Context, batch []models.WebhookPayload) batchResult {
	outcomes := make([]Outcome, len(batch))
	sent := make([]bool, len(batch))

	var group errgroup.Group
	group.SetLimit(d.settings.WorkerThreads)
	for i := range batch {
		if batch[i].Attempts >= d.settings.MaxAttempts {
			continue
		}
		sent[i] = true
		group.Go(func() error {
			outcomes[i] = d.deliverer.Deliver(ctx, &batch[i])
			return nil
		})
	}
	// Deliver never returns an error; failures are carried by the outcomes.
	_ = group.Wait()

	var result batchResult
	for i := range batch {
		record := &batch[i]
		if !sent[i] {
			result.err = multierr.Append(result.err, d.discard(ctx, record, "deliver_webhook_parallel.discard"))
			continue
		}
		outcome := outcomes[i]
		if !outcome.Failed() {
			if err := d.settle(ctx, record, outcome); err != nil {
				result.err = multierr.Append(result.err, err)
				continue
			}
			if outcome.Kind == KindDelivered {
				result.delivered++
			}
			continue
		}

		if outcome.Kind == KindUnexpected {
			result.err = multierr.Append(result.err, fmt.Errorf("deliver payload %d: %w", record.ID, outcome.Err))
		}
		if record.Attempts+1 >= d.settings.MaxAttempts {
			// The dead letter records the attempt that just failed.
			record.Attempts++
			result.err = multierr.Append(result.err, d.discard(ctx, record, "deliver_webhook_parallel.discard"))
			continue
		}
		if _, err := d.store.ScheduleNextAttempt(ctx, record); err != nil {
			result.err = multierr.Append(result.err, fmt.Errorf("schedule next attempt for payload %d: %w", record.ID, err))
		}
		d.metrics.IncDelivery(enums.OutcomeRetry, 1)
		result.failed = true
	}
	return result
}
