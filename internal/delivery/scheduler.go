package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/webhook-relay/internal/mailbox"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

type SchedulerStore interface {
	CountDueMailboxes(ctx context.Context, now time.Time) (int64, error)
	DueMailboxes(ctx context.Context, now time.Time, ranking mailbox.Ranking, limit int) ([]mailbox.DueHead, error)
	LeaseWindow(ctx context.Context, mailbox string, fromID int64, limit int, until time.Time) (int64, error)
}

type SchedulerParams struct {
	Logger     *logger.Logger
	Metrics    *metrics.DeliveryMetrics
	Store      SchedulerStore
	Dispatcher Dispatcher
	Priorities *PriorityTable
	Settings   Settings
}

// Scheduler picks the mailboxes whose head payload is due and hands each one to
// a drainer.
type Scheduler struct {
	logg       *logger.Logger
	metrics    *metrics.DeliveryMetrics
	store      SchedulerStore
	dispatcher Dispatcher
	priorities *PriorityTable
	settings   Settings
	now        func() time.Time
}

// TickResult summarizes one scheduling pass.
type TickResult struct {
	Due        int
	Sequential int
	Parallel   int
	Raced      int
	Deferred   int
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Store == nil {
		return nil, errors.New("mailbox store required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	priorities := params.Priorities
	if priorities == nil {
		priorities = DefaultPriorityTable()
	}
	return &Scheduler{
		logg:       params.Logger,
		metrics:    params.Metrics,
		store:      params.Store,
		dispatcher: params.Dispatcher,
		priorities: priorities,
		settings:   params.Settings.withDefaults(),
		now:        time.Now,
	}, nil
}

// Tick leases a window of every due mailbox and dispatches a drain for it.
// Mailboxes with a large window are drained in parallel.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	now := s.now().UTC()

	count, err := s.store.CountDueMailboxes(ctx, now)
	if err != nil {
		return result, fmt.Errorf("count due mailboxes: %w", err)
	}
	s.metrics.ObserveMailboxCount(int(count))

	heads, err := s.store.DueMailboxes(ctx, now, s.priorities, s.settings.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list due mailboxes: %w", err)
	}
	result.Due = len(heads)

	var errs error
	until := now.Add(s.settings.BatchScheduleOffset)
	threshold := s.settings.ParallelThreshold()
	for _, head := range heads {
		leased, err := s.store.LeaseWindow(ctx, head.MailboxName, head.ID, s.settings.MaxMailboxDrain, until)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lease mailbox %s: %w", head.MailboxName, err))
			continue
		}
		if leased == 0 {
			result.Raced++
			s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
				"mailbox_name": head.MailboxName,
				"payload_id":   head.ID,
			}), "schedule_webhook_delivery.potential_race")
			continue
		}

		if int(leased) >= threshold {
			err = s.dispatcher.DrainMailboxParallel(ctx, head.ID)
			if err == nil {
				result.Parallel++
			}
		} else {
			err = s.dispatcher.DrainMailbox(ctx, head.ID)
			if err == nil {
				result.Sequential++
			}
		}
		switch {
		case errors.Is(err, ErrDispatcherSaturated):
			result.Deferred++
			s.logg.Info(s.logg.WithMailbox(ctx, head.MailboxName), "schedule_webhook_delivery.dispatch_deferred")
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("dispatch mailbox %s: %w", head.MailboxName, err))
		}
	}
	return result, errs
}
