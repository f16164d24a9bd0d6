package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

// ErrDispatcherSaturated is returned by the inline dispatcher when every drain
// slot is busy. The mailbox stays leased and a later tick picks it up again.
var ErrDispatcherSaturated = errors.New("dispatcher saturated")

// Dispatcher hands a leased mailbox to a drainer, identified by its head payload.
type Dispatcher interface {
	DrainMailbox(ctx context.Context, payloadID int64) error
	DrainMailboxParallel(ctx context.Context, payloadID int64) error
}

type DrainMode string

const (
	DrainSequential DrainMode = "sequential"
	DrainParallel   DrainMode = "parallel"
)

// DrainTask is the message that travels from the scheduler to a delivery worker.
type DrainTask struct {
	TaskID    uuid.UUID `json:"task_id"`
	PayloadID int64     `json:"payload_id"`
	Mode      DrainMode `json:"mode"`
}

func NewDrainTask(payloadID int64, mode DrainMode) DrainTask {
	return DrainTask{TaskID: uuid.New(), PayloadID: payloadID, Mode: mode}
}

func (t DrainTask) Validate() error {
	if t.TaskID == uuid.Nil {
		return errors.New("task_id is required")
	}
	if t.PayloadID <= 0 {
		return errors.New("payload_id must be positive")
	}
	switch t.Mode {
	case DrainSequential, DrainParallel:
		return nil
	}
	return fmt.Errorf("unknown drain mode %q", t.Mode)
}

func DecodeDrainTask(data []byte) (DrainTask, error) {
	var task DrainTask
	if err := json.Unmarshal(data, &task); err != nil {
		return DrainTask{}, fmt.Errorf("decode drain task: %w", err)
	}
	if err := task.Validate(); err != nil {
		return DrainTask{}, err
	}
	return task, nil
}

type mailboxDrainer interface {
	Drain(ctx context.Context, payloadID int64) error
}

// TaskRunner routes drain tasks to the drainer their mode names.
type TaskRunner struct {
	sequential mailboxDrainer
	parallel   mailboxDrainer
}

func NewTaskRunner(sequential *SequentialDrainer, parallel *ParallelDrainer) (*TaskRunner, error) {
	if sequential == nil || parallel == nil {
		return nil, errors.New("sequential and parallel drainers required")
	}
	return &TaskRunner{sequential: sequential, parallel: parallel}, nil
}

func (r *TaskRunner) Run(ctx context.Context, task DrainTask) error {
	switch task.Mode {
	case DrainSequential:
		return r.sequential.Drain(ctx, task.PayloadID)
	case DrainParallel:
		return r.parallel.Drain(ctx, task.PayloadID)
	}
	return fmt.Errorf("unknown drain mode %q", task.Mode)
}

type taskRunner interface {
	Run(ctx context.Context, task DrainTask) error
}

// InlineDispatcher drains mailboxes on goroutines of the scheduling process,
// bounded by a fixed number of slots.
type InlineDispatcher struct {
	logg   *logger.Logger
	runner taskRunner
	slots  chan struct{}
	wg     sync.WaitGroup
}

func NewInlineDispatcher(logg *logger.Logger, runner taskRunner, workers int) (*InlineDispatcher, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if runner == nil {
		return nil, errors.New("task runner required")
	}
	if workers <= 0 {
		workers = 1
	}
	return &InlineDispatcher{
		logg:   logg,
		runner: runner,
		slots:  make(chan struct{}, workers),
	}, nil
}

func (d *InlineDispatcher) DrainMailbox(ctx context.Context, payloadID int64) error {
	return d.dispatch(ctx, NewDrainTask(payloadID, DrainSequential))
}

func (d *InlineDispatcher) DrainMailboxParallel(ctx context.Context, payloadID int64) error {
	return d.dispatch(ctx, NewDrainTask(payloadID, DrainParallel))
}

func (d *InlineDispatcher) dispatch(ctx context.Context, task DrainTask) error {
	select {
	case d.slots <- struct{}{}:
	default:
		return ErrDispatcherSaturated
	}
	// Drains bound themselves by the scheduling offset and must outlive the tick.
	drainCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		if err := d.runner.Run(drainCtx, task); err != nil {
			d.logg.Error(d.logg.WithFields(drainCtx, map[string]any{
				"task_id":    task.TaskID.String(),
				"payload_id": task.PayloadID,
				"mode":       task.Mode,
			}), "inline drain failed", err)
		}
	}()
	return nil
}

// Wait blocks until every started drain has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubDispatcher publishes drain tasks for delivery workers to consume.
type PubSubDispatcher struct {
	logg      *logger.Logger
	publisher publisher
	timeout   time.Duration
}

func NewPubSubDispatcher(logg *logger.Logger, pub *gcppubsub.Publisher) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, errors.New("drain publisher required")
	}
	return newPubSubDispatcher(logg, &gcpPublisher{Publisher: pub})
}

func newPubSubDispatcher(logg *logger.Logger, pub publisher) (*PubSubDispatcher, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if pub == nil {
		return nil, errors.New("drain publisher required")
	}
	return &PubSubDispatcher{logg: logg, publisher: pub, timeout: defaultPublishTimeout}, nil
}

func (d *PubSubDispatcher) DrainMailbox(ctx context.Context, payloadID int64) error {
	return d.publish(ctx, NewDrainTask(payloadID, DrainSequential))
}

func (d *PubSubDispatcher) DrainMailboxParallel(ctx context.Context, payloadID int64) error {
	return d.publish(ctx, NewDrainTask(payloadID, DrainParallel))
}

func (d *PubSubDispatcher) publish(ctx context.Context, task DrainTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode drain task: %w", err)
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"task_id":    task.TaskID.String(),
			"payload_id": strconv.FormatInt(task.PayloadID, 10),
			"mode":       string(task.Mode),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.publisher.Publish(publishCtx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for drain task %s", task.TaskID)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish drain task %s: %w", task.TaskID, err)
	}
	d.logg.Debug(d.logg.WithFields(ctx, map[string]any{
		"task_id":    task.TaskID.String(),
		"payload_id": task.PayloadID,
		"mode":       task.Mode,
	}), "drain task published")
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
