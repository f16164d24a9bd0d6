package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

type fakePublishResult struct {
	id  string
	err error
}

func (r fakePublishResult) Get(context.Context) (string, error) {
	return r.id, r.err
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakePublishResult{id: "msg-1", err: p.err}
}

type blockingRunner struct {
	mu      sync.Mutex
	tasks   []DrainTask
	release chan struct{}
	started chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, task DrainTask) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	r.started <- struct{}{}
	<-r.release
	return nil
}

func TestDecodeDrainTask(t *testing.T) {
	task := NewDrainTask(42, DrainParallel)
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodeDrainTask(data)
	if err != nil {
		t.Fatalf("DecodeDrainTask: %v", err)
	}
	if decoded != task {
		t.Fatalf("expected %+v, got %+v", task, decoded)
	}

	invalid := []string{
		`not json`,
		`{"task_id":"` + uuid.NewString() + `","payload_id":0,"mode":"sequential"}`,
		`{"task_id":"` + uuid.NewString() + `","payload_id":3,"mode":"sideways"}`,
		`{"payload_id":3,"mode":"sequential"}`,
	}
	for _, raw := range invalid {
		if _, err := DecodeDrainTask([]byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}

func TestPubSubDispatcherPublishesTasks(t *testing.T) {
	pub := &fakePublisher{}
	dispatcher, err := newPubSubDispatcher(testLogger(), pub)
	if err != nil {
		t.Fatalf("newPubSubDispatcher: %v", err)
	}

	if err := dispatcher.DrainMailbox(context.Background(), 10); err != nil {
		t.Fatalf("DrainMailbox: %v", err)
	}
	if err := dispatcher.DrainMailboxParallel(context.Background(), 20); err != nil {
		t.Fatalf("DrainMailboxParallel: %v", err)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.messages))
	}

	first, err := DecodeDrainTask(pub.messages[0].Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.PayloadID != 10 || first.Mode != DrainSequential {
		t.Fatalf("unexpected task %+v", first)
	}
	if pub.messages[1].Attributes["mode"] != string(DrainParallel) || pub.messages[1].Attributes["payload_id"] != "20" {
		t.Fatalf("unexpected attributes %v", pub.messages[1].Attributes)
	}
	if pub.messages[0].Attributes["task_id"] == pub.messages[1].Attributes["task_id"] {
		t.Fatal("expected distinct task ids")
	}
}

func TestPubSubDispatcherReturnsPublishErrors(t *testing.T) {
	boom := errors.New("publish failed")
	dispatcher, err := newPubSubDispatcher(testLogger(), &fakePublisher{err: boom})
	if err != nil {
		t.Fatalf("newPubSubDispatcher: %v", err)
	}
	if err := dispatcher.DrainMailbox(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestInlineDispatcherRejectsWhenSaturated(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}, 2)}
	dispatcher, err := NewInlineDispatcher(testLogger(), runner, 1)
	if err != nil {
		t.Fatalf("NewInlineDispatcher: %v", err)
	}

	if err := dispatcher.DrainMailbox(context.Background(), 1); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	<-runner.started
	if err := dispatcher.DrainMailboxParallel(context.Background(), 2); !errors.Is(err, ErrDispatcherSaturated) {
		t.Fatalf("expected saturation, got %v", err)
	}

	close(runner.release)
	dispatcher.Wait()

	if err := dispatcher.DrainMailboxParallel(context.Background(), 3); err != nil {
		t.Fatalf("dispatch after release: %v", err)
	}
	<-runner.started
	dispatcher.Wait()

	if len(runner.tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(runner.tasks))
	}
	if runner.tasks[0].Mode != DrainSequential || runner.tasks[1].Mode != DrainParallel || runner.tasks[1].PayloadID != 3 {
		t.Fatalf("unexpected tasks %+v", runner.tasks)
	}
}

func TestInlineDispatcherOutlivesCanceledTick(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	dispatcher, err := NewInlineDispatcher(testLogger(), runner, 2)
	if err != nil {
		t.Fatalf("NewInlineDispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := dispatcher.DrainMailbox(ctx, 5); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	cancel()
	<-runner.started
	close(runner.release)
	dispatcher.Wait()
	if len(runner.tasks) != 1 {
		t.Fatalf("expected the drain to run, got %d tasks", len(runner.tasks))
	}
}
