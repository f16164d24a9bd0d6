package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/webhook-relay/pkg/enums"
)

func newSequential(t *testing.T, env *testEnv, deliverer Deliverer) *SequentialDrainer {
	t.Helper()
	drainer, err := NewSequentialDrainer(DrainerParams{
		Logger:    testLogger(),
		Metrics:   env.metrics,
		Store:     env.store,
		Deliverer: deliverer,
		Settings:  DefaultSettings(),
	})
	require.NoError(t, err)
	return drainer
}

func TestNewSequentialDrainerRequiresDependencies(t *testing.T) {
	if _, err := NewSequentialDrainer(DrainerParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestSequentialDrainDeliversMailboxInOrder(t *testing.T) {
	env := newTestEnv(t)
	first := env.enqueue(t, "github:10", "github")
	second := env.enqueue(t, "github:10", "github")
	third := env.enqueue(t, "github:10", "github")
	other := env.enqueue(t, "github:11", "github")
	deliverer := newFakeDeliverer()

	err := newSequential(t, env, deliverer).Drain(context.Background(), first.ID)
	require.NoError(t, err)

	assert.Equal(t, []int64{first.ID, second.ID, third.ID}, deliverer.called())
	assert.Nil(t, env.find(t, first.ID))
	assert.Nil(t, env.find(t, second.ID))
	assert.Nil(t, env.find(t, third.ID))
	assert.NotNil(t, env.find(t, other.ID))
	assert.Equal(t, float64(3), env.deliveries(t, enums.OutcomeOK))
}

func TestSequentialDrainCountsAttemptBeforeSending(t *testing.T) {
	env := newTestEnv(t)
	head := env.enqueue(t, "github:10", "github")
	deliverer := newFakeDeliverer()

	require.NoError(t, newSequential(t, env, deliverer).Drain(context.Background(), head.ID))
	assert.Equal(t, 1, deliverer.attempts[head.ID])
}

func TestSequentialDrainHaltsMailboxOnRetry(t *testing.T) {
	env := newTestEnv(t)
	first := env.enqueue(t, "github:20", "github")
	second := env.enqueue(t, "github:20", "github")
	third := env.enqueue(t, "github:20", "github")
	deliverer := newFakeDeliverer()
	deliverer.script(second.ID, retryOutcome())

	before := time.Now().UTC()
	require.NoError(t, newSequential(t, env, deliverer).Drain(context.Background(), first.ID))

	assert.Equal(t, []int64{first.ID, second.ID}, deliverer.called())
	assert.Nil(t, env.find(t, first.ID))

	failed := env.find(t, second.ID)
	require.NotNil(t, failed)
	assert.Equal(t, 1, failed.Attempts)
	assert.True(t, failed.ScheduleFor.After(before), "retried payload must be scheduled in the future")

	untouched := env.find(t, third.ID)
	require.NotNil(t, untouched)
	assert.Equal(t, 0, untouched.Attempts)
	assert.Equal(t, third.ScheduleFor.Unix(), untouched.ScheduleFor.Unix())

	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeOK))
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeRetry))
}

func TestSequentialDrainDeletesTerminalFailures(t *testing.T) {
	env := newTestEnv(t)
	first := env.enqueue(t, "github:30", "github")
	second := env.enqueue(t, "github:30", "github")
	deliverer := newFakeDeliverer()
	deliverer.script(first.ID, Outcome{Kind: KindTerminal, Reason: enums.FailureNotFound, Status: 404})

	require.NoError(t, newSequential(t, env, deliverer).Drain(context.Background(), first.ID))

	assert.Nil(t, env.find(t, first.ID))
	assert.Nil(t, env.find(t, second.ID))
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeTerminal))
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeOK))
	assert.Empty(t, env.deadLetters(t))
}

func TestSequentialDrainDiscardsExhaustedPayloads(t *testing.T) {
	env := newTestEnv(t)
	exhausted := env.enqueue(t, "github:40", "github")
	next := env.enqueue(t, "github:40", "github")
	env.setColumn(t, exhausted.ID, "attempts", DefaultMaxAttempts)
	deliverer := newFakeDeliverer()

	require.NoError(t, newSequential(t, env, deliverer).Drain(context.Background(), exhausted.ID))

	assert.Equal(t, []int64{next.ID}, deliverer.called())
	assert.Nil(t, env.find(t, exhausted.ID))
	letters := env.deadLetters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, exhausted.ID, letters[0].PayloadID)
	assert.Equal(t, enums.DeadLetterAttemptsExceeded, letters[0].Reason)
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeAttemptsExceed))
}

func TestSequentialDrainReportsRaceForMissingHead(t *testing.T) {
	env := newTestEnv(t)
	deliverer := newFakeDeliverer()

	require.NoError(t, newSequential(t, env, deliverer).Drain(context.Background(), 4242))

	assert.Empty(t, deliverer.called())
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeRace))
}

func TestSequentialDrainStopsAtDeadline(t *testing.T) {
	env := newTestEnv(t)
	head := env.enqueue(t, "github:50", "github")
	deliverer := newFakeDeliverer()
	drainer := newSequential(t, env, deliverer)
	drainer.now = steppedClock(time.Now(), 1, 2*DefaultBatchScheduleOffset)

	require.NoError(t, drainer.Drain(context.Background(), head.ID))

	assert.Empty(t, deliverer.called())
	assert.NotNil(t, env.find(t, head.ID))
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeDeliveryDeadline))
}

func TestSequentialDrainSurfacesUnexpectedErrors(t *testing.T) {
	env := newTestEnv(t)
	head := env.enqueue(t, "github:60", "github")
	next := env.enqueue(t, "github:60", "github")
	boom := errors.New("boom")
	deliverer := newFakeDeliverer()
	deliverer.script(head.ID, Outcome{Kind: KindUnexpected, Reason: enums.FailureUnexpected, Err: boom})

	err := newSequential(t, env, deliverer).Drain(context.Background(), head.ID)
	require.ErrorIs(t, err, boom)

	kept := env.find(t, head.ID)
	require.NotNil(t, kept)
	assert.Equal(t, 1, kept.Attempts)
	assert.NotNil(t, env.find(t, next.ID))
	assert.Equal(t, []int64{head.ID}, deliverer.called())
}

func TestSequentialDrainNeverExceedsMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	head := env.enqueue(t, "github:70", "github")
	deliverer := newFakeDeliverer()
	deliverer.script(head.ID, retryOutcome())
	drainer := newSequential(t, env, deliverer)

	for i := 0; i < DefaultMaxAttempts+3; i++ {
		require.NoError(t, drainer.Drain(context.Background(), head.ID))
	}

	assert.Len(t, deliverer.called(), DefaultMaxAttempts)
	assert.Nil(t, env.find(t, head.ID))
	assert.Equal(t, float64(1), env.deliveries(t, enums.OutcomeAttemptsExceed))
	assert.Equal(t, float64(2), env.deliveries(t, enums.OutcomeRace))
}
