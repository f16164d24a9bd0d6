package delivery

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/webhook-relay/internal/mailbox"
	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "delivery-test", Output: io.Discard})
}

type testEnv struct {
	db       *gorm.DB
	store    *mailbox.Store
	registry *prometheus.Registry
	metrics  *metrics.DeliveryMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:delivery_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.WebhookPayload{}, &models.WebhookPayloadDeadLetter{}))
	reg := prometheus.NewRegistry()
	return &testEnv{
		db:       db,
		store:    mailbox.NewStore(db, mailbox.DefaultBackoff()),
		registry: reg,
		metrics:  metrics.NewDeliveryMetrics(reg),
	}
}

func (e *testEnv) enqueue(t *testing.T, mailboxName, provider string) *models.WebhookPayload {
	t.Helper()
	payload, err := e.store.Enqueue(context.Background(), mailbox.EnqueueRequest{
		MailboxName:     mailboxName,
		DestinationType: enums.DestinationRegion,
		RegionName:      "us",
		Provider:        provider,
		RequestMethod:   "POST",
		RequestPath:     "/extensions/github/webhook/",
		RequestHeaders:  map[string]string{"Content-Type": "application/json"},
		RequestBody:     `{"action":"opened"}`,
	})
	require.NoError(t, err)
	return payload
}

func (e *testEnv) setColumn(t *testing.T, id int64, column string, value any) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.WebhookPayload{}).Where("id = ?", id).Update(column, value).Error)
}

// find returns nil when the payload has been removed.
func (e *testEnv) find(t *testing.T, id int64) *models.WebhookPayload {
	t.Helper()
	var rows []models.WebhookPayload
	require.NoError(t, e.db.Where("id = ?", id).Find(&rows).Error)
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}

func (e *testEnv) deadLetters(t *testing.T) []models.WebhookPayloadDeadLetter {
	t.Helper()
	var rows []models.WebhookPayloadDeadLetter
	require.NoError(t, e.db.Order("payload_id ASC").Find(&rows).Error)
	return rows
}

func (e *testEnv) deliveries(t *testing.T, outcome enums.DeliveryOutcome) float64 {
	t.Helper()
	return counterValue(t, e.registry, "webhook_deliveries_total", map[string]string{"outcome": string(outcome)})
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// fakeDeliverer returns scripted outcomes per payload id and Delivered otherwise.
type fakeDeliverer struct {
	mu       sync.Mutex
	outcomes map[int64]Outcome
	calls    []int64
	attempts map[int64]int
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{outcomes: map[int64]Outcome{}, attempts: map[int64]int{}}
}

func (f *fakeDeliverer) script(id int64, outcome Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[id] = outcome
}

func (f *fakeDeliverer) Deliver(_ context.Context, payload *models.WebhookPayload) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payload.ID)
	f.attempts[payload.ID] = payload.Attempts
	if outcome, ok := f.outcomes[payload.ID]; ok {
		return outcome
	}
	return Outcome{Kind: KindDelivered, Destination: payload.RegionName, Status: 200}
}

func (f *fakeDeliverer) called() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

// steppedClock returns start for the first n calls and start+step afterwards.
func steppedClock(start time.Time, n int, step time.Duration) func() time.Time {
	var (
		mu    sync.Mutex
		calls int
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return start
		}
		return start.Add(step)
	}
}

func retryOutcome() Outcome {
	return Outcome{Kind: KindRetry, Reason: enums.FailureTimeoutReset}
}
