package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/webhook-relay/pkg/redis"
)

// Manager remembers which task IDs a consumer already handled, using Redis SETNX with a TTL.
// Keys follow the `relay:idempotency:task:processed:<consumer>:<task_id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that marks tasks as processed for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMarkProcessed returns true if the task was already claimed and
// otherwise claims it for the configured TTL.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, taskID uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, taskID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release forgets a claim so a redelivery of the task is processed again.
func (m *Manager) Release(ctx context.Context, consumer string, taskID uuid.UUID) error {
	key, err := m.processedKey(consumer, taskID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, taskID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if taskID == uuid.Nil {
		return "", errors.New("task id is required")
	}
	scope := fmt.Sprintf("task:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, taskID.String()), nil
}
