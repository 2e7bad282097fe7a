package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftship-backend/pkg/redis"
)

// Manager records handled message IDs per consumer using Redis SETNX with a TTL.
// Keys follow the `gs:idempotency:msg:handled:<consumer>:<message_id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that marks messages as handled for the given TTL.
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

// CheckAndMark returns true if the message was already handled and otherwise
// claims it for the configured TTL.
func (m *Manager) CheckAndMark(ctx context.Context, consumer string, messageID uuid.UUID) (bool, error) {
	key, err := m.handledKey(consumer, messageID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release drops the claim so a later attempt can handle the message again.
func (m *Manager) Release(ctx context.Context, consumer string, messageID uuid.UUID) error {
	key, err := m.handledKey(consumer, messageID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) handledKey(consumer string, messageID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if messageID == uuid.Nil {
		return "", errors.New("message id is required")
	}
	scope := fmt.Sprintf("msg:handled:%s", consumer)
	return m.store.IdempotencyKey(scope, messageID.String()), nil
}
