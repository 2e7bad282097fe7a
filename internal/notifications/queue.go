package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftship-backend/pkg/redis"
)

// RetryMessage is a notification parked for the background worker.
type RetryMessage struct {
	ID         uuid.UUID `json:"id"`
	Recipients []string  `json:"recipients"`
	Message    Message   `json:"message"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	NotBefore  time.Time `json:"not_before"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RetryQueue accepts notifications whose first delivery failed.
type RetryQueue interface {
	Enqueue(ctx context.Context, msg RetryMessage) error
}

// RedisRetryQueue stores retry messages in a Redis list.
type RedisRetryQueue struct {
	store redis.QueueStore
	name  string
}

// NewRedisRetryQueue binds a retry queue to the named Redis list.
func NewRedisRetryQueue(store redis.QueueStore, name string) (*RedisRetryQueue, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, errors.New("queue name is required")
	}
	return &RedisRetryQueue{store: store, name: trimmed}, nil
}

// Enqueue appends msg to the tail of the queue.
func (q *RedisRetryQueue) Enqueue(ctx context.Context, msg RetryMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal retry message: %w", err)
	}
	return q.store.PushQueue(ctx, q.name, payload)
}

// Dequeue waits up to wait for the next message. It returns redis.ErrQueueEmpty
// when nothing arrived.
func (q *RedisRetryQueue) Dequeue(ctx context.Context, wait time.Duration) (*RetryMessage, error) {
	payload, err := q.store.PopQueue(ctx, q.name, wait)
	if err != nil {
		return nil, err
	}
	var msg RetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode retry message: %w", err)
	}
	return &msg, nil
}

// Len reports how many messages are waiting.
func (q *RedisRetryQueue) Len(ctx context.Context) (int64, error) {
	return q.store.QueueLength(ctx, q.name)
}
