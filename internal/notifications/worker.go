package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftship-backend/pkg/enums"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/metrics"
	"github.com/angelmondragon/giftship-backend/pkg/outbox"
	"github.com/angelmondragon/giftship-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/giftship-backend/pkg/redis"
)

const (
	retryConsumer = "shipping-notification-retry"
	maxRetryDelay = time.Hour
)

type dequeuer interface {
	RetryQueue
	Dequeue(ctx context.Context, wait time.Duration) (*RetryMessage, error)
}

type handledGuard interface {
	CheckAndMark(ctx context.Context, consumer string, messageID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, messageID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// WorkerParams wires the retry worker.
type WorkerParams struct {
	Queue       dequeuer
	Sender      Sender
	Guard       handledGuard
	Tx          txRunner
	Outbox      outboxPublisher
	Logger      *logger.Logger
	Metrics     *metrics.CheckoutMetrics
	MaxAttempts int
	PollWait    time.Duration
	SendTimeout time.Duration
}

// Worker drains the notification retry queue.
type Worker struct {
	queue       dequeuer
	sender      Sender
	guard       handledGuard
	tx          txRunner
	outbox      outboxPublisher
	logg        *logger.Logger
	metrics     *metrics.CheckoutMetrics
	maxAttempts int
	pollWait    time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration)
}

// NewWorker builds a retry worker with the required dependencies.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("retry queue required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("notification sender required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Tx == nil || params.Outbox == nil {
		return nil, fmt.Errorf("outbox dependencies required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	w := &Worker{
		queue:       params.Queue,
		sender:      params.Sender,
		guard:       params.Guard,
		tx:          params.Tx,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		maxAttempts: params.MaxAttempts,
		pollWait:    params.PollWait,
		sendTimeout: params.SendTimeout,
		now:         time.Now,
		sleep:       sleepContext,
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 5
	}
	if w.pollWait <= 0 {
		w.pollWait = 2 * time.Second
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = defaultSendTimeout
	}
	return w, nil
}

// Run processes messages until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logg.Info(ctx, "notification retry worker started")
	for {
		if ctx.Err() != nil {
			w.logg.Info(ctx, "notification retry worker stopping")
			return nil
		}
		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logg.Error(ctx, "notification retry failed", err)
			w.sleep(ctx, w.pollWait)
		}
	}
}

// ProcessNext handles at most one queued message. It reports whether a
// message was taken off the queue.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	msg, err := w.queue.Dequeue(ctx, w.pollWait)
	if err != nil {
		if errors.Is(err, redis.ErrQueueEmpty) {
			return false, nil
		}
		return false, err
	}

	logCtx := w.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID.String(),
		"order_id":   msg.Message.OrderID.String(),
		"attempt":    msg.Attempts + 1,
	})

	if wait := msg.NotBefore.Sub(w.now()); wait > 0 {
		if err := w.queue.Enqueue(context.WithoutCancel(ctx), *msg); err != nil {
			return true, fmt.Errorf("requeue early message: %w", err)
		}
		w.sleep(ctx, min(wait, w.pollWait))
		return true, nil
	}

	handled, err := w.guard.CheckAndMark(ctx, retryConsumer, msg.ID)
	if err != nil {
		if qErr := w.queue.Enqueue(context.WithoutCancel(ctx), *msg); qErr != nil {
			w.logg.Error(logCtx, "failed to requeue message after idempotency error", qErr)
		}
		return true, fmt.Errorf("idempotency check: %w", err)
	}
	if handled {
		w.metrics.IncRetry("duplicate")
		w.logg.Info(logCtx, "notification already delivered")
		return true, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	sendErr := w.sender.Send(sendCtx, msg.Recipients, msg.Message)
	cancel()
	if sendErr == nil {
		w.metrics.IncRetry("delivered")
		w.logg.Info(logCtx, "deferred notification delivered")
		return true, nil
	}

	if err := w.guard.Release(context.WithoutCancel(ctx), retryConsumer, msg.ID); err != nil {
		w.logg.Error(logCtx, "failed to release idempotency claim", err)
	}
	msg.Attempts++
	msg.LastError = sendErr.Error()

	if msg.Attempts >= w.maxAttempts {
		if err := w.deadLetter(ctx, *msg); err != nil {
			return true, err
		}
		w.metrics.IncRetry("dead_lettered")
		w.logg.Warn(w.logg.WithField(logCtx, "error", msg.LastError), "notification abandoned after max attempts")
		return true, nil
	}

	msg.NotBefore = w.now().Add(retryDelay(w.pollWait, msg.Attempts)).UTC()
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), *msg); err != nil {
		return true, fmt.Errorf("requeue notification: %w", err)
	}
	w.metrics.IncRetry("requeued")
	w.logg.Warn(w.logg.WithField(logCtx, "error", msg.LastError), "notification retry failed, requeued")
	return true, nil
}

func (w *Worker) deadLetter(ctx context.Context, msg RetryMessage) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventNotificationDeferred,
		AggregateType: enums.AggregateNotification,
		AggregateID:   msg.ID,
		Source:        &outbox.SourceRef{Service: "giftship-notification-worker", RegistryID: msg.Message.RegistryID},
		Data: payloads.NotificationDeferredEvent{
			OrderID:    msg.Message.OrderID,
			RegistryID: msg.Message.RegistryID,
			Recipients: msg.Recipients,
			Attempts:   msg.Attempts,
			LastError:  msg.LastError,
		},
	}
	err := w.tx.WithTx(context.WithoutCancel(ctx), func(tx *gorm.DB) error {
		return w.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		if qErr := w.queue.Enqueue(context.WithoutCancel(ctx), msg); qErr != nil {
			w.logg.Error(ctx, "failed to requeue message after dead-letter error", qErr)
		}
		return fmt.Errorf("record abandoned notification: %w", err)
	}
	return nil
}

// retryDelay is the wait before the next send after attempts failures.
func retryDelay(base time.Duration, attempts int) time.Duration {
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	b = retry.WithJitterPercent(10, b)

	delay := base
	for i := 0; i < attempts; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
		// Stop at the cap; further shifts overflow.
		if base<<i >= maxRetryDelay {
			break
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
