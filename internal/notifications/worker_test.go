package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftship-backend/pkg/enums"
	"github.com/angelmondragon/giftship-backend/pkg/outbox"
	"github.com/angelmondragon/giftship-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/giftship-backend/pkg/redis"
)

type stubGuard struct {
	mu       sync.Mutex
	handled  map[uuid.UUID]bool
	released []uuid.UUID
}

func (g *stubGuard) CheckAndMark(ctx context.Context, consumer string, id uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handled == nil {
		g.handled = map[uuid.UUID]bool{}
	}
	if g.handled[id] {
		return true, nil
	}
	g.handled[id] = true
	return false, nil
}

func (g *stubGuard) Release(ctx context.Context, consumer string, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handled, id)
	g.released = append(g.released, id)
	return nil
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func newTestWorker(t *testing.T, queue *memoryQueue, sender Sender, guard *stubGuard, box *recordingOutbox) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerParams{
		Queue:       queue,
		Sender:      sender,
		Guard:       guard,
		Tx:          stubTx{},
		Outbox:      box,
		Logger:      testLogger(),
		MaxAttempts: 3,
		PollWait:    time.Millisecond,
		SendTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	worker.sleep = func(context.Context, time.Duration) {}
	return worker
}

func retryMessage(attempts int) RetryMessage {
	return RetryMessage{
		ID:         uuid.New(),
		Recipients: []string{"a@example.com"},
		Message:    Message{OrderID: uuid.New(), RegistryID: "reg-1", GroupID: "group-1"},
		Attempts:   attempts,
	}
}

func TestWorkerProcessNextEmptyQueue(t *testing.T) {
	worker := newTestWorker(t, &memoryQueue{}, &stubSender{}, &stubGuard{}, &recordingOutbox{})
	took, err := worker.ProcessNext(context.Background())
	if err != nil || took {
		t.Fatalf("expected idle pass, got took=%v err=%v", took, err)
	}
}

func TestWorkerDeliversQueuedMessage(t *testing.T) {
	queue := &memoryQueue{items: []RetryMessage{retryMessage(1)}}
	sender := &stubSender{}
	worker := newTestWorker(t, queue, sender, &stubGuard{}, &recordingOutbox{})

	took, err := worker.ProcessNext(context.Background())
	if err != nil || !took {
		t.Fatalf("unexpected result took=%v err=%v", took, err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected delivery, got %d sends", len(sender.sent))
	}
	if len(queue.items) != 0 {
		t.Fatalf("expected queue to drain, %d left", len(queue.items))
	}
}

func TestWorkerSkipsAlreadyDeliveredMessage(t *testing.T) {
	msg := retryMessage(1)
	queue := &memoryQueue{items: []RetryMessage{msg, msg}}
	sender := &stubSender{}
	worker := newTestWorker(t, queue, sender, &stubGuard{}, &recordingOutbox{})

	for i := 0; i < 2; i++ {
		if _, err := worker.ProcessNext(context.Background()); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected a single delivery for duplicate messages, got %d", len(sender.sent))
	}
}

func TestWorkerRequeuesFailedMessage(t *testing.T) {
	queue := &memoryQueue{items: []RetryMessage{retryMessage(1)}}
	guard := &stubGuard{}
	sender := &stubSender{sendFn: func(context.Context, []string, Message) error { return errors.New("down") }}
	worker := newTestWorker(t, queue, sender, guard, &recordingOutbox{})
	now := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return now }

	if _, err := worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(queue.items) != 1 {
		t.Fatalf("expected message to be requeued, got %d", len(queue.items))
	}
	requeued := queue.items[0]
	if requeued.Attempts != 2 || requeued.LastError != "down" {
		t.Fatalf("unexpected requeued message %+v", requeued)
	}
	if !requeued.NotBefore.After(now) {
		t.Fatalf("expected backoff, got not_before %s", requeued.NotBefore)
	}
	if len(guard.released) != 1 {
		t.Fatal("expected idempotency claim to be released")
	}
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	msg := retryMessage(2)
	queue := &memoryQueue{items: []RetryMessage{msg}}
	box := &recordingOutbox{}
	sender := &stubSender{sendFn: func(context.Context, []string, Message) error { return errors.New("mailbox full") }}
	worker := newTestWorker(t, queue, sender, &stubGuard{}, box)

	if _, err := worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(queue.items) != 0 {
		t.Fatalf("expected message to leave the queue, got %d", len(queue.items))
	}
	if len(box.events) != 1 {
		t.Fatalf("expected one deferred event, got %d", len(box.events))
	}
	event := box.events[0]
	if event.EventType != enums.EventNotificationDeferred || event.AggregateID != msg.ID {
		t.Fatalf("unexpected event %+v", event)
	}
	data, ok := event.Data.(payloads.NotificationDeferredEvent)
	if !ok || data.Attempts != 3 || data.LastError != "mailbox full" {
		t.Fatalf("unexpected payload %+v", event.Data)
	}
}

func TestWorkerPostponesMessagesNotYetDue(t *testing.T) {
	msg := retryMessage(1)
	now := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	msg.NotBefore = now.Add(time.Minute)
	queue := &memoryQueue{items: []RetryMessage{msg}}
	sender := &stubSender{}
	worker := newTestWorker(t, queue, sender, &stubGuard{}, &recordingOutbox{})
	worker.now = func() time.Time { return now }

	if _, err := worker.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sender.sent) != 0 || len(queue.items) != 1 {
		t.Fatalf("expected message to stay queued, sent=%d queued=%d", len(sender.sent), len(queue.items))
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	worker := newTestWorker(t, &memoryQueue{}, &stubSender{}, &stubGuard{}, &recordingOutbox{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

type fakeQueueStore struct {
	lists map[string][][]byte
}

func (f *fakeQueueStore) PushQueue(ctx context.Context, queue string, payload []byte) error {
	if f.lists == nil {
		f.lists = map[string][][]byte{}
	}
	f.lists[queue] = append(f.lists[queue], payload)
	return nil
}

func (f *fakeQueueStore) PopQueue(ctx context.Context, queue string, wait time.Duration) ([]byte, error) {
	items := f.lists[queue]
	if len(items) == 0 {
		return nil, redis.ErrQueueEmpty
	}
	f.lists[queue] = items[1:]
	return items[0], nil
}

func (f *fakeQueueStore) QueueLength(ctx context.Context, queue string) (int64, error) {
	return int64(len(f.lists[queue])), nil
}

func TestRedisRetryQueueRoundTrip(t *testing.T) {
	store := &fakeQueueStore{}
	queue, err := NewRedisRetryQueue(store, "shipping-notifications")
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	msg := retryMessage(1)
	msg.ID = uuid.Nil
	if err := queue.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, _ := queue.Len(context.Background()); n != 1 {
		t.Fatalf("expected length 1, got %d", n)
	}

	got, err := queue.Dequeue(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID == uuid.Nil || got.EnqueuedAt.IsZero() || got.Message.GroupID != "group-1" {
		t.Fatalf("unexpected message %+v", got)
	}
	if _, err := queue.Dequeue(context.Background(), time.Millisecond); !errors.Is(err, redis.ErrQueueEmpty) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	base := time.Second
	within := func(got, want time.Duration) bool {
		return got >= want-want/10 && got <= want+want/10
	}
	if got := retryDelay(base, 1); !within(got, base) {
		t.Fatalf("attempt 1: expected about %s, got %s", base, got)
	}
	if got := retryDelay(base, 3); !within(got, 4*base) {
		t.Fatalf("attempt 3: expected about %s, got %s", 4*base, got)
	}
	if got := retryDelay(base, 40); !within(got, maxRetryDelay) {
		t.Fatalf("attempt 40: expected about %s, got %s", maxRetryDelay, got)
	}
}
