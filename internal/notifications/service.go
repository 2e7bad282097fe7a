package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/giftship-backend/internal/orders"
	"github.com/angelmondragon/giftship-backend/pkg/db/models"
	"github.com/angelmondragon/giftship-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/metrics"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

// NotifyInput lists the committed orders to announce.
type NotifyInput struct {
	RegistryID      string
	Orders          []models.Order
	Tracking        []orders.TrackingInfo
	ExtraRecipients []string
}

// NotificationResult summarizes a best-effort dispatch. Err aggregates the
// deferred failures for logging only; callers never treat it as fatal.
type NotificationResult struct {
	Sent     int             `json:"sent"`
	Deferred int             `json:"deferred"`
	Skipped  int             `json:"skipped"`
	Warnings []types.Warning `json:"warnings,omitempty"`
	Err      error           `json:"-"`
}

// Dispatcher sends shipping notifications and parks failures on the retry queue.
type Dispatcher struct {
	sender      Sender
	queue       RetryQueue
	logg        *logger.Logger
	metrics     *metrics.CheckoutMetrics
	sendTimeout time.Duration
	retryDelay  time.Duration
	now         func() time.Time
}

// NewDispatcher builds a dispatcher with the required dependencies.
func NewDispatcher(sender Sender, queue RetryQueue, logg *logger.Logger, m *metrics.CheckoutMetrics, sendTimeout, retryDelay time.Duration) (*Dispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("notification sender required")
	}
	if queue == nil {
		return nil, fmt.Errorf("retry queue required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		sender:      sender,
		queue:       queue,
		logg:        logg,
		metrics:     m,
		sendTimeout: sendTimeout,
		retryDelay:  retryDelay,
		now:         time.Now,
	}, nil
}

// Notify sends one message per confirmed order. It never fails the caller:
// undeliverable messages are enqueued for retry and reported in the result.
func (d *Dispatcher) Notify(ctx context.Context, input NotifyInput) NotificationResult {
	ctx = d.logg.WithRegistryID(ctx, input.RegistryID)
	tracking := make(map[uuid.UUID]*orders.TrackingInfo, len(input.Tracking))
	for i := range input.Tracking {
		tracking[input.Tracking[i].OrderID] = &input.Tracking[i]
	}

	var result NotificationResult
	for _, order := range input.Orders {
		orderCtx := d.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID.String(),
			"group_id": order.GroupID,
		})
		if order.Status != enums.OrderStatusConfirmed {
			result.Skipped++
			d.metrics.IncNotification("skipped")
			d.logg.Debug(orderCtx, "skipping notification for unconfirmed order")
			continue
		}
		recipients := Recipients([]string{order.ShippingAddress.Email, order.BuyerEmail}, input.ExtraRecipients)
		if len(recipients) == 0 {
			result.Skipped++
			d.metrics.IncNotification("skipped")
			d.logg.Warn(orderCtx, "no notification recipients for order")
			continue
		}

		msg := buildMessage(input.RegistryID, order, tracking[order.ID])
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.sender.Send(sendCtx, recipients, msg)
		cancel()
		if err == nil {
			result.Sent++
			d.metrics.IncNotification("sent")
			continue
		}

		result.Deferred++
		d.metrics.IncNotification("deferred")
		d.logg.Warn(d.logg.WithField(orderCtx, "error", err.Error()), "shipping notification deferred")
		result.Err = multierr.Append(result.Err, fmt.Errorf("order %s: %w", order.ID, err))

		retry := RetryMessage{
			ID:         uuid.New(),
			Recipients: recipients,
			Message:    msg,
			Attempts:   1,
			LastError:  err.Error(),
			NotBefore:  d.now().Add(d.retryDelay).UTC(),
		}
		if qErr := d.queue.Enqueue(context.WithoutCancel(ctx), retry); qErr != nil {
			d.metrics.IncNotification("enqueue_failed")
			d.logg.Error(orderCtx, "failed to enqueue notification retry", qErr)
			result.Err = multierr.Append(result.Err, fmt.Errorf("enqueue retry for order %s: %w", order.ID, qErr))
		}
	}

	if result.Deferred > 0 {
		result.Warnings = append(result.Warnings, types.Warning{
			Code:    pkgerrors.CodeNotificationDeliveryDeferred,
			Message: fmt.Sprintf("%d notification(s) will be retried", result.Deferred),
		})
		result.Err = pkgerrors.Wrap(pkgerrors.CodeNotificationDeliveryDeferred, result.Err, "some notifications were deferred")
	}
	return result
}
