package carrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrAddressRejected is returned when the carrier refuses to ship to a destination.
var ErrAddressRejected = errors.New("carrier rejected destination address")

// StatusError is a non-2xx carrier response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("carrier responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("carrier responded with status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

func classifyStatus(status int, body string) error {
	statusErr := &StatusError{StatusCode: status, Body: body}
	if status == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %w", ErrAddressRejected, statusErr)
	}
	return statusErr
}

// IsRetryable reports whether err is a transient failure: timeouts, network
// errors, 408/429 and 5xx responses. Address rejections never are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrAddressRejected) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
