package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
)

const (
	defaultSendTimeout    = 5 * time.Second
	responseBodyReadLimit = 512
)

// Sender delivers one message to a set of recipients.
type Sender interface {
	Send(ctx context.Context, recipients []string, msg Message) error
}

// HTTPSender posts messages to the transactional messaging service.
type HTTPSender struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

// NewHTTPSender builds a sender for the given endpoint.
func NewHTTPSender(url, apiKey string, httpClient *http.Client) (*HTTPSender, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("notification service url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSendTimeout}
	}
	return &HTTPSender{
		httpClient: httpClient,
		url:        trimmed,
		apiKey:     strings.TrimSpace(apiKey),
	}, nil
}

type sendRequest struct {
	Recipients []string `json:"recipients"`
	Template   string   `json:"template"`
	Data       Message  `json:"data"`
}

// Send posts the message; any non-2xx response is an error.
func (s *HTTPSender) Send(ctx context.Context, recipients []string, msg Message) error {
	if len(recipients) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one recipient is required")
	}
	payload, err := json.Marshal(sendRequest{Recipients: recipients, Template: msg.Template, Data: msg})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build notification request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send notification")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "notification service rejected message")
	}
	return nil
}
