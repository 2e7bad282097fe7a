package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

const (
	defaultBaseURL        = "https://carrier.example.com/v1"
	defaultHTTPTimeout    = 15 * time.Second
	responseBodyReadLimit = 1024
)

var errAPIKeyRequired = errors.New("carrier api key is required")

// Client talks to the carrier's JSON rating and labelling API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	name       string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the carrier API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithCarrierName sets the carrier name reported when the API omits one.
func WithCarrierName(name string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			c.name = trimmed
		}
	}
}

// NewClient builds a carrier client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		name:       "carrier",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Parcel is one item line as the carrier sees it.
type Parcel struct {
	ItemID        string          `json:"item_id"`
	Quantity      int             `json:"quantity"`
	WeightGrams   int             `json:"weight_grams"`
	DeclaredValue decimal.Decimal `json:"declared_value"`
}

// RateRequest asks for quotes to ship a group of parcels to one destination.
type RateRequest struct {
	GroupID       string                `json:"group_id"`
	Destination   types.ShippingAddress `json:"destination"`
	Parcels       []Parcel              `json:"parcels"`
	WeightGrams   int                   `json:"total_weight_grams"`
	DeclaredValue decimal.Decimal       `json:"declared_value"`
	Currency      string                `json:"currency"`
}

// NewRateRequest aggregates a shipping group into a quote request.
func NewRateRequest(group types.ShippingGroup, currency string) RateRequest {
	req := RateRequest{
		GroupID:       group.ID,
		Destination:   group.Address,
		Parcels:       make([]Parcel, 0, len(group.Items)),
		DeclaredValue: decimal.Zero,
		Currency:      currency,
	}
	for _, item := range group.Items {
		weight := item.WeightGrams * item.Quantity
		value := item.LineTotal()
		req.Parcels = append(req.Parcels, Parcel{
			ItemID:        item.ID,
			Quantity:      item.Quantity,
			WeightGrams:   weight,
			DeclaredValue: value,
		})
		req.WeightGrams += weight
		req.DeclaredValue = req.DeclaredValue.Add(value)
	}
	return req
}

// BookRequest purchases a label for a previously quoted rate.
type BookRequest struct {
	GroupID        string                `json:"group_id"`
	IdempotencyKey string                `json:"idempotency_key"`
	Destination    types.ShippingAddress `json:"destination"`
	RateID         string                `json:"rate_id"`
	Estimated      bool                  `json:"estimated"`
}

// Booking is the carrier's confirmation of a purchased label.
type Booking struct {
	LabelID        string `json:"label_id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

type rateResponse struct {
	Rates []struct {
		ID                      string          `json:"id"`
		Label                   string          `json:"label"`
		Carrier                 string          `json:"carrier"`
		Price                   decimal.Decimal `json:"price"`
		Currency                string          `json:"currency"`
		EstimatedDelivery       time.Time       `json:"estimated_delivery"`
		EstimatedDeliveryLatest *time.Time      `json:"estimated_delivery_latest"`
	} `json:"rates"`
}

// Quote returns the carrier's rate options for the request.
func (c *Client) Quote(ctx context.Context, req RateRequest) ([]types.RateOption, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	if !req.Destination.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate request destination is incomplete")
	}

	var apiResp rateResponse
	if err := c.do(ctx, http.MethodPost, "rates", req, &apiResp); err != nil {
		return nil, err
	}

	options := make([]types.RateOption, 0, len(apiResp.Rates))
	for _, r := range apiResp.Rates {
		carrierName := r.Carrier
		if carrierName == "" {
			carrierName = c.name
		}
		currency := r.Currency
		if currency == "" {
			currency = req.Currency
		}
		options = append(options, types.RateOption{
			ID:                      r.ID,
			Label:                   r.Label,
			Carrier:                 carrierName,
			Price:                   r.Price,
			Currency:                currency,
			EstimatedDelivery:       r.EstimatedDelivery,
			EstimatedDeliveryLatest: r.EstimatedDeliveryLatest,
		})
	}
	return options, nil
}

// Book purchases a label for the chosen rate.
func (c *Client) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	if strings.TrimSpace(req.RateID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate id is required")
	}

	var booking Booking
	if err := c.do(ctx, http.MethodPost, "labels", req, &booking); err != nil {
		return nil, err
	}
	if booking.Carrier == "" {
		booking.Carrier = c.name
	}
	return &booking, nil
}

// Void cancels a purchased label.
func (c *Client) Void(ctx context.Context, labelID string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	trimmed := strings.TrimSpace(labelID)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "label id is required")
	}
	return c.do(ctx, http.MethodDelete, "labels/"+url.PathEscape(trimmed), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal carrier request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build carrier request")
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("carrier %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return classifyStatus(resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode carrier response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
