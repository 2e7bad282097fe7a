package rates

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giftship-backend/pkg/config"
)

const (
	// FlatRateOptionID identifies the synthesized fallback option.
	FlatRateOptionID = "flat-rate"
	flatRateCarrier  = "flat-rate"
)

// Config bounds the fan-out and describes the flat-rate fallback.
type Config struct {
	MaxConcurrency int
	MaxAttempts    int
	QuoteTimeout   time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Currency       string

	FlatRatePrice       decimal.Decimal
	FlatRateLabel       string
	FlatRateTransitDays int
}

// ConfigFrom maps the environment config onto resolver settings.
func ConfigFrom(ratesCfg config.RatesConfig, flatCfg config.FlatRateConfig) (Config, error) {
	price, err := flatCfg.Amount()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		MaxConcurrency:      ratesCfg.MaxConcurrency,
		MaxAttempts:         ratesCfg.MaxAttempts,
		QuoteTimeout:        ratesCfg.QuoteTimeout,
		BackoffBase:         ratesCfg.BackoffBase,
		BackoffCap:          ratesCfg.BackoffCap,
		Currency:            strings.ToUpper(strings.TrimSpace(flatCfg.Currency)),
		FlatRatePrice:       price,
		FlatRateLabel:       flatCfg.Label,
		FlatRateTransitDays: flatCfg.TransitDays,
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffCap < c.BackoffBase {
		c.BackoffCap = c.BackoffBase
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.FlatRateLabel == "" {
		c.FlatRateLabel = "Standard shipping (estimated)"
	}
	if c.FlatRateTransitDays <= 0 {
		c.FlatRateTransitDays = 7
	}
	return c
}

