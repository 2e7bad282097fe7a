package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/giftship-backend/internal/carrier"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/metrics"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

// Quoter returns carrier rate options for one destination.
type Quoter interface {
	Quote(ctx context.Context, req carrier.RateRequest) ([]types.RateOption, error)
}

const (
	fallbackRetriesExhausted = "retries_exhausted"
	fallbackNoOptions        = "no_options"
	fallbackProviderError    = "provider_error"
)

// Resolver fetches rate options for every shipping group with bounded concurrency.
type Resolver struct {
	quoter  Quoter
	cfg     Config
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
}

// NewResolver builds a resolver around the carrier quoter.
func NewResolver(quoter Quoter, cfg Config, logg *logger.Logger, m *metrics.CheckoutMetrics) (*Resolver, error) {
	if quoter == nil {
		return nil, fmt.Errorf("rate quoter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Resolver{
		quoter:  quoter,
		cfg:     cfg.withDefaults(),
		logg:    logg,
		metrics: m,
		now:     time.Now,
	}, nil
}

// ResolveAll quotes every group concurrently and returns them in input order.
// An address rejection for any group cancels the remaining quotes.
func (r *Resolver) ResolveAll(ctx context.Context, groups []types.ShippingGroup) ([]types.ShippingGroup, error) {
	resolved := make([]types.ShippingGroup, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i, group := range groups {
		g.Go(func() error {
			out, err := r.Resolve(gctx, group)
			if err != nil {
				return err
			}
			resolved[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Resolve quotes a single group, retrying transient failures and falling back
// to the flat rate when the carrier cannot produce options.
func (r *Resolver) Resolve(ctx context.Context, group types.ShippingGroup) (types.ShippingGroup, error) {
	ctx = r.logg.WithField(ctx, "group_id", group.ID)
	req := carrier.NewRateRequest(group, r.cfg.Currency)

	var options []types.RateOption
	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.QuoteTimeout)
		defer cancel()

		start := time.Now()
		quoted, err := r.quoter.Quote(attemptCtx, req)
		if err == nil {
			r.metrics.ObserveQuote("success", time.Since(start))
			options = quoted
			return nil
		}
		if ctx.Err() == nil && carrier.IsRetryable(err) {
			r.metrics.ObserveQuote("retryable_error", time.Since(start))
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			}), "carrier quote failed, retrying")
			return retry.RetryableError(err)
		}
		r.metrics.ObserveQuote("error", time.Since(start))
		return err
	})

	switch {
	case err == nil && len(options) > 0:
		group.RateOptions = options
		group.RatesEstimated = false
		return group, nil
	case err == nil:
		return r.fallback(ctx, group, fallbackNoOptions, nil), nil
	case ctx.Err() != nil:
		return group, ctx.Err()
	case errors.Is(err, carrier.ErrAddressRejected):
		r.logg.Warn(ctx, "carrier rejected destination address")
		return group, pkgerrors.Wrap(pkgerrors.CodeUnshippableAddress, err, "carrier cannot ship to this address").
			WithDetails(map[string]any{"group_id": group.ID})
	case carrier.IsRetryable(err):
		return r.fallback(ctx, group, fallbackRetriesExhausted, err), nil
	default:
		return r.fallback(ctx, group, fallbackProviderError, err), nil
	}
}

func (r *Resolver) backoff() retry.Backoff {
	b := retry.NewExponential(r.cfg.BackoffBase)
	b = retry.WithCappedDuration(r.cfg.BackoffCap, b)
	return retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), b)
}

func (r *Resolver) fallback(ctx context.Context, group types.ShippingGroup, reason string, cause error) types.ShippingGroup {
	r.metrics.IncRateFallback(reason)
	fields := map[string]any{"reason": reason}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	r.logg.Warn(r.logg.WithFields(ctx, fields), "using flat-rate shipping estimate")

	group.RateOptions = []types.RateOption{r.flatRate()}
	group.RatesEstimated = true
	group.Warnings = append(group.Warnings, types.Warning{
		Code:    pkgerrors.CodeRateResolutionDegraded,
		Message: fmt.Sprintf("live rates unavailable for %s, showing an estimated flat rate", group.ID),
	})
	return group
}

func (r *Resolver) flatRate() types.RateOption {
	eta := types.DateOf(r.now()).AddDate(0, 0, r.cfg.FlatRateTransitDays)
	return types.RateOption{
		ID:                FlatRateOptionID,
		Label:             r.cfg.FlatRateLabel,
		Carrier:           flatRateCarrier,
		Price:             r.cfg.FlatRatePrice,
		Currency:          r.cfg.Currency,
		EstimatedDelivery: eta,
		Estimated:         true,
	}
}
