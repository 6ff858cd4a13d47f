// Package quote locks FX rates with the payment backend.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/storage"
)

// FailureMessage is shown when the backend gives no message of its own.
const FailureMessage = "Failed to get quote. Please try again."

var (
	// ErrBelowMinimum matches every *MinimumAmountError.
	ErrBelowMinimum = errors.New("amount below minimum")
	// ErrInvalidAmount reports unparseable or non-positive input.
	ErrInvalidAmount = errors.New("invalid amount")
)

// MinimumAmountError carries the computed USD amount that failed the minimum.
type MinimumAmountError struct {
	AmountUSD decimal.Decimal
	Minimum   decimal.Decimal
}

func (e *MinimumAmountError) Error() string {
	return fmt.Sprintf("amount %s USD is below the minimum of %s USD", e.AmountUSD.StringFixed(2), e.Minimum.StringFixed(2))
}

func (e *MinimumAmountError) Is(target error) bool { return target == ErrBelowMinimum }

// LockStore receives the rate-lock ids the authorization step must reference.
type LockStore interface {
	SaveQuoteLocks(ctx context.Context, onramp, offramp string) error
}

// Input is a quote request. Exactly one of AmountUSD or AmountLocal is positive.
type Input struct {
	SessionID   string
	Symbol      string
	AmountUSD   decimal.Decimal
	AmountLocal decimal.Decimal
}

// Options parameterise the requester.
type Options struct {
	Symbol       string
	MinimumUSD   decimal.Decimal
	ProbeUSD     decimal.Decimal
	FallbackRate decimal.Decimal
}

// Requester turns user amounts into locked quotes.
type Requester struct {
	api     backend.API
	history storage.QuoteHistory
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRequester builds a Requester. history may be nil.
func NewRequester(api backend.API, history storage.QuoteHistory, opts Options, logger zerolog.Logger) *Requester {
	if opts.MinimumUSD.IsZero() {
		opts.MinimumUSD = decimal.NewFromInt(16)
	}
	if !opts.ProbeUSD.IsPositive() {
		opts.ProbeUSD = decimal.NewFromInt(100)
	}
	if !opts.FallbackRate.IsPositive() {
		opts.FallbackRate = decimal.RequireFromString("5.42")
	}
	if opts.Symbol == "" {
		opts.Symbol = "BRLUSD"
	}
	return &Requester{
		api:     api,
		history: history,
		opts:    opts,
		logger:  logger.With().Str("component", "quote_requester").Logger(),
		now:     time.Now,
	}
}

// Minimum returns the configured USD floor.
func (r *Requester) Minimum() decimal.Decimal { return r.opts.MinimumUSD }

// Request locks a quote. Below-minimum amounts never reach the real quote call.
func (r *Requester) Request(ctx context.Context, in Input, locks LockStore) (domain.Quote, error) {
	symbol := in.Symbol
	if symbol == "" {
		symbol = r.opts.Symbol
	}

	amountUSD := in.AmountUSD
	switch {
	case in.AmountLocal.IsPositive():
		converted, err := r.convertLocal(ctx, symbol, in.AmountLocal)
		if err != nil {
			return domain.Quote{}, err
		}
		amountUSD = converted
	case !amountUSD.IsPositive():
		return domain.Quote{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}

	amountUSD = amountUSD.Round(2)
	if amountUSD.LessThan(r.opts.MinimumUSD) {
		return domain.Quote{}, &MinimumAmountError{AmountUSD: amountUSD, Minimum: r.opts.MinimumUSD}
	}

	q, err := r.api.Quote(ctx, symbol, amountUSD)
	if err != nil {
		r.logger.Warn().Err(err).Str("amount_usd", amountUSD.String()).Msg("quote request failed")
		return domain.Quote{}, fmt.Errorf("request quote: %w", err)
	}

	r.checkConsistency(q)

	if locks != nil {
		if err := locks.SaveQuoteLocks(ctx, q.Onramp.QuoteID, q.Offramp.QuoteID); err != nil {
			return domain.Quote{}, fmt.Errorf("persist quote locks: %w", err)
		}
	}
	if r.history != nil {
		if err := r.history.AppendQuote(ctx, domain.NewQuoteRecord(in.SessionID, q, r.now())); err != nil {
			r.logger.Error().Err(err).Msg("failed to record quote history")
		}
	}

	r.logger.Info().
		Str("session_id", in.SessionID).
		Str("amount_usd", q.AmountUSD.String()).
		Str("total_local", q.TotalLocalAmount.String()).
		Str("effective_rate", q.EffectiveRate.String()).
		Str("onramp_quote_id", q.Onramp.QuoteID).
		Str("offramp_quote_id", q.Offramp.QuoteID).
		Msg("quote locked")
	return q, nil
}

// convertLocal probes the backend with a fixed USD sample to find the current rate and
// converts the local amount to USD.
func (r *Requester) convertLocal(ctx context.Context, symbol string, local decimal.Decimal) (decimal.Decimal, error) {
	probe, err := r.api.Quote(ctx, symbol, r.opts.ProbeUSD)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("probe quote: %w", err)
	}
	rate := probe.EffectiveRate
	if !rate.IsPositive() && probe.AmountUSD.IsPositive() {
		rate = probe.TotalLocalAmount.Div(probe.AmountUSD)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, errors.New("probe quote returned no usable rate")
	}
	usd := local.Div(rate).Round(2)
	r.logger.Debug().Str("rate", rate.String()).Str("local", local.String()).Str("usd", usd.String()).Msg("converted local amount")
	return usd, nil
}

func (r *Requester) checkConsistency(q domain.Quote) {
	if !q.AmountUSD.IsPositive() || !q.EffectiveRate.IsPositive() {
		return
	}
	expected := q.AmountUSD.Mul(q.EffectiveRate)
	drift := expected.Sub(q.TotalLocalAmount).Abs()
	if drift.GreaterThan(expected.Mul(decimal.RequireFromString("0.01"))) {
		r.logger.Warn().
			Str("expected_local", expected.StringFixed(2)).
			Str("total_local", q.TotalLocalAmount.String()).
			Msg("quote total diverges from effective rate")
	}
}

// DisplayRate returns an indicative rate for display, falling back to the configured
// default when the backend cannot be reached.
func (r *Requester) DisplayRate(ctx context.Context, symbol string) (rate decimal.Decimal, fallback bool) {
	if symbol == "" {
		symbol = r.opts.Symbol
	}
	rate, err := r.api.ExchangeRate(ctx, symbol)
	if err != nil {
		r.logger.Warn().Err(err).Str("fallback", r.opts.FallbackRate.String()).Msg("exchange rate unavailable")
		return r.opts.FallbackRate, true
	}
	return rate, false
}

// ParseAmount accepts user input such as "$1,000.00". Commas are thousands separators.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "US")
	cleaned = strings.TrimPrefix(cleaned, "R")
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return d, nil
}
