package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteLeg is one side of a rate lock.
type QuoteLeg struct {
	Rate      decimal.Decimal `json:"rate"`
	FlatFee   decimal.Decimal `json:"flat_fee"`
	QuoteID   string          `json:"quote_id"`
	ExpiresAt int64           `json:"expires_at"`
}

// Quote is the normalised result of a rate lock request. A new quote always replaces the old one.
type Quote struct {
	Symbol           string          `json:"symbol"`
	Onramp           QuoteLeg        `json:"onramp"`
	Offramp          QuoteLeg        `json:"offramp"`
	AmountUSD        decimal.Decimal `json:"amount_usd"`
	TotalLocalAmount decimal.Decimal `json:"total_local_amount"`
	TotalFeeUSD      decimal.Decimal `json:"total_fee_usd"`
	EffectiveRate    decimal.Decimal `json:"effective_rate"`
	ExpiresAt        int64           `json:"expires_at"`
	ExpiresAtISO     string          `json:"expires_at_iso"`
}

// Expiry returns the overall quote expiry as a time.
func (q Quote) Expiry() time.Time {
	if q.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(q.ExpiresAt, 0).UTC()
}

// Expired reports whether the quote's own expiry has elapsed at now. Quotes without an
// expiry never expire on their own; the countdown governs them.
func (q Quote) Expired(now time.Time) bool {
	exp := q.Expiry()
	return !exp.IsZero() && !now.Before(exp)
}

// QuoteRecord is a quote history row.
type QuoteRecord struct {
	ID               int64
	SessionID        string
	Symbol           string
	AmountUSD        decimal.Decimal
	TotalLocalAmount decimal.Decimal
	TotalFeeUSD      decimal.Decimal
	EffectiveRate    decimal.Decimal
	OnrampQuoteID    string
	OfframpQuoteID   string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// NewQuoteRecord flattens q for quote history.
func NewQuoteRecord(sessionID string, q Quote, at time.Time) QuoteRecord {
	return QuoteRecord{
		SessionID:        sessionID,
		Symbol:           q.Symbol,
		AmountUSD:        q.AmountUSD,
		TotalLocalAmount: q.TotalLocalAmount,
		TotalFeeUSD:      q.TotalFeeUSD,
		EffectiveRate:    q.EffectiveRate,
		OnrampQuoteID:    q.Onramp.QuoteID,
		OfframpQuoteID:   q.Offramp.QuoteID,
		ExpiresAt:        q.Expiry(),
		CreatedAt:        at.UTC(),
	}
}
