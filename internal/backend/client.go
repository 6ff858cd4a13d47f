package backend

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

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuition-payflow/internal/domain"
)

const (
	quotePath             = "/quote"
	exchangeRatePath      = "/exchange-rate/"
	customerPath          = "/customer"
	walletPath            = "/wallet/"
	externalAccountPath   = "/external-account"
	pixPaymentPath        = "/pix-payment"
	webhookStatusPath     = "/webhook-status/"
	transactionStatusPath = "/transaction-status/"
)

// Options parameterise the backend client.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client calls the external payment/KYC backend over JSON/HTTP.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a backend client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "backend_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Quote locks a rate for amountUSD.
func (c *Client) Quote(ctx context.Context, symbol string, amountUSD decimal.Decimal) (domain.Quote, error) {
	payload := map[string]any{
		"symbol":     symbol,
		"amount_usd": amountUSD.InexactFloat64(),
	}

	var res quoteResponse
	if err := c.do(ctx, http.MethodPost, quotePath, payload, &res); err != nil {
		return domain.Quote{}, err
	}
	return res.normalize(symbol, amountUSD), nil
}

// ExchangeRate fetches an indicative local-per-USD rate.
func (c *Client) ExchangeRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var res struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := c.do(ctx, http.MethodGet, exchangeRatePath+url.PathEscape(symbol), nil, &res); err != nil {
		return decimal.Decimal{}, err
	}
	if !res.Rate.IsPositive() {
		return decimal.Decimal{}, errors.New("exchange rate returned non-positive value")
	}
	return res.Rate, nil
}

// CreateCustomer registers (or reuses) a customer.
func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (CustomerResponse, error) {
	var res CustomerResponse
	if err := c.do(ctx, http.MethodPost, customerPath, req, &res); err != nil {
		return CustomerResponse{}, err
	}
	if res.CustomerID == "" && !res.NeedsConfirmation() {
		return CustomerResponse{}, errors.New("customer response missing customer_id")
	}
	return res, nil
}

// Wallet fetches wallet details for an existing customer.
func (c *Client) Wallet(ctx context.Context, customerID string) (WalletInfo, error) {
	var res WalletInfo
	if err := c.do(ctx, http.MethodGet, walletPath+url.PathEscape(customerID), nil, &res); err != nil {
		return WalletInfo{}, err
	}
	if res.CustomerID == "" {
		res.CustomerID = customerID
	}
	return res, nil
}

// CreateExternalAccount registers the destination bank account and returns its id.
func (c *Client) CreateExternalAccount(ctx context.Context, req ExternalAccountRequest) (string, error) {
	var res struct {
		ExternalAccountID string `json:"external_account_id"`
	}
	if err := c.do(ctx, http.MethodPost, externalAccountPath, req, &res); err != nil {
		return "", err
	}
	if res.ExternalAccountID == "" {
		return "", errors.New("external account response missing external_account_id")
	}
	return res.ExternalAccountID, nil
}

// CreatePixPayment requests a PIX deposit instruction.
func (c *Client) CreatePixPayment(ctx context.Context, req PixRequest) (domain.PixPayment, error) {
	var res domain.PixPayment
	if err := c.do(ctx, http.MethodPost, pixPaymentPath, req, &res); err != nil {
		return domain.PixPayment{}, err
	}
	if !res.Success {
		return domain.PixPayment{}, &APIError{Status: http.StatusOK, Message: "pix payment was not created"}
	}
	return res, nil
}

// WebhookStatus reads the webhook mirror for a transaction.
func (c *Client) WebhookStatus(ctx context.Context, transactionID string) (domain.WebhookStatus, error) {
	var res domain.WebhookStatus
	err := c.do(ctx, http.MethodGet, webhookStatusPath+url.PathEscape(transactionID), nil, &res)
	return res, err
}

// TransactionStatus reads the dashboard status of a transaction.
func (c *Client) TransactionStatus(ctx context.Context, transactionID string) (domain.TransactionStatus, error) {
	var res domain.TransactionStatus
	if err := c.do(ctx, http.MethodGet, transactionStatusPath+url.PathEscape(transactionID), nil, &res); err != nil {
		return domain.TransactionStatus{}, err
	}
	if res.ResourceID == "" {
		res.ResourceID = transactionID
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "payflow/1.0")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("backend request failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	c.logger.Debug().Str("method", method).Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp.StatusCode, payloadBytes)
	}

	if out == nil || len(payloadBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type legResponse struct {
	Rate      decimal.Decimal `json:"rate"`
	FlatFee   decimal.Decimal `json:"flat_fee"`
	QuoteID   string          `json:"quote_id"`
	ID        string          `json:"id"`
	ExpiresAt int64           `json:"expires_at"`
}

func (l legResponse) leg() domain.QuoteLeg {
	id := l.QuoteID
	if id == "" {
		id = l.ID
	}
	return domain.QuoteLeg{Rate: l.Rate, FlatFee: l.FlatFee, QuoteID: id, ExpiresAt: l.ExpiresAt}
}

type quoteResponse struct {
	Onramp           legResponse     `json:"onramp"`
	Offramp          legResponse     `json:"offramp"`
	AmountUSD        decimal.Decimal `json:"amount_usd"`
	TotalLocalAmount decimal.Decimal `json:"total_brl_amount"`
	TotalLocalAlt    decimal.Decimal `json:"total_local_amount"`
	TotalFeeUSD      decimal.Decimal `json:"total_fee_usd"`
	EffectiveRate    decimal.Decimal `json:"effective_rate"`
	ExpiresAt        int64           `json:"expires_at"`
	ExpiresAtISO     string          `json:"expires_at_iso"`
}

func (r quoteResponse) normalize(symbol string, requested decimal.Decimal) domain.Quote {
	q := domain.Quote{
		Symbol:           symbol,
		Onramp:           r.Onramp.leg(),
		Offramp:          r.Offramp.leg(),
		AmountUSD:        r.AmountUSD,
		TotalLocalAmount: r.TotalLocalAmount,
		TotalFeeUSD:      r.TotalFeeUSD,
		EffectiveRate:    r.EffectiveRate,
		ExpiresAt:        r.ExpiresAt,
		ExpiresAtISO:     r.ExpiresAtISO,
	}
	if q.AmountUSD.IsZero() {
		q.AmountUSD = requested
	}
	if q.TotalLocalAmount.IsZero() {
		q.TotalLocalAmount = r.TotalLocalAlt
	}
	if q.EffectiveRate.IsZero() && q.AmountUSD.IsPositive() {
		q.EffectiveRate = q.TotalLocalAmount.Div(q.AmountUSD)
	}
	if q.ExpiresAt == 0 {
		q.ExpiresAt = earliest(r.Onramp.ExpiresAt, r.Offramp.ExpiresAt)
	}
	if q.ExpiresAtISO == "" && q.ExpiresAt != 0 {
		q.ExpiresAtISO = time.Unix(q.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}
	return q
}

func earliest(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Error, apiErr.Message, apiErr.Detail} {
			if msg != "" {
				return &APIError{Status: status, Message: msg}
			}
		}
	}
	if len(payload) > 0 && len(payload) < 512 {
		return &APIError{Status: status, Message: strings.TrimSpace(string(payload))}
	}
	return &APIError{Status: status}
}

var _ API = (*Client)(nil)
