// Package mock provides an in-memory backend.API for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
)

// Backend is a scriptable backend.API. Zero-valued hooks fall back to deterministic defaults.
type Backend struct {
	mu sync.Mutex

	// Rate is the effective local-per-USD rate used by the default quote; fees are zero.
	Rate decimal.Decimal

	QuoteFunc             func(symbol string, amountUSD decimal.Decimal) (domain.Quote, error)
	ExchangeRateFunc      func(symbol string) (decimal.Decimal, error)
	CreateCustomerFunc    func(req backend.CustomerRequest) (backend.CustomerResponse, error)
	WalletFunc            func(customerID string) (backend.WalletInfo, error)
	ExternalAccountFunc   func(req backend.ExternalAccountRequest) (string, error)
	PixFunc               func(req backend.PixRequest) (domain.PixPayment, error)
	WebhookStatusFunc     func(txID string) (domain.WebhookStatus, error)
	TransactionStatusFunc func(txID string) (domain.TransactionStatus, error)

	QuoteRequests    []decimal.Decimal
	CustomerRequests []backend.CustomerRequest
	WalletRequests   []string
	AccountRequests  []backend.ExternalAccountRequest
	PixRequests      []backend.PixRequest
	StatusRequests   int
}

// New returns a Backend quoting at 5.42.
func New() *Backend {
	return &Backend{Rate: decimal.RequireFromString("5.42")}
}

// DefaultWallet is the wallet address handed out by the default customer hook.
const DefaultWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

func (b *Backend) Quote(ctx context.Context, symbol string, amountUSD decimal.Decimal) (domain.Quote, error) {
	b.mu.Lock()
	b.QuoteRequests = append(b.QuoteRequests, amountUSD)
	n := len(b.QuoteRequests)
	fn := b.QuoteFunc
	rate := b.Rate
	b.mu.Unlock()

	if fn != nil {
		return fn(symbol, amountUSD)
	}
	exp := time.Now().Add(5 * time.Minute).Unix()
	return domain.Quote{
		Symbol:           symbol,
		Onramp:           domain.QuoteLeg{Rate: rate, QuoteID: fmt.Sprintf("on-%d", n), ExpiresAt: exp},
		Offramp:          domain.QuoteLeg{Rate: decimal.NewFromInt(1), QuoteID: fmt.Sprintf("off-%d", n), ExpiresAt: exp},
		AmountUSD:        amountUSD,
		TotalLocalAmount: amountUSD.Mul(rate).Round(2),
		EffectiveRate:    rate,
		ExpiresAt:        exp,
	}, nil
}

func (b *Backend) ExchangeRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	fn := b.ExchangeRateFunc
	rate := b.Rate
	b.mu.Unlock()
	if fn != nil {
		return fn(symbol)
	}
	return rate, nil
}

func (b *Backend) CreateCustomer(ctx context.Context, req backend.CustomerRequest) (backend.CustomerResponse, error) {
	b.mu.Lock()
	b.CustomerRequests = append(b.CustomerRequests, req)
	fn := b.CreateCustomerFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	id := "cus_new"
	if req.UseExistingCustomer {
		id = req.ExistingCustomerID
	}
	return backend.CustomerResponse{CustomerID: id, WalletID: "wal_1", WalletAddress: DefaultWallet}, nil
}

func (b *Backend) Wallet(ctx context.Context, customerID string) (backend.WalletInfo, error) {
	b.mu.Lock()
	b.WalletRequests = append(b.WalletRequests, customerID)
	fn := b.WalletFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(customerID)
	}
	return backend.WalletInfo{CustomerID: customerID, WalletID: "wal_1", WalletAddress: DefaultWallet}, nil
}

func (b *Backend) CreateExternalAccount(ctx context.Context, req backend.ExternalAccountRequest) (string, error) {
	b.mu.Lock()
	b.AccountRequests = append(b.AccountRequests, req)
	fn := b.ExternalAccountFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return "ea_1", nil
}

func (b *Backend) CreatePixPayment(ctx context.Context, req backend.PixRequest) (domain.PixPayment, error) {
	b.mu.Lock()
	b.PixRequests = append(b.PixRequests, req)
	fn := b.PixFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return domain.PixPayment{
		Success:       true,
		TransactionID: "tx_1",
		Status:        "awaiting_deposit",
		AmountLocal:   req.Amount,
		WalletAddress: req.WalletAddress,
		Transaction: domain.PixTransaction{
			ID:                        "tx_1",
			SenderDepositInstructions: &domain.DepositInstructions{DepositAddress: "00020126pix-copy-paste"},
		},
	}, nil
}

func (b *Backend) WebhookStatus(ctx context.Context, txID string) (domain.WebhookStatus, error) {
	b.mu.Lock()
	b.StatusRequests++
	fn := b.WebhookStatusFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(txID)
	}
	return domain.WebhookStatus{}, nil
}

func (b *Backend) TransactionStatus(ctx context.Context, txID string) (domain.TransactionStatus, error) {
	b.mu.Lock()
	fn := b.TransactionStatusFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(txID)
	}
	return domain.TransactionStatus{ResourceID: txID, Status: domain.StateAwaitingDeposit}, nil
}

// Counts returns the number of quote, customer and pix requests seen so far.
func (b *Backend) Counts() (quotes, customers, pix int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.QuoteRequests), len(b.CustomerRequests), len(b.PixRequests)
}

var _ backend.API = (*Backend)(nil)
