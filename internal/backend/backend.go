package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tuition-payflow/internal/domain"
)

// ErrUnavailable marks transport failures reaching the backend.
var ErrUnavailable = errors.New("backend unavailable")

// APIError is a non-success response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (%d)", e.Status)
	}
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
}

// CustomerRequest is the KYC payload for POST /customer.
type CustomerRequest struct {
	FirstName           string         `json:"first_name,omitempty"`
	LastName            string         `json:"last_name,omitempty"`
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	Country             string         `json:"country,omitempty"`
	TaxID               string         `json:"tax_id,omitempty"`
	BirthDate           string         `json:"birth_date,omitempty"`
	Address             domain.Address `json:"address"`
	UseExistingCustomer bool           `json:"use_existing_customer,omitempty"`
	ExistingCustomerID  string         `json:"existing_customer_id,omitempty"`
}

// CustomerFromIdentity builds a creation request from step 1 data.
func CustomerFromIdentity(id domain.Identity) CustomerRequest {
	return CustomerRequest{
		FirstName: id.FirstName,
		LastName:  id.LastName,
		Email:     id.Email,
		Phone:     id.Phone,
		Country:   id.Country,
		TaxID:     id.NationalID,
		BirthDate: id.BirthDate(),
		Address:   id.Address,
	}
}

// CustomerResponse is the POST /customer result. When ExistingCustomer is set and
// CustomerID is empty the caller must ask the user before reusing the account.
type CustomerResponse struct {
	CustomerID         string `json:"customer_id"`
	WalletID           string `json:"wallet_id,omitempty"`
	WalletAddress      string `json:"wallet_address,omitempty"`
	ExistingCustomer   bool   `json:"existing_customer,omitempty"`
	ExistingCustomerID string `json:"existing_customer_id,omitempty"`
	Message            string `json:"message,omitempty"`
}

// NeedsConfirmation reports whether an existing account was discovered.
func (r CustomerResponse) NeedsConfirmation() bool {
	return r.ExistingCustomer && r.CustomerID == ""
}

// WalletInfo is returned by GET /wallet/{customerId}.
type WalletInfo struct {
	CustomerID    string `json:"customer_id"`
	WalletID      string `json:"wallet_id"`
	WalletAddress string `json:"wallet_address"`
}

// ExternalAccountRequest is the POST /external-account payload.
type ExternalAccountRequest struct {
	CustomerID        string `json:"customer_id"`
	RoutingNumber     string `json:"routing_number"`
	AccountNumber     string `json:"account_number"`
	AccountHolderName string `json:"account_holder_name"`
	BankName          string `json:"bank_name,omitempty"`
}

// PixRequest is the POST /pix-payment payload.
type PixRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	CustomerID    string          `json:"customer_id"`
	WalletAddress string          `json:"wallet_address"`
	QuoteID       string          `json:"quote_id"`
	SenderName    string          `json:"sender_name"`
	SenderTaxID   string          `json:"sender_tax_id"`
}

// API is the contract this service relies on from the external payment/KYC backend.
type API interface {
	Quote(ctx context.Context, symbol string, amountUSD decimal.Decimal) (domain.Quote, error)
	ExchangeRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	CreateCustomer(ctx context.Context, req CustomerRequest) (CustomerResponse, error)
	Wallet(ctx context.Context, customerID string) (WalletInfo, error)
	CreateExternalAccount(ctx context.Context, req ExternalAccountRequest) (string, error)
	CreatePixPayment(ctx context.Context, req PixRequest) (domain.PixPayment, error)
	WebhookStatus(ctx context.Context, transactionID string) (domain.WebhookStatus, error)
	TransactionStatus(ctx context.Context, transactionID string) (domain.TransactionStatus, error)
}

// UserMessage returns the backend-supplied message for err when there is one, else fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
