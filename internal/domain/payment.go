package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositInstructions is the nested instruction shape some processors return.
type DepositInstructions struct {
	DepositAddress string `json:"deposit_address,omitempty"`
}

// PaymentInstructions carries PIX-specific instructions.
type PaymentInstructions struct {
	PixCode        string `json:"pix_code,omitempty"`
	DepositAddress string `json:"deposit_address,omitempty"`
}

// PixTransaction is the partial view of the processor transaction object. Any of the
// address-bearing fields may be absent.
type PixTransaction struct {
	ID                        string               `json:"id,omitempty"`
	Status                    string               `json:"status,omitempty"`
	DepositAddress            string               `json:"deposit_address,omitempty"`
	PixCode                   string               `json:"pix_code,omitempty"`
	SenderDepositInstructions *DepositInstructions `json:"sender_deposit_instructions,omitempty"`
	Sender                    *DepositInstructions `json:"sender,omitempty"`
	PaymentInstructions       *PaymentInstructions `json:"payment_instructions,omitempty"`
}

// PixPayment is the result of requesting a local deposit instruction.
type PixPayment struct {
	Success        bool            `json:"success"`
	Transaction    PixTransaction  `json:"transaction"`
	TransactionID  string          `json:"transaction_id"`
	Status         string          `json:"status"`
	AmountLocal    decimal.Decimal `json:"amount_brl"`
	WalletAddress  string          `json:"wallet_address"`
	DepositAddress string          `json:"deposit_address,omitempty"`
	// ResolvedAddress is filled locally from the first populated address field.
	ResolvedAddress string `json:"resolved_address,omitempty"`
}

// TrackingID is the identifier used for settlement polling.
func (p PixPayment) TrackingID() string {
	if p.TransactionID != "" {
		return p.TransactionID
	}
	return p.Transaction.ID
}

// WebhookStatus is the polled mirror of processor webhook deliveries.
type WebhookStatus struct {
	PayinProcessing     bool            `json:"payin_processing,omitempty"`
	PayinCompleted      bool            `json:"payin_completed,omitempty"`
	OfframpTransaction  *OfframpSummary `json:"offramp_transaction,omitempty"`
	OfframpCompleted    bool            `json:"offramp_completed,omitempty"`
	LastEventType       string          `json:"last_event_type,omitempty"`
	LastEventReceivedAt string          `json:"last_event_received_at,omitempty"`
}

// OfframpSummary is the off-ramp transaction created after funds arrive.
type OfframpSummary struct {
	ID        string          `json:"id"`
	Status    string          `json:"status,omitempty"`
	AmountUSD decimal.Decimal `json:"amount_usd,omitempty"`
}

// TransactionState enumerates processor resource statuses.
type TransactionState string

const (
	StateAwaitingDeposit TransactionState = "awaiting_deposit"
	StateProcessing      TransactionState = "processing"
	StateCompleted       TransactionState = "completed"
	StateFailed          TransactionState = "failed"
	StateCancelled       TransactionState = "cancelled"
	StateRefunded        TransactionState = "refunded"
	StateError           TransactionState = "error"
)

// Terminal reports whether no further transition is expected.
func (s TransactionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateRefunded, StateError:
		return true
	}
	return false
}

// Known reports whether s belongs to the enumeration.
func (s TransactionState) Known() bool {
	return s == StateAwaitingDeposit || s == StateProcessing || s.Terminal()
}

// TransactionStatus is the dashboard view of a processor resource.
type TransactionStatus struct {
	EventType  string           `json:"event_type"`
	ResourceID string           `json:"resource_id"`
	Status     TransactionState `json:"status"`
	Amount     decimal.Decimal  `json:"amount"`
	Currency   string           `json:"currency"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Signature is the timestamped authorization record captured on step 4.
type Signature struct {
	ID               string          `json:"id"`
	SignedAt         time.Time       `json:"signed_at"`
	Name             string          `json:"name"`
	AmountUSD        decimal.Decimal `json:"amount_usd"`
	TotalLocalAmount decimal.Decimal `json:"total_local_amount"`
	DeliveryMethod   DeliveryMethod  `json:"delivery_method"`
	OnrampQuoteID    string          `json:"onramp_quote_id"`
	OfframpQuoteID   string          `json:"offramp_quote_id"`
}

// PaymentSession is the persisted snapshot of an in-progress payment.
type PaymentSession struct {
	Step              Step        `json:"step"`
	Quote             *Quote      `json:"quote"`
	Pix               *PixPayment `json:"pix_payment"`
	AuthorizedAt      *string     `json:"authorization_timestamp"`
	AuthorizeAgreed   bool        `json:"authorize_agreed"`
	Signature         *Signature  `json:"signature,omitempty"`
	SavedAt           int64       `json:"timestamp"`
	Form              FormData    `json:"form_data"`
	PaymentProcessing bool        `json:"payment_processing"`
	PaymentReceived   bool        `json:"payment_received"`
	OfframpCreated    bool        `json:"offramp_created,omitempty"`
	OfframpCompleted  bool        `json:"offramp_completed,omitempty"`
	OfframpID         string      `json:"offramp_id,omitempty"`
}

// SnapshotTime returns SavedAt as a time.
func (s PaymentSession) SnapshotTime() time.Time {
	return time.UnixMilli(s.SavedAt).UTC()
}
