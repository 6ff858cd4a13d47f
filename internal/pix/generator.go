// Package pix requests local-currency deposit instructions for a locked quote.
package pix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/kyc"
	"tuition-payflow/internal/session"
)

// FailureMessage is shown when the backend gives no message of its own.
const FailureMessage = "Failed to generate PIX payment. Please try again."

var (
	// ErrInvalidSender reports missing or malformed sender details. No request is sent.
	ErrInvalidSender = errors.New("invalid sender")
	// ErrNoQuote reports a generation attempt without a locked quote.
	ErrNoQuote = errors.New("no locked quote")
)

// Request carries everything needed to create a deposit instruction.
type Request struct {
	Quote       *domain.Quote
	SenderName  string
	SenderTaxID string
	// Identity is used to create the customer when none is stored yet.
	Identity domain.Identity
}

// Generator creates PIX deposit instructions.
type Generator struct {
	api    backend.API
	logger zerolog.Logger
}

// NewGenerator builds a Generator.
func NewGenerator(api backend.API, logger zerolog.Logger) *Generator {
	return &Generator{api: api, logger: logger.With().Str("component", "pix_generator").Logger()}
}

// Generate validates the sender, resolves the customer and wallet, and requests the
// deposit instruction priced at the quote's local total.
func (g *Generator) Generate(ctx context.Context, req Request, ids session.Identifiers) (domain.PixPayment, error) {
	taxID, err := kyc.ValidateSender(req.SenderName, req.SenderTaxID)
	if err != nil {
		return domain.PixPayment{}, fmt.Errorf("%w: %w", ErrInvalidSender, err)
	}
	if req.Quote == nil || !req.Quote.TotalLocalAmount.IsPositive() {
		return domain.PixPayment{}, ErrNoQuote
	}

	customerID, wallet, err := g.resolveCustomer(ctx, req.Identity, ids)
	if err != nil {
		return domain.PixPayment{}, err
	}

	quoteID := req.Quote.Onramp.QuoteID
	if stored, _, err := ids.QuoteLocks(ctx); err == nil && stored != "" {
		quoteID = stored
	}

	payment, err := g.api.CreatePixPayment(ctx, backend.PixRequest{
		Amount:        req.Quote.TotalLocalAmount,
		CustomerID:    customerID,
		WalletAddress: wallet,
		QuoteID:       quoteID,
		SenderName:    strings.TrimSpace(req.SenderName),
		SenderTaxID:   taxID,
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("customer_id", customerID).Msg("pix payment request failed")
		return domain.PixPayment{}, fmt.Errorf("create pix payment: %w", err)
	}

	payment.ResolvedAddress = ResolveDepositAddress(payment)
	if payment.ResolvedAddress == "" {
		return domain.PixPayment{}, errors.New("pix payment response carries no deposit address")
	}

	g.logger.Info().
		Str("customer_id", customerID).
		Str("transaction_id", payment.TrackingID()).
		Str("amount_local", req.Quote.TotalLocalAmount.String()).
		Msg("pix payment created")
	return payment, nil
}

// resolveCustomer prefers stored ids, then looks up the wallet for a stored customer,
// then creates a customer. Resolved ids are written back.
func (g *Generator) resolveCustomer(ctx context.Context, identity domain.Identity, ids session.Identifiers) (string, string, error) {
	customerID, err := ids.CustomerID(ctx)
	if err != nil {
		return "", "", err
	}
	wallet, walletID, err := ids.Wallet(ctx)
	if err != nil {
		return "", "", err
	}

	switch {
	case customerID != "" && wallet != "":
	case customerID != "":
		info, err := g.api.Wallet(ctx, customerID)
		if err != nil {
			return "", "", fmt.Errorf("lookup wallet: %w", err)
		}
		wallet, walletID = info.WalletAddress, info.WalletID
	default:
		resp, err := g.api.CreateCustomer(ctx, backend.CustomerFromIdentity(identity))
		if err != nil {
			return "", "", fmt.Errorf("create customer: %w", err)
		}
		if resp.NeedsConfirmation() {
			g.logger.Info().Str("existing_customer_id", resp.ExistingCustomerID).Msg("reusing existing customer")
			reuse := backend.CustomerFromIdentity(identity)
			reuse.UseExistingCustomer = true
			reuse.ExistingCustomerID = resp.ExistingCustomerID
			if resp, err = g.api.CreateCustomer(ctx, reuse); err != nil {
				return "", "", fmt.Errorf("reuse customer: %w", err)
			}
		}
		customerID, wallet, walletID = resp.CustomerID, resp.WalletAddress, resp.WalletID
	}

	wallet = NormalizeWallet(wallet)
	if err := ids.SaveCustomer(ctx, customerID, wallet, walletID); err != nil {
		return "", "", fmt.Errorf("store customer: %w", err)
	}
	return customerID, wallet, nil
}

// NormalizeWallet checksums an EVM address. Any other value, including an empty one, is
// passed through trimmed for the backend to judge.
func NormalizeWallet(addr string) string {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

type addressSource func(domain.PixPayment) string

// depositAddressSources is ordered by precedence.
var depositAddressSources = []addressSource{
	func(p domain.PixPayment) string { return p.DepositAddress },
	func(p domain.PixPayment) string {
		if d := p.Transaction.SenderDepositInstructions; d != nil {
			return d.DepositAddress
		}
		return ""
	},
	func(p domain.PixPayment) string {
		if d := p.Transaction.Sender; d != nil {
			return d.DepositAddress
		}
		return ""
	},
	func(p domain.PixPayment) string {
		if pi := p.Transaction.PaymentInstructions; pi != nil {
			return pi.PixCode
		}
		return ""
	},
	func(p domain.PixPayment) string {
		if pi := p.Transaction.PaymentInstructions; pi != nil {
			return pi.DepositAddress
		}
		return ""
	},
	func(p domain.PixPayment) string { return p.Transaction.PixCode },
	func(p domain.PixPayment) string { return p.Transaction.DepositAddress },
	func(p domain.PixPayment) string { return p.TransactionID },
	func(p domain.PixPayment) string { return p.Transaction.ID },
}

// ResolveDepositAddress returns the first populated address-bearing field.
func ResolveDepositAddress(p domain.PixPayment) string {
	for _, source := range depositAddressSources {
		if v := strings.TrimSpace(source(p)); v != "" {
			return v
		}
	}
	return ""
}
