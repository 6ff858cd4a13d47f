package pix

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/backend/mock"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/session"
	"tuition-payflow/internal/storage"
)

func newIDs() *session.KVStore {
	return session.NewKVStore(storage.NewNamespace(storage.NewMemory(), "s"), session.Options{}, zerolog.Nop())
}

func lockedQuote() *domain.Quote {
	return &domain.Quote{
		AmountUSD:        decimal.NewFromInt(1000),
		TotalLocalAmount: decimal.NewFromInt(5420),
		Onramp:           domain.QuoteLeg{QuoteID: "on-9"},
		Offramp:          domain.QuoteLeg{QuoteID: "off-9"},
	}
}

func TestGenerateUsesQuoteTotalAndStoredCustomer(t *testing.T) {
	ctx := context.Background()
	api := mock.New()
	ids := newIDs()
	require.NoError(t, ids.SaveCustomer(ctx, "cus_1", mock.DefaultWallet, "wal_1"))
	require.NoError(t, ids.SaveQuoteLocks(ctx, "on-9", "off-9"))

	p, err := NewGenerator(api, zerolog.Nop()).Generate(ctx, Request{
		Quote:       lockedQuote(),
		SenderName:  "Ana Silva",
		SenderTaxID: "123.456.789-00",
	}, ids)
	require.NoError(t, err)

	require.Len(t, api.PixRequests, 1)
	sent := api.PixRequests[0]
	assert.True(t, sent.Amount.Equal(decimal.NewFromInt(5420)))
	assert.Equal(t, "on-9", sent.QuoteID)
	assert.Equal(t, "cus_1", sent.CustomerID)
	assert.Equal(t, "12345678900", sent.SenderTaxID)
	assert.Equal(t, "00020126pix-copy-paste", p.ResolvedAddress)
	assert.Equal(t, "tx_1", p.TrackingID())

	_, customers, _ := api.Counts()
	assert.Zero(t, customers)
	assert.Empty(t, api.WalletRequests)
}

func TestGenerateLooksUpWalletForStoredCustomer(t *testing.T) {
	ctx := context.Background()
	api := mock.New()
	ids := newIDs()
	require.NoError(t, ids.SaveCustomer(ctx, "cus_7", "", ""))

	_, err := NewGenerator(api, zerolog.Nop()).Generate(ctx, Request{Quote: lockedQuote(), SenderName: "Ana", SenderTaxID: "12345678900"}, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"cus_7"}, api.WalletRequests)

	addr, walletID, err := ids.Wallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultWallet, addr)
	assert.Equal(t, "wal_1", walletID)
}

func TestGenerateCreatesCustomerWhenNoneStored(t *testing.T) {
	ctx := context.Background()
	api := mock.New()
	ids := newIDs()

	_, err := NewGenerator(api, zerolog.Nop()).Generate(ctx, Request{
		Quote: lockedQuote(), SenderName: "Ana", SenderTaxID: "12345678900",
		Identity: domain.Identity{FirstName: "Ana", Country: "BR"},
	}, ids)
	require.NoError(t, err)

	require.Len(t, api.CustomerRequests, 1)
	id, err := ids.CustomerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestGenerateRejectsShortTaxIDWithoutNetwork(t *testing.T) {
	api := mock.New()

	_, err := NewGenerator(api, zerolog.Nop()).Generate(context.Background(), Request{
		Quote: lockedQuote(), SenderName: "Ana", SenderTaxID: "1234567890",
	}, newIDs())
	require.ErrorIs(t, err, ErrInvalidSender)

	quotes, customers, pix := api.Counts()
	assert.Zero(t, quotes+customers+pix)
}

func TestGenerateSurfacesBackendError(t *testing.T) {
	ctx := context.Background()
	api := mock.New()
	api.PixFunc = func(backend.PixRequest) (domain.PixPayment, error) {
		return domain.PixPayment{}, &backend.APIError{Status: 502, Message: "processor offline"}
	}
	ids := newIDs()
	require.NoError(t, ids.SaveCustomer(ctx, "cus_1", mock.DefaultWallet, ""))

	_, err := NewGenerator(api, zerolog.Nop()).Generate(ctx, Request{Quote: lockedQuote(), SenderName: "Ana", SenderTaxID: "12345678900"}, ids)
	require.Error(t, err)
	assert.Equal(t, "processor offline", backend.UserMessage(err, FailureMessage))
}

func TestNormalizeWallet(t *testing.T) {
	assert.Equal(t, mock.DefaultWallet, NormalizeWallet(" 0x52908400098527886e0f7030069857d2e4169ee7 "))
	assert.Equal(t, "bc1qwallet", NormalizeWallet(" bc1qwallet"))
	assert.Empty(t, NormalizeWallet(""))
}

func TestNonEVMWalletDoesNotBlockPix(t *testing.T) {
	api := mock.New()
	api.CreateCustomerFunc = func(backend.CustomerRequest) (backend.CustomerResponse, error) {
		return backend.CustomerResponse{CustomerID: "cus_9"}, nil
	}
	payment, err := NewGenerator(api, zerolog.Nop()).Generate(context.Background(), Request{
		Quote:       lockedQuote(),
		SenderName:  "Ana Silva",
		SenderTaxID: "123.456.789-00",
	}, newIDs())
	require.NoError(t, err)
	assert.NotEmpty(t, payment.ResolvedAddress)
	require.Len(t, api.PixRequests, 1)
	assert.Empty(t, api.PixRequests[0].WalletAddress)
	assert.Equal(t, "cus_9", api.PixRequests[0].CustomerID)
}

func TestResolveDepositAddressPrecedence(t *testing.T) {
	p := domain.PixPayment{
		TransactionID: "tx_outer",
		Transaction: domain.PixTransaction{
			ID:                  "tx_inner",
			DepositAddress:      "tx-deposit",
			PixCode:             "tx-pix",
			PaymentInstructions: &domain.PaymentInstructions{PixCode: "instr-pix", DepositAddress: "instr-deposit"},
			Sender:              &domain.DepositInstructions{DepositAddress: "sender-deposit"},
		},
	}
	assert.Equal(t, "sender-deposit", ResolveDepositAddress(p))

	p.Transaction.Sender = nil
	assert.Equal(t, "instr-pix", ResolveDepositAddress(p))

	p.Transaction.PaymentInstructions.PixCode = ""
	assert.Equal(t, "instr-deposit", ResolveDepositAddress(p))

	p.Transaction.PaymentInstructions = nil
	assert.Equal(t, "tx-pix", ResolveDepositAddress(p))

	p.Transaction.PixCode = ""
	assert.Equal(t, "tx-deposit", ResolveDepositAddress(p))

	p.Transaction.DepositAddress = ""
	assert.Equal(t, "tx_outer", ResolveDepositAddress(p))

	p.TransactionID = ""
	assert.Equal(t, "tx_inner", ResolveDepositAddress(p))

	p.DepositAddress = "dedicated"
	assert.Equal(t, "dedicated", ResolveDepositAddress(p))
}

func TestQRCode(t *testing.T) {
	png, err := QRCode("00020126pix-copy-paste")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, err = QRCode("")
	assert.Error(t, err)
}
