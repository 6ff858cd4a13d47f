package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuition-payflow/internal/alerting"
	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/backend/mock"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/kyc"
	"tuition-payflow/internal/pix"
	"tuition-payflow/internal/quote"
	"tuition-payflow/internal/session"
	"tuition-payflow/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recorder) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) count(kind alerting.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	api   *mock.Backend
	mem   *storage.Memory
	clock *clock
	notes *recorder
	deps  Deps
}

func newHarness(window time.Duration) *harness {
	h := &harness{
		api:   mock.New(),
		mem:   storage.NewMemory(),
		clock: &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		notes: &recorder{},
	}
	logger := zerolog.Nop()
	h.deps = Deps{
		API:      h.api,
		Quotes:   quote.NewRequester(h.api, h.mem, quote.Options{}, logger),
		Pix:      pix.NewGenerator(h.api, logger),
		Notifier: h.notes,
		Logger:   logger,
		Window:   window,
		Now:      h.clock.Now,
	}
	return h
}

func (h *harness) store(id string) SessionStore {
	return session.NewKVStore(storage.NewNamespace(h.mem, id), session.Options{
		Window: h.deps.Window,
		MaxAge: 10 * time.Minute,
		Now:    h.clock.Now,
	}, zerolog.Nop())
}

func (h *harness) flow(t *testing.T, id string) *Flow {
	f := New(context.Background(), id, h.deps, h.store(id))
	t.Cleanup(f.Close)
	return f
}

func brazilIdentity() domain.Identity {
	return domain.Identity{
		FirstName:  "Ana",
		LastName:   "Silva",
		Email:      "ana@example.com",
		Phone:      "+55 11 98765-4321",
		Country:    "BR",
		NationalID: "123.456.789-00",
		BirthDay:   14,
		BirthMonth: 7,
		BirthYear:  1999,
		Address:    domain.Address{Line1: "Rua A, 10", City: "São Paulo", State: "SP", PostalCode: "01000-000", Country: "BR"},
	}
}

func bankDelivery() domain.Delivery {
	return domain.Delivery{
		Method: domain.DeliveryBankTransfer,
		Bank:   domain.BankAccount{RoutingNumber: "021000021", AccountNumber: "000123456", AccountHolderName: "State University"},
	}
}

// toAuthorization walks a Brazilian payer to step 4 with a 1000 USD quote.
func toAuthorization(t *testing.T, f *Flow) {
	ctx := context.Background()
	require.NoError(t, f.SubmitIdentity(ctx, brazilIdentity()))
	require.NoError(t, f.SubmitDelivery(ctx, bankDelivery()))
	_, err := f.RequestQuote(ctx, AmountInput{Amount: "$1,000.00"})
	require.NoError(t, err)
}

func TestBrazilEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")

	toAuthorization(t, f)
	snap := f.Snapshot()
	require.Equal(t, domain.StepAuthorization, snap.Step)
	assert.Equal(t, 300, snap.RemainingSeconds)
	assert.True(t, snap.Quote.TotalLocalAmount.Equal(snap.Quote.AmountUSD.Mul(snap.Quote.EffectiveRate)))

	require.NoError(t, f.Authorize(ctx, true))
	snap = f.Snapshot()
	assert.Equal(t, domain.StepSettlement, snap.Step)
	require.NotNil(t, snap.Signature)
	assert.Equal(t, "on-1", snap.Signature.OnrampQuoteID)
	assert.Equal(t, "off-1", snap.Signature.OfframpQuoteID)
	assert.Equal(t, domain.DeliveryBankTransfer, snap.Signature.DeliveryMethod)
	require.NotNil(t, snap.AuthorizedAt)

	require.NotNil(t, snap.Pix, "pix is generated automatically for Brazil")
	assert.Equal(t, "00020126pix-copy-paste", snap.Pix.ResolvedAddress)

	require.Len(t, h.api.CustomerRequests, 1)
	assert.Equal(t, "12345678900", h.api.CustomerRequests[0].TaxID)
	require.Len(t, h.api.PixRequests, 1)
	assert.True(t, h.api.PixRequests[0].Amount.Equal(decimal.NewFromInt(5420)))
	assert.Equal(t, "12345678900", h.api.PixRequests[0].SenderTaxID)
	assert.Equal(t, "on-1", h.api.PixRequests[0].QuoteID)
	require.Len(t, h.api.AccountRequests, 1)
	assert.Equal(t, "cus_new", h.api.AccountRequests[0].CustomerID)

	persisted, err := h.store("s1").Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.StepSettlement, persisted.Step)
	require.NotNil(t, persisted.Pix)
	assert.Equal(t, "tx_1", persisted.Pix.TrackingID())
}

func TestShortCPFBlocksIdentity(t *testing.T) {
	h := newHarness(0)
	f := h.flow(t, "s1")

	id := brazilIdentity()
	id.NationalID = "123.456.78"
	err := f.SubmitIdentity(context.Background(), id)

	var verrs kyc.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, domain.StepIdentity, f.Snapshot().Step)
	_, customers, _ := h.api.Counts()
	assert.Zero(t, customers)
}

func TestBelowMinimumStaysOnAmount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	require.NoError(t, f.SubmitIdentity(ctx, brazilIdentity()))
	require.NoError(t, f.SubmitDelivery(ctx, domain.Delivery{Method: domain.DeliveryCheckToSchool}))

	_, err := f.RequestQuote(ctx, AmountInput{Amount: "$10.00"})
	require.ErrorIs(t, err, quote.ErrBelowMinimum)

	snap := f.Snapshot()
	assert.Equal(t, domain.StepAmount, snap.Step)
	assert.True(t, snap.MinimumAmountNotice)
	quotes, _, _ := h.api.Counts()
	assert.Zero(t, quotes)

	f.DismissMinimumNotice()
	assert.False(t, f.Snapshot().MinimumAmountNotice)
}

func TestStepOrderEnforced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")

	assert.ErrorIs(t, f.SubmitDelivery(ctx, bankDelivery()), ErrStepOrder)
	_, err := f.RequestQuote(ctx, AmountInput{Amount: "100"})
	assert.ErrorIs(t, err, ErrStepOrder)
	assert.ErrorIs(t, f.Authorize(ctx, true), ErrStepOrder)
	assert.ErrorIs(t, f.Back(ctx, domain.StepIdentity), ErrStepOrder)
}

func TestAuthorizeRequiresAgreement(t *testing.T) {
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)

	require.ErrorIs(t, f.Authorize(context.Background(), false), ErrNotAuthorized)
	assert.Equal(t, domain.StepAuthorization, f.Snapshot().Step)
}

func TestExternalAccountFailureBlocksDelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	h.api.ExternalAccountFunc = func(backend.ExternalAccountRequest) (string, error) {
		return "", &backend.APIError{Status: 400, Message: "invalid routing number"}
	}
	f := h.flow(t, "s1")
	require.NoError(t, f.SubmitIdentity(ctx, brazilIdentity()))

	require.Error(t, f.SubmitDelivery(ctx, bankDelivery()))
	snap := f.Snapshot()
	assert.Equal(t, domain.StepDeliveryMethod, snap.Step)
	assert.Equal(t, "invalid routing number", snap.Error)
}

func TestBackKeepsData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)

	require.NoError(t, f.Back(ctx, domain.StepIdentity))
	snap := f.Snapshot()
	assert.Equal(t, domain.StepIdentity, snap.Step)
	assert.Equal(t, "12345678900", snap.Form.Identity.NationalID)
	assert.Equal(t, domain.DeliveryBankTransfer, snap.Form.Delivery.Method)
	assert.NotNil(t, snap.Quote)
}

func TestProcessingNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))

	processing := domain.WebhookStatus{PayinProcessing: true}
	f.ApplySettlement(ctx, processing)
	f.ApplySettlement(ctx, processing)

	snap := f.Snapshot()
	assert.True(t, snap.PaymentProcessing)
	assert.True(t, snap.PaymentReceived)
	assert.Equal(t, domain.StepSettlement, snap.Step, "payment receipt never advances the step")
	assert.Len(t, snap.Notices, 1)
	assert.Equal(t, 1, h.notes.count(alerting.KindPaymentProcessing))

	persisted, err := h.store("s1").Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.True(t, persisted.PaymentProcessing)
}

func TestSettlementMilestones(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))

	assert.False(t, f.ApplySettlement(ctx, domain.WebhookStatus{PayinCompleted: true, OfframpTransaction: &domain.OfframpSummary{ID: "off_tx"}}))
	snap := f.Snapshot()
	assert.False(t, snap.PaymentProcessing)
	assert.True(t, snap.PaymentReceived)
	assert.True(t, snap.OfframpProcessing)
	assert.Equal(t, "off_tx", snap.OfframpID)

	assert.True(t, f.ApplySettlement(ctx, domain.WebhookStatus{PayinCompleted: true, OfframpCompleted: true}))
	assert.False(t, f.Snapshot().OfframpProcessing)
	assert.Equal(t, 1, h.notes.count(alerting.KindOfframpCreated))
	assert.Equal(t, 1, h.notes.count(alerting.KindOfframpCompleted))
}

func TestExpiryOnSettlementWaitsForAcknowledgement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3 * time.Second)
	h.api.PixFunc = func(backend.PixRequest) (domain.PixPayment, error) {
		return domain.PixPayment{}, backend.ErrUnavailable
	}
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	require.Error(t, f.Authorize(ctx, true), "pix failure is reported")
	require.Equal(t, domain.StepSettlement, f.Snapshot().Step)
	assert.Equal(t, pix.FailureMessage, f.Snapshot().Error)

	for i := 0; i < 3; i++ {
		f.Tick()
	}

	snap := f.Snapshot()
	assert.Equal(t, domain.StepSettlement, snap.Step)
	assert.NotNil(t, snap.Quote)
	assert.True(t, snap.ExpiryNotice)
	assert.Zero(t, snap.RemainingSeconds)
	assert.Equal(t, 1, h.notes.count(alerting.KindQuoteExpired))

	f.Tick()
	assert.Equal(t, 1, h.notes.count(alerting.KindQuoteExpired), "expiry fires once")

	f.AcknowledgeExpiry(ctx)
	snap = f.Snapshot()
	assert.Equal(t, domain.StepAuthorization, snap.Step)
	assert.Nil(t, snap.Quote)
	assert.Nil(t, snap.Signature)
	assert.False(t, snap.AuthorizeAgreed)
	assert.False(t, snap.ExpiryNotice)

	persisted, err := h.store("s1").Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted)

	_, err = f.RequestQuote(ctx, AmountInput{Amount: "1000"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepAuthorization, f.Snapshot().Step)
}

func TestDismissedExpiryKeepsSettlementTracked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2 * time.Second)
	reg := NewRegistry(ctx, h.deps, h.store, RegistryOptions{TickInterval: time.Hour})
	t.Cleanup(reg.Close)

	f := reg.Get(ctx, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))
	tx := f.TransactionID()
	require.NotEmpty(t, tx)

	f.Tick()
	f.Tick()
	require.True(t, f.Snapshot().ExpiryNotice)
	f.DismissExpiry()

	found, ok := reg.FindByTransaction(tx)
	require.True(t, ok, "transaction still resolves after expiry")
	require.Same(t, f, found)
	found.ApplySettlement(ctx, domain.WebhookStatus{PayinProcessing: true})

	snap := f.Snapshot()
	assert.True(t, snap.PaymentProcessing)
	assert.False(t, snap.ExpiryNotice)
	assert.Equal(t, domain.StepSettlement, snap.Step)
	assert.NotNil(t, snap.Pix)
	assert.Equal(t, 1, h.notes.count(alerting.KindPaymentProcessing))
}

func TestProcessingAfterSettlementExpiryOverridesNotice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2 * time.Second)
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))

	f.Tick()
	f.Tick()
	require.True(t, f.Snapshot().ExpiryNotice)

	f.ApplySettlement(ctx, domain.WebhookStatus{PayinProcessing: true})
	f.AcknowledgeExpiry(ctx)

	snap := f.Snapshot()
	assert.False(t, snap.ExpiryNotice)
	assert.Equal(t, domain.StepSettlement, snap.Step, "moving funds keep the payer on step 5")
	assert.NotNil(t, snap.Pix)
}

func TestProcessingFreezesCountdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3 * time.Second)
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))

	f.Tick()
	f.ApplySettlement(ctx, domain.WebhookStatus{PayinProcessing: true})
	for i := 0; i < 5; i++ {
		f.Tick()
	}

	snap := f.Snapshot()
	assert.Equal(t, domain.StepSettlement, snap.Step)
	assert.True(t, snap.CountdownFrozen)
	assert.Zero(t, snap.RemainingSeconds)
	assert.False(t, snap.ExpiryNotice)
	assert.Zero(t, h.notes.count(alerting.KindQuoteExpired))
}

func TestProcessingOverridesExpiryNotice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2 * time.Second)
	f := h.flow(t, "s1")
	toAuthorization(t, f)

	f.Tick()
	f.Tick()
	require.True(t, f.Snapshot().ExpiryNotice)
	require.ErrorIs(t, f.Authorize(ctx, true), ErrQuoteExpired)

	f.ApplySettlement(ctx, domain.WebhookStatus{PayinProcessing: true})
	assert.False(t, f.Snapshot().ExpiryNotice)
}

func TestAcknowledgeExpiryClearsQuote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(time.Second)
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	f.Tick()

	f.AcknowledgeExpiry(ctx)
	snap := f.Snapshot()
	assert.Equal(t, domain.StepAuthorization, snap.Step)
	assert.False(t, snap.ExpiryNotice)
	assert.Nil(t, snap.Quote)
	require.ErrorIs(t, f.Authorize(ctx, true), ErrStepOrder, "a new quote is required")

	_, err := f.RequestQuote(ctx, AmountInput{Amount: "500"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepAuthorization, f.Snapshot().Step)
	assert.NotNil(t, f.Snapshot().Quote)
}

func TestLocalAmountQuote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	require.NoError(t, f.SubmitIdentity(ctx, brazilIdentity()))
	require.NoError(t, f.SubmitDelivery(ctx, domain.Delivery{Method: domain.DeliveryCheckToSchool}))

	q, err := f.RequestQuote(ctx, AmountInput{Amount: "5,420.00", Local: true})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", q.AmountUSD.StringFixed(2))
}

func TestExistingCustomerConfirmation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	h.api.CreateCustomerFunc = func(req backend.CustomerRequest) (backend.CustomerResponse, error) {
		if req.UseExistingCustomer {
			return backend.CustomerResponse{CustomerID: req.ExistingCustomerID, WalletAddress: mock.DefaultWallet}, nil
		}
		return backend.CustomerResponse{ExistingCustomer: true, ExistingCustomerID: "cus_old"}, nil
	}
	f := h.flow(t, "s1")
	require.NoError(t, f.SubmitIdentity(ctx, brazilIdentity()))

	require.ErrorIs(t, f.SubmitDelivery(ctx, bankDelivery()), ErrCustomerConfirmation)
	assert.True(t, f.Snapshot().Customer.NeedsConfirmation)

	require.NoError(t, f.ConfirmExistingCustomer(ctx, true))
	require.NoError(t, f.SubmitDelivery(ctx, bankDelivery()))
	assert.Equal(t, "cus_old", h.api.AccountRequests[0].CustomerID)
}

func TestDeclineExistingCustomer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	h.api.CreateCustomerFunc = func(backend.CustomerRequest) (backend.CustomerResponse, error) {
		return backend.CustomerResponse{ExistingCustomer: true, ExistingCustomerID: "cus_old"}, nil
	}
	f := h.flow(t, "s1")
	require.NoError(t, f.SubmitIdentity(ctx, brazilIdentity()))
	require.ErrorIs(t, f.SubmitDelivery(ctx, bankDelivery()), ErrCustomerConfirmation)

	require.ErrorIs(t, f.ConfirmExistingCustomer(ctx, false), ErrCustomerDeclined)
	assert.Equal(t, domain.StepIdentity, f.Snapshot().Step)
}

func TestRestartClearsEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)

	f.Restart(ctx)
	snap := f.Snapshot()
	assert.Equal(t, domain.StepIdentity, snap.Step)
	assert.Nil(t, snap.Quote)
	assert.Empty(t, snap.Form.Identity.FirstName)

	persisted, err := h.store("s1").Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

func TestRegistryRestoresRemaining(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)

	h.clock.Advance(100 * time.Second)
	reg := NewRegistry(ctx, h.deps, h.store, RegistryOptions{TickInterval: time.Hour})
	t.Cleanup(reg.Close)

	restored := reg.Get(ctx, "s1")
	snap := restored.Snapshot()
	assert.Equal(t, domain.StepAuthorization, snap.Step)
	assert.Equal(t, 200, snap.RemainingSeconds)
	assert.Same(t, restored, reg.Get(ctx, "s1"))

	fresh := reg.Get(ctx, "other")
	assert.Equal(t, domain.StepIdentity, fresh.Snapshot().Step)
	assert.Equal(t, 2, reg.Len())
}

func TestRestoreDoesNotRepeatOfframpMilestones(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))

	created := domain.WebhookStatus{PayinCompleted: true, OfframpTransaction: &domain.OfframpSummary{ID: "off_tx"}}
	f.ApplySettlement(ctx, created)
	require.Equal(t, 1, h.notes.count(alerting.KindOfframpCreated))

	reg := NewRegistry(ctx, h.deps, h.store, RegistryOptions{TickInterval: time.Hour})
	t.Cleanup(reg.Close)
	restored := reg.Get(ctx, "s1")
	snap := restored.Snapshot()
	assert.True(t, snap.OfframpProcessing)
	assert.Equal(t, "off_tx", snap.OfframpID)

	restored.ApplySettlement(ctx, created)
	assert.Equal(t, 1, h.notes.count(alerting.KindOfframpCreated))
	assert.Equal(t, 1, h.notes.count(alerting.KindPaymentReceived))

	assert.True(t, restored.ApplySettlement(ctx, domain.WebhookStatus{PayinCompleted: true, OfframpCompleted: true}))
	assert.Equal(t, 1, h.notes.count(alerting.KindOfframpCompleted))

	again := NewRegistry(ctx, h.deps, h.store, RegistryOptions{TickInterval: time.Hour})
	t.Cleanup(again.Close)
	snap = again.Get(ctx, "s1").Snapshot()
	assert.False(t, snap.OfframpProcessing)
	assert.True(t, again.Get(ctx, "s1").ApplySettlement(ctx, domain.WebhookStatus{OfframpCompleted: true}))
	assert.Equal(t, 1, h.notes.count(alerting.KindOfframpCompleted))
}

func TestRegistryDiscardsExpiredSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	f := h.flow(t, "s1")
	toAuthorization(t, f)

	h.clock.Advance(5 * time.Minute)
	reg := NewRegistry(ctx, h.deps, h.store, RegistryOptions{TickInterval: time.Hour})
	t.Cleanup(reg.Close)

	assert.Equal(t, domain.StepIdentity, reg.Get(ctx, "s1").Snapshot().Step)
}

func TestRegistrySweepAndFind(t *testing.T) {
	ctx := context.Background()
	h := newHarness(0)
	reg := NewRegistry(ctx, h.deps, h.store, RegistryOptions{TickInterval: time.Hour, IdleTTL: time.Minute})
	t.Cleanup(reg.Close)

	f := reg.Get(ctx, "s1")
	toAuthorization(t, f)
	require.NoError(t, f.Authorize(ctx, true))

	found, ok := reg.FindByTransaction("tx_1")
	require.True(t, ok)
	assert.Same(t, f, found)

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	_, ok = reg.Lookup("s1")
	assert.False(t, ok)
}
