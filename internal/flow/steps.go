package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/kyc"
	"tuition-payflow/internal/pix"
	"tuition-payflow/internal/quote"
)

// SubmitIdentity validates step 1 and moves to step 2. Customer creation starts in the
// background and never delays the transition.
func (f *Flow) SubmitIdentity(ctx context.Context, id domain.Identity) error {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != domain.StepIdentity {
		return fmt.Errorf("%w: identity on %s", ErrStepOrder, f.step)
	}
	id = kyc.NormalizeIdentity(id)
	if err := kyc.ValidateIdentity(id); err != nil {
		return err
	}

	f.form.Identity = id
	f.step = domain.StepDeliveryMethod
	f.lastError = ""
	f.startCustomerLocked(backend.CustomerFromIdentity(id))
	f.updateLocked(ctx)

	f.logger.Info().Str("country", id.Country).Msg("identity accepted")
	return nil
}

// startCustomerLocked launches customer creation unless one is stored or already running.
func (f *Flow) startCustomerLocked(req backend.CustomerRequest) {
	if f.customer.inFlight {
		return
	}
	if stored, err := f.store.CustomerID(f.ctx); err == nil && stored != "" {
		f.customer = customerState{id: stored}
		return
	}

	done := make(chan struct{})
	f.customer = customerState{inFlight: true, done: done}
	go func() {
		defer close(done)
		resp, err := f.deps.API.CreateCustomer(f.ctx, req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.recordCustomerLocked(resp, err)
	}()
}

func (f *Flow) recordCustomerLocked(resp backend.CustomerResponse, err error) {
	f.customer.inFlight = false
	f.customer.err = err
	if err != nil {
		f.logger.Warn().Err(err).Msg("customer creation failed")
		return
	}
	if resp.NeedsConfirmation() {
		f.customer.needsConfirmation = true
		f.customer.existingCustomerID = resp.ExistingCustomerID
		f.logger.Info().Str("existing_customer_id", resp.ExistingCustomerID).Msg("existing customer found")
		return
	}
	f.customer.needsConfirmation = false
	f.customer.id = resp.CustomerID
	if err := f.store.SaveCustomer(f.ctx, resp.CustomerID, resp.WalletAddress, resp.WalletID); err != nil {
		f.logger.Error().Err(err).Msg("failed to store customer")
	}
	f.logger.Info().Str("customer_id", resp.CustomerID).Msg("customer ready")
}

// ConfirmExistingCustomer answers the existing-account prompt. Declining sends the
// payer back to step 1 to change their details.
func (f *Flow) ConfirmExistingCustomer(ctx context.Context, useExisting bool) error {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	if !f.customer.needsConfirmation {
		f.mu.Unlock()
		return fmt.Errorf("%w: no pending confirmation", ErrStepOrder)
	}
	existing := f.customer.existingCustomerID
	req := backend.CustomerFromIdentity(f.form.Identity)
	if !useExisting {
		f.customer = customerState{}
		f.step = domain.StepIdentity
		f.lastError = "An account already exists for these details. Update your email to continue."
		f.mu.Unlock()
		return ErrCustomerDeclined
	}
	f.mu.Unlock()

	req.UseExistingCustomer = true
	req.ExistingCustomerID = existing
	resp, err := f.deps.API.CreateCustomer(ctx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCustomerLocked(resp, err)
	if err != nil {
		f.lastError = backend.UserMessage(err, "Failed to link existing account.")
		return fmt.Errorf("confirm existing customer: %w", err)
	}
	return nil
}

// awaitCustomer waits for the in-flight creation, retrying once synchronously when a
// previous attempt failed.
func (f *Flow) awaitCustomer(ctx context.Context) (string, error) {
	f.mu.Lock()
	done := f.customer.done
	inFlight := f.customer.inFlight
	f.mu.Unlock()

	if inFlight && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	c := f.customer
	req := backend.CustomerFromIdentity(f.form.Identity)
	f.mu.Unlock()

	switch {
	case c.needsConfirmation:
		return "", ErrCustomerConfirmation
	case c.id != "":
		return c.id, nil
	}
	if stored, err := f.store.CustomerID(ctx); err == nil && stored != "" {
		return stored, nil
	}

	resp, err := f.deps.API.CreateCustomer(ctx, req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCustomerLocked(resp, err)
	switch {
	case err != nil:
		return "", fmt.Errorf("create customer: %w", err)
	case f.customer.needsConfirmation:
		return "", ErrCustomerConfirmation
	}
	return f.customer.id, nil
}

// SubmitDelivery validates step 2, registers the school's bank account when paying by
// transfer, and moves to step 3. A failed account registration keeps the flow on step 2.
func (f *Flow) SubmitDelivery(ctx context.Context, d domain.Delivery) error {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	step := f.step
	f.mu.Unlock()
	if step != domain.StepDeliveryMethod {
		return fmt.Errorf("%w: delivery on %s", ErrStepOrder, step)
	}
	if err := kyc.ValidateDelivery(d); err != nil {
		return err
	}

	var accountID string
	if d.Method == domain.DeliveryBankTransfer {
		customerID, err := f.awaitCustomer(ctx)
		if err != nil {
			f.setError(backend.UserMessage(err, "Failed to create customer profile."))
			return err
		}
		accountID, err = f.deps.API.CreateExternalAccount(ctx, backend.ExternalAccountRequest{
			CustomerID:        customerID,
			RoutingNumber:     d.Bank.RoutingNumber,
			AccountNumber:     d.Bank.AccountNumber,
			AccountHolderName: d.Bank.AccountHolderName,
			BankName:          d.Bank.BankName,
		})
		if err != nil {
			f.setError(backend.UserMessage(err, "Failed to create bank account."))
			return fmt.Errorf("create external account: %w", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.form.Delivery = d
	f.form.ExternalAccountID = accountID
	f.step = domain.StepAmount
	f.lastError = ""
	f.updateLocked(ctx)
	f.logger.Info().Str("method", d.Method.String()).Str("external_account_id", accountID).Msg("delivery accepted")
	return nil
}

// AmountInput is the step 3 entry. Local selects the local-currency field.
type AmountInput struct {
	Amount string
	Local  bool
}

// RequestQuote locks a rate for the entered amount and moves to step 4. Below-minimum
// amounts raise the minimum notice and keep the flow on step 3.
func (f *Flow) RequestQuote(ctx context.Context, in AmountInput) (domain.Quote, error) {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	step := f.step
	f.mu.Unlock()
	if step != domain.StepAmount && step != domain.StepAuthorization {
		return domain.Quote{}, fmt.Errorf("%w: quote on %s", ErrStepOrder, step)
	}

	amount, err := quote.ParseAmount(in.Amount)
	if err != nil {
		return domain.Quote{}, err
	}
	req := quote.Input{SessionID: f.id}
	if in.Local {
		req.AmountLocal = amount
	} else {
		req.AmountUSD = amount
	}

	q, err := f.deps.Quotes.Request(ctx, req, f.store)
	if err != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		if errors.Is(err, quote.ErrBelowMinimum) {
			f.minimumNotice = true
			return domain.Quote{}, err
		}
		f.lastError = backend.UserMessage(err, quote.FailureMessage)
		return domain.Quote{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopPollingLocked()
	f.quote = &q
	f.form.AmountInput = in.Amount
	f.payment = nil
	f.signature = nil
	f.authorizedAt = nil
	f.agreed = false
	f.processing = false
	f.received = false
	f.offramp = false
	f.offrampID = ""
	f.tracker = newTracker()
	f.minimumNotice = false
	f.expiryNotice = false
	f.lastError = ""
	f.step = domain.StepAuthorization
	f.timer.Start(f.deps.Window)
	f.saveLocked(ctx)
	return q, nil
}

// DismissMinimumNotice closes the minimum-amount notice.
func (f *Flow) DismissMinimumNotice() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minimumNotice = false
}

// Authorize records the payer's signature and moves to step 5. Brazilian payers get
// their PIX instruction immediately; a PIX failure leaves the flow on step 5 with an
// error so it can be retried with GeneratePix.
func (f *Flow) Authorize(ctx context.Context, agreed bool) error {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	if f.step != domain.StepAuthorization || f.quote == nil {
		step := f.step
		f.mu.Unlock()
		return fmt.Errorf("%w: authorize on %s", ErrStepOrder, step)
	}
	if !agreed {
		f.mu.Unlock()
		return ErrNotAuthorized
	}
	if f.timer.Remaining() <= 0 {
		f.expiryNotice = true
		f.mu.Unlock()
		return ErrQuoteExpired
	}
	q := *f.quote
	form := f.form
	f.mu.Unlock()

	onramp, offramp, err := f.store.QuoteLocks(ctx)
	if err != nil || onramp == "" {
		onramp, offramp = q.Onramp.QuoteID, q.Offramp.QuoteID
	}

	now := f.deps.Now().UTC()
	stamp := now.Format(time.RFC3339)
	sig := &domain.Signature{
		ID:               uuid.NewString(),
		SignedAt:         now,
		Name:             form.Identity.FullName(),
		AmountUSD:        q.AmountUSD,
		TotalLocalAmount: q.TotalLocalAmount,
		DeliveryMethod:   form.Delivery.Method,
		OnrampQuoteID:    onramp,
		OfframpQuoteID:   offramp,
	}

	f.mu.Lock()
	f.agreed = true
	f.signature = sig
	f.authorizedAt = &stamp
	f.step = domain.StepSettlement
	f.lastError = ""
	f.timer.Start(f.deps.Window)
	f.saveLocked(ctx)
	brazil := domain.IsBrazil(form.Identity.Country)
	f.mu.Unlock()

	f.logger.Info().Str("signature_id", sig.ID).Str("amount_usd", q.AmountUSD.String()).Msg("payment authorized")

	if !brazil {
		return nil
	}
	_, err = f.generatePix(ctx)
	return err
}

// GeneratePix requests the PIX deposit instruction for the authorized quote.
func (f *Flow) GeneratePix(ctx context.Context) (domain.PixPayment, error) {
	f.op.Lock()
	defer f.op.Unlock()
	return f.generatePix(ctx)
}

func (f *Flow) generatePix(ctx context.Context) (domain.PixPayment, error) {
	f.mu.Lock()
	if f.step != domain.StepSettlement || f.quote == nil {
		step := f.step
		f.mu.Unlock()
		return domain.PixPayment{}, fmt.Errorf("%w: pix on %s", ErrStepOrder, step)
	}
	if f.payment != nil {
		p := *f.payment
		f.mu.Unlock()
		return p, nil
	}
	q := f.quote
	identity := f.form.Identity
	f.mu.Unlock()

	p, err := f.deps.Pix.Generate(ctx, pix.Request{
		Quote:       q,
		SenderName:  identity.FullName(),
		SenderTaxID: identity.NationalID,
		Identity:    identity,
	}, f.store)
	if err != nil {
		msg := backend.UserMessage(err, pix.FailureMessage)
		if errors.Is(err, pix.ErrInvalidSender) {
			msg = err.Error()
		}
		f.setError(msg)
		return domain.PixPayment{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != domain.StepSettlement || f.quote != q {
		f.logger.Warn().Str("transaction_id", p.TrackingID()).Msg("discarding pix payment for superseded quote")
		return domain.PixPayment{}, ErrQuoteExpired
	}
	f.payment = &p
	f.lastError = ""
	f.updateLocked(ctx)
	f.startPollingLocked(p.TrackingID())
	return p, nil
}

// Back returns to an earlier step. Entered data is kept.
func (f *Flow) Back(ctx context.Context, target domain.Step) error {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !target.Valid() || target >= f.step {
		return fmt.Errorf("%w: back to %s from %s", ErrStepOrder, target, f.step)
	}
	f.step = target
	f.minimumNotice = false
	f.lastError = ""
	f.updateLocked(ctx)
	return nil
}

// AcknowledgeExpiry closes the expiry notice and voids the quote. A payer past step 4
// returns to step 4 to request a new quote there. Once funds are moving it only closes
// the notice.
func (f *Flow) AcknowledgeExpiry(ctx context.Context) {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiryNotice = false
	if f.processing || f.received {
		return
	}
	f.stopPollingLocked()
	f.quote = nil
	f.payment = nil
	f.signature = nil
	f.authorizedAt = nil
	f.agreed = false
	f.offramp = false
	f.offrampID = ""
	f.tracker = newTracker()
	f.timer.Stop()
	if f.step > domain.StepAuthorization {
		f.step = domain.StepAuthorization
	}
	f.clearLocked(ctx)
	f.logger.Info().Str("step", f.step.String()).Msg("expired quote discarded")
}

// DismissExpiry closes the expiry notice and leaves everything else untouched, for
// payers who already sent funds. Settlement tracking continues.
func (f *Flow) DismissExpiry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiryNotice = false
}

// Restart discards all in-memory and persisted progress.
func (f *Flow) Restart(ctx context.Context) {
	f.op.Lock()
	defer f.op.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopPollingLocked()
	f.clearLocked(ctx)

	f.step = domain.StepIdentity
	f.form = domain.FormData{}
	f.quote = nil
	f.payment = nil
	f.authorizedAt = nil
	f.agreed = false
	f.signature = nil
	f.processing = false
	f.received = false
	f.offramp = false
	f.offrampID = ""
	f.expiryNotice = false
	f.minimumNotice = false
	f.lastError = ""
	f.notices = nil
	f.timer.Stop()
	f.tracker = newTracker()
	if !f.customer.inFlight {
		f.customer = customerState{}
	}
	f.logger.Info().Msg("flow restarted")
}

func (f *Flow) setError(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastError = msg
}
