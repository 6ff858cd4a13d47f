// Package flow drives one payer through identity, delivery, amount, authorization and
// settlement. A Flow is safe for concurrent use by HTTP handlers, the countdown ticker
// and the settlement poller.
package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuition-payflow/internal/alerting"
	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/countdown"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/logging"
	"tuition-payflow/internal/pix"
	"tuition-payflow/internal/quote"
	"tuition-payflow/internal/session"
	"tuition-payflow/internal/settlement"
)

var (
	// ErrStepOrder rejects an operation that is not valid on the current step.
	ErrStepOrder = errors.New("operation not allowed on current step")
	// ErrQuoteExpired rejects authorization after the countdown ran out.
	ErrQuoteExpired = errors.New("quote expired")
	// ErrNotAuthorized rejects authorization without the agreement checkbox.
	ErrNotAuthorized = errors.New("authorization agreement required")
	// ErrCustomerConfirmation is returned while an existing-account prompt is unanswered.
	ErrCustomerConfirmation = errors.New("existing customer confirmation required")
	// ErrCustomerDeclined is returned when the payer declines to reuse an existing account.
	ErrCustomerDeclined = errors.New("existing customer declined")
)

// maxNotices bounds the notice list kept per flow.
const maxNotices = 20

// SessionStore is the persistence a flow needs: the snapshot plus reusable identifiers.
type SessionStore interface {
	session.Store
	session.Identifiers
	Update(ctx context.Context, s *domain.PaymentSession) error
}

// Deps are the collaborators shared by every flow.
type Deps struct {
	API      backend.API
	Quotes   *quote.Requester
	Pix      *pix.Generator
	Poller   *settlement.Poller
	Notifier alerting.Notifier
	Logger   zerolog.Logger
	Window   time.Duration
	Now      func() time.Time
}

// customerState tracks the asynchronous customer creation started on step 1.
type customerState struct {
	inFlight           bool
	done               chan struct{}
	id                 string
	err                error
	needsConfirmation  bool
	existingCustomerID string
}

// Flow is one payer's wizard.
type Flow struct {
	id     string
	deps   Deps
	store  SessionStore
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// op serialises user operations. Network calls run under op only.
	op sync.Mutex
	// mu guards the fields below.
	mu sync.Mutex

	step          domain.Step
	form          domain.FormData
	quote         *domain.Quote
	payment       *domain.PixPayment
	authorizedAt  *string
	agreed        bool
	signature     *domain.Signature
	savedAt       int64
	processing    bool
	received      bool
	offramp       bool
	offrampID     string
	expiryNotice  bool
	minimumNotice bool
	lastError     string
	notices       []Notice
	noticeSeq     int

	timer    *countdown.Countdown
	tracker  *settlement.Tracker
	customer customerState

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a flow on step 1. Close releases its background work.
func New(parent context.Context, id string, deps Deps, store SessionStore) *Flow {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Window <= 0 {
		deps.Window = countdown.Window
	}
	ctx, cancel := context.WithCancel(parent)
	return &Flow{
		id:      id,
		deps:    deps,
		store:   store,
		logger:  logging.ForSession(deps.Logger.With().Str("component", "flow").Logger(), id),
		ctx:     ctx,
		cancel:  cancel,
		step:    domain.StepIdentity,
		timer:   countdown.New(),
		tracker: settlement.NewTracker(settlement.State{}),
	}
}

// ID returns the session id.
func (f *Flow) ID() string { return f.id }

// Close stops polling and any background work and waits for the poller to exit.
func (f *Flow) Close() {
	f.mu.Lock()
	f.stopPollingLocked()
	done := f.pollDone
	f.mu.Unlock()
	f.cancel()
	if done != nil {
		<-done
	}
}

// Restore loads a persisted snapshot, if one is still valid, and resumes the countdown
// and settlement polling from it.
func (f *Flow) Restore(ctx context.Context) (bool, error) {
	f.op.Lock()
	defer f.op.Unlock()

	snap, err := f.store.Load(ctx)
	if err != nil || snap == nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.step = snap.Step
	if !f.step.Valid() {
		f.step = domain.StepIdentity
	}
	f.form = snap.Form
	f.quote = snap.Quote
	f.payment = snap.Pix
	f.authorizedAt = snap.AuthorizedAt
	f.agreed = snap.AuthorizeAgreed
	f.signature = snap.Signature
	f.savedAt = snap.SavedAt
	f.processing = snap.PaymentProcessing
	f.received = snap.PaymentReceived
	f.offramp = snap.OfframpCreated && !snap.OfframpCompleted
	f.offrampID = snap.OfframpID
	f.tracker = settlement.NewTracker(settlement.State{
		PayinProcessing:  snap.PaymentProcessing || snap.PaymentReceived,
		PayinCompleted:   snap.PaymentReceived && !snap.PaymentProcessing,
		OfframpCreated:   snap.OfframpCreated || snap.OfframpCompleted,
		OfframpCompleted: snap.OfframpCompleted,
		OfframpID:        snap.OfframpID,
	})

	remaining := session.Remaining(snap, f.deps.Window, f.deps.Now())
	f.timer.Start(remaining)
	if f.processing || f.received {
		f.timer.Freeze()
	}
	if f.payment != nil {
		f.startPollingLocked(f.payment.TrackingID())
	}

	f.logger.Info().
		Str("step", f.step.String()).
		Dur("remaining", remaining).
		Bool("payment_received", f.received).
		Msg("session restored")
	return true, nil
}

// Notice is a one-time message for the payer.
type Notice struct {
	ID      int       `json:"id"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// CustomerStatus reports the asynchronous customer creation.
type CustomerStatus struct {
	ID                 string `json:"id,omitempty"`
	Pending            bool   `json:"pending"`
	NeedsConfirmation  bool   `json:"needs_confirmation"`
	ExistingCustomerID string `json:"existing_customer_id,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Snapshot is the read model served to the browser.
type Snapshot struct {
	SessionID           string             `json:"session_id"`
	Step                domain.Step        `json:"step"`
	StepName            string             `json:"step_name"`
	Form                domain.FormData    `json:"form"`
	Quote               *domain.Quote      `json:"quote,omitempty"`
	Pix                 *domain.PixPayment `json:"pix_payment,omitempty"`
	Signature           *domain.Signature  `json:"signature,omitempty"`
	AuthorizedAt        *string            `json:"authorization_timestamp,omitempty"`
	AuthorizeAgreed     bool               `json:"authorize_agreed"`
	RemainingSeconds    int                `json:"remaining_seconds"`
	CountdownFrozen     bool               `json:"countdown_frozen"`
	ExpiryNotice        bool               `json:"expiry_notice"`
	MinimumAmountNotice bool               `json:"minimum_amount_notice"`
	MinimumUSD          decimal.Decimal    `json:"minimum_usd"`
	PaymentProcessing   bool               `json:"payment_processing"`
	PaymentReceived     bool               `json:"payment_received"`
	OfframpProcessing   bool               `json:"offramp_processing"`
	OfframpID           string             `json:"offramp_id,omitempty"`
	Customer            CustomerStatus     `json:"customer"`
	Notices             []Notice           `json:"notices"`
	Error               string             `json:"error,omitempty"`
}

// Snapshot returns a copy of the current state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	remaining := f.timer.Remaining()
	if f.processing || f.received {
		remaining = 0
	}
	s := Snapshot{
		SessionID:           f.id,
		Step:                f.step,
		StepName:            f.step.String(),
		Form:                f.form,
		Quote:               f.quote,
		Pix:                 f.payment,
		Signature:           f.signature,
		AuthorizedAt:        f.authorizedAt,
		AuthorizeAgreed:     f.agreed,
		RemainingSeconds:    remaining,
		CountdownFrozen:     f.timer.Frozen() || f.processing || f.received,
		ExpiryNotice:        f.expiryNotice,
		MinimumAmountNotice: f.minimumNotice,
		PaymentProcessing:   f.processing,
		PaymentReceived:     f.received,
		OfframpProcessing:   f.offramp,
		OfframpID:           f.offrampID,
		Customer: CustomerStatus{
			ID:                 f.customer.id,
			Pending:            f.customer.inFlight,
			NeedsConfirmation:  f.customer.needsConfirmation,
			ExistingCustomerID: f.customer.existingCustomerID,
		},
		Notices: append([]Notice(nil), f.notices...),
		Error:   f.lastError,
	}
	if f.customer.err != nil {
		s.Customer.Error = backend.UserMessage(f.customer.err, "Failed to create customer profile.")
	}
	if f.deps.Quotes != nil {
		s.MinimumUSD = f.deps.Quotes.Minimum()
	}
	return s
}

// TransactionID returns the tracked PIX transaction, or "".
func (f *Flow) TransactionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payment == nil {
		return ""
	}
	return f.payment.TrackingID()
}

func (f *Flow) addNoticeLocked(kind, message string) {
	f.noticeSeq++
	f.notices = append(f.notices, Notice{ID: f.noticeSeq, Kind: kind, Message: message, At: f.deps.Now().UTC()})
	if len(f.notices) > maxNotices {
		f.notices = f.notices[len(f.notices)-maxNotices:]
	}
}

// sessionLocked builds the persisted view of the current state.
func (f *Flow) sessionLocked() *domain.PaymentSession {
	progress := f.tracker.State()
	return &domain.PaymentSession{
		Step:              f.step,
		Quote:             f.quote,
		Pix:               f.payment,
		AuthorizedAt:      f.authorizedAt,
		AuthorizeAgreed:   f.agreed,
		Signature:         f.signature,
		SavedAt:           f.savedAt,
		Form:              f.form,
		PaymentProcessing: f.processing,
		PaymentReceived:   f.received,
		OfframpCreated:    progress.OfframpCreated,
		OfframpCompleted:  progress.OfframpCompleted,
		OfframpID:         progress.OfframpID,
	}
}

// saveLocked writes a fresh snapshot, restarting its restore window.
func (f *Flow) saveLocked(ctx context.Context) {
	s := f.sessionLocked()
	if err := f.store.Save(ctx, s); err != nil {
		f.logger.Error().Err(err).Msg("failed to save session")
		return
	}
	f.savedAt = s.SavedAt
}

// updateLocked rewrites the snapshot in place when one exists.
func (f *Flow) updateLocked(ctx context.Context) {
	if f.savedAt == 0 {
		return
	}
	if err := f.store.Update(ctx, f.sessionLocked()); err != nil {
		f.logger.Error().Err(err).Msg("failed to update session")
	}
}

func (f *Flow) clearLocked(ctx context.Context) {
	f.savedAt = 0
	if err := f.store.Clear(ctx); err != nil {
		f.logger.Error().Err(err).Msg("failed to clear session")
	}
}

func (f *Flow) dispatch(notes []alerting.Notification) {
	if f.deps.Notifier == nil {
		return
	}
	for _, n := range notes {
		ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
		if err := f.deps.Notifier.Notify(ctx, n); err != nil {
			f.logger.Warn().Err(err).Str("kind", string(n.Kind)).Msg("notification failed")
		}
		cancel()
	}
}

func (f *Flow) noteLocked(kind alerting.Kind, message string) alerting.Notification {
	n := alerting.Notification{
		Kind:      kind,
		At:        f.deps.Now().UTC(),
		SessionID: f.id,
		Message:   message,
	}
	if f.payment != nil {
		n.TransactionID = f.payment.TrackingID()
	}
	if f.quote != nil {
		n.AmountUSD = f.quote.AmountUSD
		n.AmountLocal = f.quote.TotalLocalAmount
	}
	return n
}
