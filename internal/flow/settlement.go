package flow

import (
	"context"

	"tuition-payflow/internal/alerting"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/settlement"
)

func newTracker() *settlement.Tracker {
	return settlement.NewTracker(settlement.State{})
}

// Tick advances the countdown by one second. It only counts on steps 3 to 5 and never
// once a payment is processing or received; those flags pin it at zero instead.
func (f *Flow) Tick() {
	f.mu.Lock()
	if f.processing || f.received {
		if !f.timer.Frozen() {
			f.timer.Freeze()
		}
		f.mu.Unlock()
		return
	}
	if f.step < domain.StepAmount || !f.timer.Tick() {
		f.mu.Unlock()
		return
	}
	notes := f.expireLocked()
	f.mu.Unlock()
	f.dispatch(notes)
}

// expireLocked raises the expiry notice. Nothing is torn down here: on step 5 a deposit
// may already be in flight, so the PIX payment stays tracked until the payer acknowledges.
func (f *Flow) expireLocked() []alerting.Notification {
	f.expiryNotice = true
	f.logger.Info().Str("step", f.step.String()).Msg("quote expired")
	return []alerting.Notification{f.noteLocked(alerting.KindQuoteExpired, "quote window elapsed before payment")}
}

// ApplySettlement merges a settlement observation from the poller or the push listener.
// Each milestone changes state and notifies once. The step never changes. It reports
// whether tracking is finished.
func (f *Flow) ApplySettlement(ctx context.Context, status domain.WebhookStatus) bool {
	f.mu.Lock()
	events := f.tracker.Apply(status)
	var notes []alerting.Notification
	for _, e := range events {
		switch e {
		case settlement.EventPayinProcessing:
			f.processing = true
			f.received = true
			f.expiryNotice = false
			f.addNoticeLocked(e.String(), "Payment received and processing.")
			notes = append(notes, f.noteLocked(alerting.KindPaymentProcessing, "payin processing"))
		case settlement.EventPayinCompleted:
			f.processing = false
			f.received = true
			f.expiryNotice = false
			notes = append(notes, f.noteLocked(alerting.KindPaymentReceived, "payin completed"))
		case settlement.EventOfframpCreated:
			f.offramp = true
			f.offrampID = f.tracker.State().OfframpID
			f.addNoticeLocked(e.String(), "Funds are on their way to the school.")
			notes = append(notes, f.noteLocked(alerting.KindOfframpCreated, "offramp "+f.offrampID))
		case settlement.EventOfframpCompleted:
			f.offramp = false
			notes = append(notes, f.noteLocked(alerting.KindOfframpCompleted, "offramp completed"))
		}
		f.logger.Info().Str("event", e.String()).Msg("settlement milestone")
	}
	if len(events) > 0 {
		f.updateLocked(ctx)
	}
	done := f.tracker.Done()
	f.mu.Unlock()

	f.dispatch(notes)
	return done
}

// startPollingLocked begins settlement polling for txID, replacing any earlier poller.
func (f *Flow) startPollingLocked(txID string) {
	if f.deps.Poller == nil || txID == "" || f.tracker.Done() {
		return
	}
	f.stopPollingLocked()

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	f.pollCancel = cancel
	f.pollDone = done
	go func() {
		defer close(done)
		if err := f.deps.Poller.Run(ctx, txID, f); err != nil && ctx.Err() == nil {
			f.logger.Warn().Err(err).Str("transaction_id", txID).Msg("settlement polling stopped")
		}
	}()
}

func (f *Flow) stopPollingLocked() {
	if f.pollCancel != nil {
		f.pollCancel()
		f.pollCancel = nil
	}
}

var _ settlement.Sink = (*Flow)(nil)
