// Package settlement tracks funds arrival and off-ramp progress for a deposit instruction.
package settlement

import (
	"sync"

	"tuition-payflow/internal/domain"
)

// Event is a one-shot settlement milestone.
type Event int

const (
	EventPayinProcessing Event = iota + 1
	EventPayinCompleted
	EventOfframpCreated
	EventOfframpCompleted
)

func (e Event) String() string {
	switch e {
	case EventPayinProcessing:
		return "payin_processing"
	case EventPayinCompleted:
		return "payin_completed"
	case EventOfframpCreated:
		return "offramp_created"
	case EventOfframpCompleted:
		return "offramp_completed"
	default:
		return "unknown"
	}
}

// State records which milestones have already fired.
type State struct {
	PayinProcessing  bool   `json:"payin_processing"`
	PayinCompleted   bool   `json:"payin_completed"`
	OfframpCreated   bool   `json:"offramp_created"`
	OfframpCompleted bool   `json:"offramp_completed"`
	OfframpID        string `json:"offramp_id,omitempty"`
}

// Tracker converts repeated status observations into events that fire at most once,
// whichever source delivers them.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker resumes from a previously recorded state.
func NewTracker(state State) *Tracker {
	return &Tracker{state: state}
}

// Apply merges an observation and returns the milestones reached for the first time, in
// causal order. A completed pay-in implies processing.
func (t *Tracker) Apply(s domain.WebhookStatus) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []Event
	fire := func(seen *bool, observed bool, e Event) {
		if observed && !*seen {
			*seen = true
			events = append(events, e)
		}
	}

	fire(&t.state.PayinProcessing, s.PayinProcessing || s.PayinCompleted, EventPayinProcessing)
	fire(&t.state.PayinCompleted, s.PayinCompleted, EventPayinCompleted)
	if s.OfframpTransaction != nil && s.OfframpTransaction.ID != "" {
		t.state.OfframpID = s.OfframpTransaction.ID
	}
	fire(&t.state.OfframpCreated, s.OfframpTransaction != nil || s.OfframpCompleted, EventOfframpCreated)
	fire(&t.state.OfframpCompleted, s.OfframpCompleted, EventOfframpCompleted)
	return events
}

// State returns a copy of the recorded milestones.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done reports whether tracking can stop.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.OfframpCompleted
}
