package settlement

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuition-payflow/internal/backend/mock"
	"tuition-payflow/internal/domain"
)

func TestTrackerFiresOnce(t *testing.T) {
	tr := NewTracker(State{})

	assert.Equal(t, []Event{EventPayinProcessing}, tr.Apply(domain.WebhookStatus{PayinProcessing: true}))
	assert.Empty(t, tr.Apply(domain.WebhookStatus{PayinProcessing: true}))

	got := tr.Apply(domain.WebhookStatus{PayinCompleted: true, OfframpTransaction: &domain.OfframpSummary{ID: "off_1"}})
	assert.Equal(t, []Event{EventPayinCompleted, EventOfframpCreated}, got)
	assert.Equal(t, "off_1", tr.State().OfframpID)

	assert.False(t, tr.Done())
	assert.Equal(t, []Event{EventOfframpCompleted}, tr.Apply(domain.WebhookStatus{PayinCompleted: true, OfframpCompleted: true}))
	assert.True(t, tr.Done())
	assert.Empty(t, tr.Apply(domain.WebhookStatus{PayinCompleted: true, OfframpCompleted: true}))
}

func TestTrackerCompletedImpliesProcessing(t *testing.T) {
	tr := NewTracker(State{})
	got := tr.Apply(domain.WebhookStatus{PayinCompleted: true})
	assert.Equal(t, []Event{EventPayinProcessing, EventPayinCompleted}, got)
}

func TestTrackerResumesFromState(t *testing.T) {
	tr := NewTracker(State{PayinProcessing: true, PayinCompleted: true})
	assert.Empty(t, tr.Apply(domain.WebhookStatus{PayinCompleted: true}))
}

func TestPollerStopsOnOfframpCompleted(t *testing.T) {
	api := mock.New()
	var n atomic.Int32
	api.WebhookStatusFunc = func(string) (domain.WebhookStatus, error) {
		switch n.Add(1) {
		case 1:
			return domain.WebhookStatus{}, nil
		case 2:
			return domain.WebhookStatus{PayinProcessing: true}, nil
		default:
			return domain.WebhookStatus{PayinCompleted: true, OfframpCompleted: true}, nil
		}
	}

	tr := NewTracker(State{})
	var events []Event
	sink := SinkFunc(func(_ context.Context, s domain.WebhookStatus) bool {
		events = append(events, tr.Apply(s)...)
		return tr.Done()
	})

	p := NewPoller(api, Options{Interval: time.Millisecond, MaxDuration: time.Second}, zerolog.Nop())
	require.NoError(t, p.Run(context.Background(), "tx_1", sink))

	assert.Equal(t, int32(3), n.Load())
	assert.Equal(t, []Event{EventPayinProcessing, EventPayinCompleted, EventOfframpCreated, EventOfframpCompleted}, events)
}

func TestPollerGivesUpQuietly(t *testing.T) {
	api := mock.New()
	p := NewPoller(api, Options{Interval: 2 * time.Millisecond, MaxDuration: 20 * time.Millisecond}, zerolog.Nop())

	err := p.Run(context.Background(), "tx_1", SinkFunc(func(context.Context, domain.WebhookStatus) bool { return false }))
	require.NoError(t, err)
	assert.Positive(t, api.StatusRequests)
}

func TestPollerRequiresTransaction(t *testing.T) {
	p := NewPoller(mock.New(), Options{}, zerolog.Nop())
	assert.Error(t, p.Run(context.Background(), "", SinkFunc(func(context.Context, domain.WebhookStatus) bool { return true })))
}
