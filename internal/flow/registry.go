package flow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tuition-payflow/internal/countdown"
)

// StoreFactory returns the session store for a session id.
type StoreFactory func(sessionID string) SessionStore

// RegistryOptions tune the registry.
type RegistryOptions struct {
	// TickInterval drives each flow's countdown.
	TickInterval time.Duration
	// IdleTTL evicts flows not accessed for this long. Zero disables eviction.
	IdleTTL time.Duration
}

type entry struct {
	flow       *Flow
	lastAccess time.Time
}

// Registry owns the live flows, keyed by session id.
type Registry struct {
	ctx    context.Context
	deps   Deps
	stores StoreFactory
	opts   RegistryOptions
	logger zerolog.Logger

	mu    sync.Mutex
	flows map[string]*entry
}

// NewRegistry builds a Registry. Flows live until Close or eviction, bounded by ctx.
func NewRegistry(ctx context.Context, deps Deps, stores StoreFactory, opts RegistryOptions) *Registry {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		ctx:    ctx,
		deps:   deps,
		stores: stores,
		opts:   opts,
		logger: deps.Logger.With().Str("component", "flow_registry").Logger(),
		flows:  make(map[string]*entry),
	}
}

// Get returns the flow for id, creating it and restoring any persisted session on
// first access.
func (r *Registry) Get(ctx context.Context, id string) *Flow {
	r.mu.Lock()
	if e, ok := r.flows[id]; ok {
		e.lastAccess = r.deps.Now()
		r.mu.Unlock()
		return e.flow
	}
	f := New(r.ctx, id, r.deps, r.stores(id))
	r.flows[id] = &entry{flow: f, lastAccess: r.deps.Now()}
	r.mu.Unlock()

	if restored, err := f.Restore(ctx); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("session restore failed")
	} else if restored {
		r.logger.Debug().Str("session_id", id).Msg("session resumed")
	}
	go countdown.Run(f.ctx, r.opts.TickInterval, f.Tick)
	return f
}

// Lookup returns an existing flow without creating one.
func (r *Registry) Lookup(id string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[id]
	if !ok {
		return nil, false
	}
	return e.flow, true
}

// FindByTransaction returns the live flow tracking txID.
func (r *Registry) FindByTransaction(txID string) (*Flow, bool) {
	if txID == "" {
		return nil, false
	}
	r.mu.Lock()
	flows := make([]*Flow, 0, len(r.flows))
	for _, e := range r.flows {
		flows = append(flows, e.flow)
	}
	r.mu.Unlock()

	for _, f := range flows {
		if f.TransactionID() == txID {
			return f, true
		}
	}
	return nil, false
}

// Len returns the number of live flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep closes flows idle longer than IdleTTL. Persisted sessions survive eviction.
func (r *Registry) Sweep() int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.deps.Now().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	var stale []*Flow
	for id, e := range r.flows {
		if e.lastAccess.Before(cutoff) {
			stale = append(stale, e.flow)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range stale {
		f.Close()
	}
	if len(stale) > 0 {
		r.logger.Info().Int("evicted", len(stale)).Msg("idle flows evicted")
	}
	return len(stale)
}

// Close stops every flow.
func (r *Registry) Close() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range flows {
		e.flow.Close()
	}
}
