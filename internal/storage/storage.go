package storage

import (
	"context"
	"errors"
	"time"

	"tuition-payflow/internal/domain"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("storage: key not found")
	// ErrNotConfigured indicates the storage handle was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// KV is a flat JSON value store keyed by namespace and name, the server-side stand-in
// for the browser's durable storage.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace string, keys ...string) error
}

// QuoteHistory records issued quotes for reporting.
type QuoteHistory interface {
	AppendQuote(ctx context.Context, rec domain.QuoteRecord) error
	ListQuotesBetween(ctx context.Context, from, to time.Time) ([]domain.QuoteRecord, error)
	ListRecentQuotes(ctx context.Context, limit int) ([]domain.QuoteRecord, error)
}

// Store is a storage backend offering both capabilities.
type Store interface {
	KV
	QuoteHistory
	Close() error
}

// Namespace binds a KV to one namespace.
type Namespace struct {
	kv   KV
	name string
}

// NewNamespace scopes kv to name.
func NewNamespace(kv KV, name string) *Namespace {
	return &Namespace{kv: kv, name: name}
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// Get reads key.
func (n *Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	if n == nil || n.kv == nil {
		return nil, ErrNotConfigured
	}
	return n.kv.Get(ctx, n.name, key)
}

// Set writes key.
func (n *Namespace) Set(ctx context.Context, key string, value []byte) error {
	if n == nil || n.kv == nil {
		return ErrNotConfigured
	}
	return n.kv.Set(ctx, n.name, key, value)
}

// Delete removes keys.
func (n *Namespace) Delete(ctx context.Context, keys ...string) error {
	if n == nil || n.kv == nil {
		return ErrNotConfigured
	}
	return n.kv.Delete(ctx, n.name, keys...)
}
