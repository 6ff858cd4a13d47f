package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"tuition-payflow/internal/domain"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string][]byte
	quotes []domain.QuoteRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(ctx context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.values[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.values[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, namespace string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values[namespace], k)
	}
	return nil
}

func (m *Memory) AppendQuote(ctx context.Context, rec domain.QuoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.quotes) + 1)
	m.quotes = append(m.quotes, rec)
	return nil
}

func (m *Memory) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]domain.QuoteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.QuoteRecord, 0)
	for _, q := range m.quotes {
		if !q.CreatedAt.Before(from) && q.CreatedAt.Before(to) {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListRecentQuotes(ctx context.Context, limit int) ([]domain.QuoteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.QuoteRecord, 0, limit)
	for i := len(m.quotes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.quotes[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
