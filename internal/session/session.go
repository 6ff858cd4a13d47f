// Package session persists the in-progress payment and the identifiers the flow reuses
// across reloads.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tuition-payflow/internal/countdown"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/storage"
)

// Storage keys. Values are plain JSON without schema versioning.
const (
	KeyPaymentSession = "paymentSession"
	KeyCustomerID     = "customerId"
	KeyWalletAddress  = "walletAddress"
	KeyWalletID       = "walletId"
	KeyOnrampQuoteID  = "onrampQuoteId"
	KeyOfframpQuoteID = "offrampQuoteId"
)

// Store is the narrow persistence contract for the payment snapshot.
type Store interface {
	Load(ctx context.Context) (*domain.PaymentSession, error)
	Save(ctx context.Context, s *domain.PaymentSession) error
	Clear(ctx context.Context) error
}

// Identifiers holds ids reused across quotes and payments.
type Identifiers interface {
	CustomerID(ctx context.Context) (string, error)
	Wallet(ctx context.Context) (address, id string, err error)
	SaveCustomer(ctx context.Context, customerID, walletAddress, walletID string) error
	QuoteLocks(ctx context.Context) (onramp, offramp string, err error)
	SaveQuoteLocks(ctx context.Context, onramp, offramp string) error
}

// Options tune restore validity.
type Options struct {
	Window time.Duration
	MaxAge time.Duration
	Now    func() time.Time
}

// KVStore implements Store and Identifiers over a storage namespace.
type KVStore struct {
	ns     *storage.Namespace
	opts   Options
	logger zerolog.Logger
}

// NewKVStore builds a KVStore.
func NewKVStore(ns *storage.Namespace, opts Options, logger zerolog.Logger) *KVStore {
	if opts.Window <= 0 {
		opts.Window = countdown.Window
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 2 * opts.Window
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &KVStore{ns: ns, opts: opts, logger: logger.With().Str("component", "session_store").Logger()}
}

// Remaining returns the countdown left for s at now.
func Remaining(s *domain.PaymentSession, window time.Duration, now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return countdown.RemainingAfter(window, now.Sub(s.SnapshotTime()))
}

// Load returns the snapshot, or nil when none exists or it is no longer valid. Invalid
// snapshots are deleted. Once funds are moving the countdown no longer invalidates a
// snapshot; only MaxAge does.
func (k *KVStore) Load(ctx context.Context) (*domain.PaymentSession, error) {
	raw, err := k.ns.Get(ctx, KeyPaymentSession)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s domain.PaymentSession
	if err := json.Unmarshal(raw, &s); err != nil || s.SavedAt == 0 {
		k.logger.Warn().Err(err).Msg("discarding unreadable session snapshot")
		return nil, k.Clear(ctx)
	}

	now := k.opts.Now()
	age := now.Sub(s.SnapshotTime())
	remaining := Remaining(&s, k.opts.Window, now)
	moving := s.PaymentProcessing || s.PaymentReceived
	if age >= k.opts.MaxAge || (remaining <= 0 && !moving) {
		k.logger.Info().Dur("age", age).Msg("session snapshot expired")
		return nil, k.Clear(ctx)
	}
	return &s, nil
}

// Save stamps s with the current time and writes it.
func (k *KVStore) Save(ctx context.Context, s *domain.PaymentSession) error {
	if s == nil {
		return errors.New("save session: nil snapshot")
	}
	s.SavedAt = k.opts.Now().UnixMilli()
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := k.ns.Set(ctx, KeyPaymentSession, raw); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Update rewrites the snapshot without moving its timestamp, so flag changes do not
// extend the countdown window.
func (k *KVStore) Update(ctx context.Context, s *domain.PaymentSession) error {
	if s == nil || s.SavedAt == 0 {
		return k.Save(ctx, s)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return k.ns.Set(ctx, KeyPaymentSession, raw)
}

// Clear deletes the snapshot.
func (k *KVStore) Clear(ctx context.Context) error {
	if err := k.ns.Delete(ctx, KeyPaymentSession); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// CustomerID returns the stored customer id or "".
func (k *KVStore) CustomerID(ctx context.Context) (string, error) {
	return k.getString(ctx, KeyCustomerID)
}

// Wallet returns the stored wallet address and id.
func (k *KVStore) Wallet(ctx context.Context) (string, string, error) {
	addr, err := k.getString(ctx, KeyWalletAddress)
	if err != nil {
		return "", "", err
	}
	id, err := k.getString(ctx, KeyWalletID)
	if err != nil {
		return "", "", err
	}
	return addr, id, nil
}

// SaveCustomer stores non-empty identifiers.
func (k *KVStore) SaveCustomer(ctx context.Context, customerID, walletAddress, walletID string) error {
	for key, value := range map[string]string{
		KeyCustomerID:    customerID,
		KeyWalletAddress: walletAddress,
		KeyWalletID:      walletID,
	} {
		if value == "" {
			continue
		}
		if err := k.setString(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// QuoteLocks returns the last on-ramp and off-ramp lock ids.
func (k *KVStore) QuoteLocks(ctx context.Context) (string, string, error) {
	on, err := k.getString(ctx, KeyOnrampQuoteID)
	if err != nil {
		return "", "", err
	}
	off, err := k.getString(ctx, KeyOfframpQuoteID)
	if err != nil {
		return "", "", err
	}
	return on, off, nil
}

// SaveQuoteLocks stores both lock ids.
func (k *KVStore) SaveQuoteLocks(ctx context.Context, onramp, offramp string) error {
	if err := k.setString(ctx, KeyOnrampQuoteID, onramp); err != nil {
		return err
	}
	return k.setString(ctx, KeyOfframpQuoteID, offramp)
}

func (k *KVStore) getString(ctx context.Context, key string) (string, error) {
	raw, err := k.ns.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		// Older clients stored bare strings.
		return string(raw), nil
	}
	return v, nil
}

func (k *KVStore) setString(ctx context.Context, key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := k.ns.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

var (
	_ Store       = (*KVStore)(nil)
	_ Identifiers = (*KVStore)(nil)
)
