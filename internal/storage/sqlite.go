package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tuition-payflow/internal/domain"
)

const (
	sqliteGetSQL = `SELECT value FROM kv WHERE namespace = ? AND key = ?`
	sqliteSetSQL = `INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	sqliteDeleteSQL = `DELETE FROM kv WHERE namespace = ? AND key = ?`

	sqliteInsertQuoteSQL = `INSERT INTO quotes (
		session_id, symbol, amount_usd, total_local_amount, total_fee_usd, effective_rate,
		onramp_quote_id, offramp_quote_id, expires_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteQuoteColumns = `id, session_id, symbol, amount_usd, total_local_amount, total_fee_usd, effective_rate,
		onramp_quote_id, offramp_quote_id, expires_at, created_at`
)

// SQLite is an embedded Store backed by modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and ensures the schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLite{db: db}, nil
}

func createSQLiteTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			amount_usd TEXT NOT NULL,
			total_local_amount TEXT NOT NULL,
			total_fee_usd TEXT NOT NULL,
			effective_rate TEXT NOT NULL,
			onramp_quote_id TEXT NOT NULL,
			offramp_quote_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_created_at ON quotes(created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, sqliteGetSQL, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, namespace, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, sqliteSetSQL, namespace, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, namespace string, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, sqliteDeleteSQL, namespace, key); err != nil {
			return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
		}
	}
	return nil
}

func (s *SQLite) AppendQuote(ctx context.Context, rec domain.QuoteRecord) error {
	_, err := s.db.ExecContext(ctx, sqliteInsertQuoteSQL,
		rec.SessionID,
		rec.Symbol,
		rec.AmountUSD.String(),
		rec.TotalLocalAmount.String(),
		rec.TotalFeeUSD.String(),
		rec.EffectiveRate.String(),
		rec.OnrampQuoteID,
		rec.OfframpQuoteID,
		unixMilli(rec.ExpiresAt),
		unixMilli(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append quote: %w", err)
	}
	return nil
}

func (s *SQLite) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]domain.QuoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteQuoteColumns+` FROM quotes WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list quotes between: %w", err)
	}
	return scanSQLiteQuotes(rows)
}

func (s *SQLite) ListRecentQuotes(ctx context.Context, limit int) ([]domain.QuoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteQuoteColumns+` FROM quotes ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent quotes: %w", err)
	}
	return scanSQLiteQuotes(rows)
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanSQLiteQuotes(rows *sql.Rows) ([]domain.QuoteRecord, error) {
	defer rows.Close()

	out := make([]domain.QuoteRecord, 0)
	for rows.Next() {
		var (
			rec                      domain.QuoteRecord
			amount, total, fee, rate string
			expiresAt, createdAt     int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Symbol, &amount, &total, &fee, &rate,
			&rec.OnrampQuoteID, &rec.OfframpQuoteID, &expiresAt, &createdAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(&rec, amount, total, fee, rate); err != nil {
			return nil, err
		}
		rec.ExpiresAt = fromUnixMilli(expiresAt)
		rec.CreatedAt = fromUnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func parseDecimals(rec *domain.QuoteRecord, amount, total, fee, rate string) error {
	var err error
	if rec.AmountUSD, err = decimal.NewFromString(amount); err != nil {
		return fmt.Errorf("parse amount_usd: %w", err)
	}
	if rec.TotalLocalAmount, err = decimal.NewFromString(total); err != nil {
		return fmt.Errorf("parse total_local_amount: %w", err)
	}
	if rec.TotalFeeUSD, err = decimal.NewFromString(fee); err != nil {
		return fmt.Errorf("parse total_fee_usd: %w", err)
	}
	if rec.EffectiveRate, err = decimal.NewFromString(rate); err != nil {
		return fmt.Errorf("parse effective_rate: %w", err)
	}
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ Store = (*SQLite)(nil)
