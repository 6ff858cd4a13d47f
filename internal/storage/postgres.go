package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tuition-payflow/internal/config"
	"tuition-payflow/internal/domain"
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS session_kv (
        namespace  TEXT        NOT NULL,
        key        TEXT        NOT NULL,
        value      JSONB       NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (namespace, key)
    );
    CREATE TABLE IF NOT EXISTS quote_history (
        id                 BIGSERIAL PRIMARY KEY,
        session_id         TEXT        NOT NULL,
        symbol             TEXT        NOT NULL,
        amount_usd         NUMERIC     NOT NULL,
        total_local_amount NUMERIC     NOT NULL,
        total_fee_usd      NUMERIC     NOT NULL,
        effective_rate     NUMERIC     NOT NULL,
        onramp_quote_id    TEXT        NOT NULL,
        offramp_quote_id   TEXT        NOT NULL,
        expires_at         TIMESTAMPTZ,
        created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_quote_history_created_at ON quote_history (created_at);`

	pgGetSQL = `SELECT value FROM session_kv WHERE namespace = $1 AND key = $2;`

	pgSetSQL = `INSERT INTO session_kv (namespace, key, value, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (namespace, key) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	pgDeleteSQL = `DELETE FROM session_kv WHERE namespace = $1 AND key = ANY($2);`

	pgInsertQuoteSQL = `INSERT INTO quote_history (
        session_id,
        symbol,
        amount_usd,
        total_local_amount,
        total_fee_usd,
        effective_rate,
        onramp_quote_id,
        offramp_quote_id,
        expires_at,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	pgQuoteColumns = `id,
        session_id,
        symbol,
        amount_usd::text,
        total_local_amount::text,
        total_fee_usd::text,
        effective_rate::text,
        onramp_quote_id,
        offramp_quote_id,
        expires_at,
        created_at`

	pgListQuotesBetweenSQL = `SELECT ` + pgQuoteColumns + `
    FROM quote_history
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	pgListRecentQuotesSQL = `SELECT ` + pgQuoteColumns + `
    FROM quote_history
    ORDER BY created_at DESC
    LIMIT $1;`
)

// Postgres is a server-side Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres creates a pool from cfg and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg config.StorageConfig) (*Postgres, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates tables when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *Postgres) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var value []byte
	if scanErr := pool.QueryRow(ctx, pgGetSQL, namespace, key).Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, scanErr)
	}
	return value, nil
}

func (s *Postgres) Set(ctx context.Context, namespace, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pgSetSQL, namespace, key, value); execErr != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, execErr)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pgDeleteSQL, namespace, keys); execErr != nil {
		return fmt.Errorf("delete %s: %w", namespace, execErr)
	}
	return nil
}

// AppendQuote persists an issued quote.
func (s *Postgres) AppendQuote(ctx context.Context, rec domain.QuoteRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var expires interface{}
	if !rec.ExpiresAt.IsZero() {
		expires = rec.ExpiresAt
	}

	_, execErr := pool.Exec(ctx, pgInsertQuoteSQL,
		rec.SessionID,
		rec.Symbol,
		rec.AmountUSD.String(),
		rec.TotalLocalAmount.String(),
		rec.TotalFeeUSD.String(),
		rec.EffectiveRate.String(),
		rec.OnrampQuoteID,
		rec.OfframpQuoteID,
		expires,
		rec.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("append quote: %w", execErr)
	}
	return nil
}

// ListQuotesBetween lists quotes issued within a time window.
func (s *Postgres) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]domain.QuoteRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, pgListQuotesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list quotes between: %w", queryErr)
	}
	return collectQuotes(rows)
}

// ListRecentQuotes lists the most recent quotes first.
func (s *Postgres) ListRecentQuotes(ctx context.Context, limit int) ([]domain.QuoteRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, pgListRecentQuotesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quotes: %w", queryErr)
	}
	return collectQuotes(rows)
}

func collectQuotes(rows pgx.Rows) ([]domain.QuoteRecord, error) {
	defer rows.Close()

	quotes := make([]domain.QuoteRecord, 0)
	for rows.Next() {
		var (
			rec                      domain.QuoteRecord
			amount, total, fee, rate string
			expiresAt                *time.Time
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Symbol,
			&amount,
			&total,
			&fee,
			&rate,
			&rec.OnrampQuoteID,
			&rec.OfframpQuoteID,
			&expiresAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := parseDecimals(&rec, amount, total, fee, rate); err != nil {
			return nil, err
		}
		if expiresAt != nil {
			rec.ExpiresAt = expiresAt.UTC()
		}
		quotes = append(quotes, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

var _ Store = (*Postgres)(nil)
