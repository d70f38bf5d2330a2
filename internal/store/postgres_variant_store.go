package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/pixeledge/internal/domain"
	_ "github.com/lib/pq"
)

const variantSchemaSQL = `
CREATE TABLE IF NOT EXISTS variants (
	cache_key TEXT PRIMARY KEY,
	original_key TEXT NOT NULL,
	format TEXT NOT NULL,
	content_type TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bytes INTEGER NOT NULL,
	etag TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS variants_original_key_idx ON variants (original_key);
`

type PostgresVariantStore struct {
	db *sql.DB
}

func NewPostgresVariantStore(ctx context.Context, dsn string) (*PostgresVariantStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresVariantStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresVariantStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, variantSchemaSQL); err != nil {
		return fmt.Errorf("ensure variants schema: %w", err)
	}
	return nil
}

func (s *PostgresVariantStore) Close() error {
	return s.db.Close()
}

// RecordVariant upserts by cache key; the latest write wins, matching the
// object store's overwrite behaviour.
func (s *PostgresVariantStore) RecordVariant(ctx context.Context, v domain.Variant) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO variants (cache_key, original_key, format, content_type, width, height, bytes, etag, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   original_key = EXCLUDED.original_key,
		   format = EXCLUDED.format,
		   content_type = EXCLUDED.content_type,
		   width = EXCLUDED.width,
		   height = EXCLUDED.height,
		   bytes = EXCLUDED.bytes,
		   etag = EXCLUDED.etag,
		   created_at = EXCLUDED.created_at`,
		v.CacheKey,
		v.OriginalKey,
		v.Format,
		v.ContentType,
		v.Width,
		v.Height,
		v.Bytes,
		v.ETag,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

func (s *PostgresVariantStore) GetVariant(ctx context.Context, cacheKey string) (domain.Variant, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT cache_key, original_key, format, content_type, width, height, bytes, etag, created_at
		 FROM variants
		 WHERE cache_key = $1`,
		cacheKey,
	)

	var v domain.Variant
	if err := row.Scan(
		&v.CacheKey,
		&v.OriginalKey,
		&v.Format,
		&v.ContentType,
		&v.Width,
		&v.Height,
		&v.Bytes,
		&v.ETag,
		&v.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Variant{}, false, nil
		}
		return domain.Variant{}, false, fmt.Errorf("query variant: %w", err)
	}

	return v, true, nil
}
