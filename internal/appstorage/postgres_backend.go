package appstorage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists appstorage items in a single table, keyed by
// (prefix, key), using an upsert that always wins on conflict — the
// revision-merge decision belongs to Storage[T], not the backend.
// Grounded on the teacher's PostgresStore.PutFunctionState upsert pattern.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pool, verifies connectivity, and ensures the
// backing table exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	b := &PostgresBackend{pool: pool}
	if err := b.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS appstorage_items (
			prefix TEXT NOT NULL,
			key TEXT NOT NULL,
			data BYTEA NOT NULL,
			rev BIGINT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (prefix, key)
		)
	`)
	return err
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, prefix, key string) (*rawItem, error) {
	item := &rawItem{Key: key}
	err := b.pool.QueryRow(ctx, `
		SELECT data, rev, deleted FROM appstorage_items WHERE prefix = $1 AND key = $2
	`, prefix, key).Scan(&item.Data, &item.Rev, &item.Deleted)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appstorage get: %w", err)
	}
	return item, nil
}

func (b *PostgresBackend) Put(ctx context.Context, prefix string, item rawItem) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO appstorage_items (prefix, key, data, rev, deleted)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (prefix, key) DO UPDATE SET
			data = EXCLUDED.data, rev = EXCLUDED.rev, deleted = EXCLUDED.deleted
	`, prefix, item.Key, item.Data, item.Rev, item.Deleted)
	if err != nil {
		return fmt.Errorf("appstorage put: %w", err)
	}
	return nil
}

func (b *PostgresBackend) List(ctx context.Context, prefix string) ([]rawItem, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT key, data, rev, deleted FROM appstorage_items WHERE prefix = $1 ORDER BY key
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("appstorage list: %w", err)
	}
	defer rows.Close()

	var items []rawItem
	for rows.Next() {
		var it rawItem
		if err := rows.Scan(&it.Key, &it.Data, &it.Rev, &it.Deleted); err != nil {
			return nil, fmt.Errorf("appstorage list scan: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
