package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/mapscrape/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	query TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	address TEXT NOT NULL,
	rating TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS listings_run_idx ON listings (run_id, position);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, l *storage.Listing) error {
	const query = `
	INSERT INTO listings (id, run_id, query, position, name, address, rating, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
	`
	_, err := b.pool.Exec(ctx, query,
		l.ID, l.RunID, l.Query, l.Position,
		l.Name, l.Address, l.Rating,
		l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Listing, error) {
	query := `SELECT id, run_id, query, position, name, address, rating, created_at FROM listings WHERE 1=1`
	args := pgx.NamedArgs{}

	if filter.RunID != "" {
		query += ` AND run_id = @run_id`
		args["run_id"] = filter.RunID
	}
	if filter.Query != "" {
		query += ` AND query = @query`
		args["query"] = filter.Query
	}
	if filter.Since != nil {
		query += ` AND created_at >= @since`
		args["since"] = *filter.Since
	}

	query += ` ORDER BY created_at DESC, position ASC`

	if filter.Limit > 0 {
		query += ` LIMIT @limit`
		args["limit"] = filter.Limit
	}
	if filter.Offset > 0 {
		query += ` OFFSET @offset`
		args["offset"] = filter.Offset
	}

	rows, err := b.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Listing, error) {
		var l storage.Listing
		err := row.Scan(
			&l.ID, &l.RunID, &l.Query, &l.Position,
			&l.Name, &l.Address, &l.Rating,
			&l.CreatedAt,
		)
		return &l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan listings: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
