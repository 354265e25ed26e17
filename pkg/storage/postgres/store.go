// Package postgres stores products in Postgres with the price history in its
// own append-only table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geniass/supermarket-prices/pkg/product"
	"github.com/geniass/supermarket-prices/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id text PRIMARY KEY,
    name text NOT NULL,
    category text[] NOT NULL DEFAULT '{}',
    source_site text NOT NULL,
    size text NOT NULL DEFAULT '',
    unit_price numeric(10,2) NOT NULL DEFAULT 0,
    unit_name text NOT NULL DEFAULT '',
    original_unit_quantity double precision NOT NULL DEFAULT 0,
    current_price numeric(8,2) NOT NULL,
    last_updated timestamptz NOT NULL,
    last_checked timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
    product_id text NOT NULL REFERENCES products (id) ON DELETE CASCADE,
    seq integer NOT NULL,
    recorded_at timestamptz NOT NULL,
    price numeric(8,2) NOT NULL,
    PRIMARY KEY (product_id, seq)
);
`

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn, pings the server, and creates the tables if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(connectCtx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (product.Product, error) {
	var p product.Product
	err := s.pool.QueryRow(ctx, `
SELECT id, name, category, source_site, size,
       (unit_price::double precision), unit_name, original_unit_quantity,
       (current_price::double precision), last_updated, last_checked
FROM products
WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Category, &p.SourceSite, &p.Size,
		&p.UnitPrice, &p.UnitName, &p.OriginalUnitQuantity,
		&p.CurrentPrice, &p.LastUpdated, &p.LastChecked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return product.Product{}, storage.ErrNotFound
	}
	if err != nil {
		return product.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT recorded_at, (price::double precision)
FROM price_history
WHERE product_id = $1
ORDER BY seq`, id)
	if err != nil {
		return product.Product{}, fmt.Errorf("get price history of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var dp product.DatedPrice
		if err := rows.Scan(&dp.Date, &dp.Price); err != nil {
			return product.Product{}, fmt.Errorf("scan price history of %s: %w", id, err)
		}
		p.PriceHistory = append(p.PriceHistory, dp)
	}
	if err := rows.Err(); err != nil {
		return product.Product{}, fmt.Errorf("read price history of %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) Upsert(ctx context.Context, decision product.UpsertDecision, p product.Product) (product.UpsertDecision, error) {
	switch decision {
	case product.Failed:
		return product.Failed, nil
	case product.AlreadyUpToDate:
		if _, err := s.pool.Exec(ctx,
			`UPDATE products SET last_checked = $2 WHERE id = $1`,
			p.ID, p.LastChecked,
		); err != nil {
			return product.Failed, fmt.Errorf("touch product %s: %w", p.ID, err)
		}
		return decision, nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		category := p.Category
		if category == nil {
			category = []string{}
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO products (
    id, name, category, source_site, size, unit_price, unit_name,
    original_unit_quantity, current_price, last_updated, last_checked
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    category = EXCLUDED.category,
    source_site = EXCLUDED.source_site,
    size = EXCLUDED.size,
    unit_price = EXCLUDED.unit_price,
    unit_name = EXCLUDED.unit_name,
    original_unit_quantity = EXCLUDED.original_unit_quantity,
    current_price = EXCLUDED.current_price,
    last_updated = EXCLUDED.last_updated,
    last_checked = EXCLUDED.last_checked`,
			p.ID, p.Name, category, p.SourceSite, p.Size, p.UnitPrice, p.UnitName,
			p.OriginalUnitQuantity, p.CurrentPrice, p.LastUpdated, p.LastChecked,
		); err != nil {
			return fmt.Errorf("upsert product row: %w", err)
		}

		// History rows are keyed by position, so rewriting an already stored
		// ledger is a no-op and only new observations are inserted.
		b := &pgx.Batch{}
		for i, dp := range p.PriceHistory {
			b.Queue(`
INSERT INTO price_history (product_id, seq, recorded_at, price)
VALUES ($1, $2, $3, $4)
ON CONFLICT (product_id, seq) DO NOTHING`, p.ID, i, dp.Date, dp.Price)
		}
		if b.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
		return nil
	})
	if err != nil {
		return product.Failed, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return decision, nil
}
