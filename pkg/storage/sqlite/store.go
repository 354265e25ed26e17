// Package sqlite provides a SQLite-backed product store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geniass/supermarket-prices/pkg/product"
	"github.com/geniass/supermarket-prices/pkg/storage"
	"github.com/geniass/supermarket-prices/pkg/storage/sqlite/migrations"
)

// Store persists products in a single table with the price history held as
// a JSON array.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite product store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, id string) (product.Product, error) {
	var (
		p           product.Product
		category    string
		history     string
		lastUpdated int64
		lastChecked int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, category, source_site, size, unit_price, unit_name,
		        original_unit_quantity, current_price, price_history, last_updated, last_checked
		   FROM products WHERE id = ?`, id,
	).Scan(
		&p.ID, &p.Name, &category, &p.SourceSite, &p.Size, &p.UnitPrice, &p.UnitName,
		&p.OriginalUnitQuantity, &p.CurrentPrice, &history, &lastUpdated, &lastChecked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return product.Product{}, storage.ErrNotFound
	}
	if err != nil {
		return product.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(category), &p.Category); err != nil {
		return product.Product{}, fmt.Errorf("decode category of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(history), &p.PriceHistory); err != nil {
		return product.Product{}, fmt.Errorf("decode price history of %s: %w", id, err)
	}
	p.LastUpdated = fromMillis(lastUpdated)
	p.LastChecked = fromMillis(lastChecked)
	return p, nil
}

func (s *Store) Upsert(ctx context.Context, decision product.UpsertDecision, p product.Product) (product.UpsertDecision, error) {
	switch decision {
	case product.Failed:
		return product.Failed, nil
	case product.AlreadyUpToDate:
		if _, err := s.sqlDB.ExecContext(ctx,
			`UPDATE products SET last_checked = ? WHERE id = ?`,
			toMillis(p.LastChecked), p.ID,
		); err != nil {
			return product.Failed, fmt.Errorf("touch product %s: %w", p.ID, err)
		}
		return decision, nil
	}

	category, err := json.Marshal(nonNil(p.Category))
	if err != nil {
		return product.Failed, fmt.Errorf("encode category of %s: %w", p.ID, err)
	}
	history, err := json.Marshal(nonNilHistory(p.PriceHistory))
	if err != nil {
		return product.Failed, fmt.Errorf("encode price history of %s: %w", p.ID, err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO products (
		   id, name, category, source_site, size, unit_price, unit_name,
		   original_unit_quantity, current_price, price_history, last_updated, last_checked
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   category = excluded.category,
		   source_site = excluded.source_site,
		   size = excluded.size,
		   unit_price = excluded.unit_price,
		   unit_name = excluded.unit_name,
		   original_unit_quantity = excluded.original_unit_quantity,
		   current_price = excluded.current_price,
		   price_history = excluded.price_history,
		   last_updated = excluded.last_updated,
		   last_checked = excluded.last_checked`,
		p.ID, p.Name, string(category), p.SourceSite, p.Size, p.UnitPrice, p.UnitName,
		p.OriginalUnitQuantity, p.CurrentPrice, string(history),
		toMillis(p.LastUpdated), toMillis(p.LastChecked),
	)
	if err != nil {
		return product.Failed, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return decision, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilHistory(h []product.DatedPrice) []product.DatedPrice {
	if h == nil {
		return []product.DatedPrice{}
	}
	return h
}
