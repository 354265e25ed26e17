// Package storage defines the contract every product backend satisfies.
package storage

import (
	"context"
	"errors"

	"github.com/geniass/supermarket-prices/pkg/product"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("product not found")

// Store is a durable product record keyed by id. Implementations must be safe
// for concurrent calls on different ids.
type Store interface {
	Get(ctx context.Context, id string) (product.Product, error)
	// Upsert writes p as the durable state for its id and returns the
	// decision it was given, or product.Failed with the write error.
	// AlreadyUpToDate only refreshes lastChecked; Failed writes nothing.
	Upsert(ctx context.Context, decision product.UpsertDecision, p product.Product) (product.UpsertDecision, error)
	Close() error
}
