// Package reconcile decides how a freshly scraped product changes its stored
// record and evolves the record's price history.
package reconcile

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniass/supermarket-prices/pkg/product"
)

// Price movements must exceed DefaultPriceThreshold to be recorded as a change.
var DefaultPriceThreshold = decimal.RequireFromString("0.05")

var (
	errMissingLastUpdated = errors.New("stored product has no lastUpdated")
	errEmptyHistory       = errors.New("stored product has empty price history")
	errPriceMismatch      = errors.New("stored price differs from last price history entry")
)

type Engine struct {
	validCategories map[string]struct{}
	location        *time.Location
	threshold       decimal.Decimal
}

// New builds an engine. Day boundaries for the price gate are computed in loc
// (nil means UTC). An empty validCategories disables the category check, so
// only missing categories are reported as info changes.
func New(validCategories []string, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[string]struct{}, len(validCategories))
	for _, c := range validCategories {
		set[c] = struct{}{}
	}
	return &Engine{
		validCategories: set,
		location:        loc,
		threshold:       DefaultPriceThreshold,
	}
}

// Reconcile compares scraped with the stored record (nil if none exists) and
// returns the decision together with the record to persist. It never panics;
// any unexpected condition is reported as product.Failed.
func (e *Engine) Reconcile(scraped product.Product, existing *product.Product) (decision product.UpsertDecision, out product.Product) {
	defer func() {
		if r := recover(); r != nil {
			decision, out = product.Failed, scraped
		}
	}()

	if existing == nil {
		out = scraped.Clone()
		if len(out.PriceHistory) == 0 {
			out.PriceHistory = []product.DatedPrice{{Date: scraped.LastUpdated, Price: scraped.CurrentPrice}}
		}
		return product.NewProduct, out
	}

	if err := checkStored(*existing); err != nil {
		return product.Failed, existing.Clone()
	}

	if e.priceChanged(*existing, scraped) {
		out = scraped.Clone()
		out.PriceHistory = Ledger(existing.PriceHistory).Extend(product.DatedPrice{
			Date:  scraped.LastUpdated,
			Price: scraped.CurrentPrice,
		})
		out.LastUpdated = scraped.LastUpdated
		out.LastChecked = laterOf(scraped.LastChecked, out.LastUpdated)
		product.DeriveUnitPrice(&out)
		return product.PriceChanged, out
	}

	out = existing.Clone()
	out.LastChecked = laterOf(laterOf(scraped.LastChecked, existing.LastChecked), existing.LastUpdated)

	if !e.categoriesValid(existing.Category) && e.fixesCategories(existing.Category, scraped.Category) {
		out.Name = scraped.Name
		out.Size = scraped.Size
		out.SourceSite = scraped.SourceSite
		out.Category = append([]string(nil), scraped.Category...)
		out.ImageURL = scraped.ImageURL
		product.DeriveUnitPrice(&out)
		return product.InfoChanged, out
	}

	return product.AlreadyUpToDate, out
}

func (e *Engine) priceChanged(existing, scraped product.Product) bool {
	delta := decimal.NewFromFloat(existing.CurrentPrice).Sub(decimal.NewFromFloat(scraped.CurrentPrice)).Abs()
	if !delta.GreaterThan(e.threshold) {
		return false
	}
	return e.laterDay(scraped.LastUpdated, existing.LastUpdated)
}

// laterDay reports whether a falls on a calendar day after b's.
func (e *Engine) laterDay(a, b time.Time) bool {
	return e.day(a).After(e.day(b))
}

func (e *Engine) day(t time.Time) time.Time {
	y, m, d := t.In(e.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixesCategories reports whether replacing stored with scraped repairs the
// drift. Scraped tags that are also invalid only replace an empty set, so a
// record settles once written.
func (e *Engine) fixesCategories(stored, scraped []string) bool {
	if len(scraped) == 0 || slices.Equal(stored, scraped) {
		return false
	}
	return len(stored) == 0 || e.categoriesValid(scraped)
}

func (e *Engine) categoriesValid(categories []string) bool {
	if len(categories) == 0 {
		return false
	}
	if len(e.validCategories) == 0 {
		return true
	}
	for _, c := range categories {
		if _, ok := e.validCategories[c]; !ok {
			return false
		}
	}
	return true
}

func checkStored(p product.Product) error {
	if p.LastUpdated.IsZero() {
		return fmt.Errorf("product %s: %w", p.ID, errMissingLastUpdated)
	}
	last, ok := Ledger(p.PriceHistory).Last()
	if !ok {
		return fmt.Errorf("product %s: %w", p.ID, errEmptyHistory)
	}
	if !decimal.NewFromFloat(last.Price).Round(2).Equal(decimal.NewFromFloat(p.CurrentPrice).Round(2)) {
		return fmt.Errorf("product %s: %w", p.ID, errPriceMismatch)
	}
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
