package product

import (
	"time"
)

// DatedPrice is a single observation in a product's price history.
type DatedPrice struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

type Product struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Size       string   `json:"size,omitempty"`
	SourceSite string   `json:"sourceSite"`
	Category   []string `json:"category"`

	CurrentPrice float64      `json:"currentPrice"`
	PriceHistory []DatedPrice `json:"priceHistory"`

	UnitPrice            float64 `json:"unitPrice,omitempty"`
	UnitName             string  `json:"unitName,omitempty"`
	OriginalUnitQuantity float64 `json:"originalUnitQuantity,omitempty"`

	LastUpdated time.Time `json:"lastUpdated"`
	LastChecked time.Time `json:"lastChecked"`

	// ImageURL is only known while scraping; it is never persisted.
	ImageURL string `json:"-"`
}

// Clone returns a deep copy so callers can modify slices without touching the original.
func (p Product) Clone() Product {
	c := p
	c.Category = append([]string(nil), p.Category...)
	c.PriceHistory = append([]DatedPrice(nil), p.PriceHistory...)
	return c
}

// CategorisedURL is a page to scrape and the category tags given to every product found on it.
type CategorisedURL struct {
	URL        string
	Categories []string
}

// UpsertDecision is the outcome of reconciling one scraped product.
type UpsertDecision int

const (
	NewProduct UpsertDecision = iota
	PriceChanged
	InfoChanged
	AlreadyUpToDate
	Failed
)

func (d UpsertDecision) String() string {
	switch d {
	case NewProduct:
		return "new"
	case PriceChanged:
		return "price-changed"
	case InfoChanged:
		return "info-changed"
	case AlreadyUpToDate:
		return "up-to-date"
	case Failed:
		return "failed"
	}
	return "unknown"
}
