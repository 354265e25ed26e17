package scraper

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/geniass/supermarket-prices/pkg/product"
)

// Selectors locate fields inside one listing element.
type Selectors struct {
	// Title holds the product name; its id attribute carries the product id.
	Title   string
	Size    string
	Dollars string
	Cents   string
	Image   string
}

var DefaultSelectors = Selectors{
	Title:   "h3[id$='-title']",
	Size:    "span.size",
	Dollars: "product-price h3 em",
	Cents:   "product-price h3 span",
	Image:   "figure picture img",
}

// ExtractRawFields reads the candidate fields of one listing. It reports
// false when the listing has no id, name, or dollar amount.
func ExtractRawFields(el *goquery.Selection, s Selectors) (RawProductFields, bool) {
	title := el.Find(s.Title).First()
	titleID, _ := title.Attr("id")

	raw := RawProductFields{
		ID:      productID(titleID),
		Name:    strings.TrimSpace(title.Text()),
		Size:    strings.TrimSpace(el.Find(s.Size).First().Text()),
		Dollars: digitsOnly(el.Find(s.Dollars).First().Text()),
		Cents:   digitsOnly(el.Find(s.Cents).First().Text()),
	}
	raw.ImageURL, _ = el.Find(s.Image).First().Attr("src")

	if raw.ID == "" || raw.Name == "" || raw.Dollars == "" {
		return RawProductFields{}, false
	}
	if raw.Cents == "" {
		raw.Cents = "0"
	}
	return raw, true
}

// Product builds a candidate product observed at now.
func (r RawProductFields) Product(categories []string, sourceSite string, now time.Time) (product.Product, error) {
	if r.Dollars == "" {
		return product.Product{}, fmt.Errorf("missing dollar amount")
	}
	price, err := decimal.NewFromString(r.Dollars + "." + r.Cents)
	if err != nil {
		return product.Product{}, fmt.Errorf("parse price %s.%s: %w", r.Dollars, r.Cents, err)
	}
	current := price.Round(2).InexactFloat64()

	p := product.Product{
		ID:           r.ID,
		Name:         product.NormalizeName(r.Name),
		Size:         r.Size,
		SourceSite:   sourceSite,
		Category:     append([]string(nil), categories...),
		CurrentPrice: current,
		PriceHistory: []product.DatedPrice{{Date: now, Price: current}},
		LastUpdated:  now,
		LastChecked:  now,
		ImageURL:     r.ImageURL,
	}
	product.DeriveUnitPrice(&p)
	return p, nil
}

// productID turns "product-282491-title" into "282491".
func productID(attr string) string {
	id := strings.TrimSpace(attr)
	id = strings.TrimPrefix(id, "product-")
	id = strings.TrimSuffix(id, "-title")
	return id
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
