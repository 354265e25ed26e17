package scraper

import (
	"sync"
	"time"

	"github.com/geniass/supermarket-prices/pkg/product"
)

// RawProductFields are the untyped values read from one listing element.
type RawProductFields struct {
	ID       string
	Name     string
	Size     string
	Dollars  string
	Cents    string
	ImageURL string
}

// Counters tallies listing outcomes.
type Counters struct {
	New          int
	PriceChanged int
	InfoChanged  int
	Unchanged    int
	Failed       int
	// Rejected listings failed validation; Unreadable ones yielded no fields.
	Rejected   int
	Unreadable int
}

func (c *Counters) Add(o Counters) {
	c.New += o.New
	c.PriceChanged += o.PriceChanged
	c.InfoChanged += o.InfoChanged
	c.Unchanged += o.Unchanged
	c.Failed += o.Failed
	c.Rejected += o.Rejected
	c.Unreadable += o.Unreadable
}

func (c *Counters) record(d product.UpsertDecision) {
	switch d {
	case product.NewProduct:
		c.New++
	case product.PriceChanged:
		c.PriceChanged++
	case product.InfoChanged:
		c.InfoChanged++
	case product.AlreadyUpToDate:
		c.Unchanged++
	default:
		c.Failed++
	}
}

// tally is shared by the listing goroutines of one page.
type tally struct {
	mu sync.Mutex
	c  Counters
}

func (t *tally) decision(d product.UpsertDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.record(d)
}

func (t *tally) rejected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.Rejected++
}

func (t *tally) unreadable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.Unreadable++
}

func (t *tally) counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

type PageResult struct {
	Target   product.CategorisedURL
	Skipped  bool
	Listings int
	Counters Counters
}

type Summary struct {
	RunID        string
	Pages        int
	PagesSkipped int
	Counters     Counters
	Elapsed      time.Duration
}

// Phase is the orchestrator's position in a run.
type Phase int

const (
	Idle Phase = iota
	Scraping
	Delaying
	Completed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scraping:
		return "scraping"
	case Delaying:
		return "delaying"
	case Completed:
		return "completed"
	}
	return "unknown"
}
