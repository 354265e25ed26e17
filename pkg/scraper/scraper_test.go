package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geniass/supermarket-prices/pkg/browser"
	"github.com/geniass/supermarket-prices/pkg/images"
	"github.com/geniass/supermarket-prices/pkg/product"
	"github.com/geniass/supermarket-prices/pkg/reconcile"
	"github.com/geniass/supermarket-prices/pkg/storage"
)

var scrapeTime = time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

type listing struct {
	ID      string
	Name    string
	Size    string
	Dollars string
	Cents   string
}

func listingHTML(l listing) string {
	return fmt.Sprintf(`<div class="product-entry">
	<figure><picture><img src="https://img.example/%[1]s.jpg"></picture></figure>
	<h3 id="product-%[1]s-title">%[2]s</h3>
	<span class="size">%[3]s</span>
	<product-price><h3><em>%[4]s</em><span>%[5]s</span></h3></product-price>
</div>`, l.ID, l.Name, l.Size, l.Dollars, l.Cents)
}

func categoryPage(ls ...listing) string {
	var parts []string
	for _, l := range ls {
		parts = append(parts, listingHTML(l))
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
	<body>
		<cdx-card><product-stamp-grid>
		%s
		</product-stamp-grid></cdx-card>
	</body>
</html>`, strings.Join(parts, "\n"))
}

func makeListings(prefix string, n int) []listing {
	var ls []listing
	for i := 0; i < n; i++ {
		ls = append(ls, listing{
			ID:      fmt.Sprintf("%s%03d", prefix, i),
			Name:    fmt.Sprintf("product number %d", i),
			Size:    "500g",
			Dollars: fmt.Sprint(i%20 + 1),
			Cents:   "50",
		})
	}
	return ls
}

func parseListings(t *testing.T, html string) []*goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	var out []*goquery.Selection
	doc.Find(browser.DefaultListingSelector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s)
	})
	return out
}

// fakeDriver serves canned HTML per URL; urls in timeouts never load.
type fakeDriver struct {
	mu        sync.Mutex
	pages     map[string]string
	timeouts  map[string]bool
	navigated []string
	closed    int
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) (browser.Page, error) {
	d.mu.Lock()
	d.navigated = append(d.navigated, url)
	d.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("navigation without deadline")
	}
	if d.timeouts[url] {
		return nil, browser.ErrTimeout
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.pages[url]))
	if err != nil {
		return nil, err
	}
	return &fakePage{doc: doc}, nil
}

func (d *fakeDriver) Close() error {
	d.closed++
	return nil
}

type fakePage struct {
	doc *goquery.Document
}

func (p *fakePage) WaitForListings(ctx context.Context) error {
	if p.doc.Find(browser.DefaultListingSelector).Length() == 0 {
		return browser.ErrTimeout
	}
	return nil
}

func (p *fakePage) ListingElements() ([]*goquery.Selection, error) {
	var out []*goquery.Selection
	p.doc.Find(browser.DefaultListingSelector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s)
	})
	return out, nil
}

type memStore struct {
	mu       sync.Mutex
	products map[string]product.Product
	gets     int
	upserts  int
	failGet  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{products: map[string]product.Product{}, failGet: map[string]bool{}}
}

func (s *memStore) Get(ctx context.Context, id string) (product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet[id] {
		return product.Product{}, errors.New("bad stored date")
	}
	p, ok := s.products[id]
	if !ok {
		return product.Product{}, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memStore) Upsert(ctx context.Context, d product.UpsertDecision, p product.Product) (product.UpsertDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if d != product.Failed {
		s.products[p.ID] = p.Clone()
	}
	return d, nil
}

func (s *memStore) Close() error { return nil }

type recordingSleep struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return nil
}

type fakeMirror struct {
	mu  sync.Mutex
	ids []string
}

func (m *fakeMirror) MirrorImage(ctx context.Context, id, url string) (images.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	return images.Unavailable, nil
}

func newTestOrchestrator(d browser.Driver, s storage.Store, opts Options) (*Orchestrator, *recordingSleep, *bytes.Buffer) {
	if opts.SourceSite == "" {
		opts.SourceSite = "countdown.co.nz"
	}
	if opts.PageDelay == 0 {
		opts.PageDelay = 11 * time.Second
	}
	engine := reconcile.New([]string{"ice-cream", "biscuits"}, time.UTC)
	o := New(d, s, engine, nil, opts)
	sleeper := &recordingSleep{}
	logs := &bytes.Buffer{}
	o.Sleep = sleeper.Sleep
	o.Now = func() time.Time { return scrapeTime }
	o.Logger = log.New(&syncWriter{w: logs}, "", 0)
	return o, sleeper, logs
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func TestExtractRawFields(t *testing.T) {
	els := parseListings(t, categoryPage(
		listing{ID: "282491", Name: "  pams vanilla ICE cream ", Size: "2L", Dollars: "$6", Cents: "50"},
		listing{ID: "135344", Name: "loose bananas", Size: "", Dollars: "3", Cents: "49 /kg"},
		listing{ID: "991", Name: "odd pricing", Size: "each", Dollars: "2", Cents: ""},
		listing{ID: "", Name: "no id here", Dollars: "1", Cents: "00"},
		listing{ID: "777", Name: "no price", Dollars: "", Cents: "99"},
	))
	require.Len(t, els, 5)

	raw, ok := ExtractRawFields(els[0], DefaultSelectors)
	require.True(t, ok)
	assert.Equal(t, RawProductFields{ID: "282491", Name: "pams vanilla ICE cream", Size: "2L", Dollars: "6", Cents: "50", ImageURL: "https://img.example/282491.jpg"}, raw)

	raw, ok = ExtractRawFields(els[1], DefaultSelectors)
	require.True(t, ok)
	assert.Equal(t, "49", raw.Cents)
	assert.Empty(t, raw.Size)

	raw, ok = ExtractRawFields(els[2], DefaultSelectors)
	require.True(t, ok)
	assert.Equal(t, "0", raw.Cents)

	_, ok = ExtractRawFields(els[3], DefaultSelectors)
	assert.False(t, ok)
	_, ok = ExtractRawFields(els[4], DefaultSelectors)
	assert.False(t, ok)
}

func TestRawFieldsProduct(t *testing.T) {
	raw := RawProductFields{ID: "282491", Name: "pams vanilla ICE cream", Size: "2L", Dollars: "6", Cents: "5"}
	p, err := raw.Product([]string{"ice-cream"}, "countdown.co.nz", scrapeTime)
	require.NoError(t, err)

	assert.Equal(t, "Pams Vanilla Ice Cream", p.Name)
	assert.Equal(t, 6.5, p.CurrentPrice)
	assert.Equal(t, []product.DatedPrice{{Date: scrapeTime, Price: 6.5}}, p.PriceHistory)
	assert.Equal(t, scrapeTime, p.LastChecked)
	assert.Equal(t, scrapeTime, p.LastUpdated)
	assert.Equal(t, "L", p.UnitName)
	assert.Equal(t, 3.25, p.UnitPrice)

	_, err = RawProductFields{ID: "1", Name: "x", Dollars: "", Cents: "0"}.Product(nil, "", scrapeTime)
	assert.Error(t, err)
}

func TestRunPersistsAndCountsEveryListing(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/ice-cream", Categories: []string{"ice-cream"}}
	ls := makeListings("1", 60)
	d := &fakeDriver{pages: map[string]string{target.URL: categoryPage(ls...)}}
	store := newMemStore()

	o, _, _ := newTestOrchestrator(d, store, Options{Workers: 16})
	sum := o.Run(context.Background(), []product.CategorisedURL{target})

	assert.Equal(t, 60, sum.Counters.New)
	assert.Equal(t, 1, sum.Pages)
	assert.Len(t, store.products, 60)
	assert.Equal(t, 1, d.closed)

	// Second run on the same day changes nothing.
	d.closed = 0
	sum = o.Run(context.Background(), []product.CategorisedURL{target})
	assert.Equal(t, 60, sum.Counters.Unchanged)
	assert.Zero(t, sum.Counters.New)
}

func TestRunDetectsNextDayPriceChange(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/ice-cream", Categories: []string{"ice-cream"}}
	d := &fakeDriver{pages: map[string]string{target.URL: categoryPage(listing{ID: "282491", Name: "vanilla tub", Size: "2L", Dollars: "4", Cents: "10"})}}
	store := newMemStore()
	dayBefore := scrapeTime.Add(-24 * time.Hour)
	store.products["282491"] = product.Product{
		ID: "282491", Name: "Vanilla Tub", Size: "2L", SourceSite: "countdown.co.nz",
		Category: []string{"ice-cream"}, CurrentPrice: 4,
		PriceHistory: []product.DatedPrice{{Date: dayBefore, Price: 4}},
		LastUpdated:  dayBefore, LastChecked: dayBefore,
	}

	o, _, logs := newTestOrchestrator(d, store, Options{})
	sum := o.Run(context.Background(), []product.CategorisedURL{target})

	assert.Equal(t, 1, sum.Counters.PriceChanged)
	got := store.products["282491"]
	assert.Equal(t, 4.1, got.CurrentPrice)
	assert.Len(t, got.PriceHistory, 2)
	assert.Contains(t, logs.String(), "was $4.00 now $4.10")
}

func TestRunSkipsTimedOutPage(t *testing.T) {
	slow := product.CategorisedURL{URL: "https://shop.example/slow", Categories: []string{"ice-cream"}}
	ok := product.CategorisedURL{URL: "https://shop.example/ok", Categories: []string{"ice-cream"}}
	d := &fakeDriver{
		pages:    map[string]string{ok.URL: categoryPage(makeListings("2", 3)...)},
		timeouts: map[string]bool{slow.URL: true},
	}
	store := newMemStore()

	o, sleeper, logs := newTestOrchestrator(d, store, Options{PageDelay: 7 * time.Second})
	var phases []Phase
	o.OnPhase = func(p Phase, _ int) { phases = append(phases, p) }

	sum := o.Run(context.Background(), []product.CategorisedURL{slow, ok})

	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 1, sum.PagesSkipped)
	assert.Equal(t, 3, sum.Counters.New)
	assert.Equal(t, 3, store.upserts, "the skipped page must not reach storage")
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.calls)
	assert.Equal(t, []string{slow.URL, ok.URL}, d.navigated)
	assert.Equal(t, []Phase{Idle, Scraping, Delaying, Scraping, Completed}, phases)
	assert.Contains(t, logs.String(), "Skipping "+slow.URL)
}

func TestRunMissingListingContainerSkipsPage(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/empty", Categories: []string{"ice-cream"}}
	d := &fakeDriver{pages: map[string]string{target.URL: "<html><body>closed</body></html>"}}
	store := newMemStore()

	o, _, _ := newTestOrchestrator(d, store, Options{})
	sum := o.Run(context.Background(), []product.CategorisedURL{target})

	assert.Equal(t, 1, sum.PagesSkipped)
	assert.Zero(t, store.gets)
	assert.Zero(t, store.upserts)
}

func TestRunRejectsInvalidListings(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/mixed", Categories: []string{"ice-cream"}}
	d := &fakeDriver{pages: map[string]string{target.URL: categoryPage(
		listing{ID: "282491", Name: "vanilla tub", Dollars: "4", Cents: "10"},
		listing{ID: "282492", Name: "abc", Dollars: "4", Cents: "10"},
		listing{ID: "282493", Name: "gold plated tub", Dollars: "1200", Cents: "00"},
		listing{ID: "", Name: "mystery", Dollars: "1", Cents: "00"},
	)}}
	store := newMemStore()

	o, _, logs := newTestOrchestrator(d, store, Options{})
	sum := o.Run(context.Background(), []product.CategorisedURL{target})

	assert.Equal(t, 1, sum.Counters.New)
	assert.Equal(t, 2, sum.Counters.Rejected)
	assert.Equal(t, 1, sum.Counters.Unreadable)
	assert.Equal(t, 1, store.upserts)
	assert.Contains(t, logs.String(), `Rejected id="282493" name="Gold Plated Tub" price=1200.00`)
	assert.Contains(t, logs.String(), "rejected 2, unreadable 1")
}

func TestCountersString(t *testing.T) {
	c := Counters{New: 1, PriceChanged: 2, InfoChanged: 3, Unchanged: 4, Failed: 5, Rejected: 6, Unreadable: 7}
	assert.Equal(t, "new 1, price changed 2, info updated 3, unchanged 4, failed 5, rejected 6, unreadable 7", c.String())
}

func TestNewRequiresStoreOutsideDryRun(t *testing.T) {
	engine := reconcile.New(nil, time.UTC)
	d := &fakeDriver{}

	assert.Panics(t, func() { New(d, nil, engine, nil, Options{}) })
	assert.Panics(t, func() { New(d, newMemStore(), nil, nil, Options{}) })
	assert.NotPanics(t, func() { New(d, nil, nil, nil, Options{DryRun: true}) })
}

func TestRunReadFailureIsCountedAsFailed(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/ice-cream", Categories: []string{"ice-cream"}}
	d := &fakeDriver{pages: map[string]string{target.URL: categoryPage(makeListings("3", 2)...)}}
	store := newMemStore()
	store.failGet["3000"] = true

	o, _, _ := newTestOrchestrator(d, store, Options{})
	sum := o.Run(context.Background(), []product.CategorisedURL{target})

	assert.Equal(t, 1, sum.Counters.Failed)
	assert.Equal(t, 1, sum.Counters.New)
}

func TestRunDryRunBypassesStorage(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/ice-cream", Categories: []string{"ice-cream"}}
	d := &fakeDriver{pages: map[string]string{target.URL: categoryPage(makeListings("4", 3)...)}}

	o := New(d, nil, nil, nil, Options{DryRun: true, SourceSite: "countdown.co.nz"})
	out := &bytes.Buffer{}
	o.Out = out
	o.Sleep = (&recordingSleep{}).Sleep
	o.Logger = log.New(&bytes.Buffer{}, "", 0)

	sum := o.Run(context.Background(), []product.CategorisedURL{target})

	assert.Zero(t, sum.Counters.New)
	assert.Contains(t, out.String(), "Product Number 0")
	assert.Contains(t, out.String(), "/kg")
	assert.Equal(t, 5, strings.Count(out.String(), "\n"), "header, rule and three rows")
}

func TestRunReverseVisitsTargetsBackwards(t *testing.T) {
	a := product.CategorisedURL{URL: "https://shop.example/a", Categories: []string{"ice-cream"}}
	b := product.CategorisedURL{URL: "https://shop.example/b", Categories: []string{"ice-cream"}}
	c := product.CategorisedURL{URL: "https://shop.example/c", Categories: []string{"ice-cream"}}
	d := &fakeDriver{timeouts: map[string]bool{a.URL: true, b.URL: true, c.URL: true}}
	targets := []product.CategorisedURL{a, b, c}

	o, sleeper, _ := newTestOrchestrator(d, newMemStore(), Options{Reverse: true})
	o.Run(context.Background(), targets)

	assert.Equal(t, []string{c.URL, b.URL, a.URL}, d.navigated)
	assert.Equal(t, a.URL, targets[0].URL, "caller's slice must not be reordered")
	assert.Len(t, sleeper.calls, 2)
}

func TestRunMirrorsImagesForNewProducts(t *testing.T) {
	target := product.CategorisedURL{URL: "https://shop.example/ice-cream", Categories: []string{"ice-cream"}}
	d := &fakeDriver{pages: map[string]string{target.URL: categoryPage(makeListings("5", 2)...)}}
	store := newMemStore()
	mirror := &fakeMirror{}

	o, _, _ := newTestOrchestrator(d, store, Options{})
	o.images = mirror
	sum := o.Run(context.Background(), []product.CategorisedURL{target})
	assert.Equal(t, 2, sum.Counters.New)
	assert.ElementsMatch(t, []string{"5000", "5001"}, mirror.ids)

	// Unchanged products are not mirrored again.
	o.Run(context.Background(), []product.CategorisedURL{target})
	assert.Len(t, mirror.ids, 2)
}

func TestRunStopsWhenContextCancelledDuringDelay(t *testing.T) {
	a := product.CategorisedURL{URL: "https://shop.example/a", Categories: []string{"ice-cream"}}
	b := product.CategorisedURL{URL: "https://shop.example/b", Categories: []string{"ice-cream"}}
	d := &fakeDriver{timeouts: map[string]bool{a.URL: true, b.URL: true}}

	o, _, _ := newTestOrchestrator(d, newMemStore(), Options{})
	o.Sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	sum := o.Run(context.Background(), []product.CategorisedURL{a, b})

	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 1, d.closed)
}

func TestScraperAgainstStaticServer(t *testing.T) {
	ls := makeListings("6", 25)
	mux := http.NewServeMux()
	mux.HandleFunc("/shop/browse/frozen/ice-cream-sorbet/tubs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(categoryPage(ls...)))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	store := newMemStore()
	o, _, _ := newTestOrchestrator(browser.NewStatic("", browser.Options{}), store, Options{})
	sum := o.Run(context.Background(), []product.CategorisedURL{{
		URL:        ts.URL + "/shop/browse/frozen/ice-cream-sorbet/tubs?page=1&size=48&inStockProductsOnly=true",
		Categories: []string{"ice-cream"},
	}})

	assert.Equal(t, len(ls), sum.Counters.New)
	assert.Len(t, store.products, len(ls))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestRowFormatterAlternatesColour(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewRowFormatter(buf)
	f.colour = true
	p := product.Product{ID: "12", Name: "Milk", CurrentPrice: 3}
	f.Row(p)
	f.Row(p)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], ansiRowA))
	assert.True(t, strings.HasPrefix(lines[1], ansiRowB))

	plain := &bytes.Buffer{}
	NewRowFormatter(plain).Row(p)
	assert.NotContains(t, plain.String(), "\x1b[")
}
