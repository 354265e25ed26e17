package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/geniass/supermarket-prices/pkg/browser"
	"github.com/geniass/supermarket-prices/pkg/images"
	"github.com/geniass/supermarket-prices/pkg/product"
	"github.com/geniass/supermarket-prices/pkg/storage"
)

var tracer = otel.Tracer("github.com/geniass/supermarket-prices/pkg/scraper")

type Reconciler interface {
	Reconcile(scraped product.Product, existing *product.Product) (product.UpsertDecision, product.Product)
}

type ImageMirror interface {
	MirrorImage(ctx context.Context, productID, imageURL string) (images.Result, error)
}

type Options struct {
	SourceSite string
	Selectors  Selectors
	// PageTimeout bounds navigation plus the wait for the listing container.
	PageTimeout time.Duration
	// PageDelay is slept between consecutive pages.
	PageDelay time.Duration
	// Workers caps concurrent listings per page.
	Workers int
	// DryRun prints products instead of reconciling and storing them.
	DryRun  bool
	Reverse bool
}

// Orchestrator visits category pages one at a time and pushes every listing
// through extraction, validation, reconciliation, and storage.
type Orchestrator struct {
	driver browser.Driver
	store  storage.Store
	engine Reconciler
	images ImageMirror
	opts   Options

	Logger *log.Logger
	// Out receives dry-run tables; nil means stdout.
	Out   io.Writer
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	// OnPhase, if set, is called on every phase transition with the target index.
	OnPhase func(Phase, int)
}

// New builds an orchestrator. store and engine may be nil in dry-run mode,
// mirror may be nil to disable image mirroring. It panics if store or engine
// is missing outside dry-run mode.
func New(driver browser.Driver, store storage.Store, engine Reconciler, mirror ImageMirror, opts Options) *Orchestrator {
	if !opts.DryRun && (store == nil || engine == nil) {
		panic("scraper: store and reconciler are required unless DryRun is set")
	}
	if opts.Selectors == (Selectors{}) {
		opts.Selectors = DefaultSelectors
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Orchestrator{
		driver: driver,
		store:  store,
		engine: engine,
		images: mirror,
		opts:   opts,
		Sleep:  sleepContext,
		Now:    time.Now,
	}
}

// Run scrapes targets in order and releases the driver when done.
func (o *Orchestrator) Run(ctx context.Context, targets []product.CategorisedURL) Summary {
	sum := Summary{RunID: uuid.NewString()}
	ctx, span := tracer.Start(ctx, "scrape.run", trace.WithAttributes(
		attribute.String("run.id", sum.RunID),
		attribute.Int("run.targets", len(targets)),
		attribute.Bool("run.dry_run", o.opts.DryRun),
	))
	defer span.End()

	o.phase(Idle, 0)
	start := o.Now()

	if o.opts.Reverse {
		targets = slices.Clone(targets)
		slices.Reverse(targets)
	}

	o.logger().Printf("run %s: %d pages to be scraped, %s delay between each", sum.RunID, len(targets), o.opts.PageDelay)

	for i, target := range targets {
		o.phase(Scraping, i)
		res := o.scrapePage(ctx, i, len(targets), target)

		sum.Pages++
		if res.Skipped {
			sum.PagesSkipped++
		}
		sum.Counters.Add(res.Counters)

		if i == len(targets)-1 {
			break
		}
		o.phase(Delaying, i)
		if err := o.Sleep(ctx, o.opts.PageDelay); err != nil {
			o.logger().Printf("stopping before page %d: %v", i+2, err)
			break
		}
	}

	if err := o.driver.Close(); err != nil {
		o.logger().Printf("closing browser: %v", err)
	}

	sum.Elapsed = o.Now().Sub(start)
	o.phase(Completed, len(targets))
	o.logger().Printf("run %s: %d pages (%d skipped), %s, took %s",
		sum.RunID, sum.Pages, sum.PagesSkipped, sum.Counters, sum.Elapsed.Round(time.Second))
	return sum
}

func (o *Orchestrator) scrapePage(ctx context.Context, i, n int, target product.CategorisedURL) PageResult {
	ctx, span := tracer.Start(ctx, "scrape.page", trace.WithAttributes(attribute.String("page.url", target.URL)))
	defer span.End()

	res := PageResult{Target: target}
	o.logger().Printf("[%d/%d] Visiting %s", i+1, n, target.URL)

	listings, err := o.load(ctx, target.URL)
	if err != nil {
		res.Skipped = true
		span.RecordError(err)
		span.SetStatus(codes.Error, "page skipped")
		o.logger().Printf("Skipping %s: %v", target.URL, err)
		return res
	}
	res.Listings = len(listings)

	var rows *RowFormatter
	if o.opts.DryRun {
		rows = NewRowFormatter(o.out())
		rows.Header()
	}

	t := &tally{}
	g := errgroup.Group{}
	g.SetLimit(o.opts.Workers)
	for _, el := range listings {
		g.Go(func() error {
			o.processListing(ctx, el, target, t, rows)
			return nil
		})
	}
	_ = g.Wait()

	res.Counters = t.counters()
	span.SetAttributes(attribute.Int("page.listings", res.Listings))
	o.logger().Printf("%d products on page: %s", res.Listings, res.Counters)
	return res
}

func (o *Orchestrator) load(ctx context.Context, url string) ([]*goquery.Selection, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.PageTimeout)
	defer cancel()

	page, err := o.driver.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := page.WaitForListings(ctx); err != nil {
		return nil, err
	}
	return page.ListingElements()
}

func (o *Orchestrator) processListing(ctx context.Context, el *goquery.Selection, target product.CategorisedURL, t *tally, rows *RowFormatter) {
	raw, ok := ExtractRawFields(el, o.opts.Selectors)
	if !ok {
		t.unreadable()
		return
	}
	p, err := raw.Product(target.Categories, o.opts.SourceSite, o.Now())
	if err != nil {
		t.unreadable()
		o.logger().Printf("Unreadable listing %q: %v", raw.ID, err)
		return
	}
	if err := product.Validate(p); err != nil {
		t.rejected()
		o.logger().Printf("Rejected id=%q name=%q price=%.2f: %v", p.ID, p.Name, p.CurrentPrice, err)
		return
	}

	if rows != nil {
		rows.Row(p)
		return
	}

	decision := o.persist(ctx, p)
	t.decision(decision)

	if o.images != nil && p.ImageURL != "" && (decision == product.NewProduct || decision == product.PriceChanged) {
		res, err := o.images.MirrorImage(ctx, p.ID, p.ImageURL)
		if err != nil {
			o.logger().Printf("Image for %s: %s: %v", p.ID, res, err)
		} else if res != images.Success && res != images.AlreadyExists {
			o.logger().Printf("Image for %s: %s", p.ID, res)
		}
	}
}

// persist reconciles p against its stored record and writes the result.
// Every failure is reported as product.Failed.
func (o *Orchestrator) persist(ctx context.Context, p product.Product) product.UpsertDecision {
	var existing *product.Product
	stored, err := o.store.Get(ctx, p.ID)
	switch {
	case err == nil:
		existing = &stored
	case errors.Is(err, storage.ErrNotFound):
	default:
		o.logger().Printf("Failed to read %s: %v", p.ID, err)
		return product.Failed
	}

	decision, out := o.engine.Reconcile(p, existing)
	if decision == product.Failed {
		o.logger().Printf("Failed to reconcile %s %q", p.ID, p.Name)
		return product.Failed
	}

	decision, err = o.store.Upsert(ctx, decision, out)
	if err != nil {
		o.logger().Printf("Failed to store %s: %v", p.ID, err)
		return product.Failed
	}

	switch decision {
	case product.NewProduct:
		o.logger().Printf("  New product: %s - $%.2f", out.Name, out.CurrentPrice)
	case product.PriceChanged:
		o.logger().Printf("  Price changed: %s - was $%.2f now $%.2f", out.Name, existing.CurrentPrice, out.CurrentPrice)
	case product.InfoChanged:
		o.logger().Printf("  Categories updated: %s - %v", out.Name, out.Category)
	}
	return decision
}

func (o *Orchestrator) phase(p Phase, i int) {
	if o.OnPhase != nil {
		o.OnPhase(p, i)
	}
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

func (o *Orchestrator) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (c Counters) String() string {
	return fmt.Sprintf("new %d, price changed %d, info updated %d, unchanged %d, failed %d, rejected %d, unreadable %d",
		c.New, c.PriceChanged, c.InfoChanged, c.Unchanged, c.Failed, c.Rejected, c.Unreadable)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
