package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// Static fetches pages over plain HTTP without running scripts. It suits
// retailers that render listings server side.
type Static struct {
	opts  Options
	colly *colly.Collector
}

// cacheDir can be empty to disable caching.
func NewStatic(cacheDir string, opts Options) *Static {
	opts = opts.withDefaults()

	options := []colly.CollectorOption{
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	}
	if cacheDir != "" {
		options = append(options, colly.CacheDir(cacheDir))
	}

	c := colly.NewCollector(options...)
	c.DisableCookies()
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	})
	return &Static{opts: opts, colly: c}
}

func (s *Static) Navigate(ctx context.Context, url string) (Page, error) {
	ctx, cancel := withDefaultTimeout(ctx, s.opts)
	defer cancel()

	deadline, _ := ctx.Deadline()
	c := s.colly.Clone()
	c.SetRequestTimeout(time.Until(deadline))

	page := &staticPage{selector: s.opts.ListingSelector}
	c.OnHTML(s.opts.ListingSelector, func(e *colly.HTMLElement) {
		page.listings = append(page.listings, e.DOM)
	})

	if err := c.Visit(url); err != nil {
		return nil, asTimeout(ctx, fmt.Errorf("visit %s: %w", url, err))
	}
	c.Wait()
	return page, nil
}

func (s *Static) Close() error {
	return nil
}

type staticPage struct {
	selector string
	listings []*goquery.Selection
}

// WaitForListings reports ErrTimeout when the fetched document never
// contained the listing container; static HTML cannot materialize it later.
func (p *staticPage) WaitForListings(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return asTimeout(ctx, err)
	}
	if len(p.listings) == 0 {
		return fmt.Errorf("%w: no elements match %q", ErrTimeout, p.selector)
	}
	return nil
}

func (p *staticPage) ListingElements() ([]*goquery.Selection, error) {
	return p.listings, nil
}
