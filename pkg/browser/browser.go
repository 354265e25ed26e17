// Package browser loads retailer category pages and hands their listing
// elements to the scraper as goquery selections.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var ErrTimeout = errors.New("timed out loading page")

// DefaultListingSelector matches one product card on a category page.
const DefaultListingSelector = "cdx-card product-stamp-grid div.product-entry"

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Driver navigates a single process-wide page. Implementations are not safe
// for concurrent navigation.
type Driver interface {
	Navigate(ctx context.Context, url string) (Page, error)
	Close() error
}

// Page is a loaded category page.
type Page interface {
	// WaitForListings blocks until the listing container exists or ctx is done.
	WaitForListings(ctx context.Context) error
	ListingElements() ([]*goquery.Selection, error)
}

type Options struct {
	ListingSelector string
	UserAgent       string
	// Timeout bounds navigation when the caller's context has no deadline.
	Timeout   time.Duration
	Exclusion ExclusionPolicy
}

func (o Options) withDefaults() Options {
	if o.ListingSelector == "" {
		o.ListingSelector = DefaultListingSelector
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

func selections(s *goquery.Selection) []*goquery.Selection {
	out := make([]*goquery.Selection, 0, s.Length())
	s.Each(func(_ int, el *goquery.Selection) {
		out = append(out, el)
	})
	return out
}

// asTimeout tags deadline and network timeout errors with ErrTimeout.
func asTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func withDefaultTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.Timeout)
}
