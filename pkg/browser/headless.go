package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Headless drives a Chromium page through the DevTools protocol.
type Headless struct {
	opts    Options
	browser *rod.Browser
	page    *rod.Page
	router  *rod.HijackRouter
}

// NewHeadless connects to the browser at controlURL, or launches a local one
// when controlURL is empty.
func NewHeadless(ctx context.Context, controlURL string, opts Options) (*Headless, error) {
	opts = opts.withDefaults()

	b := rod.New().Context(ctx)
	if controlURL != "" {
		b = b.ControlURL(controlURL)
	}
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		if opts.Exclusion.Blocks(string(h.Request.Type()), h.Request.URL()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("install request filter: %w", err)
	}
	go router.Run()

	return &Headless{opts: opts, browser: b, page: page, router: router}, nil
}

func (h *Headless) Navigate(ctx context.Context, url string) (Page, error) {
	ctx, cancel := withDefaultTimeout(ctx, h.opts)
	defer cancel()

	p := h.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return nil, asTimeout(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	return &headlessPage{page: h.page, selector: h.opts.ListingSelector}, nil
}

func (h *Headless) Close() error {
	if err := h.router.Stop(); err != nil {
		_ = h.browser.Close()
		return fmt.Errorf("stop request filter: %w", err)
	}
	return h.browser.Close()
}

type headlessPage struct {
	page     *rod.Page
	selector string
}

func (p *headlessPage) WaitForListings(ctx context.Context) error {
	if _, err := p.page.Context(ctx).Element(p.selector); err != nil {
		return asTimeout(ctx, fmt.Errorf("wait for %q: %w", p.selector, err))
	}
	return nil
}

func (p *headlessPage) ListingElements() ([]*goquery.Selection, error) {
	html, err := p.page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return selections(doc.Find(p.selector)), nil
}
