package io

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/geniass/supermarket-prices/pkg/product"
)

// ListingQuery is appended to every category URL so one request returns a full page of in-stock products.
const ListingQuery = "page=1&size=48&inStockProductsOnly=true"

const categoriesToken = "categories="

// LoadTargets reads one scrape target per line from path.
func LoadTargets(path string) ([]product.CategorisedURL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadTargets(f)
}

// ReadTargets parses target lines. Blank lines and lines starting with '#' are ignored.
func ReadTargets(r io.Reader) ([]product.CategorisedURL, error) {
	var targets []product.CategorisedURL
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := ParseTarget(line)
		if err != nil {
			return targets, fmt.Errorf("line %d: %w", lineNo, err)
		}
		targets = append(targets, t)
	}
	if err := scanner.Err(); err != nil {
		return targets, err
	}
	return targets, nil
}

// ParseTarget turns a line such as
//
//	countdown.co.nz/shop/browse/frozen/ice-cream-sorbet/tubs categories=ice-cream
//
// into a normalised https URL and its categories. Without a categories= token
// the category is the last path segment of the URL.
func ParseTarget(line string) (product.CategorisedURL, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return product.CategorisedURL{}, fmt.Errorf("empty target")
	}

	raw := fields[0]
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimRight(raw, "/")

	u, err := url.Parse("https://" + raw)
	if err != nil {
		return product.CategorisedURL{}, fmt.Errorf("invalid url %q: %w", fields[0], err)
	}
	if !strings.Contains(u.Host, ".") {
		return product.CategorisedURL{}, fmt.Errorf("invalid url %q: missing host", fields[0])
	}
	u.RawQuery = ListingQuery

	var categories []string
	for _, f := range fields[1:] {
		if !strings.HasPrefix(f, categoriesToken) {
			continue
		}
		for _, c := range strings.Split(strings.TrimPrefix(f, categoriesToken), ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
	}
	if len(categories) == 0 {
		last := path.Base(u.Path)
		if last == "/" || last == "." || last == "" {
			return product.CategorisedURL{}, fmt.Errorf("no category for %q", fields[0])
		}
		categories = []string{last}
	}

	return product.CategorisedURL{URL: u.String(), Categories: categories}, nil
}

// Categories lists every category tag declared by targets, first occurrence first.
func Categories(targets []product.CategorisedURL) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range targets {
		for _, c := range t.Categories {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
