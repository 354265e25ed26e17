package browser

import (
	"net/url"
	"strings"
)

// ExclusionPolicy decides which sub-resources a headless page never fetches.
type ExclusionPolicy struct {
	// ResourceTypes holds lower-cased CDP resource types, e.g. "image".
	ResourceTypes map[string]bool
	// Hosts are blocked along with all of their subdomains.
	Hosts []string
}

func DefaultExclusionPolicy() ExclusionPolicy {
	return ExclusionPolicy{
		ResourceTypes: map[string]bool{
			"image":      true,
			"stylesheet": true,
			"font":       true,
			"media":      true,
		},
		Hosts: []string{
			"googletagmanager.com",
			"google-analytics.com",
			"doubleclick.net",
			"facebook.net",
			"hotjar.com",
		},
	}
}

func (p ExclusionPolicy) Blocks(resourceType string, u *url.URL) bool {
	if p.ResourceTypes[strings.ToLower(resourceType)] {
		return true
	}
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
