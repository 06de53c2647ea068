// Package extractor turns raw retailer pages into normalized listings.
// Retailer-specific selectors live in per-retailer implementations; the
// pipeline only sees the Extractor contract.
package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels substituted when an optional price element is absent. Stored
// verbatim, so "listing never had a regular price" stays distinguishable
// from an empty scrape.
const (
	NoRegularPrice = "No regular price"
	NoSalesPrice   = "No sales price"
)

// ErrMissingRequiredField is returned only when product URL or title cannot
// be located. Everything else degrades to sentinels.
var ErrMissingRequiredField = errors.New("missing required field")

// Listing is a normalized scraped listing. Prices keep the observed currency
// string untouched; formats vary by retailer and are never parsed. ImageURLs
// is ordered with the canonical reference image first.
type Listing struct {
	Title        string
	RegularPrice string
	SalePrice    string
	ImageURLs    []string
	ProductURL   string
	Source       string
}

// Extractor is the shared per-retailer contract.
type Extractor interface {
	// Source tags rows written for this retailer.
	Source() string
	// ListingPageSelector is waited for on the promotions index page.
	ListingPageSelector() string
	// DetailSelector is waited for on a product detail page.
	DetailSelector() string
	// HarvestListingURLs pulls up to max product page URLs from the
	// promotions index page.
	HarvestListingURLs(pageHTML string, max int) ([]string, error)
	// Extract normalizes a product detail page.
	Extract(pageHTML, productURL string) (Listing, error)
}

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingRequiredField, name)
}

// normalizeImageURL rewrites protocol-relative and plain-HTTP image URLs to
// absolute HTTPS form.
func normalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "http://"):
		return "https://" + strings.TrimPrefix(raw, "http://")
	default:
		return raw
	}
}

// collapseText flattens an element's text the way a browser renders it:
// fragments joined by single spaces.
func collapseText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
