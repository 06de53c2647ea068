// Package search finds marketplace candidates for a listing title.
package search

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"retailradar/internal/browser"
)

// Candidate is one marketplace search result considered for matching.
// ImageURL is nil when no image could be extracted; such candidates are kept
// but never presented to the oracle.
type Candidate struct {
	URL      string
	Title    string
	ImageURL *string
}

// Searcher is the contract the pipeline consumes.
type Searcher interface {
	Search(ctx context.Context, queryTitle string) ([]Candidate, error)
}

const (
	resultSelector = ".s-main-slot .s-result-item"

	defaultMaxResults = 10
)

// itemIDPattern matches the 10-character marketplace item ID embedded in a
// listing URL path.
var itemIDPattern = regexp.MustCompile(`/([A-Z0-9]{10})(?:[/?]|$)`)

// ExtractItemID pulls the marketplace item ID out of a listing URL. Empty
// when the URL carries none.
func ExtractItemID(rawURL string) string {
	m := itemIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// MarketplaceSearch runs title searches through a browser session and parses
// the result page. Extraction per result is imprecise by design: each field
// tries a primary selector and falls back to a looser one.
type MarketplaceSearch struct {
	Session    browser.Session
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
	Logger     *zap.Logger
}

func (s *MarketplaceSearch) Search(ctx context.Context, queryTitle string) ([]Candidate, error) {
	if s == nil || s.Session == nil {
		return nil, fmt.Errorf("search session is nil")
	}
	base := strings.TrimRight(s.BaseURL, "/")
	searchURL := base + "/s?k=" + url.QueryEscape(queryTitle)

	tab, err := s.Session.OpenPage(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("open search page: %w", err)
	}
	defer tab.Close()

	if err := tab.WaitForSelector(ctx, resultSelector, s.Timeout); err != nil {
		return nil, err
	}
	html, err := tab.PageSource(ctx)
	if err != nil {
		return nil, err
	}

	max := s.MaxResults
	if max <= 0 {
		max = defaultMaxResults
	}
	candidates, err := ParseResults(html, base, max)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug("marketplace search done",
			zap.String("query", queryTitle),
			zap.Int("candidates", len(candidates)),
		)
	}
	return candidates, nil
}

// ParseResults extracts up to max candidates from a search result page.
// Results missing both URL and title are dropped; a missing image keeps the
// candidate with a nil image. Result hrefs are relative in raw page source,
// so they are resolved against baseURL before the candidate is built.
func ParseResults(pageHTML, baseURL string, max int) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		base = nil
	}

	var out []Candidate
	doc.Find(resultSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if max > 0 && len(out) >= max {
			return false
		}

		href, ok := sel.Find("a.a-link-normal.s-no-outline").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			href, ok = sel.Find("a.a-link-normal").First().Attr("href")
		}
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}

		title := strings.TrimSpace(sel.Find("span.a-size-base-plus.a-color-base.a-text-normal").First().Text())
		if title == "" {
			title = strings.TrimSpace(sel.Find("span.a-text-normal").First().Text())
		}
		if title == "" {
			return true
		}

		cand := Candidate{URL: resolveHref(base, strings.TrimSpace(href)), Title: title}
		if src, ok := sel.Find("img.s-image").First().Attr("src"); ok && strings.TrimSpace(src) != "" {
			img := strings.TrimSpace(src)
			cand.ImageURL = &img
		}
		out = append(out, cand)
		return true
	})
	return out, nil
}

// resolveHref makes a result link absolute. A driven browser hands back
// resolved URLs; parsing raw page source yields the literal attribute, so a
// relative href must be joined with the search origin to be storable.
func resolveHref(base *url.URL, href string) string {
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var _ Searcher = (*MarketplaceSearch)(nil)
