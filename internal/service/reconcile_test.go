package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"retailradar/internal/browser"
	"retailradar/internal/config"
	"retailradar/internal/extractor"
	"retailradar/internal/repository"
	"retailradar/internal/search"
)

type fakeTab struct {
	html     string
	waitErrs []error
	reloads  int
	closed   bool
}

func (t *fakeTab) Navigate(ctx context.Context, url string) error { return nil }

func (t *fakeTab) WaitForSelector(ctx context.Context, css string, timeout time.Duration) error {
	if len(t.waitErrs) == 0 {
		return nil
	}
	err := t.waitErrs[0]
	t.waitErrs = t.waitErrs[1:]
	return err
}

func (t *fakeTab) PageSource(ctx context.Context) (string, error) { return t.html, nil }
func (t *fakeTab) Reload(ctx context.Context) error               { t.reloads++; return nil }
func (t *fakeTab) Close()                                         { t.closed = true }

type fakePage struct {
	html     string
	waitErrs []error
}

type fakeSession struct {
	pages  map[string]fakePage
	opened []string
	tabs   []*fakeTab
}

func (s *fakeSession) OpenPage(ctx context.Context, url string) (browser.Tab, error) {
	s.opened = append(s.opened, url)
	page, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page registered for %s", url)
	}
	tab := &fakeTab{html: page.html, waitErrs: append([]error(nil), page.waitErrs...)}
	s.tabs = append(s.tabs, tab)
	return tab, nil
}

func (s *fakeSession) Close() {}

type fakeExtractor struct {
	source   string
	harvest  []string
	listings map[string]extractor.Listing
}

func (f *fakeExtractor) Source() string              { return f.source }
func (f *fakeExtractor) ListingPageSelector() string { return "ul.deals" }
func (f *fakeExtractor) DetailSelector() string      { return "h1.title" }

func (f *fakeExtractor) HarvestListingURLs(pageHTML string, max int) ([]string, error) {
	if len(f.harvest) > max {
		return f.harvest[:max], nil
	}
	return f.harvest, nil
}

func (f *fakeExtractor) Extract(pageHTML, productURL string) (extractor.Listing, error) {
	listing, ok := f.listings[productURL]
	if !ok {
		return extractor.Listing{}, fmt.Errorf("%w: title", extractor.ErrMissingRequiredField)
	}
	return listing, nil
}

type fakeSearcher struct {
	candidates []search.Candidate
	err        error
	queries    []string
}

func (f *fakeSearcher) Search(ctx context.Context, queryTitle string) ([]search.Candidate, error) {
	f.queries = append(f.queries, queryTitle)
	return f.candidates, f.err
}

type fakeOracle struct {
	indices []int
	err     error
	refs    []string
	images  [][]string
}

func (f *fakeOracle) ResolveMatches(ctx context.Context, ref string, urls []string) ([]int, error) {
	f.refs = append(f.refs, ref)
	f.images = append(f.images, append([]string(nil), urls...))
	return f.indices, f.err
}

func strPtr(s string) *string { return &s }

const (
	indexURL  = "https://retailer.example.com/deals"
	detailURL = "https://retailer.example.com/p/soap"
)

func newTestPipeline(repo *stubRepo, session *fakeSession, searcher *fakeSearcher, oracle *fakeOracle) *ReconcilePipeline {
	return &ReconcilePipeline{
		Store:   repo,
		Session: session,
		Search:  searcher,
		Oracle:  oracle,
		Extractors: map[string]extractor.Extractor{
			"walgreens": &fakeExtractor{
				source:  "walgreens",
				harvest: []string{detailURL},
				listings: map[string]extractor.Listing{
					detailURL: {
						Title:      "Dial Gold Bar Soap",
						SalePrice:  "$3.49",
						ImageURLs:  []string{"https://img.example.com/soap.jpg"},
						ProductURL: detailURL,
						Source:     "walgreens",
					},
				},
			},
		},
		Scrape: config.ScrapeConfig{
			Sources:         map[string]string{"walgreens": indexURL},
			MaxListings:     10,
			NavigateRetries: 3,
		},
		Browser: config.BrowserConfig{SelectorTimeout: time.Millisecond},
		Logger:  zap.NewNop(),
	}
}

func newTestSession() *fakeSession {
	return &fakeSession{pages: map[string]fakePage{
		indexURL:  {html: "<ul class=\"deals\"></ul>"},
		detailURL: {html: "<h1 class=\"title\">Dial Gold Bar Soap</h1>"},
	}}
}

func TestRunMatchesNewProduct(t *testing.T) {
	repo := newStubRepo()
	searcher := &fakeSearcher{candidates: []search.Candidate{
		{URL: "https://market.example.com/dp/B0AAAAAAA1", Title: "Soap 3-pack", ImageURL: strPtr("https://img/c1.jpg")},
		{URL: "https://market.example.com/dp/B0AAAAAAA2", Title: "Dial Gold Soap", ImageURL: strPtr("https://img/c2.jpg")},
		{URL: "https://market.example.com/dp/B0AAAAAAA3", Title: "Other soap"}, // no image
	}}
	oracle := &fakeOracle{indices: []int{2}}
	pipeline := newTestPipeline(repo, newTestSession(), searcher, oracle)

	results, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	got := results[0]
	if got.NewProducts != 1 || got.Items != 1 || got.Matches != 1 || got.Skipped != 0 {
		t.Fatalf("result = %+v", got)
	}

	// The oracle sees only candidates that carry an image.
	if len(oracle.images) != 1 || len(oracle.images[0]) != 2 {
		t.Fatalf("oracle images = %v", oracle.images)
	}
	if oracle.refs[0] != "https://img.example.com/soap.jpg" {
		t.Fatalf("oracle ref = %q", oracle.refs[0])
	}

	item, err := repo.GetMarketplaceItemByItemID(context.Background(), "B0AAAAAAA2")
	if err != nil || item == nil {
		t.Fatalf("item not stored: %v", err)
	}
	if item.Scored() {
		t.Fatalf("fresh item must start unscored")
	}
	matches, _ := repo.ListMatches(context.Background(), repository.ListMatchesParams{})
	if len(matches) != 1 {
		t.Fatalf("matches = %d", len(matches))
	}

	state, err := repo.GetScrapeState(context.Background(), "walgreens")
	if err != nil || state == nil || state.LastSuccessAt == nil || state.LastError != nil {
		t.Fatalf("scrape state = %+v, err = %v", state, err)
	}
}

func TestRunShortCircuitsKnownProduct(t *testing.T) {
	repo := newStubRepo()
	searcher := &fakeSearcher{candidates: []search.Candidate{
		{URL: "https://market.example.com/dp/B0AAAAAAA1", Title: "Soap", ImageURL: strPtr("https://img/c1.jpg")},
	}}
	oracle := &fakeOracle{indices: []int{1}}
	pipeline := newTestPipeline(repo, newTestSession(), searcher, oracle)

	if _, err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	pipeline.Session = newTestSession()
	results, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if got := results[0]; got.Unchanged != 1 || got.NewProducts != 0 {
		t.Fatalf("result = %+v", got)
	}
	// Same price again: no new search or oracle traffic.
	if len(searcher.queries) != 1 || len(oracle.refs) != 1 {
		t.Fatalf("queries = %d, oracle calls = %d", len(searcher.queries), len(oracle.refs))
	}
}

func TestRunCountsPriceChange(t *testing.T) {
	repo := newStubRepo()
	searcher := &fakeSearcher{}
	oracle := &fakeOracle{}
	pipeline := newTestPipeline(repo, newTestSession(), searcher, oracle)

	old := "$4.99"
	repo.UpsertObservedProduct(context.Background(), listingWithPrice(old))

	results, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := results[0]; got.PriceChanges != 1 || got.NewProducts != 0 {
		t.Fatalf("result = %+v", got)
	}
	// A price change never re-triggers matching.
	if len(searcher.queries) != 0 {
		t.Fatalf("search called on price change")
	}

	product, _ := repo.FindProductByURL(context.Background(), detailURL)
	if product == nil || product.LastSeenPrice == nil || *product.LastSeenPrice != "$3.49" {
		t.Fatalf("price not updated: %+v", product.LastSeenPrice)
	}
}

func TestRunSkipsPageAfterRetryBudget(t *testing.T) {
	repo := newStubRepo()
	session := newTestSession()
	timeout := fmt.Errorf("%w: selector", browser.ErrNavigationTimeout)
	session.pages[detailURL] = fakePage{
		html:     "<h1 class=\"title\">x</h1>",
		waitErrs: []error{timeout, timeout, timeout},
	}
	pipeline := newTestPipeline(repo, session, &fakeSearcher{}, &fakeOracle{})

	results, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := results[0]; got.Skipped != 1 || got.NewProducts != 0 {
		t.Fatalf("result = %+v", got)
	}
	// Two reloads for three attempts, then the tab is released.
	last := session.tabs[len(session.tabs)-1]
	if last.reloads != 2 || !last.closed {
		t.Fatalf("reloads = %d, closed = %v", last.reloads, last.closed)
	}
}

func TestRunDiscardsOutOfRangeOracleIndices(t *testing.T) {
	repo := newStubRepo()
	searcher := &fakeSearcher{candidates: []search.Candidate{
		{URL: "https://market.example.com/dp/B0AAAAAAA1", Title: "Soap", ImageURL: strPtr("https://img/c1.jpg")},
	}}
	oracle := &fakeOracle{indices: []int{0, 1, 2, -3}}
	pipeline := newTestPipeline(repo, newTestSession(), searcher, oracle)

	results, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := results[0]; got.Matches != 1 || got.Items != 1 {
		t.Fatalf("result = %+v", got)
	}
}

func TestRunOracleFailureRecordsNoMatches(t *testing.T) {
	repo := newStubRepo()
	searcher := &fakeSearcher{candidates: []search.Candidate{
		{URL: "https://market.example.com/dp/B0AAAAAAA1", Title: "Soap", ImageURL: strPtr("https://img/c1.jpg")},
	}}
	oracle := &fakeOracle{err: fmt.Errorf("oracle down")}
	pipeline := newTestPipeline(repo, newTestSession(), searcher, oracle)

	results, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Product is still recorded; only the matching step is lost.
	if got := results[0]; got.NewProducts != 1 || got.Matches != 0 || got.Skipped != 0 {
		t.Fatalf("result = %+v", got)
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	pipeline := newTestPipeline(newStubRepo(), newTestSession(), &fakeSearcher{}, &fakeOracle{})
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()

	if _, err := pipeline.Run(context.Background()); err == nil {
		t.Fatalf("expected overlap rejection")
	}
}

func listingWithPrice(price string) repository.ObservedListing {
	return repository.ObservedListing{
		Title:      "Dial Gold Bar Soap",
		Price:      price,
		ImageURLs:  []string{"https://img.example.com/soap.jpg"},
		ProductURL: detailURL,
		Source:     "walgreens",
	}
}
