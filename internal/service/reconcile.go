package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"retailradar/internal/browser"
	"retailradar/internal/config"
	"retailradar/internal/extractor"
	"retailradar/internal/models"
	"retailradar/internal/repository"
	"retailradar/internal/search"
)

// MatchOracle decides which candidate images depict the same physical
// product as the reference image. Indices are 1-based into the presented
// candidate image list.
type MatchOracle interface {
	ResolveMatches(ctx context.Context, referenceImageURL string, candidateImageURLs []string) ([]int, error)
}

// ReconcilePipeline walks each retailer's promotions page, normalizes its
// listings, and anchors never-seen products to marketplace items via
// search + oracle matching. Already-known URLs short-circuit after the
// price/stock observation: neither a price change nor an unchanged price
// re-triggers search or matching.
type ReconcilePipeline struct {
	Store      repository.CatalogRepository
	Session    browser.Session
	Search     search.Searcher
	Oracle     MatchOracle
	Extractors map[string]extractor.Extractor
	Scrape     config.ScrapeConfig
	Browser    config.BrowserConfig
	Logger     *zap.Logger

	mu sync.Mutex
}

type RunResult struct {
	Source       string `json:"source"`
	Listings     int    `json:"listings"`
	NewProducts  int    `json:"new_products"`
	PriceChanges int    `json:"price_changes"`
	Unchanged    int    `json:"unchanged"`
	Items        int    `json:"items"`
	Matches      int    `json:"matches"`
	Skipped      int    `json:"skipped"`
}

// Run reconciles every configured source sequentially. One run owns the
// browser session exclusively; overlapping invocations are rejected rather
// than queued so cron ticks cannot pile up on a slow scrape.
func (p *ReconcilePipeline) Run(ctx context.Context) ([]RunResult, error) {
	if p == nil || p.Store == nil || p.Session == nil {
		return nil, errors.New("pipeline is not wired")
	}
	if !p.mu.TryLock() {
		return nil, errors.New("reconcile run already in progress")
	}
	defer p.mu.Unlock()

	sources := make([]string, 0, len(p.Scrape.Sources))
	for source := range p.Scrape.Sources {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var results []RunResult
	for _, source := range sources {
		ex, ok := p.Extractors[source]
		if !ok {
			p.logWarn("no extractor registered for source", nil, zap.String("source", source))
			continue
		}
		result, err := p.runSource(ctx, ex, p.Scrape.Sources[source])
		p.writeScrapeState(ctx, source, result, err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return results, err
			}
			p.logWarn("source run failed", err, zap.String("source", source))
		}
		results = append(results, result)
	}
	return results, nil
}

func (p *ReconcilePipeline) runSource(ctx context.Context, ex extractor.Extractor, indexURL string) (RunResult, error) {
	result := RunResult{Source: ex.Source()}

	urls, err := p.harvestIndex(ctx, ex, indexURL)
	if err != nil {
		return result, err
	}
	result.Listings = len(urls)

	for _, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.processListing(ctx, ex, pageURL, &result); err != nil {
			// Every failure is scoped to the single listing; log and move on.
			result.Skipped++
			p.logWarn("listing skipped", err,
				zap.String("source", ex.Source()),
				zap.String("url", pageURL),
			)
		}
	}
	return result, nil
}

// harvestIndex opens the promotions index page and pulls listing URLs.
// The tab is scoped to this call so the session is free for detail pages.
func (p *ReconcilePipeline) harvestIndex(ctx context.Context, ex extractor.Extractor, indexURL string) ([]string, error) {
	tab, err := p.openWithRetry(ctx, indexURL, ex.ListingPageSelector())
	if err != nil {
		return nil, fmt.Errorf("open index page: %w", err)
	}
	defer tab.Close()

	html, err := tab.PageSource(ctx)
	if err != nil {
		return nil, err
	}
	max := p.Scrape.MaxListings
	if max <= 0 {
		max = 10
	}
	return ex.HarvestListingURLs(html, max)
}

func (p *ReconcilePipeline) processListing(ctx context.Context, ex extractor.Extractor, pageURL string, result *RunResult) error {
	listing, err := p.extractListing(ctx, ex, pageURL)
	if err != nil {
		return err
	}

	product, transition, err := p.Store.UpsertObservedProduct(ctx, repository.ObservedListing{
		Title:      listing.Title,
		Price:      listing.SalePrice,
		ImageURLs:  listing.ImageURLs,
		ProductURL: listing.ProductURL,
		Source:     listing.Source,
	})
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	switch transition {
	case repository.TransitionUnchanged:
		result.Unchanged++
		return nil
	case repository.TransitionPriceChanged:
		result.PriceChanges++
		p.logInfo("price changed",
			zap.String("url", product.ProductURL),
			zap.String("price", listing.SalePrice),
		)
		return nil
	}

	result.NewProducts++
	return p.matchNewProduct(ctx, product, listing, result)
}

func (p *ReconcilePipeline) extractListing(ctx context.Context, ex extractor.Extractor, pageURL string) (extractor.Listing, error) {
	tab, err := p.openWithRetry(ctx, pageURL, ex.DetailSelector())
	if err != nil {
		return extractor.Listing{}, err
	}
	defer tab.Close()

	html, err := tab.PageSource(ctx)
	if err != nil {
		return extractor.Listing{}, err
	}
	return ex.Extract(html, pageURL)
}

// matchNewProduct runs the search -> oracle -> insert sequence for a product
// seen for the first time. The oracle is best-effort: its failure records no
// matches and never aborts the run.
func (p *ReconcilePipeline) matchNewProduct(ctx context.Context, product *models.Product, listing extractor.Listing, result *RunResult) error {
	if p.Search == nil || p.Oracle == nil {
		return nil
	}
	if len(listing.ImageURLs) == 0 {
		p.logInfo("no reference image, skipping matching", zap.String("url", product.ProductURL))
		return nil
	}

	candidates, err := p.Search.Search(ctx, listing.Title)
	if err != nil {
		p.logWarn("candidate search failed", err, zap.String("url", product.ProductURL))
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	// Only candidates carrying an image are presented to the oracle; keep
	// the mapping from presentation order back to the full candidate list.
	presented := make([]search.Candidate, 0, len(candidates))
	images := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		if cand.ImageURL == nil {
			continue
		}
		presented = append(presented, cand)
		images = append(images, *cand.ImageURL)
	}
	if len(presented) == 0 {
		return nil
	}

	indices, err := p.Oracle.ResolveMatches(ctx, listing.ImageURLs[0], images)
	if err != nil {
		p.logWarn("match oracle failed", err, zap.String("url", product.ProductURL))
		return nil
	}

	for _, idx := range indices {
		// The oracle reply is untrusted; out-of-range indices are discarded.
		if idx < 1 || idx > len(presented) {
			p.logWarn("oracle index out of range", nil,
				zap.Int("index", idx),
				zap.Int("candidates", len(presented)),
			)
			continue
		}
		cand := presented[idx-1]
		itemID := search.ExtractItemID(cand.URL)
		if itemID == "" {
			continue
		}
		item, isNew, err := p.Store.UpsertMarketplaceItem(ctx, repository.Candidate{
			ItemID:   itemID,
			Title:    cand.Title,
			URL:      cand.URL,
			ImageURL: cand.ImageURL,
		})
		if err != nil {
			p.logWarn("upsert marketplace item failed", err, zap.String("item_id", itemID))
			continue
		}
		if isNew {
			result.Items++
		}
		if err := p.Store.RecordMatch(ctx, product.ID, item.ID); err != nil {
			p.logWarn("record match failed", err, zap.String("item_id", itemID))
			continue
		}
		result.Matches++
	}
	return nil
}

// openWithRetry opens a tab on url and waits for selector with a bounded
// retry budget: each attempt gets an independent wait timeout and the page
// is reloaded between attempts. The tab is closed on every failure path.
func (p *ReconcilePipeline) openWithRetry(ctx context.Context, url, selector string) (browser.Tab, error) {
	tab, err := p.Session.OpenPage(ctx, url)
	if err != nil {
		return nil, err
	}

	attempts := p.Scrape.NavigateRetries
	if attempts <= 0 {
		attempts = 3
	}
	for attempt := 1; ; attempt++ {
		err = tab.WaitForSelector(ctx, selector, p.Browser.SelectorTimeout)
		if err == nil {
			return tab, nil
		}
		if !errors.Is(err, browser.ErrNavigationTimeout) || attempt >= attempts {
			tab.Close()
			return nil, err
		}
		p.logWarn("selector wait timed out, reloading", err,
			zap.String("url", url),
			zap.Int("attempt", attempt),
		)
		if rerr := tab.Reload(ctx); rerr != nil {
			tab.Close()
			return nil, rerr
		}
	}
}

func (p *ReconcilePipeline) writeScrapeState(ctx context.Context, source string, result RunResult, runErr error) {
	now := time.Now().UTC()
	state := &models.ScrapeState{
		Source:        source,
		LastAttemptAt: &now,
	}
	if runErr == nil {
		state.LastSuccessAt = &now
	} else {
		msg := runErr.Error()
		state.LastError = &msg
	}
	if raw, err := json.Marshal(result); err == nil {
		state.StatsJSON = datatypes.JSON(raw)
	}
	if err := p.Store.SaveScrapeState(ctx, state); err != nil {
		p.logWarn("save scrape state failed", err, zap.String("source", source))
	}
}

func (p *ReconcilePipeline) logInfo(msg string, fields ...zap.Field) {
	if p == nil || p.Logger == nil {
		return
	}
	p.Logger.Info(msg, fields...)
}

func (p *ReconcilePipeline) logWarn(msg string, err error, fields ...zap.Field) {
	if p == nil || p.Logger == nil {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	p.Logger.Warn(msg, fields...)
}
