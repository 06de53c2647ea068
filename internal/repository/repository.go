package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"retailradar/internal/models"
)

// Transition names the product state-machine branch an observation took.
type Transition string

const (
	// TransitionCreated: first observation of this product URL.
	TransitionCreated Transition = "created"
	// TransitionPriceChanged: known URL, stored price differs from observed.
	TransitionPriceChanged Transition = "price_changed"
	// TransitionUnchanged: known URL, same price; only in_stock is refreshed.
	TransitionUnchanged Transition = "unchanged"
)

// ObservedListing is the normalized observation the pipeline hands to the
// store. Price is the observed currency string, kept verbatim.
type ObservedListing struct {
	Title      string
	Price      string
	ImageURLs  []string
	ProductURL string
	Source     string
}

// Candidate is a marketplace search result accepted by the match oracle.
type Candidate struct {
	ItemID   string
	Title    string
	URL      string
	ImageURL *string
}

// CatalogRepository owns all creation and mutation of Product,
// MarketplaceItem and Match rows. Every write is idempotent under
// at-least-once retry: duplicate-key races resolve as already-applied.
type CatalogRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	FindProductByURL(ctx context.Context, url string) (*models.Product, error)
	UpsertObservedProduct(ctx context.Context, listing ObservedListing) (*models.Product, Transition, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]models.Product, error)
	CountProducts(ctx context.Context, params ListProductsParams) (int64, error)

	GetMarketplaceItemByItemID(ctx context.Context, itemID string) (*models.MarketplaceItem, error)
	UpsertMarketplaceItem(ctx context.Context, cand Candidate) (*models.MarketplaceItem, bool, error)
	ListMarketplaceItems(ctx context.Context, params ListItemsParams) ([]models.MarketplaceItem, error)
	CountMarketplaceItems(ctx context.Context, params ListItemsParams) (int64, error)
	ListUnscoredMarketplaceItems(ctx context.Context, limit int) ([]models.MarketplaceItem, error)
	UpdateMarketplaceItemMetrics(ctx context.Context, id uint64, buyBoxDays int, currentSellers int) error

	RecordMatch(ctx context.Context, productID, marketplaceItemID uint64) error
	ListMatches(ctx context.Context, params ListMatchesParams) ([]models.Match, error)

	ListOpportunities(ctx context.Context, params OpportunityParams) ([]OpportunityRow, error)

	GetScrapeState(ctx context.Context, source string) (*models.ScrapeState, error)
	SaveScrapeState(ctx context.Context, state *models.ScrapeState) error
	ListScrapeStates(ctx context.Context) ([]models.ScrapeState, error)
}

type ListProductsParams struct {
	Limit   int
	Offset  int
	Source  *string
	InStock *bool
	Title   *string
	OrderBy string
	Asc     *bool
}

type ListItemsParams struct {
	Limit    int
	Offset   int
	ItemID   *string
	Scored   *bool
	OrderBy  string
	Asc      *bool
	SinceRow *time.Time
}

type ListMatchesParams struct {
	Limit     int
	Offset    int
	ProductID *uint64
	ItemID    *uint64
}

// OpportunityParams filters the final report: items the marketplace rarely
// holds the buy box for (below BuyBoxMaxDays) with healthy third-party
// seller competition (above SellersMinimum).
type OpportunityParams struct {
	BuyBoxMaxDays  int
	SellersMinimum int
	Limit          int
	Offset         int
}

type OpportunityRow struct {
	Product        models.Product
	ItemURL        string
	BuyBoxDays     int
	CurrentSellers int
}
