package service

import (
	"context"
	"testing"

	"retailradar/internal/config"
	"retailradar/internal/repository"
)

func TestOpportunitiesGroupsListingsByProduct(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()

	product, _, err := repo.UpsertObservedProduct(ctx, listingWithPrice("$3.49"))
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	weak := seedUnscoredItem(t, repo, "B0AAAAAAA1")
	strong := seedUnscoredItem(t, repo, "B0AAAAAAA2")
	unscored := seedUnscoredItem(t, repo, "B0AAAAAAA3")
	for _, id := range []uint64{weak, strong, unscored} {
		if err := repo.RecordMatch(ctx, product.ID, id); err != nil {
			t.Fatalf("seed match: %v", err)
		}
	}

	// Marketplace rarely holds the buy box, plenty of competing sellers.
	if err := repo.UpdateMarketplaceItemMetrics(ctx, weak, 5, 4); err != nil {
		t.Fatalf("score item: %v", err)
	}
	// Marketplace owns the buy box most days: filtered out.
	if err := repo.UpdateMarketplaceItemMetrics(ctx, strong, 80, 4); err != nil {
		t.Fatalf("score item: %v", err)
	}

	svc := &ReportService{
		Repo:   repo,
		Config: config.ReportConfig{BuyBoxMaxDays: 30, SellersMinimum: 2},
	}
	report, err := svc.Opportunities(ctx, repository.OpportunityParams{})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(report))
	}
	got := report[0]
	if got.Product.ID != product.ID {
		t.Fatalf("product id = %d", got.Product.ID)
	}
	if len(got.Listings) != 1 {
		t.Fatalf("listings = %+v", got.Listings)
	}
	listing := got.Listings[0]
	if listing.BuyBoxDays != 5 || listing.CurrentSellers != 4 {
		t.Fatalf("listing = %+v", listing)
	}
}

func TestOpportunitiesExcludesOutOfStockProducts(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()

	product, _, _ := repo.UpsertObservedProduct(ctx, listingWithPrice("$3.49"))
	itemID := seedUnscoredItem(t, repo, "B0AAAAAAA1")
	repo.RecordMatch(ctx, product.ID, itemID)
	repo.UpdateMarketplaceItemMetrics(ctx, itemID, 5, 4)

	repo.mu.Lock()
	repo.products[detailURL].InStock = false
	repo.mu.Unlock()

	svc := &ReportService{
		Repo:   repo,
		Config: config.ReportConfig{BuyBoxMaxDays: 30, SellersMinimum: 2},
	}
	report, err := svc.Opportunities(ctx, repository.OpportunityParams{})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
}
