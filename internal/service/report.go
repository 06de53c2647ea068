package service

import (
	"context"

	"retailradar/internal/config"
	"retailradar/internal/models"
	"retailradar/internal/repository"
)

// Opportunity is a reconciled product with the matched marketplace listings
// that passed the buy-box and competition thresholds.
type Opportunity struct {
	Product  models.Product       `json:"product"`
	Listings []OpportunityListing `json:"listings"`
}

type OpportunityListing struct {
	URL            string `json:"url"`
	BuyBoxDays     int    `json:"buy_box_days"`
	CurrentSellers int    `json:"current_sellers"`
}

// ReportService builds the opportunity report from the repository, applying
// the configured thresholds when the caller supplies none.
type ReportService struct {
	Repo   repository.CatalogRepository
	Config config.ReportConfig
}

// Opportunities returns in-stock products matched to scored items the
// marketplace rarely holds the buy box for, grouped per product. Zero-valued
// params fall back to the configured thresholds.
func (s *ReportService) Opportunities(ctx context.Context, params repository.OpportunityParams) ([]Opportunity, error) {
	if params.BuyBoxMaxDays <= 0 {
		params.BuyBoxMaxDays = s.Config.BuyBoxMaxDays
	}
	if params.SellersMinimum <= 0 {
		params.SellersMinimum = s.Config.SellersMinimum
	}

	rows, err := s.Repo.ListOpportunities(ctx, params)
	if err != nil {
		return nil, err
	}

	// Rows arrive ordered by product; fold consecutive rows for the same
	// product into one entry.
	var report []Opportunity
	index := make(map[uint64]int, len(rows))
	for _, row := range rows {
		listing := OpportunityListing{
			URL:            row.ItemURL,
			BuyBoxDays:     row.BuyBoxDays,
			CurrentSellers: row.CurrentSellers,
		}
		if i, ok := index[row.Product.ID]; ok {
			report[i].Listings = append(report[i].Listings, listing)
			continue
		}
		index[row.Product.ID] = len(report)
		report = append(report, Opportunity{
			Product:  row.Product,
			Listings: []OpportunityListing{listing},
		})
	}
	return report, nil
}
