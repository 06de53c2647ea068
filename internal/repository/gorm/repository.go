package gormrepository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"retailradar/internal/models"
	"retailradar/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- products ---------------------------------------------------------------

func (s *Store) FindProductByURL(ctx context.Context, url string) (*models.Product, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, nil
	}
	var item models.Product
	err := s.db.WithContext(ctx).Where("product_url = ?", url).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertObservedProduct runs the three-way product state machine:
// unknown URL inserts a fresh in-stock row, a matching stored price only
// refreshes in_stock, a differing price updates last_seen_price as well.
// A concurrent insert of the same URL resolves as an observation of the
// winner's row, never as a uniqueness error.
func (s *Store) UpsertObservedProduct(ctx context.Context, listing repository.ObservedListing) (*models.Product, repository.Transition, error) {
	if s == nil || s.db == nil {
		return nil, repository.TransitionUnchanged, nil
	}
	url := strings.TrimSpace(listing.ProductURL)
	if url == "" {
		return nil, repository.TransitionUnchanged, errors.New("product url is empty")
	}

	var out models.Product
	transition := repository.TransitionUnchanged
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("product_url = ?", url).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			price := listing.Price
			item := models.Product{
				Title:         listing.Title,
				ImageURLs:     imageListJSON(listing.ImageURLs),
				ProductURL:    url,
				Source:        listing.Source,
				LastSeenPrice: &price,
				InStock:       true,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "product_url"}},
				DoNothing: true,
			}).Create(&item).Error; err != nil {
				return err
			}
			if item.ID != 0 {
				out = item
				transition = repository.TransitionCreated
				return nil
			}
			// Lost an insert race; fall through to the update path against
			// the row the winner created.
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("product_url = ?", url).
				First(&existing).Error; err != nil {
				return err
			}
		}

		updates := map[string]any{"in_stock": true}
		if existing.LastSeenPrice == nil || *existing.LastSeenPrice != listing.Price {
			updates["last_seen_price"] = listing.Price
			transition = repository.TransitionPriceChanged
		}
		if err := tx.Model(&models.Product{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", existing.ID).First(&out).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, repository.TransitionUnchanged, err
	}
	return &out, transition, nil
}

func (s *Store) ListProducts(ctx context.Context, params repository.ListProductsParams) ([]models.Product, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyProductFilters(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Product
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountProducts(ctx context.Context, params repository.ListProductsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.applyProductFilters(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) applyProductFilters(ctx context.Context, params repository.ListProductsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Product{})
	if params.Source != nil && strings.TrimSpace(*params.Source) != "" {
		query = query.Where("source = ?", strings.TrimSpace(*params.Source))
	}
	if params.InStock != nil {
		query = query.Where("in_stock = ?", *params.InStock)
	}
	if params.Title != nil && strings.TrimSpace(*params.Title) != "" {
		query = query.Where("title ILIKE ?", "%"+strings.TrimSpace(*params.Title)+"%")
	}
	return query
}

// --- marketplace items ------------------------------------------------------

func (s *Store) GetMarketplaceItemByItemID(ctx context.Context, itemID string) (*models.MarketplaceItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, nil
	}
	var item models.MarketplaceItem
	err := s.db.WithContext(ctx).Where("item_id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertMarketplaceItem inserts the candidate if its item ID is unseen.
// Title and image of an existing row are immutable once captured.
func (s *Store) UpsertMarketplaceItem(ctx context.Context, cand repository.Candidate) (*models.MarketplaceItem, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, nil
	}
	itemID := strings.TrimSpace(cand.ItemID)
	if itemID == "" {
		return nil, false, errors.New("item id is empty")
	}
	item := models.MarketplaceItem{
		ItemID:     itemID,
		Title:      cand.Title,
		ProductURL: cand.URL,
		ImageURL:   cand.ImageURL,
		BuyBoxDays: models.BuyBoxDaysUnscored,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}},
		DoNothing: true,
	}).Create(&item).Error; err != nil {
		return nil, false, err
	}
	if item.ID != 0 {
		return &item, true, nil
	}
	existing, err := s.GetMarketplaceItemByItemID(ctx, itemID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("marketplace item vanished after conflict")
	}
	return existing, false, nil
}

func (s *Store) ListMarketplaceItems(ctx context.Context, params repository.ListItemsParams) ([]models.MarketplaceItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyItemFilters(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.MarketplaceItem
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountMarketplaceItems(ctx context.Context, params repository.ListItemsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.applyItemFilters(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) applyItemFilters(ctx context.Context, params repository.ListItemsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.MarketplaceItem{})
	if params.ItemID != nil && strings.TrimSpace(*params.ItemID) != "" {
		query = query.Where("item_id = ?", strings.TrimSpace(*params.ItemID))
	}
	if params.Scored != nil {
		if *params.Scored {
			query = query.Where("buy_box_days >= 0")
		} else {
			query = query.Where("buy_box_days IS NULL OR buy_box_days < 0")
		}
	}
	if params.SinceRow != nil && !params.SinceRow.IsZero() {
		query = query.Where("created_at >= ?", *params.SinceRow)
	}
	return query
}

func (s *Store) ListUnscoredMarketplaceItems(ctx context.Context, limit int) ([]models.MarketplaceItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.MarketplaceItem
	err := s.db.WithContext(ctx).
		Model(&models.MarketplaceItem{}).
		Where("buy_box_days IS NULL OR buy_box_days < 0").
		Order("created_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateMarketplaceItemMetrics(ctx context.Context, id uint64, buyBoxDays int, currentSellers int) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.MarketplaceItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"buy_box_days":    buyBoxDays,
			"current_sellers": currentSellers,
		}).Error
}

// --- matches ----------------------------------------------------------------

// RecordMatch inserts the pair if absent. A concurrent duplicate is success.
func (s *Store) RecordMatch(ctx context.Context, productID, marketplaceItemID uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	if productID == 0 || marketplaceItemID == 0 {
		return errors.New("match requires both ids")
	}
	item := models.Match{
		ProductID:         productID,
		MarketplaceItemID: marketplaceItemID,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "marketplace_item_id"}},
		DoNothing: true,
	}).Create(&item).Error
}

func (s *Store) ListMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Match{})
	if params.ProductID != nil && *params.ProductID != 0 {
		query = query.Where("product_id = ?", *params.ProductID)
	}
	if params.ItemID != nil && *params.ItemID != 0 {
		query = query.Where("marketplace_item_id = ?", *params.ItemID)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Match
	if err := query.Order("id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- opportunities ----------------------------------------------------------

type opportunityScan struct {
	models.Product
	ItemURL        string
	BuyBoxDays     int
	CurrentSellers int
}

func (s *Store) ListOpportunities(ctx context.Context, params repository.OpportunityParams) ([]repository.OpportunityRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var rows []opportunityScan
	err := s.db.WithContext(ctx).
		Table("product_matches").
		Select("products.*, marketplace_items.product_url AS item_url, marketplace_items.buy_box_days, marketplace_items.current_sellers").
		Joins("JOIN products ON products.id = product_matches.product_id").
		Joins("JOIN marketplace_items ON marketplace_items.id = product_matches.marketplace_item_id").
		Where("products.in_stock = ?", true).
		Where("marketplace_items.buy_box_days >= 0").
		Where("marketplace_items.buy_box_days < ?", params.BuyBoxMaxDays).
		Where("marketplace_items.current_sellers > ?", params.SellersMinimum).
		Order("products.id asc").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]repository.OpportunityRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.OpportunityRow{
			Product:        row.Product,
			ItemURL:        row.ItemURL,
			BuyBoxDays:     row.BuyBoxDays,
			CurrentSellers: row.CurrentSellers,
		})
	}
	return out, nil
}

// --- scrape state -----------------------------------------------------------

func (s *Store) GetScrapeState(ctx context.Context, source string) (*models.ScrapeState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	var state models.ScrapeState
	err := s.db.WithContext(ctx).Where("source = ?", source).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) SaveScrapeState(ctx context.Context, state *models.ScrapeState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	if strings.TrimSpace(state.Source) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cursor",
			"last_attempt_at",
			"last_success_at",
			"last_error",
			"stats_json",
		}),
	}).Create(state).Error
}

func (s *Store) ListScrapeStates(ctx context.Context) ([]models.ScrapeState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var states []models.ScrapeState
	if err := s.db.WithContext(ctx).
		Model(&models.ScrapeState{}).
		Order("source asc").
		Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// --- helpers ----------------------------------------------------------------

func imageListJSON(urls []string) datatypes.JSON {
	if len(urls) == 0 {
		return datatypes.JSON([]byte(`[]`))
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return datatypes.JSON([]byte(`[]`))
	}
	return datatypes.JSON(raw)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var orderableColumns = map[string]struct{}{
	"id":         {},
	"title":      {},
	"created_at": {},
	"updated_at": {},
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(strings.ToLower(orderBy))
	if _, ok := orderableColumns[column]; !ok {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

var _ repository.CatalogRepository = (*Store)(nil)
