package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"retailradar/internal/repository"
	"retailradar/internal/service"
)

type CatalogHandler struct {
	Repo     repository.CatalogRepository
	Pipeline *service.ReconcilePipeline
	Enrich   *service.EnrichmentService
	Report   *service.ReportService
	Logger   *zap.Logger
}

func (h *CatalogHandler) Register(r *gin.Engine) {
	group := r.Group("/api/catalog")
	group.POST("/scrape", h.runScrape)
	group.POST("/enrich", h.runEnrich)
	group.GET("/scrape-state", h.listScrapeState)
	group.GET("/products", h.listProducts)
	group.GET("/items", h.listItems)
	group.GET("/matches", h.listMatches)
	group.GET("/opportunities", h.listOpportunities)
}

// @Summary Run a reconciliation pass over all configured sources
// @Tags catalog
// @Success 200 {object} apiResponse
// @Router /api/catalog/scrape [post]
func (h *CatalogHandler) runScrape(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	results, err := h.Pipeline.Run(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("scrape run failed", zap.Error(err))
		}
		Error(c, http.StatusConflict, err.Error())
		return
	}
	Ok(c, results, nil)
}

// @Summary Score one batch of unscored marketplace items
// @Tags catalog
// @Success 200 {object} apiResponse
// @Router /api/catalog/enrich [post]
func (h *CatalogHandler) runEnrich(c *gin.Context) {
	if h.Enrich == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	h.Enrich.RunOnce(c.Request.Context())
	Ok(c, gin.H{"status": "done"}, nil)
}

// @Summary List per-source scrape state
// @Tags catalog
// @Success 200 {object} apiResponse
// @Router /api/catalog/scrape-state [get]
func (h *CatalogHandler) listScrapeState(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	states, err := h.Repo.ListScrapeStates(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("list scrape state failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	Ok(c, states, nil)
}

// @Summary List catalog products
// @Tags catalog
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param source query string false "source retailer tag"
// @Param in_stock query bool false "in stock"
// @Param title query string false "title substring"
// @Param order_by query string false "order by field"
// @Param ascending query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/catalog/products [get]
func (h *CatalogHandler) listProducts(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	params := repository.ListProductsParams{
		Limit:   intQuery(c, "limit", 50),
		Offset:  intQuery(c, "offset", 0),
		Source:  strQueryPtr(c, "source"),
		InStock: boolQueryPtr(c, "in_stock"),
		Title:   strQueryPtr(c, "title"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at": "created_at",
			"updated_at": "updated_at",
			"title":      "title",
		}),
		Asc: boolQueryPtr(c, "ascending"),
	}

	products, err := h.Repo.ListProducts(c.Request.Context(), params)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("list products failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	total, err := h.Repo.CountProducts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	Ok(c, products, map[string]any{"total": total})
}

// @Summary List marketplace items
// @Tags catalog
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param item_id query string false "marketplace item id"
// @Param scored query bool false "enrichment metrics computed"
// @Param order_by query string false "order by field"
// @Param ascending query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/catalog/items [get]
func (h *CatalogHandler) listItems(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	params := repository.ListItemsParams{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
		ItemID: strQueryPtr(c, "item_id"),
		Scored: boolQueryPtr(c, "scored"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at":   "created_at",
			"updated_at":   "updated_at",
			"buy_box_days": "buy_box_days",
		}),
		Asc: boolQueryPtr(c, "ascending"),
	}

	items, err := h.Repo.ListMarketplaceItems(c.Request.Context(), params)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("list items failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	total, err := h.Repo.CountMarketplaceItems(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	Ok(c, items, map[string]any{"total": total})
}

// @Summary List product-to-item matches
// @Tags catalog
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param product_id query int false "product id"
// @Param item_id query int false "marketplace item row id"
// @Success 200 {object} apiResponse
// @Router /api/catalog/matches [get]
func (h *CatalogHandler) listMatches(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	matches, err := h.Repo.ListMatches(c.Request.Context(), repository.ListMatchesParams{
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
		ProductID: uint64QueryPtr(c, "product_id"),
		ItemID:    uint64QueryPtr(c, "item_id"),
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("list matches failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	Ok(c, matches, nil)
}

// @Summary List buy-box opportunities
// @Tags catalog
// @Param buybox_max_days query int false "max days the marketplace held the buy box"
// @Param sellers_minimum query int false "minimum competing sellers"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/catalog/opportunities [get]
func (h *CatalogHandler) listOpportunities(c *gin.Context) {
	if h.Report == nil {
		Error(c, http.StatusInternalServerError, "service unavailable")
		return
	}
	report, err := h.Report.Opportunities(c.Request.Context(), repository.OpportunityParams{
		BuyBoxMaxDays:  intQuery(c, "buybox_max_days", 0),
		SellersMinimum: intQuery(c, "sellers_minimum", 0),
		Limit:          intQuery(c, "limit", 50),
		Offset:         intQuery(c, "offset", 0),
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("opportunity report failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	Ok(c, report, nil)
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func uint64QueryPtr(c *gin.Context, key string) *uint64 {
	if val := c.Query(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func boolQueryPtr(c *gin.Context, key string) *bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return &b
		}
	}
	return nil
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func parseOrder(value string, allow map[string]string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return ""
	}
	if mapped, ok := allow[key]; ok {
		return mapped
	}
	return ""
}
