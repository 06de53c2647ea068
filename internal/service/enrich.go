package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"retailradar/internal/client/analytics"
	"retailradar/internal/config"
	"retailradar/internal/models"
	"retailradar/internal/repository"
)

// HistoryProvider supplies per-item seller history from the analytics API.
type HistoryProvider interface {
	GetItemStats(ctx context.Context, itemID string) (*analytics.ItemStats, error)
}

// EnrichmentService periodically scores unscored marketplace items: it
// fetches each item's ownership history, reconstructs a per-day owner
// series over the scoring window, and persists how many of those days the
// marketplace itself held the buy box alongside the current seller count.
type EnrichmentService struct {
	Repo    repository.CatalogRepository
	History HistoryProvider
	Config  config.EnrichConfig
	Logger  *zap.Logger

	// Now allows tests to pin the scoring window.
	Now func() time.Time
}

// Run scores once immediately, then on every tick until ctx is done.
func (s *EnrichmentService) Run(ctx context.Context) {
	if s == nil || s.Repo == nil || s.History == nil {
		return
	}
	interval := s.Config.ScanInterval
	if interval <= 0 {
		interval = time.Hour
	}

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce scores one batch of unscored items. Failures are per-item: an
// item whose history cannot be fetched stays unscored and is retried on a
// later pass.
func (s *EnrichmentService) RunOnce(ctx context.Context) {
	batch := s.Config.BatchSize
	if batch <= 0 {
		batch = 50
	}
	items, err := s.Repo.ListUnscoredMarketplaceItems(ctx, batch)
	if err != nil {
		s.logWarn("list unscored items failed", err)
		return
	}
	if len(items) == 0 {
		return
	}

	scored := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if s.scoreItem(ctx, item) {
			scored++
		}
	}
	s.logInfo("enrichment pass complete",
		zap.Int("candidates", len(items)),
		zap.Int("scored", scored),
	)
}

func (s *EnrichmentService) scoreItem(ctx context.Context, item models.MarketplaceItem) bool {
	stats, err := s.History.GetItemStats(ctx, item.ItemID)
	if err != nil {
		s.logWarn("history fetch failed", err, zap.String("item_id", item.ItemID))
		return false
	}
	if len(stats.OwnershipHistory) < 2 {
		// No change events at all: leave the item unscored rather than
		// recording a misleading zero.
		s.logInfo("no ownership history", zap.String("item_id", item.ItemID))
		return false
	}

	end := s.now().UTC().Truncate(24 * time.Hour)
	windowDays := s.Config.WindowDays
	if windowDays <= 0 {
		windowDays = 90
	}
	start := end.AddDate(0, 0, -windowDays)

	owners := dailyOwners(stats.OwnershipHistory, start, end)
	buyBoxDays := 0
	for _, owner := range owners {
		if owner == s.Config.BuyBoxOwnerID {
			buyBoxDays++
		}
	}

	currentSellers := 0
	if n := len(stats.SellerCounts); n > 0 {
		currentSellers = int(stats.SellerCounts[n-1])
	}

	if err := s.Repo.UpdateMarketplaceItemMetrics(ctx, item.ID, buyBoxDays, currentSellers); err != nil {
		s.logWarn("persist metrics failed", err, zap.String("item_id", item.ItemID))
		return false
	}
	s.logInfo("item scored",
		zap.String("item_id", item.ItemID),
		zap.Int("buybox_days", buyBoxDays),
		zap.Int("current_sellers", currentSellers),
	)
	return true
}

// dailyOwners reconstructs a per-day owner series from the change-event
// history, which stores alternating (providerMinutes, ownerID) pairs and
// records changes only. The owner on a given day is the last change at or
// before that day's midnight, forward-filled. Days before the first event
// have no owner and are excluded.
func dailyOwners(history []float64, start, end time.Time) map[time.Time]int64 {
	type event struct {
		at    time.Time
		owner int64
	}
	events := make([]event, 0, len(history)/2)
	for i := 0; i+1 < len(history); i += 2 {
		events = append(events, event{
			at:    analytics.EventTime(int64(history[i])),
			owner: int64(history[i+1]),
		})
	}

	owners := make(map[time.Time]int64)
	if len(events) == 0 {
		return owners
	}

	cursor := 0
	haveOwner := false
	var current int64
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dayEnd := day.AddDate(0, 0, 1)
		for cursor < len(events) && events[cursor].at.Before(dayEnd) {
			current = events[cursor].owner
			haveOwner = true
			cursor++
		}
		if haveOwner {
			owners[day] = current
		}
	}
	return owners
}

func (s *EnrichmentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *EnrichmentService) logInfo(msg string, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Info(msg, fields...)
}

func (s *EnrichmentService) logWarn(msg string, err error, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.Logger.Warn(msg, fields...)
}
