package models

import "time"

// BuyBoxDaysUnscored marks an item whose enrichment metrics have not been
// computed yet. Distinct from a computed zero.
const BuyBoxDaysUnscored = -1

// MarketplaceItem is a third-party marketplace listing discovered as a match
// candidate. One row per marketplace item ID no matter how many searches
// surface it; title and image are immutable once captured.
type MarketplaceItem struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	ItemID     string  `gorm:"type:varchar(20);not null;uniqueIndex"`
	Title      string  `gorm:"type:text;not null"`
	ProductURL string  `gorm:"type:text;not null;uniqueIndex"`
	ImageURL   *string `gorm:"type:text"`

	// BuyBoxDays counts days in the trailing window where the marketplace
	// itself held the buy box. -1 until the enrichment job scores the item.
	BuyBoxDays     int  `gorm:"not null;default:-1"`
	CurrentSellers *int `gorm:"default:null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (MarketplaceItem) TableName() string {
	return "marketplace_items"
}

// Scored reports whether enrichment metrics have been computed.
func (m *MarketplaceItem) Scored() bool {
	return m != nil && m.BuyBoxDays >= 0
}
