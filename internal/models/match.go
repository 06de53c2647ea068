package models

import "time"

// Match links a retailer product to a marketplace item the oracle accepted.
// A pair is recorded at most once and never mutated.
type Match struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	ProductID         uint64 `gorm:"not null;uniqueIndex:uniq_product_item"`
	MarketplaceItemID uint64 `gorm:"not null;uniqueIndex:uniq_product_item"`

	Product         Product         `gorm:"constraint:OnDelete:CASCADE"`
	MarketplaceItem MarketplaceItem `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Match) TableName() string {
	return "product_matches"
}
