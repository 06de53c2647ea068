package models

import (
	"time"

	"gorm.io/datatypes"
)

// Product is a canonical source-retailer listing. One row per product URL;
// rows are created on first observation and mutated in place afterwards
// (price/stock only), never deleted by the pipeline.
type Product struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Title string `gorm:"type:text;not null"`

	// ImageURLs is the ordered image list as extracted; the first entry is
	// the canonical reference image used for matching.
	ImageURLs  datatypes.JSON `gorm:"type:jsonb"`
	ProductURL string         `gorm:"type:text;not null;uniqueIndex"`
	Source     string         `gorm:"type:varchar(50);not null;index"`

	// LastSeenPrice keeps the observed currency string verbatim; formats vary
	// by retailer so no numeric parsing happens anywhere.
	LastSeenPrice *string `gorm:"type:text"`
	InStock       bool    `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}
