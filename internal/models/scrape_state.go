package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScrapeState is per-retailer bookkeeping for reconciliation runs.
type ScrapeState struct {
	Source        string         `gorm:"primaryKey;type:varchar(50)"`
	Cursor        *string        `gorm:"type:text"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz"`
	LastError     *string        `gorm:"type:text"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb"`
}

func (ScrapeState) TableName() string {
	return "scrape_state"
}
