package db

import (
	"time"

	"gorm.io/datatypes"
)

// Site is a tracked property. Admins create and toggle sites; the
// tracking core only reads them by API key or id.
type Site struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Name   string `gorm:"size:255;not null"`
	Domain string `gorm:"uniqueIndex;size:255;not null"`

	// APIKey is issued once and never changes.
	APIKey string `gorm:"column:api_key;uniqueIndex;size:255;not null"`

	// Active sites accept writes and show up in reports.
	Active bool `gorm:"not null"`
}

// Visit is one recorded page view. Every column except Duration is
// written once at ingestion time.
type Visit struct {
	ID uint `gorm:"primaryKey"`

	SiteID    uint   `gorm:"index:idx_visits_site_time,priority:1;not null"`
	VisitorID string `gorm:"size:255;index;not null"`
	SessionID string `gorm:"size:255;index;not null"`

	PageURL   string `gorm:"column:page_url;type:text;not null"`
	PageTitle string `gorm:"size:500"`
	Referrer  string `gorm:"type:text"`
	UserAgent string `gorm:"type:text"`
	IPAddress string `gorm:"column:ip_address;size:64"`

	// Country and City are nil when the address could not be located.
	Country *string `gorm:"size:100"`
	City    *string `gorm:"size:100"`

	Browser string `gorm:"size:100"`
	OS      string `gorm:"column:os;size:100"`
	Device  string `gorm:"size:100"`

	ScreenResolution string `gorm:"size:50"`
	Language         string `gorm:"size:10"`
	Timezone         string `gorm:"size:50"`

	// VisitTime is the server clock (UTC) at insert.
	VisitTime time.Time `gorm:"index:idx_visits_site_time,priority:2;not null"`

	// Duration in seconds, updated when the page is left.
	Duration int `gorm:"not null"`

	IsNewVisitor bool `gorm:"not null"`

	UTMSource   string `gorm:"column:utm_source;size:255"`
	UTMMedium   string `gorm:"column:utm_medium;size:255"`
	UTMCampaign string `gorm:"column:utm_campaign;size:255"`
	UTMTerm     string `gorm:"column:utm_term;size:255"`
	UTMContent  string `gorm:"column:utm_content;size:255"`

	// EventName is empty for page views and set for custom events sent
	// through the snippet's track() call, whose payload lands in Properties.
	EventName  string            `gorm:"size:255"`
	Properties datatypes.JSONMap `gorm:"type:json"`
}

// DailyStat is a per-site, per-day rollup filled by the rollup worker.
// Reports never read it; it backs cheap day-level summaries.
type DailyStat struct {
	ID uint `gorm:"primaryKey"`

	SiteID uint      `gorm:"uniqueIndex:idx_daily_stat_unique,priority:1;not null"`
	Day    time.Time `gorm:"uniqueIndex:idx_daily_stat_unique,priority:2;not null"` // 00:00 UTC

	PageViews      int64   `gorm:"not null"`
	UniqueVisitors int64   `gorm:"not null"`
	Sessions       int64   `gorm:"not null"`
	NewVisitors    int64   `gorm:"not null"`
	BounceRate     float64 `gorm:"not null"`
	AvgDuration    float64 `gorm:"not null"`

	UpdatedAt time.Time
}
