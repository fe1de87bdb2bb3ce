package db

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// runRollupOnce recomputes the DailyStat row of every active site for the
// UTC day starting at day.
func runRollupOnce(ctx context.Context, db *gorm.DB, day time.Time) error {
	day = truncateDay(day)

	sites, err := NewSiteStore(db).ListActive(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, site := range sites {
		siteID := site.ID
		g.Go(func() error {
			return rollupSiteDay(gctx, db, siteID, day)
		})
	}
	return g.Wait()
}

type dayTotals struct {
	PageViews      int64
	UniqueVisitors int64
	Sessions       int64
	NewVisitors    int64
	AvgDuration    float64
	Bounces        int64
}

// rollupSiteDay recomputes one DailyStat row. Page views are grouped in
// SQL; custom events are left out.
func rollupSiteDay(ctx context.Context, db *gorm.DB, siteID uint, day time.Time) error {
	views := func() *gorm.DB {
		return db.WithContext(ctx).Model(&Visit{}).
			Where("site_id = ? AND visit_time >= ? AND visit_time < ?", siteID, day, day.Add(24*time.Hour)).
			Where("event_name = ''")
	}

	var t dayTotals
	if err := views().Select(`COUNT(*) AS page_views,
		COUNT(DISTINCT visitor_id) AS unique_visitors,
		COUNT(DISTINCT session_id) AS sessions,
		COALESCE(SUM(CASE WHEN is_new_visitor THEN 1 ELSE 0 END), 0) AS new_visitors,
		COALESCE(CAST(AVG(duration) AS FLOAT), 0) AS avg_duration`).
		Scan(&t).Error; err != nil {
		return err
	}

	perSession := views().Select("session_id, COUNT(*) AS pages").Group("session_id")
	if err := db.WithContext(ctx).Table("(?) AS session_pages", perSession).
		Select("COALESCE(SUM(CASE WHEN pages = 1 THEN 1 ELSE 0 END), 0)").
		Scan(&t.Bounces).Error; err != nil {
		return err
	}

	row := DailyStat{
		SiteID:         siteID,
		Day:            day,
		PageViews:      t.PageViews,
		UniqueVisitors: t.UniqueVisitors,
		Sessions:       t.Sessions,
		NewVisitors:    t.NewVisitors,
		AvgDuration:    t.AvgDuration,
	}
	if t.Sessions > 0 {
		row.BounceRate = math.Round(float64(t.Bounces)/float64(t.Sessions)*10000) / 100
	}

	var existing DailyStat
	err := db.WithContext(ctx).Where("site_id = ? AND day = ?", siteID, day).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if row.PageViews == 0 {
			return nil
		}
		return db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"page_views":      row.PageViews,
		"unique_visitors": row.UniqueVisitors,
		"sessions":        row.Sessions,
		"new_visitors":    row.NewVisitors,
		"bounce_rate":     row.BounceRate,
		"avg_duration":    row.AvgDuration,
	}).Error
}

// DailyStats returns the stored rollups of a site between two days, inclusive.
func DailyStats(ctx context.Context, db *gorm.DB, siteID uint, from, to time.Time) ([]DailyStat, error) {
	var rows []DailyStat
	err := db.WithContext(ctx).
		Where("site_id = ? AND day >= ? AND day <= ?", siteID, truncateDay(from), truncateDay(to)).
		Order("day").
		Find(&rows).Error
	return rows, err
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
