// Package analytics answers dashboard questions from the visits table.
// It never reads the counter store.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"visitinsight/internal/db"
	"visitinsight/internal/metrics"
)

const (
	topPagesLimit   = 10
	geographyLimit  = 50
	technologyLimit = 10
)

// SiteLookup finds a site by id regardless of its active flag.
type SiteLookup interface {
	ResolveID(ctx context.Context, id uint) (*db.Site, error)
}

type Engine struct {
	db      *gorm.DB
	sites   SiteLookup
	metrics *metrics.Metrics
}

func New(gdb *gorm.DB, sites SiteLookup, m *metrics.Metrics) *Engine {
	return &Engine{db: gdb, sites: sites, metrics: m}
}

type Summary struct {
	TotalVisits    int64   `json:"totalVisits"`
	UniqueVisitors int64   `json:"uniqueVisitors"`
	TotalSessions  int64   `json:"totalSessions"`
	NewVisitors    int64   `json:"newVisitors"`
	AvgDuration    float64 `json:"avgDuration"`
	BounceRate     float64 `json:"bounceRate"`
}

type Page struct {
	URL            string  `json:"url" gorm:"column:page_url"`
	Title          string  `json:"title" gorm:"column:page_title"`
	Visits         int64   `json:"visits"`
	UniqueVisitors int64   `json:"uniqueVisitors"`
	AvgDuration    float64 `json:"avgDuration"`
}

type Source struct {
	Source         string `json:"source"`
	Visits         int64  `json:"visits"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

type Overview struct {
	Overview       Summary   `json:"overview"`
	TopPages       []Page    `json:"topPages"`
	TrafficSources []Source  `json:"trafficSources"`
	DateRange      DateRange `json:"dateRange"`
}

type Point struct {
	Period         string `json:"period"`
	Visits         int64  `json:"visits"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
	Sessions       int64  `json:"sessions"`
}

type TimeSeries struct {
	TimeSeries  []Point     `json:"timeseries"`
	Granularity Granularity `json:"granularity"`
	DateRange   DateRange   `json:"dateRange"`
}

type Place struct {
	Country        string  `json:"country"`
	City           *string `json:"city"`
	Visits         int64   `json:"visits"`
	UniqueVisitors int64   `json:"uniqueVisitors"`
}

type Geography struct {
	Geography []Place   `json:"geography"`
	DateRange DateRange `json:"dateRange"`
}

type Breakdown struct {
	Name           string `json:"name"`
	Visits         int64  `json:"visits"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

type Technology struct {
	Browsers         []Breakdown `json:"browsers"`
	OperatingSystems []Breakdown `json:"operatingSystems"`
	Devices          []Breakdown `json:"devices"`
	DateRange        DateRange   `json:"dateRange"`
}

type overviewTotals struct {
	TotalVisits    int64
	UniqueVisitors int64
	TotalSessions  int64
	AvgDuration    float64
	NewVisitors    int64
}

type sessionBounces struct {
	Sessions int64
	Bounces  int64
}

// active returns false for a deactivated site and identity.ErrSiteNotFound
// for an unknown one.
func (e *Engine) active(ctx context.Context, siteID uint) (bool, error) {
	site, err := e.sites.ResolveID(ctx, siteID)
	if err != nil {
		return false, err
	}
	return site.Active, nil
}

// visits scopes a query to the page views of one site inside r. Custom
// events share the table and are left out.
func (e *Engine) visits(ctx context.Context, siteID uint, r Range) *gorm.DB {
	return e.db.WithContext(ctx).Model(&db.Visit{}).
		Where("site_id = ? AND visit_time >= ? AND visit_time < ?", siteID, r.Start, r.End).
		Where("event_name = ''")
}

func (e *Engine) observe(query string, start time.Time) {
	e.metrics.ObserveQuery(query, time.Since(start))
}

func (e *Engine) Overview(ctx context.Context, siteID uint, r Range) (*Overview, error) {
	defer e.observe("overview", time.Now())

	out := &Overview{TopPages: []Page{}, TrafficSources: []Source{}, DateRange: r.Dates()}
	ok, err := e.active(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	var totals overviewTotals
	err = e.visits(ctx, siteID, r).Select(`COUNT(*) AS total_visits,
		COUNT(DISTINCT visitor_id) AS unique_visitors,
		COUNT(DISTINCT session_id) AS total_sessions,
		COALESCE(CAST(AVG(duration) AS FLOAT), 0) AS avg_duration,
		COALESCE(SUM(CASE WHEN is_new_visitor THEN 1 ELSE 0 END), 0) AS new_visitors`).
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("overview totals: %w", err)
	}

	bounce, err := e.bounceRate(ctx, siteID, r)
	if err != nil {
		return nil, err
	}

	out.Overview = Summary{
		TotalVisits:    totals.TotalVisits,
		UniqueVisitors: totals.UniqueVisitors,
		TotalSessions:  totals.TotalSessions,
		NewVisitors:    totals.NewVisitors,
		AvgDuration:    totals.AvgDuration,
		BounceRate:     bounce,
	}

	err = e.visits(ctx, siteID, r).
		Select(`page_url, page_title, COUNT(*) AS visits,
			COUNT(DISTINCT visitor_id) AS unique_visitors,
			COALESCE(CAST(AVG(duration) AS FLOAT), 0) AS avg_duration`).
		Group("page_url, page_title").
		Order("visits DESC, page_url").
		Limit(topPagesLimit).
		Scan(&out.TopPages).Error
	if err != nil {
		return nil, fmt.Errorf("overview top pages: %w", err)
	}

	err = e.visits(ctx, siteID, r).
		Select(`CASE
				WHEN referrer IS NULL OR referrer = '' THEN 'Direct'
				WHEN LOWER(referrer) LIKE '%google%' THEN 'Google'
				WHEN LOWER(referrer) LIKE '%facebook%' THEN 'Facebook'
				WHEN LOWER(referrer) LIKE '%twitter%' THEN 'Twitter'
				ELSE 'Other'
			END AS source,
			COUNT(*) AS visits,
			COUNT(DISTINCT visitor_id) AS unique_visitors`).
		Group("source").
		Order("visits DESC, source").
		Scan(&out.TrafficSources).Error
	if err != nil {
		return nil, fmt.Errorf("overview traffic sources: %w", err)
	}
	return out, nil
}

// bounceRate is the percentage of sessions with exactly one page view,
// rounded to two decimals, and 0 when there are no sessions.
func (e *Engine) bounceRate(ctx context.Context, siteID uint, r Range) (float64, error) {
	perSession := e.visits(ctx, siteID, r).
		Select("session_id, COUNT(*) AS pages").
		Group("session_id")

	var b sessionBounces
	err := e.db.WithContext(ctx).
		Table("(?) AS session_pages", perSession).
		Select("COUNT(*) AS sessions, COALESCE(SUM(CASE WHEN pages = 1 THEN 1 ELSE 0 END), 0) AS bounces").
		Scan(&b).Error
	if err != nil {
		return 0, fmt.Errorf("overview bounce rate: %w", err)
	}
	if b.Sessions == 0 {
		return 0, nil
	}
	return math.Round(float64(b.Bounces)/float64(b.Sessions)*10000) / 100, nil
}

// TimeSeries buckets page views by g. Only buckets holding at least one
// view are returned, oldest first.
func (e *Engine) TimeSeries(ctx context.Context, siteID uint, r Range, g Granularity) (*TimeSeries, error) {
	defer e.observe("timeseries", time.Now())

	out := &TimeSeries{TimeSeries: []Point{}, Granularity: g, DateRange: r.Dates()}
	ok, err := e.active(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	bucket, err := g.bucketExpr(e.db.Dialector.Name())
	if err != nil {
		return nil, err
	}
	err = e.visits(ctx, siteID, r).
		Select(bucket + ` AS period, COUNT(*) AS visits,
			COUNT(DISTINCT visitor_id) AS unique_visitors,
			COUNT(DISTINCT session_id) AS sessions`).
		Group("period").
		Order("period").
		Scan(&out.TimeSeries).Error
	if err != nil {
		return nil, fmt.Errorf("timeseries: %w", err)
	}
	return out, nil
}

// Geography groups located page views by country and city.
func (e *Engine) Geography(ctx context.Context, siteID uint, r Range) (*Geography, error) {
	defer e.observe("geography", time.Now())

	out := &Geography{Geography: []Place{}, DateRange: r.Dates()}
	ok, err := e.active(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	err = e.visits(ctx, siteID, r).
		Where("country IS NOT NULL").
		Select("country, city, COUNT(*) AS visits, COUNT(DISTINCT visitor_id) AS unique_visitors").
		Group("country, city").
		Order("visits DESC, country").
		Limit(geographyLimit).
		Scan(&out.Geography).Error
	if err != nil {
		return nil, fmt.Errorf("geography: %w", err)
	}
	return out, nil
}

// Technology runs the browser, OS and device breakdowns concurrently.
func (e *Engine) Technology(ctx context.Context, siteID uint, r Range) (*Technology, error) {
	defer e.observe("technology", time.Now())

	out := &Technology{
		Browsers:         []Breakdown{},
		OperatingSystems: []Breakdown{},
		Devices:          []Breakdown{},
		DateRange:        r.Dates(),
	}
	ok, err := e.active(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for column, dst := range map[string]*[]Breakdown{
		"browser": &out.Browsers,
		"os":      &out.OperatingSystems,
		"device":  &out.Devices,
	} {
		g.Go(func() error {
			return e.breakdown(gctx, siteID, r, column, dst)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// column is one of a fixed set of names, never user input.
func (e *Engine) breakdown(ctx context.Context, siteID uint, r Range, column string, dst *[]Breakdown) error {
	err := e.visits(ctx, siteID, r).
		Where(column + " IS NOT NULL AND " + column + " <> ''").
		Select(column + " AS name, COUNT(*) AS visits, COUNT(DISTINCT visitor_id) AS unique_visitors").
		Group(column).
		Order("visits DESC, name").
		Limit(technologyLimit).
		Scan(dst).Error
	if err != nil {
		return fmt.Errorf("technology %s: %w", column, err)
	}
	return nil
}

// DayStat is one stored daily rollup.
type DayStat struct {
	Date           string  `json:"date"`
	PageViews      int64   `json:"pageViews"`
	UniqueVisitors int64   `json:"uniqueVisitors"`
	Sessions       int64   `json:"sessions"`
	NewVisitors    int64   `json:"newVisitors"`
	BounceRate     float64 `json:"bounceRate"`
	AvgDuration    float64 `json:"avgDuration"`
}

type Daily struct {
	Days      []DayStat `json:"days"`
	DateRange DateRange `json:"dateRange"`
}

// Daily reads the precomputed rollups instead of scanning visits. Days the
// rollup worker has not reached yet are missing.
func (e *Engine) Daily(ctx context.Context, siteID uint, r Range) (*Daily, error) {
	defer e.observe("daily", time.Now())

	out := &Daily{Days: []DayStat{}, DateRange: r.Dates()}
	ok, err := e.active(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	rows, err := db.DailyStats(ctx, e.db, siteID, r.Start, r.End.Add(-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("daily rollups: %w", err)
	}
	for _, row := range rows {
		out.Days = append(out.Days, DayStat{
			Date:           row.Day.UTC().Format(dateLayout),
			PageViews:      row.PageViews,
			UniqueVisitors: row.UniqueVisitors,
			Sessions:       row.Sessions,
			NewVisitors:    row.NewVisitors,
			BounceRate:     row.BounceRate,
			AvgDuration:    row.AvgDuration,
		})
	}
	return out, nil
}
