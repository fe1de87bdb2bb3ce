// Package dbtest opens throwaway in-memory databases with the visit schema.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitinsight/internal/db"
)

var seq atomic.Int64

// Open returns a migrated in-memory sqlite database private to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	gdb, err := db.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

// CreateSite inserts a site and returns it. Inactive sites are written
// with an explicit update so the false flag is persisted.
func CreateSite(t testing.TB, gdb *gorm.DB, domain, apiKey string, active bool) *db.Site {
	t.Helper()
	site := &db.Site{Name: domain, Domain: domain, APIKey: apiKey, Active: true}
	if err := gdb.Create(site).Error; err != nil {
		t.Fatalf("create site: %v", err)
	}
	if !active {
		if err := gdb.Model(site).Update("active", false).Error; err != nil {
			t.Fatalf("deactivate site: %v", err)
		}
		site.Active = false
	}
	return site
}

// Visit is a compact description of a row for seeding tests.
type Visit struct {
	Visitor  string
	Session  string
	URL      string
	Title    string
	Referrer string
	Country  string
	City     string
	Browser  string
	OS       string
	Device   string
	Duration int
	New      bool
	At       time.Time
}

// Seed inserts visits for a site.
func Seed(t testing.TB, gdb *gorm.DB, siteID uint, visits ...Visit) {
	t.Helper()
	for _, v := range visits {
		row := &db.Visit{
			SiteID:       siteID,
			VisitorID:    v.Visitor,
			SessionID:    v.Session,
			PageURL:      v.URL,
			PageTitle:    v.Title,
			Referrer:     v.Referrer,
			Browser:      v.Browser,
			OS:           v.OS,
			Device:       v.Device,
			Duration:     v.Duration,
			IsNewVisitor: v.New,
			VisitTime:    v.At.UTC(),
		}
		if row.PageURL == "" {
			row.PageURL = "https://example.com/"
		}
		if v.Country != "" {
			c := v.Country
			row.Country = &c
		}
		if v.City != "" {
			c := v.City
			row.City = &c
		}
		if err := gdb.Create(row).Error; err != nil {
			t.Fatalf("seed visit: %v", err)
		}
	}
}
