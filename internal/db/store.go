package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SiteStore reads sites. It never mutates them.
type SiteStore struct {
	db *gorm.DB
}

func NewSiteStore(db *gorm.DB) *SiteStore {
	return &SiteStore{db: db}
}

// FindActiveByKey returns the active site owning apiKey, or
// gorm.ErrRecordNotFound.
func (s *SiteStore) FindActiveByKey(ctx context.Context, apiKey string) (*Site, error) {
	var site Site
	if err := s.db.WithContext(ctx).Where("api_key = ? AND active = ?", apiKey, true).First(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

// FindByID returns the site with the given id regardless of its active
// flag, or gorm.ErrRecordNotFound.
func (s *SiteStore) FindByID(ctx context.Context, id uint) (*Site, error) {
	var site Site
	if err := s.db.WithContext(ctx).First(&site, id).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

// ListActive returns every active site ordered by id.
func (s *SiteStore) ListActive(ctx context.Context) ([]Site, error) {
	var sites []Site
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&sites).Error; err != nil {
		return nil, err
	}
	return sites, nil
}

// VisitStore is the append-only visit log.
type VisitStore struct {
	db *gorm.DB
}

func NewVisitStore(db *gorm.DB) *VisitStore {
	return &VisitStore{db: db}
}

// InsertVisit writes one row and fills v.ID.
func (s *VisitStore) InsertVisit(ctx context.Context, v *Visit) error {
	return s.db.WithContext(ctx).Create(v).Error
}

// UpdateDuration sets the duration of a visit. An unknown id updates
// nothing and is not an error.
func (s *VisitStore) UpdateDuration(ctx context.Context, id uint, seconds int) error {
	return s.db.WithContext(ctx).
		Model(&Visit{}).
		Where("id = ?", id).
		Update("duration", seconds).Error
}

// CountVisitorsSince counts distinct visitors of a site seen after since.
func (s *VisitStore) CountVisitorsSince(ctx context.Context, siteID uint, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&Visit{}).
		Where("site_id = ? AND visit_time > ?", siteID, since.UTC()).
		Distinct("visitor_id").
		Count(&n).Error
	return n, err
}
