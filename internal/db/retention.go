package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// runRetentionOnce performs a single pass of retention cleanup, deleting
// visits older than retentionDays. It returns the number of rows removed.
func runRetentionOnce(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	res := db.WithContext(ctx).Where("visit_time < ?", cutoff).Delete(&Visit{})
	return res.RowsAffected, res.Error
}
