package db

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StartWorkers schedules the retention cleanup (daily, only when
// retentionDays > 0) and the daily rollup (hourly, for yesterday and today).
// Both run once at startup. The caller stops the returned scheduler on
// shutdown.
func StartWorkers(db *gorm.DB, retentionDays int, log logrus.FieldLogger) (*cron.Cron, error) {
	c := cron.New()

	retention := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		n, err := runRetentionOnce(ctx, db, retentionDays, time.Now())
		if err != nil {
			log.WithError(err).Error("retention cleanup failed")
			return
		}
		if n > 0 {
			log.WithField("deleted", n).Info("retention cleanup removed expired visits")
		}
	}

	rollup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		now := time.Now().UTC()
		for _, day := range []time.Time{now.Add(-24 * time.Hour), now} {
			if err := runRollupOnce(ctx, db, day); err != nil {
				log.WithError(err).WithField("day", truncateDay(day).Format("2006-01-02")).Error("daily rollup failed")
			}
		}
	}

	if retentionDays > 0 {
		if _, err := c.AddFunc("@daily", retention); err != nil {
			return nil, err
		}
	}
	if _, err := c.AddFunc("@hourly", rollup); err != nil {
		return nil, err
	}

	go func() {
		if retentionDays > 0 {
			retention()
		}
		rollup()
	}()

	c.Start()
	return c, nil
}
