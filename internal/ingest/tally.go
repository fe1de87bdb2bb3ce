package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"visitinsight/internal/db"
)

// TallyTTL keeps a day's tallies around long enough to be read the next day.
const TallyTTL = 48 * time.Hour

// Tally is the advisory per-day counts kept in the counter store. They may
// drift from the durable store and are never used for reports.
type Tally struct {
	Date        string `json:"date"`
	PageViews   int64  `json:"pageviews"`
	Visitors    int64  `json:"visitors"`
	NewVisitors int64  `json:"newVisitors"`
	Events      int64  `json:"events"`
	Degraded    bool   `json:"degraded,omitempty"`
}

func tallyKey(siteID uint, day, name string) string {
	return fmt.Sprintf("stats:%d:%s:%s", siteID, day, name)
}

// bumpTallies runs after the visit is durable; failures are logged and
// counted only.
func (p *Pipeline) bumpTallies(ctx context.Context, v *db.Visit) {
	day := v.VisitTime.UTC().Format("2006-01-02")
	log := p.log.WithFields(logrus.Fields{"site_id": v.SiteID, "day": day})

	incr := func(name string) (int64, bool) {
		n, err := p.counters.Incr(ctx, tallyKey(v.SiteID, day, name), TallyTTL)
		if err != nil {
			p.metrics.CounterFault("tally_incr")
			log.WithError(err).WithField("tally", name).Warn("realtime tally not updated")
			return 0, false
		}
		return n, true
	}

	if v.EventName != "" {
		incr("events")
		return
	}
	if _, ok := incr("pageviews"); !ok {
		return
	}
	if n, ok := incr("visitor:" + v.VisitorID); ok && n == 1 {
		incr("visitors")
	}
	if v.IsNewVisitor {
		incr("new_visitors")
	}
}

// Tallies reads the realtime counts for siteID on day. A counter-store
// failure yields zeros with Degraded set.
func (p *Pipeline) Tallies(ctx context.Context, siteID uint, day time.Time) Tally {
	t := Tally{Date: day.UTC().Format("2006-01-02")}
	fields := []struct {
		name string
		dst  *int64
	}{
		{"pageviews", &t.PageViews},
		{"visitors", &t.Visitors},
		{"new_visitors", &t.NewVisitors},
		{"events", &t.Events},
	}
	for _, f := range fields {
		raw, ok, err := p.counters.Get(ctx, tallyKey(siteID, t.Date, f.name))
		if err != nil {
			p.metrics.CounterFault("tally_get")
			p.log.WithError(err).WithField("site_id", siteID).Warn("realtime tallies unavailable")
			return Tally{Date: t.Date, Degraded: true}
		}
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		*f.dst = n
	}
	return t
}
