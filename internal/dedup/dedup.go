// Package dedup decides whether a visitor is new to a site.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"visitinsight/internal/counter"
)

// Window is how long a visitor stays "seen" after the first sighting.
const Window = 30 * 24 * time.Hour

// Deduplicator owns the visitor-seen markers in the counter store.
type Deduplicator struct {
	store   counter.Store
	log     logrus.FieldLogger
	onFault func(op string)
}

// New builds a deduplicator. onFault, if non-nil, is called for every
// counter-store error that was absorbed.
func New(store counter.Store, log logrus.FieldLogger, onFault func(op string)) *Deduplicator {
	if onFault == nil {
		onFault = func(string) {}
	}
	return &Deduplicator{store: store, log: log, onFault: onFault}
}

func markerKey(siteID uint, visitorID string) string {
	return fmt.Sprintf("visitor:%d:%s", siteID, visitorID)
}

// IsNewVisitor reports whether visitorID has not been seen on siteID in
// the current window, and marks it seen if so. The check and the mark are
// two round trips: two concurrent first events may both report true.
// Store failures report false.
func (d *Deduplicator) IsNewVisitor(ctx context.Context, siteID uint, visitorID string) bool {
	key := markerKey(siteID, visitorID)

	_, seen, err := d.store.Get(ctx, key)
	if err != nil {
		d.fault("get", siteID, err)
		return false
	}
	if seen {
		return false
	}

	if err := d.store.Set(ctx, key, "1", Window); err != nil {
		// Without the marker the next event would count as new again.
		d.fault("set", siteID, err)
		return false
	}
	return true
}

func (d *Deduplicator) fault(op string, siteID uint, err error) {
	d.onFault("dedup_" + op)
	d.log.WithError(err).WithFields(logrus.Fields{"site_id": siteID, "op": op}).Warn("visitor dedup degraded")
}
