// Package ingest records visit events and page-leave durations.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"visitinsight/internal/classify"
	"visitinsight/internal/counter"
	"visitinsight/internal/db"
	"visitinsight/internal/identity"
	"visitinsight/internal/metrics"
)

// ErrPersistence means the durable store could not be read or written.
// The event is lost; there is no retry buffer.
var ErrPersistence = errors.New("persistence failure")

// OnlineWindow is how far back OnlineVisitors looks.
const OnlineWindow = 5 * time.Minute

type SiteResolver interface {
	Resolve(ctx context.Context, apiKey string) (*db.Site, error)
}

type VisitStore interface {
	InsertVisit(ctx context.Context, v *db.Visit) error
	UpdateDuration(ctx context.Context, id uint, seconds int) error
	CountVisitorsSince(ctx context.Context, siteID uint, since time.Time) (int64, error)
}

type VisitorChecker interface {
	IsNewVisitor(ctx context.Context, siteID uint, visitorID string) bool
}

// Deps are the handles a Pipeline is built from. Locator and Metrics
// may be nil.
type Deps struct {
	Sites    SiteResolver
	Visits   VisitStore
	Visitors VisitorChecker
	Counters counter.Store
	Locator  classify.Locator
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
}

// Pipeline runs one tracking event from validation to persistence.
type Pipeline struct {
	sites    SiteResolver
	visits   VisitStore
	visitors VisitorChecker
	counters counter.Store
	locator  classify.Locator
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(d Deps) *Pipeline {
	locator := d.Locator
	if locator == nil {
		locator = classify.NopLocator{}
	}
	return &Pipeline{
		sites:    d.Sites,
		visits:   d.Visits,
		visitors: d.Visitors,
		counters: d.Counters,
		locator:  locator,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      time.Now,
	}
}

// Ingest validates, enriches and stores ev, returning the new visit id.
// Errors are *ValidationError, identity.ErrInvalidCredential or
// ErrPersistence. Counter-store problems never fail the call.
func (p *Pipeline) Ingest(ctx context.Context, ev Event) (uint, error) {
	if err := Validate(ev); err != nil {
		p.metrics.IngestRejected("validation")
		return 0, err
	}

	site, err := p.sites.Resolve(ctx, ev.APIKey)
	if errors.Is(err, identity.ErrInvalidCredential) {
		p.metrics.IngestRejected("credential")
		return 0, err
	}
	if err != nil {
		p.metrics.IngestRejected("persistence")
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	ua := ev.UserAgent
	if ua == "" {
		ua = ev.RemoteUserAgent
	}
	client := classify.Classify(ua)
	loc := p.locator.Locate(ev.RemoteIP)

	// Custom events never mark a visitor as seen, so the first page view
	// still counts as new.
	isNew := false
	if ev.Event == "" {
		isNew = p.visitors.IsNewVisitor(ctx, site.ID, ev.VisitorID)
	}

	visit := &db.Visit{
		SiteID:           site.ID,
		VisitorID:        ev.VisitorID,
		SessionID:        ev.SessionID,
		PageURL:          ev.URL,
		PageTitle:        ev.Title,
		Referrer:         ev.Referrer,
		UserAgent:        ua,
		IPAddress:        ev.RemoteIP,
		Country:          loc.Country,
		City:             loc.City,
		Browser:          client.Browser,
		OS:               client.OS,
		Device:           client.Device,
		ScreenResolution: ev.ScreenResolution,
		Language:         ev.Language,
		Timezone:         ev.Timezone,
		VisitTime:        p.now().UTC(),
		Duration:         int(math.Round(ev.Duration)),
		IsNewVisitor:     isNew,
		UTMSource:        ev.UTMSource,
		UTMMedium:        ev.UTMMedium,
		UTMCampaign:      ev.UTMCampaign,
		UTMTerm:          ev.UTMTerm,
		UTMContent:       ev.UTMContent,
		EventName:        ev.Event,
	}
	if len(ev.Properties) > 0 {
		visit.Properties = datatypes.JSONMap(ev.Properties)
	}

	if err := p.visits.InsertVisit(ctx, visit); err != nil {
		p.metrics.IngestRejected("persistence")
		p.log.WithError(err).WithField("site_id", site.ID).Error("failed to persist visit")
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	p.metrics.VisitIngested(site.ID)

	p.bumpTallies(ctx, visit)
	return visit.ID, nil
}

// RecordDuration sets the duration of a visit. An unknown id is a silent
// no-op; only a store failure is reported.
func (p *Pipeline) RecordDuration(ctx context.Context, visitID uint, seconds int) error {
	if seconds < 0 {
		return &ValidationError{Details: []string{`"duration" must be greater than or equal to 0`}}
	}
	if err := p.visits.UpdateDuration(ctx, visitID, seconds); err != nil {
		p.log.WithError(err).WithField("visit_id", visitID).Error("failed to update visit duration")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	p.metrics.DurationUpdated()
	return nil
}

// OnlineVisitors counts distinct visitors of the key's site seen in the
// last OnlineWindow, from the durable store.
func (p *Pipeline) OnlineVisitors(ctx context.Context, apiKey string) (int64, error) {
	site, err := p.sites.Resolve(ctx, apiKey)
	if errors.Is(err, identity.ErrInvalidCredential) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	n, err := p.visits.CountVisitorsSince(ctx, site.ID, p.now().Add(-OnlineWindow))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}
