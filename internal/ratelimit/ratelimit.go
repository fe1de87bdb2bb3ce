// Package ratelimit implements fixed-window request quotas per client and
// route class on top of the counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"visitinsight/internal/config"
	"visitinsight/internal/counter"
)

// Class names a group of routes sharing one quota.
type Class string

const (
	ClassTrack Class = "track"
	ClassAPI   Class = "api"
	ClassLogin Class = "login"
)

// Rule is a quota: Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time left in the current window. It never
	// exceeds the window width.
	RetryAfter time.Duration
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Limiter counts requests in aligned windows: bucket = floor(now/window).
// A client can burst up to twice the limit across a window boundary.
type Limiter struct {
	store   counter.Store
	rules   map[Class]Rule
	log     logrus.FieldLogger
	now     func() time.Time
	onFault func(op string)
}

// RulesFromConfig returns the quota of each route class.
func RulesFromConfig(cfg *config.Config) map[Class]Rule {
	return map[Class]Rule{
		ClassTrack: Rule(cfg.TrackRate),
		ClassAPI:   Rule(cfg.APIRate),
		ClassLogin: Rule(cfg.LoginRate),
	}
}

// New builds a limiter. onFault, if non-nil, is called whenever a
// counter-store error let a request through.
func New(store counter.Store, rules map[Class]Rule, log logrus.FieldLogger, onFault func(op string)) *Limiter {
	if onFault == nil {
		onFault = func(string) {}
	}
	return &Limiter{store: store, rules: rules, log: log, now: time.Now, onFault: onFault}
}

// Rule returns the quota for class.
func (l *Limiter) Rule(class Class) (Rule, bool) {
	r, ok := l.rules[class]
	return r, ok
}

func key(class Class, clientKey string, bucket int64) string {
	return fmt.Sprintf("rate_limit:%s:%s:%d", class, clientKey, bucket)
}

// Allow counts one request from clientKey against class. Unknown classes
// and counter-store failures allow the request.
func (l *Limiter) Allow(ctx context.Context, clientKey string, class Class) Decision {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	width := rule.Window.Nanoseconds()
	bucket := now.UnixNano() / width
	resetAt := time.Unix(0, (bucket+1)*width)
	retry := resetAt.Sub(now)

	d := Decision{Limit: rule.Limit, RetryAfter: retry, ResetAt: resetAt}

	n, err := l.store.Incr(ctx, key(class, clientKey, bucket), rule.Window)
	if err != nil {
		l.onFault("ratelimit_incr")
		l.log.WithError(err).WithFields(logrus.Fields{"route_class": class}).Warn("rate limiter failing open")
		d.Allowed = true
		d.Remaining = rule.Limit
		return d
	}

	if n > int64(rule.Limit) {
		return d
	}
	d.Allowed = true
	d.Remaining = rule.Limit - int(n)
	return d
}
