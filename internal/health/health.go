// Package health reports whether the service's backing stores are reachable.
package health

import (
	"context"
	"database/sql"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type Status struct {
	Status       string                `json:"status"`
	Timestamp    time.Time             `json:"timestamp"`
	Dependencies map[string]Dependency `json:"dependencies,omitempty"`
}

type Dependency struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Checker pings the durable store and the counter store. The durable store
// is required; losing the counter store only degrades the service.
type Checker struct {
	db       *sql.DB
	counters pinger
}

func NewChecker(db *sql.DB, counters pinger) *Checker {
	return &Checker{db: db, counters: counters}
}

func (c *Checker) Check(ctx context.Context) Status {
	status := Status{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]Dependency),
	}

	if c.db != nil {
		dep := probe(ctx, c.db.PingContext)
		status.Dependencies["database"] = dep
		if dep.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if c.counters != nil {
		dep := probe(ctx, c.counters.Ping)
		status.Dependencies["redis"] = dep
		if dep.Status == StatusUnhealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func probe(ctx context.Context, ping func(context.Context) error) Dependency {
	start := time.Now()
	err := ping(ctx)
	dep := Dependency{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}
