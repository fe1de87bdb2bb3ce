package handlers

import (
	"context"

	"github.com/valyala/fasthttp"

	"visitinsight/internal/health"
)

type healthChecker interface {
	Check(ctx context.Context) health.Status
}

// Healthz reports liveness only.
func Healthz(ctx *fasthttp.RequestCtx) {
	jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"status": health.StatusHealthy})
}

// Readyz probes the dependencies. A degraded counter store still serves
// traffic, so only an unhealthy result fails the probe.
func Readyz(checker healthChecker) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		c, cancel := requestContext()
		defer cancel()

		status := checker.Check(c)
		code := fasthttp.StatusOK
		if status.Status == health.StatusUnhealthy {
			code = fasthttp.StatusServiceUnavailable
		}
		jsonResponse(ctx, code, status)
	}
}
