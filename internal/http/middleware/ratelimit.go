package middleware

import (
	"context"
	"math"
	"strconv"

	"github.com/valyala/fasthttp"

	"visitinsight/internal/metrics"
	"visitinsight/internal/ratelimit"
)

// RateLimit applies the quota of class to each client IP.
func RateLimit(l *ratelimit.Limiter, class ratelimit.Class, trustProxy bool, m *metrics.Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			d := l.Allow(context.Background(), ClientIP(ctx, trustProxy), class)

			if d.Limit > 0 {
				ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}

			if !d.Allowed {
				m.RateLimited(string(class))
				retryAfter := int64(math.Ceil(d.RetryAfter.Seconds()))
				ctx.Response.Header.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeJSON(ctx, fasthttp.StatusTooManyRequests, map[string]any{
					"error":      "Too many requests, please try again later.",
					"retryAfter": retryAfter,
				})
				return
			}
			next(ctx)
		}
	}
}
