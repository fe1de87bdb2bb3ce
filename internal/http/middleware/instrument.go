package middleware

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"visitinsight/internal/metrics"
)

// Instrument counts requests by matched route. The router must be built
// with SaveMatchedRoutePath so raw paths never become label values.
func Instrument(m *metrics.Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)

			route, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
			if route == "" {
				route = "unmatched"
			}
			m.Request(route, string(ctx.Method()), ctx.Response.StatusCode(), time.Since(start))
		}
	}
}
