package handlers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"visitinsight/internal/analytics"
	"visitinsight/internal/ingest"
)

type reportFunc func(c context.Context, siteID uint, r analytics.Range, args *fasthttp.Args) (any, error)

func report(run reportFunc) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		siteID, ok := pathUint(ctx, "websiteId")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid website id")
			return
		}

		args := ctx.QueryArgs()
		r, err := analytics.ParseRange(string(args.Peek("startDate")), string(args.Peek("endDate")), time.Now())
		if err != nil {
			writeError(ctx, err)
			return
		}

		c, cancel := requestContext()
		defer cancel()

		out, err := run(c, siteID, r, args)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, out)
	}
}

func Overview(e *analytics.Engine) fasthttp.RequestHandler {
	return report(func(c context.Context, siteID uint, r analytics.Range, _ *fasthttp.Args) (any, error) {
		return e.Overview(c, siteID, r)
	})
}

func TimeSeries(e *analytics.Engine) fasthttp.RequestHandler {
	return report(func(c context.Context, siteID uint, r analytics.Range, args *fasthttp.Args) (any, error) {
		g, err := analytics.ParseGranularity(string(args.Peek("granularity")))
		if err != nil {
			return nil, err
		}
		return e.TimeSeries(c, siteID, r, g)
	})
}

func Geography(e *analytics.Engine) fasthttp.RequestHandler {
	return report(func(c context.Context, siteID uint, r analytics.Range, _ *fasthttp.Args) (any, error) {
		return e.Geography(c, siteID, r)
	})
}

func Technology(e *analytics.Engine) fasthttp.RequestHandler {
	return report(func(c context.Context, siteID uint, r analytics.Range, _ *fasthttp.Args) (any, error) {
		return e.Technology(c, siteID, r)
	})
}

// Daily serves the stored per-day rollups.
func Daily(e *analytics.Engine) fasthttp.RequestHandler {
	return report(func(c context.Context, siteID uint, r analytics.Range, _ *fasthttp.Args) (any, error) {
		return e.Daily(c, siteID, r)
	})
}

// Realtime returns today's advisory tallies for a site. They come from the
// counter store and may lag or drift from the reports above.
func Realtime(sites analytics.SiteLookup, p *ingest.Pipeline) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		siteID, ok := pathUint(ctx, "websiteId")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid website id")
			return
		}

		c, cancel := requestContext()
		defer cancel()

		site, err := sites.ResolveID(c, siteID)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"realtime": p.Tallies(c, site.ID, time.Now())})
	}
}
