package handlers

import (
	"encoding/json"
	"math"

	"github.com/valyala/fasthttp"

	"visitinsight/internal/http/middleware"
	"visitinsight/internal/ingest"
)

// Track records one page view or custom event from the tracking snippet.
func Track(p *ingest.Pipeline, trustProxy bool) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var ev ingest.Event
		if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
			writeError(ctx, &ingest.ValidationError{Details: []string{"invalid JSON body"}})
			return
		}
		ev.RemoteIP = middleware.ClientIP(ctx, trustProxy)
		ev.RemoteUserAgent = string(ctx.UserAgent())

		c, cancel := requestContext()
		defer cancel()

		id, err := p.Ingest(c, ev)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true, "visitId": id})
	}
}

type durationRequest struct {
	Duration *float64 `json:"duration"`
}

// Duration stores the time spent on a page, sent when the page is left.
// Unknown or malformed visit ids still get a success response so the
// beacon never retries.
func Duration(p *ingest.Pipeline) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req durationRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			writeError(ctx, &ingest.ValidationError{Details: []string{"invalid JSON body"}})
			return
		}
		if req.Duration == nil || *req.Duration < 0 || *req.Duration > math.MaxInt32 {
			writeError(ctx, &ingest.ValidationError{Details: []string{`"duration" must be a number of seconds`}})
			return
		}

		visitID, ok := pathUint(ctx, "visitId")
		if !ok {
			jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true})
			return
		}

		c, cancel := requestContext()
		defer cancel()

		if err := p.RecordDuration(c, visitID, int(math.Round(*req.Duration))); err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}

// Online returns how many distinct visitors the key's site had in the
// last few minutes.
func Online(p *ingest.Pipeline) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		c, cancel := requestContext()
		defer cancel()

		n, err := p.OnlineVisitors(c, pathString(ctx, "apiKey"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"onlineUsers": n})
	}
}
