package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	httpctx "visitinsight/internal/http/ctx"
)

const maxRequestIDLen = 128

// RequestLogger tags each request with an id, hands handlers a logger
// carrying it, and logs method, path, status and duration.
func RequestLogger(log logrus.FieldLogger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			id := string(ctx.Request.Header.Peek("X-Request-ID"))
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			httpctx.SetRequestID(ctx, id)
			ctx.Response.Header.Set("X-Request-ID", id)

			entry := log.WithField("request_id", id)
			httpctx.SetLogger(ctx, entry)

			next(ctx)

			entry.WithFields(logrus.Fields{
				"method":   string(ctx.Method()),
				"path":     string(ctx.Path()),
				"status":   ctx.Response.StatusCode(),
				"duration": time.Since(start).String(),
				"ip":       ctx.RemoteIP().String(),
			}).Info("request")
		}
	}
}
