package middleware

import (
	"context"
	"errors"

	"github.com/valyala/fasthttp"

	httpctx "visitinsight/internal/http/ctx"
	"visitinsight/internal/session"
)

type sessionLookup interface {
	Lookup(ctx context.Context, token string) (string, error)
}

// AdminAuth lets a request through only with a live dashboard session. A
// counter-store failure denies access.
func AdminAuth(sessions sessionLookup) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token := SessionToken(ctx)
			if token == "" {
				writeJSONError(ctx, fasthttp.StatusUnauthorized, "Access denied. No token provided.")
				return
			}

			username, err := sessions.Lookup(context.Background(), token)
			if errors.Is(err, session.ErrNoSession) {
				writeJSONError(ctx, fasthttp.StatusUnauthorized, "Invalid token.")
				return
			}
			if err != nil {
				httpctx.Logger(ctx).WithError(err).Error("session lookup failed")
				writeJSONError(ctx, fasthttp.StatusServiceUnavailable, "Session store unavailable.")
				return
			}

			httpctx.SetSessionToken(ctx, token)
			httpctx.SetUser(ctx, username)
			next(ctx)
		}
	}
}
