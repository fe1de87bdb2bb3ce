package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"visitinsight/internal/analytics"
	httpctx "visitinsight/internal/http/ctx"
	"visitinsight/internal/identity"
	"visitinsight/internal/ingest"
)

// requestTimeout bounds the store work done for one request.
const requestTimeout = 10 * time.Second

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func jsonResponse(ctx *fasthttp.RequestCtx, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		httpctx.Logger(ctx).WithError(err).Error("failed to encode response")
		code = fasthttp.StatusInternalServerError
		body = []byte(`{"error":"Internal server error"}`)
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	jsonResponse(ctx, code, map[string]any{"error": msg})
}

// writeError maps an error from the core packages to a status code. Only
// unexpected errors are logged.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonResponse(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "Validation error",
			"details": verr.Details,
		})
	case errors.Is(err, analytics.ErrInvalidQuery):
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredential):
		errResponse(ctx, fasthttp.StatusUnauthorized, "Invalid API key")
	case errors.Is(err, identity.ErrSiteNotFound):
		errResponse(ctx, fasthttp.StatusNotFound, "Website not found")
	default:
		httpctx.Logger(ctx).WithError(err).Error("request failed")
		errResponse(ctx, fasthttp.StatusInternalServerError, "Internal server error")
	}
}

// pathUint reads a numeric router parameter.
func pathUint(ctx *fasthttp.RequestCtx, name string) (uint, bool) {
	s, _ := ctx.UserValue(name).(string)
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func pathString(ctx *fasthttp.RequestCtx, name string) string {
	s, _ := ctx.UserValue(name).(string)
	return s
}
