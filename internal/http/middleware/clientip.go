package middleware

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// ClientIP returns the caller's address. With trustProxy set, the first
// X-Forwarded-For hop and then X-Real-IP take precedence over the socket.
func ClientIP(ctx *fasthttp.RequestCtx, trustProxy bool) string {
	if trustProxy {
		if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(string(ctx.Request.Header.Peek("X-Real-IP"))); ip != "" {
			return ip
		}
	}
	return ctx.RemoteIP().String()
}
