package middleware

import (
	"bytes"
	"strings"

	"github.com/valyala/fasthttp"
)

// SessionCookie is the cookie the login handler sets.
const SessionCookie = "session"

// SessionToken returns the token sent as "Authorization: Bearer <token>",
// falling back to the session cookie.
func SessionToken(ctx *fasthttp.RequestCtx) string {
	auth := ctx.Request.Header.Peek("Authorization")
	const prefix = "Bearer "
	if len(auth) > 0 && bytes.HasPrefix(auth, []byte(prefix)) {
		return strings.TrimSpace(string(auth[len(prefix):]))
	}
	return string(ctx.Request.Header.Cookie(SessionCookie))
}
