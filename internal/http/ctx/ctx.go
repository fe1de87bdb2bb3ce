package ctx

import (
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	UserKey         = "user"
	SessionTokenKey = "sessionToken"
	RequestIDKey    = "requestID"
	LoggerKey       = "logger"
)

func SetSessionToken(ctx *fasthttp.RequestCtx, token string) {
	ctx.SetUserValue(SessionTokenKey, token)
}

func SessionTokenFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	s, ok := ctx.UserValue(SessionTokenKey).(string)
	return s, ok && s != ""
}

// SetUser stores the username of the authenticated dashboard user.
func SetUser(ctx *fasthttp.RequestCtx, username string) {
	ctx.SetUserValue(UserKey, username)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	s, ok := ctx.UserValue(UserKey).(string)
	return s, ok && s != ""
}

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) string {
	s, _ := ctx.UserValue(RequestIDKey).(string)
	return s
}

func SetLogger(ctx *fasthttp.RequestCtx, log logrus.FieldLogger) {
	ctx.SetUserValue(LoggerKey, log)
}

// Logger returns the request-scoped logger, or the standard logger when
// none was set.
func Logger(ctx *fasthttp.RequestCtx) logrus.FieldLogger {
	if l, ok := ctx.UserValue(LoggerKey).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}
