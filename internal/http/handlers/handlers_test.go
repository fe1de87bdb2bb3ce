package handlers

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"visitinsight/internal/analytics"
	"visitinsight/internal/config"
	"visitinsight/internal/counter"
	dbpkg "visitinsight/internal/db"
	"visitinsight/internal/db/dbtest"
	"visitinsight/internal/dedup"
	"visitinsight/internal/health"
	httpctx "visitinsight/internal/http/ctx"
	"visitinsight/internal/http/middleware"
	"visitinsight/internal/identity"
	"visitinsight/internal/ingest"
	"visitinsight/internal/logging"
	"visitinsight/internal/metrics"
	"visitinsight/internal/session"
)

type env struct {
	gdb      *gorm.DB
	mr       *miniredis.Miniredis
	store    *counter.RedisStore
	reg      *prometheus.Registry
	cfg      *config.Config
	resolver *identity.Resolver
	pipeline *ingest.Pipeline
	engine   *analytics.Engine
	sessions *session.Manager
	site     *dbpkg.Site
}

func setup(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.Open(t)
	site := dbtest.CreateSite(t, gdb, "example.com", "sk_live", true)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := counter.NewRedisStore(client, time.Second)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := logging.Discard()
	resolver := identity.NewResolver(dbpkg.NewSiteStore(gdb), time.Minute)

	return &env{
		gdb:      gdb,
		mr:       mr,
		store:    store,
		reg:      reg,
		cfg:      &config.Config{AdminUser: "admin"},
		resolver: resolver,
		pipeline: ingest.New(ingest.Deps{
			Sites:    resolver,
			Visits:   dbpkg.NewVisitStore(gdb),
			Visitors: dedup.New(store, log, m.CounterFault),
			Counters: store,
			Metrics:  m,
			Log:      log,
		}),
		engine:   analytics.New(gdb, resolver, m),
		sessions: session.NewManager(store, time.Hour),
		site:     site,
	}
}

func createUser(t *testing.T, gdb *gorm.DB, username, password string, admin bool) *dbpkg.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &dbpkg.User{Username: username, PasswordHash: string(hash), IsAdmin: admin}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func newCtx(method, uri, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4242}, nil)
	return ctx
}

// asUser marks ctx as authenticated the way AdminAuth does.
func asUser(ctx *fasthttp.RequestCtx, username string) *fasthttp.RequestCtx {
	httpctx.SetUser(ctx, username)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out), string(ctx.Response.Body()))
	return out
}

const trackBody = `{"apiKey":"sk_live","url":"https://example.com/","visitorId":"v1","sessionId":"s1"}`

func TestTrack(t *testing.T) {
	e := setup(t)
	h := Track(e.pipeline, false)

	ctx := newCtx("POST", "/api/track", trackBody)
	ctx.Request.Header.SetUserAgent("Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0")
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	out := decode(t, ctx)
	assert.Equal(t, true, out["success"])
	assert.NotZero(t, out["visitId"])

	var v dbpkg.Visit
	require.NoError(t, e.gdb.First(&v).Error)
	assert.Equal(t, "Firefox", v.Browser)
	assert.Equal(t, "203.0.113.9", v.IPAddress)
}

func TestTrackRejects(t *testing.T) {
	e := setup(t)
	h := Track(e.pipeline, false)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"apiKey":`, fasthttp.StatusBadRequest},
		{"missing fields", `{"apiKey":"sk_live"}`, fasthttp.StatusBadRequest},
		{"unknown key", strings.Replace(trackBody, "sk_live", "sk_nope", 1), fasthttp.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newCtx("POST", "/api/track", tc.body)
			h(ctx)
			assert.Equal(t, tc.code, ctx.Response.StatusCode())
			assert.NotEmpty(t, decode(t, ctx)["error"])
		})
	}

	ctx := newCtx("POST", "/api/track", `{"apiKey":"sk_live"}`)
	h(ctx)
	details, ok := decode(t, ctx)["details"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, details)
}

func TestDuration(t *testing.T) {
	e := setup(t)
	track := newCtx("POST", "/api/track", trackBody)
	Track(e.pipeline, false)(track)
	id := strconv.Itoa(int(decode(t, track)["visitId"].(float64)))

	h := Duration(e.pipeline)

	ctx := newCtx("PUT", "/api/track/duration/"+id, `{"duration":42.4}`)
	ctx.SetUserValue("visitId", id)
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var v dbpkg.Visit
	require.NoError(t, e.gdb.First(&v).Error)
	assert.Equal(t, 42, v.Duration)

	ctx = newCtx("PUT", "/api/track/duration/"+id, `{"duration":-1}`)
	ctx.SetUserValue("visitId", id)
	h(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = newCtx("PUT", "/api/track/duration/abc", `{"duration":5}`)
	ctx.SetUserValue("visitId", "abc")
	h(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestOnline(t *testing.T) {
	e := setup(t)
	Track(e.pipeline, false)(newCtx("POST", "/api/track", trackBody))

	ctx := newCtx("GET", "/api/track/online/sk_live", "")
	ctx.SetUserValue("apiKey", "sk_live")
	Online(e.pipeline)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.EqualValues(t, 1, decode(t, ctx)["onlineUsers"])

	ctx = newCtx("GET", "/api/track/online/sk_nope", "")
	ctx.SetUserValue("apiKey", "sk_nope")
	Online(e.pipeline)(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestReports(t *testing.T) {
	e := setup(t)
	Track(e.pipeline, false)(newCtx("POST", "/api/track", trackBody))
	siteID := strconv.Itoa(int(e.site.ID))

	run := func(h fasthttp.RequestHandler, websiteID, query string) *fasthttp.RequestCtx {
		ctx := newCtx("GET", "/api/analytics/x/"+websiteID+query, "")
		ctx.SetUserValue("websiteId", websiteID)
		h(ctx)
		return ctx
	}

	ctx := run(Overview(e.engine), siteID, "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	overview, ok := decode(t, ctx)["overview"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, overview["totalVisits"])

	assert.Equal(t, fasthttp.StatusBadRequest, run(Overview(e.engine), "abc", "").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, run(Overview(e.engine), siteID, "?startDate=yesterday").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, run(Overview(e.engine), "999", "").Response.StatusCode())

	assert.Equal(t, fasthttp.StatusOK, run(TimeSeries(e.engine), siteID, "?granularity=hour").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, run(TimeSeries(e.engine), siteID, "?granularity=minute").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, run(Geography(e.engine), siteID, "").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, run(Technology(e.engine), siteID, "").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, run(Daily(e.engine), siteID, "").Response.StatusCode())

	ctx = run(Realtime(e.resolver, e.pipeline), siteID, "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	tally, ok := decode(t, ctx)["realtime"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, tally["pageviews"])
}

func TestLoginLogout(t *testing.T) {
	e := setup(t)
	createUser(t, e.gdb, "alice", "correct horse", false)

	ctx := newCtx("POST", "/api/auth/login", `{"username":"alice","password":"wrong"}`)
	Login(e.gdb, e.sessions)(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = newCtx("POST", "/api/auth/login", `{"username":"nobody","password":"wrong"}`)
	Login(e.gdb, e.sessions)(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = newCtx("POST", "/api/auth/login", `{"username":"alice"}`)
	Login(e.gdb, e.sessions)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = newCtx("POST", "/api/auth/login", `{"username":"alice","password":"correct horse"}`)
	Login(e.gdb, e.sessions)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	token, _ := decode(t, ctx)["token"].(string)
	require.NotEmpty(t, token)

	var cookie fasthttp.Cookie
	cookie.SetKey(middleware.SessionCookie)
	require.True(t, ctx.Response.Header.Cookie(&cookie))
	assert.Equal(t, token, string(cookie.Value()))
	assert.True(t, cookie.HTTPOnly())

	user, err := e.sessions.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	out := newCtx("POST", "/api/auth/logout", "")
	out.Request.Header.Set("Authorization", "Bearer "+token)
	Logout(e.sessions)(out)
	assert.Equal(t, fasthttp.StatusOK, out.Response.StatusCode())
	_, err = e.sessions.Lookup(ctx, token)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestLoginSessionStoreDown(t *testing.T) {
	e := setup(t)
	createUser(t, e.gdb, "alice", "correct horse", false)
	e.mr.SetError("ERR simulated outage")

	ctx := newCtx("POST", "/api/auth/login", `{"username":"alice","password":"correct horse"}`)
	Login(e.gdb, e.sessions)(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestVerifyAndChangePassword(t *testing.T) {
	e := setup(t)
	createUser(t, e.gdb, "admin", "bootstrap-pass", true)
	createUser(t, e.gdb, "alice", "correct horse", false)

	ctx := asUser(newCtx("GET", "/api/auth/verify", ""), "alice")
	Verify(e.gdb)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	user := decode(t, ctx)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, false, user["isAdmin"])

	ctx = newCtx("GET", "/api/auth/verify", "")
	Verify(e.gdb)(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	change := ChangePassword(e.gdb, e.cfg)

	ctx = asUser(newCtx("POST", "/api/auth/password", `{"currentPassword":"bootstrap-pass","newPassword":"another-pass"}`), "admin")
	change(ctx)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = asUser(newCtx("POST", "/api/auth/password", `{"currentPassword":"wrong","newPassword":"another-pass"}`), "alice")
	change(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = asUser(newCtx("POST", "/api/auth/password", `{"currentPassword":"correct horse","newPassword":"another-pass"}`), "alice")
	change(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	login := newCtx("POST", "/api/auth/login", `{"username":"alice","password":"another-pass"}`)
	Login(e.gdb, e.sessions)(login)
	assert.Equal(t, fasthttp.StatusOK, login.Response.StatusCode())
}

func TestUserManagement(t *testing.T) {
	e := setup(t)
	admin := createUser(t, e.gdb, "admin", "bootstrap-pass", true)
	createUser(t, e.gdb, "root", "root-password", true)
	alice := createUser(t, e.gdb, "alice", "correct horse", false)

	ctx := asUser(newCtx("GET", "/api/users", ""), "alice")
	ListUsers(e.gdb)(ctx)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = asUser(newCtx("GET", "/api/users", ""), "root")
	ListUsers(e.gdb)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Len(t, decode(t, ctx)["users"], 3)

	ctx = asUser(newCtx("POST", "/api/auth/register", `{"username":"bob","password":"bobs-password"}`), "root")
	CreateUser(e.gdb)(ctx)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	ctx = asUser(newCtx("POST", "/api/auth/register", `{"username":"bob","password":"bobs-password"}`), "root")
	CreateUser(e.gdb)(ctx)
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())

	ctx = asUser(newCtx("POST", "/api/auth/register", `{"username":"carol","password":"short"}`), "root")
	CreateUser(e.gdb)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	withID := func(ctx *fasthttp.RequestCtx, id uint) *fasthttp.RequestCtx {
		ctx.SetUserValue("id", strconv.Itoa(int(id)))
		return ctx
	}

	ctx = withID(asUser(newCtx("POST", "/api/users/x/reset-password", `{"password":"new-password"}`), "root"), admin.ID)
	ResetPassword(e.gdb, e.cfg)(ctx)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = withID(asUser(newCtx("POST", "/api/users/x/reset-password", `{"password":"new-password"}`), "root"), alice.ID)
	ResetPassword(e.gdb, e.cfg)(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = withID(asUser(newCtx("DELETE", "/api/users/x", ""), "root"), 999)
	DeleteUser(e.gdb, e.cfg)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = withID(asUser(newCtx("DELETE", "/api/users/x", ""), "root"), alice.ID)
	DeleteUser(e.gdb, e.cfg)(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var count int64
	require.NoError(t, e.gdb.Model(&dbpkg.User{}).Where("username = ?", "alice").Count(&count).Error)
	assert.Zero(t, count)
}

func TestSiteManagement(t *testing.T) {
	e := setup(t)
	createUser(t, e.gdb, "root", "root-password", true)

	ctx := asUser(newCtx("POST", "/api/sites", `{"name":"Blog","domain":"blog.example.com"}`), "root")
	CreateSite(e.gdb)(ctx)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	site := decode(t, ctx)["site"].(map[string]any)
	assert.True(t, strings.HasPrefix(site["apiKey"].(string), "sk_"))
	assert.Equal(t, true, site["active"])

	ctx = asUser(newCtx("POST", "/api/sites", `{"name":"Blog","domain":"blog.example.com"}`), "root")
	CreateSite(e.gdb)(ctx)
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())

	ctx = asUser(newCtx("GET", "/api/sites", ""), "root")
	ListSites(e.gdb)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Len(t, decode(t, ctx)["sites"], 2)

	// Warm the cache, then deactivate: the next track must be refused.
	_, err := e.resolver.Resolve(ctx, "sk_live")
	require.NoError(t, err)

	ctx = asUser(newCtx("PUT", "/api/sites/x/active", `{"active":false}`), "root")
	ctx.SetUserValue("id", strconv.Itoa(int(e.site.ID)))
	SetSiteActive(e.gdb, e.resolver)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	track := newCtx("POST", "/api/track", trackBody)
	Track(e.pipeline, false)(track)
	assert.Equal(t, fasthttp.StatusUnauthorized, track.Response.StatusCode())

	ctx = asUser(newCtx("PUT", "/api/sites/x/active", `{}`), "root")
	ctx.SetUserValue("id", strconv.Itoa(int(e.site.ID)))
	SetSiteActive(e.gdb, e.resolver)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestSiteMetricsHandler(t *testing.T) {
	e := setup(t)
	other := dbtest.CreateSite(t, e.gdb, "other.example.com", "sk_other", true)
	Track(e.pipeline, false)(newCtx("POST", "/api/track", trackBody))
	Track(e.pipeline, false)(newCtx("POST", "/api/track", strings.Replace(trackBody, "sk_live", "sk_other", 1)))

	h := SiteMetricsHandler(e.resolver, e.reg)

	ctx := newCtx("GET", "/v1/metrics", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = newCtx("GET", "/v1/metrics?api-key=sk_live", "")
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, `visitinsight_visits_ingested_total{site="`+strconv.Itoa(int(e.site.ID))+`"} 1`)
	assert.NotContains(t, body, `site="`+strconv.Itoa(int(other.ID))+`"`)
}

func TestHealth(t *testing.T) {
	e := setup(t)
	sqlDB, err := e.gdb.DB()
	require.NoError(t, err)

	ctx := newCtx("GET", "/healthz", "")
	Healthz(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	h := Readyz(health.NewChecker(sqlDB, e.store))
	ctx = newCtx("GET", "/readyz", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, health.StatusHealthy, decode(t, ctx)["status"])

	e.mr.SetError("ERR simulated outage")
	ctx = newCtx("GET", "/readyz", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, health.StatusDegraded, decode(t, ctx)["status"])
}
