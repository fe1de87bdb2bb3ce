package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"visitinsight/internal/analytics"
	"visitinsight/internal/classify"
	"visitinsight/internal/config"
	"visitinsight/internal/counter"
	"visitinsight/internal/db"
	"visitinsight/internal/dedup"
	"visitinsight/internal/health"
	"visitinsight/internal/http/handlers"
	appmw "visitinsight/internal/http/middleware"
	"visitinsight/internal/identity"
	"visitinsight/internal/ingest"
	"visitinsight/internal/logging"
	"visitinsight/internal/metrics"
	"visitinsight/internal/ratelimit"
	"visitinsight/internal/session"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get database handle")
	}
	defer sqlDB.Close()

	if err := db.EnsureBootstrapAdmin(gdb, cfg); err != nil {
		log.WithError(err).Fatal("failed to ensure bootstrap admin")
	}
	if cfg.BootstrapSiteDomain != "" {
		site, err := db.EnsureBootstrapSite(gdb, cfg)
		if err != nil {
			log.WithError(err).Warn("failed to ensure bootstrap site")
		} else {
			log.WithFields(logrus.Fields{"site_id": site.ID, "domain": site.Domain}).Info("bootstrap site ready")
		}
	}

	workers, err := db.StartWorkers(gdb, cfg.RetentionDays, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start background workers")
	}
	defer workers.Stop()

	redisClient, err := counter.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect counter store")
	}
	defer redisClient.Close()
	counters := counter.NewRedisStore(redisClient, cfg.CounterTimeout)

	m := metrics.New(prometheus.DefaultRegisterer)

	locator, closeLocator := openLocator(cfg, log)
	defer closeLocator()

	sites := identity.NewResolver(db.NewSiteStore(gdb), cfg.SiteCacheTTL)
	limiter := ratelimit.New(counters, ratelimit.RulesFromConfig(cfg), log, m.CounterFault)
	pipeline := ingest.New(ingest.Deps{
		Sites:    sites,
		Visits:   db.NewVisitStore(gdb),
		Visitors: dedup.New(counters, log, m.CounterFault),
		Counters: counters,
		Locator:  locator,
		Metrics:  m,
		Log:      log,
	})
	engine := analytics.New(gdb, sites, m)
	sessions := session.NewManager(counters, cfg.SessionTTL)
	checker := health.NewChecker(sqlDB, counters)

	limit := func(class ratelimit.Class) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
		return appmw.RateLimit(limiter, class, cfg.TrustProxy, m)
	}
	track := limit(ratelimit.ClassTrack)
	login := limit(ratelimit.ClassLogin)
	authed := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return limit(ratelimit.ClassAPI)(appmw.AdminAuth(sessions)(h))
	}

	r := router.New()
	r.SaveMatchedRoutePath = true

	r.GET("/healthz", handlers.Healthz)
	r.GET("/readyz", handlers.Readyz(checker))
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	r.POST("/api/track", track(handlers.Track(pipeline, cfg.TrustProxy)))
	r.PUT("/api/track/duration/{visitId}", track(handlers.Duration(pipeline)))
	r.GET("/api/track/online/{apiKey}", track(handlers.Online(pipeline)))

	r.POST("/api/auth/login", login(handlers.Login(gdb, sessions)))
	r.POST("/api/auth/logout", handlers.Logout(sessions))
	r.GET("/api/auth/verify", authed(handlers.Verify(gdb)))
	r.POST("/api/auth/password", authed(handlers.ChangePassword(gdb, cfg)))
	r.POST("/api/auth/register", authed(handlers.CreateUser(gdb)))

	r.GET("/api/users", authed(handlers.ListUsers(gdb)))
	r.POST("/api/users/{id}/reset-password", authed(handlers.ResetPassword(gdb, cfg)))
	r.DELETE("/api/users/{id}", authed(handlers.DeleteUser(gdb, cfg)))

	r.GET("/api/sites", authed(handlers.ListSites(gdb)))
	r.POST("/api/sites", authed(handlers.CreateSite(gdb)))
	r.PUT("/api/sites/{id}/active", authed(handlers.SetSiteActive(gdb, sites)))
	r.GET("/api/sites/metrics", limit(ratelimit.ClassAPI)(handlers.SiteMetricsHandler(sites, prometheus.DefaultGatherer)))

	r.GET("/api/analytics/overview/{websiteId}", authed(handlers.Overview(engine)))
	r.GET("/api/analytics/timeseries/{websiteId}", authed(handlers.TimeSeries(engine)))
	r.GET("/api/analytics/geography/{websiteId}", authed(handlers.Geography(engine)))
	r.GET("/api/analytics/technology/{websiteId}", authed(handlers.Technology(engine)))
	r.GET("/api/analytics/daily/{websiteId}", authed(handlers.Daily(engine)))
	r.GET("/api/analytics/realtime/{websiteId}", authed(handlers.Realtime(sites, pipeline)))

	// Global middleware chain: request logger, then metrics, then router
	server := &fasthttp.Server{
		Handler:      appmw.RequestLogger(log)(appmw.Instrument(m)(r.Handler)),
		Name:         "visitinsight",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("visitinsight listening")
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("server error")
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}
}

// openLocator picks the geolocation source: a MaxMind database, a CSV range
// table, or nothing.
func openLocator(cfg *config.Config, log logrus.FieldLogger) (classify.Locator, func()) {
	switch {
	case cfg.GeoIPDB != "":
		mm, err := classify.OpenMaxMind(cfg.GeoIPDB)
		if err != nil {
			log.WithError(err).Warn("failed to open GeoIP database, geolocation disabled")
			break
		}
		return mm, func() { _ = mm.Close() }
	case cfg.GeoIPCSV != "":
		table, err := classify.LoadRangeTable(cfg.GeoIPCSV)
		if err != nil {
			log.WithError(err).Warn("failed to load GeoIP range table, geolocation disabled")
			break
		}
		return table, func() {}
	}
	return classify.NopLocator{}, func() {}
}
