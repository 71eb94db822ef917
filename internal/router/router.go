package router

import (
	"database/sql"
	"net/http"
	"time"

	_ "patient-access/docs"
	"patient-access/internal/adapters/locking/redislock"
	mem "patient-access/internal/adapters/storage/memory"
	pg "patient-access/internal/adapters/storage/postgres"
	"patient-access/internal/domain/accessrequests"
	"patient-access/internal/domain/audit"
	"patient-access/internal/middleware"
	"patient-access/internal/platform/clock"
	"patient-access/internal/platform/logger"
	"patient-access/internal/platform/metrics"
	"patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"
)

// Policy carries the engine's tunables.
type Policy struct {
	StoreTimeout    time.Duration
	LockTTL         time.Duration
	LockPrefix      string // Redis key prefix; empty keeps the locker default
	MaxRequestTTL   time.Duration
	AllowSelfAccess bool
	Admins          []string

	// CreateRate 0 disables create throttling.
	CreateRate  rate.Limit
	CreateBurst int
}

type Options struct {
	AuthVerifier auth.AuthVerifier // nil: dev mode, principal from X-Debug-User-ID

	// Optional backends. Without DB the stores are in-memory, without Redis
	// key locks are process-local.
	DB        *sql.DB
	Redis     redis.UniversalClient
	Forwarder audit.Forwarder

	Logger   logger.Logger
	Registry *prometheus.Registry
	Clock    clock.Clock

	Policy Policy
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog(log))
	r.Use(middleware.Recover(log))

	r.Use(middleware.AuthContext(opts.AuthVerifier, log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	svc := newService(opts, log, metrics.New(reg))

	var createLimit func(http.Handler) http.Handler
	if opts.Policy.CreateRate > 0 {
		createLimit = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  opts.Policy.CreateRate,
			Burst: opts.Policy.CreateBurst,
		}).Handler
	}
	accessrequests.RegisterRoutes(r, svc, createLimit)

	return r
}

func newService(opts Options, log logger.Logger, m *metrics.Metrics) *accessrequests.Service {
	var (
		store   accessrequests.Store
		trail   audit.Log
		runner  accessrequests.TxRunner
		svcOpts []accessrequests.Option
	)

	if opts.DB != nil {
		repo := pg.NewAccessRequestsRepo(opts.DB)
		auditLog := pg.NewAuditLog(opts.DB)
		store, trail, runner = repo, auditLog, pg.NewTxRunner(opts.DB, repo, auditLog)
	} else {
		repo := mem.NewAccessRequestsRepo()
		auditLog := mem.NewAuditLog()
		store, trail, runner = repo, auditLog, mem.NewTxRunner(repo, auditLog)
	}

	if opts.Redis != nil {
		lockOpts := []redislock.Option{redislock.WithLogger(log)}
		if opts.Policy.LockPrefix != "" {
			lockOpts = append(lockOpts, redislock.WithPrefix(opts.Policy.LockPrefix))
		}
		svcOpts = append(svcOpts, accessrequests.WithLocker(
			redislock.New(opts.Redis, opts.Policy.LockTTL, lockOpts...),
		))
	}
	if opts.Clock != nil {
		svcOpts = append(svcOpts, accessrequests.WithClock(opts.Clock))
	}
	if opts.Forwarder != nil {
		svcOpts = append(svcOpts, accessrequests.WithForwarder(opts.Forwarder))
	}
	if opts.Policy.StoreTimeout > 0 {
		svcOpts = append(svcOpts, accessrequests.WithStoreTimeout(opts.Policy.StoreTimeout))
	}

	svcOpts = append(svcOpts,
		accessrequests.WithLogger(log),
		accessrequests.WithMetrics(m),
		accessrequests.WithSelfAccess(opts.Policy.AllowSelfAccess),
		accessrequests.WithMaxTTL(opts.Policy.MaxRequestTTL),
		accessrequests.WithRevocationAdmins(opts.Policy.Admins...),
	)
	return accessrequests.NewService(store, trail, runner, svcOpts...)
}
