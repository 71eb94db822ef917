package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patient-access/internal/adapters/auditstream/kafka"
	"patient-access/internal/adapters/identity/remote"
	pg "patient-access/internal/adapters/storage/postgres"
	"patient-access/internal/platform/config"
	"patient-access/internal/platform/logger"
	"patient-access/internal/platform/retry"
	"patient-access/internal/ports/auth"
	"patient-access/internal/router"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// @title Patient Access API
// @version 1.0
// @description Patient-controlled authorization of access to clinical data, with an append-only audit trail.
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", map[string]any{"err": err})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logger.Logger) error {
	opts := router.Options{
		Logger: log,
		Policy: router.Policy{
			StoreTimeout:    cfg.StoreTimeout,
			LockTTL:         cfg.LockTTL,
			LockPrefix:      cfg.LockPrefix,
			MaxRequestTTL:   cfg.MaxRequestTTL,
			AllowSelfAccess: cfg.AllowSelfAccess,
			Admins:          cfg.AdminPrincipals,
			CreateRate:      rate.Limit(cfg.CreateRatePerSecond),
			CreateBurst:     cfg.CreateRateBurst,
		},
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts.Registry = reg

	if cfg.DBDSN != "" {
		db, err := openDB(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.DB = db
	} else {
		log.Warn("DB_DSN not set, using in-memory stores", nil)
	}

	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts.Redis = rdb
	}

	if len(cfg.KafkaBrokers) > 0 {
		fwd, err := dialKafka(ctx, cfg)
		if err != nil {
			return err
		}
		defer fwd.Close()
		opts.Forwarder = fwd
	}

	verifier, err := identityVerifier(cfg)
	if err != nil {
		return err
	}
	if verifier == nil {
		log.Warn("IDENTITY_URL not set, trusting X-Debug-User-ID", nil)
	}
	opts.AuthVerifier = verifier

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", nil)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openDB(ctx context.Context, cfg config.Config, log logger.Logger) (*sql.DB, error) {
	var db *sql.DB
	err := retry.Do(ctx, retry.DefaultPolicy, nil, func(ctx context.Context) error {
		opened, err := pg.Open(ctx, cfg.DBDSN, pg.DefaultPool)
		if err != nil {
			log.Warn("postgres not ready", map[string]any{"err": err})
			return err
		}
		db = opened
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.Migrate {
		if err := pg.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(ropts)
	err = retry.Do(ctx, retry.DefaultPolicy, nil, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func dialKafka(ctx context.Context, cfg config.Config) (*kafka.Forwarder, error) {
	var fwd *kafka.Forwarder
	err := retry.Do(ctx, retry.DefaultPolicy, nil, func(ctx context.Context) error {
		f, err := kafka.Dial(ctx, kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaAuditTopic})
		if err != nil {
			return err
		}
		fwd = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return fwd, nil
}

func identityVerifier(cfg config.Config) (auth.AuthVerifier, error) {
	if cfg.IdentityURL == "" {
		return nil, nil
	}
	v, err := remote.NewVerifier(remote.Config{BaseURL: cfg.IdentityURL, APIKey: cfg.IdentityAPIKey})
	if err != nil {
		return nil, err
	}
	return v, nil
}
