package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"broker_reviews/internal/adapters/captcha"
	server "broker_reviews/internal/adapters/http_server"
	"broker_reviews/internal/adapters/memcache"
	"broker_reviews/internal/adapters/observability"
	redisad "broker_reviews/internal/adapters/redis"
	"broker_reviews/internal/app"
	"broker_reviews/internal/dedup"
	"broker_reviews/internal/domain"
	"broker_reviews/internal/filter"
	"broker_reviews/internal/moderation"
	"broker_reviews/internal/shared"
	mysqlrepo "broker_reviews/internal/storage/mysql"
	"broker_reviews/internal/storage/memory"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	policy, err := moderation.ParsePolicy(cfg.ReviewPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REVIEW_POLICY")
	}

	// store
	var (
		repo  domain.ReviewRepository
		ready []func(context.Context) error
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory review store; data is lost on restart")
		repo = memory.New()
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		if err := db.Ping(); err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		log.Info().Msg("database connection ok")
		defer db.Close()
		r := mysqlrepo.New(db)
		repo = r
		ready = append(ready, r.Ping)
	default:
		log.Fatal().Str("backend", cfg.StoreBackend).Msg("unknown STORE_BACKEND")
	}

	// cache and locks
	const lockTTL = 10 * time.Second
	var (
		cache  domain.Cache
		locker domain.Locker
	)
	switch cfg.CacheBackend {
	case "memory":
		cache = memcache.New(cfg.CacheTTL)
	case "redis":
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		cache = rc
		ready = append(ready, rc.Ping)
		if cfg.DistributedLock {
			locker = redisad.NewLocker(rc.Client(), lockTTL)
		}
	default:
		log.Fatal().Str("backend", cfg.CacheBackend).Msg("unknown CACHE_BACKEND")
	}

	verifier, err := captcha.New(cfg.CaptchaURL, cfg.CaptchaSecret, captcha.Options{
		RPS:      cfg.CaptchaRPS,
		Attempts: cfg.CaptchaAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize captcha client")
	}

	// services
	coord := app.NewCoordinator(repo, cache, cfg.CacheTTL, app.WithEagerRefresh(cfg.EagerRefresh))
	detector := dedup.New(repo,
		dedup.WithMaxDistance(cfg.DupMaxDistance),
		dedup.WithMinSimilarity(float64(cfg.DupMinSimilarityPct)/100),
		dedup.WithSyncOverlap(max(dedup.DefaultSyncOverlap, lockTTL)),
	)
	contentFilter := filter.New(filter.Config{PhoneRegion: cfg.PhoneRegion, Threshold: cfg.ProfanityThreshold})
	submit := app.NewSubmissionService(repo, verifier, shared.NewStaticCatalog(cfg.BrokerIDs), contentFilter, detector, coord,
		app.SubmissionConfig{Window: cfg.DupWindow, Policy: policy, Locker: locker})
	mod := app.NewModerationService(repo, coord, nil)
	q := app.NewQueryService(repo, cache, coord, cfg.CacheTTL)

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Submit:     submit,
		Q:          q,
		Mod:        mod,
		AdminToken: cfg.AdminToken,
		Ready: func(ctx context.Context) error {
			for _, check := range ready {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("store", cfg.StoreBackend).
		Str("cache", cfg.CacheBackend).
		Str("policy", string(policy)).
		Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
