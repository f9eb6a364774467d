// Command reaggregate bumps every configured broker's cache generation and
// rebuilds its rating aggregate from the approved set.
package main

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"broker_reviews/internal/adapters/observability"
	redisad "broker_reviews/internal/adapters/redis"
	"broker_reviews/internal/app"
	"broker_reviews/internal/shared"
	mysqlrepo "broker_reviews/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if len(cfg.BrokerIDs) == 0 {
		log.Fatal().Msg("BROKER_IDS is empty; nothing to rebuild")
	}
	log.Info().
		Int("brokers", len(cfg.BrokerIDs)).
		Int("workers", cfg.ReaggWorkers).
		Msg("reaggregate starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	coord := app.NewCoordinator(repo, cache, cfg.CacheTTL, app.WithEagerRefresh(true))

	failed := app.Reaggregate(ctx, coord, cfg.BrokerIDs, cfg.ReaggWorkers)
	if failed > 0 {
		log.Fatal().Int("failed", failed).Msg("reaggregate finished with failures")
	}
	log.Info().Msg("reaggregate completed")
}
