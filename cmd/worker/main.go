package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/internal/config"
	"github.com/noah-isme/backend-mithaas/internal/obs"
	"github.com/noah-isme/backend-mithaas/internal/repo"
	"github.com/noah-isme/backend-mithaas/internal/tasks"
)

func main() {
	cfg := config.MustLoad()

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	handlers := &tasks.Handlers{
		Carts:   repo.CartsRepo{DB: pool},
		Rules:   repo.RulesRepo{DB: pool},
		CartTTL: cfg.CartTTL,
		Logger:  logger,
	}

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Logger:      asynqLogger{logger},
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register(envOrDefault("WORKER_CART_PURGE_CRON", "@every 1h"), tasks.NewCartPurgeTask()); err != nil {
		logger.Fatal().Err(err).Msg("schedule cart purge")
	}
	if _, err := scheduler.Register(envOrDefault("WORKER_RULE_SWEEP_CRON", "@every 10m"), tasks.NewRuleSweepTask()); err != nil {
		logger.Fatal().Err(err).Msg("schedule rule sweep")
	}

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker stopped")
}

type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msgf("%v", args) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msgf("%v", args) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msgf("%v", args) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msgf("%v", args) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msgf("%v", args) }

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "mithaas-worker"

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(dialCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
