package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/db"
	"github.com/noah-isme/backend-mithaas/internal/cart"
	"github.com/noah-isme/backend-mithaas/internal/checkout"
	"github.com/noah-isme/backend-mithaas/internal/config"
	"github.com/noah-isme/backend-mithaas/internal/delivery"
	"github.com/noah-isme/backend-mithaas/internal/geo"
	"github.com/noah-isme/backend-mithaas/internal/health"
	"github.com/noah-isme/backend-mithaas/internal/lock"
	"github.com/noah-isme/backend-mithaas/internal/obs"
	"github.com/noah-isme/backend-mithaas/internal/promo"
	"github.com/noah-isme/backend-mithaas/internal/ratelimit"
	"github.com/noah-isme/backend-mithaas/internal/repo"
)

func main() {
	cfg := config.MustLoad()

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "mithaas")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "mithaas-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, metricsEnabled, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	validate := validator.New()
	stockPolicy, err := cart.ParseStockPolicy(cfg.CartStockPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse stock policy")
	}

	origin := geo.Point{Lat: cfg.StoreLat, Lon: cfg.StoreLon}
	resolver := &geo.Resolver{
		Forwarder: geo.NewNominatimClient(cfg.GeocoderBaseURL, cfg.GeocoderUserAgent, cfg.GeocoderTimeout),
		Country:   "India",
		Logger:    logger,
	}
	calc := &delivery.Calculator{
		Origin: origin,
		Config: delivery.Config{
			BaseCharge:     cfg.DeliveryBaseCharge,
			BaseDistanceKm: cfg.DeliveryBaseDistanceKm,
			PerKmRate:      cfg.DeliveryPerKmRate,
			FreeThreshold:  cfg.DeliveryFreeThreshold,
			FreeRadiusKm:   cfg.DeliveryFreeRadiusKm,
			MaxDistanceKm:  cfg.DeliveryMaxDistanceKm,
		},
		Cache: delivery.NewCache(redisClient, cfg.DeliveryCacheTTL),
	}
	deliveryHandler := &delivery.Handler{
		Calc:      calc,
		Resolver:  resolver,
		Validate:  validate,
		StoreName: "Mithaas Delights",
		Currency:  cfg.CurrencyCode,
	}

	cartSvc := &cart.Service{
		Store:   repo.CartsRepo{DB: pool},
		Catalog: repo.CatalogRepo{DB: pool},
		Locker:  lock.Locker{R: redisClient, RetryBackoff: 25 * time.Millisecond},
		Policy:  stockPolicy,
		Logger:  logger,
	}
	cartHandler := &cart.Handler{Svc: cartSvc, Validate: validate}

	orchestrator := &promo.Orchestrator{
		Rules:               repo.RulesRepo{DB: pool},
		Usage:               repo.UsageRepo{DB: pool},
		DefaultPerUserLimit: cfg.PromoDefaultPerUserLimit,
		Logger:              logger,
	}
	promoHandler := &promo.Handler{
		Store:        repo.RulesRepo{DB: pool},
		Orchestrator: orchestrator,
		Validate:     validate,
	}

	checkoutSvc := &checkout.Service{
		Pool:                    pool,
		Resolver:                resolver,
		Delivery:                calc,
		Promo:                   orchestrator,
		Policy:                  stockPolicy,
		AllowDoubleFreeDelivery: cfg.PromoAllowDoubleFreeDelivery,
		Logger:                  logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	quoteLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:quote:"},
		Config:  ratelimit.PerClientIP(time.Minute, cfg.RateLimitQuotePerMinute),
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{Pool: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/cart", func(c chi.Router) {
			c.Post("/sync", cartHandler.Sync)
			c.Post("/merge", cartHandler.MergeGuest)
			c.Post("/validate", cartHandler.ValidateCart)
			c.Get("/summary", cartHandler.Summary)
			c.Post("/cleanup", cartHandler.Cleanup)
		})

		v.Route("/delivery", func(d chi.Router) {
			d.With(quoteLimit.Middleware).Post("/quote", deliveryHandler.Quote)
			d.Get("/policy", deliveryHandler.PolicyInfo)
		})

		v.Route("/promotions", func(p chi.Router) {
			p.Get("/", promoHandler.List)
			p.With(quoteLimit.Middleware).Post("/apply", promoHandler.Apply)
		})

		v.Post("/checkout", checkoutHandler.Create)

		v.Route("/admin/promotions", func(admin chi.Router) {
			admin.Use(requireAdminToken())
			admin.Post("/", promoHandler.Create)
			admin.Put("/{code}", promoHandler.Update)
			admin.Delete("/{code}", promoHandler.Delete)
			admin.Get("/", promoHandler.List)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "mithaas-api"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// requireAdminToken gates the admin surface with a static bearer token.
// Authentication proper is owned by another service.
func requireAdminToken() func(http.Handler) http.Handler {
	token := strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin surface disabled", http.StatusForbidden)
				return
			}
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header != "Bearer "+token {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
