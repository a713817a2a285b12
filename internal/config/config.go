package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Store origin used for every delivery distance calculation.
	StoreLat float64
	StoreLon float64

	// Geocoder settings for the Nominatim forward-geocoding client.
	GeocoderBaseURL   string
	GeocoderUserAgent string
	GeocoderTimeout   time.Duration

	// Delivery schedule. Monetary values are in paise.
	DeliveryBaseCharge     int64
	DeliveryBaseDistanceKm float64
	DeliveryPerKmRate      int64
	DeliveryFreeThreshold  int64
	DeliveryFreeRadiusKm   float64
	DeliveryMaxDistanceKm  float64
	DeliveryCacheTTL       time.Duration

	CartTTL         time.Duration
	CartStockPolicy string

	PromoDefaultPerUserLimit     int
	PromoAllowDoubleFreeDelivery bool

	RateLimitQuotePerMinute int

	CurrencyCode string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StoreLat: parseFloat(k.String("STORE_LAT"), 22.738152),
		StoreLon: parseFloat(k.String("STORE_LON"), 75.831858),

		GeocoderBaseURL:   valueOrDefault(k.String("GEOCODER_BASE_URL"), "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent: valueOrDefault(k.String("GEOCODER_USER_AGENT"), "mithaas-delights/1.0"),
		GeocoderTimeout:   parseDuration(k.String("GEOCODER_TIMEOUT"), "5s"),

		DeliveryBaseCharge:     parseInt64(k.String("DELIVERY_BASE_CHARGE"), 5000),
		DeliveryBaseDistanceKm: parseFloat(k.String("DELIVERY_BASE_DISTANCE_KM"), 5),
		DeliveryPerKmRate:      parseInt64(k.String("DELIVERY_PER_KM_RATE"), 500),
		DeliveryFreeThreshold:  parseInt64(k.String("DELIVERY_FREE_THRESHOLD"), 150000),
		DeliveryFreeRadiusKm:   parseFloat(k.String("DELIVERY_FREE_RADIUS_KM"), 10),
		DeliveryMaxDistanceKm:  parseFloat(k.String("DELIVERY_MAX_DISTANCE_KM"), 50),
		DeliveryCacheTTL:       parseDuration(k.String("DELIVERY_CACHE_TTL"), "10m"),

		CartTTL:         parseDuration(k.String("CART_TTL"), "168h"),
		CartStockPolicy: valueOrDefault(strings.ToLower(strings.TrimSpace(k.String("CART_STOCK_POLICY"))), "drop"),

		PromoDefaultPerUserLimit:     int(parseInt64(k.String("PROMO_DEFAULT_PER_USER_LIMIT"), 1)),
		PromoAllowDoubleFreeDelivery: parseBool(valueOrDefault(k.String("PROMO_ALLOW_DOUBLE_FREE_DELIVERY"), "true")),

		RateLimitQuotePerMinute: int(parseInt64(k.String("RATE_LIMIT_QUOTE_PER_MINUTE"), 60)),

		CurrencyCode: valueOrDefault(k.String("CURRENCY_CODE"), "INR"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.CartStockPolicy != "drop" && cfg.CartStockPolicy != "clamp" {
		return nil, fmt.Errorf("CART_STOCK_POLICY must be drop or clamp, got %q", cfg.CartStockPolicy)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
