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
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	RequestBodyLimit   int64

	CalcPrecision     int32
	CurrencyDefault   string
	CurrencyPrecision int32
	CurrencyRateTTL   time.Duration

	TaxDefaultRate         decimal.Decimal
	TaxShopCountry         string
	TaxServiceURL          string
	TaxServiceTimeout      time.Duration
	TaxCacheTTL            time.Duration
	TaxBreakerMinRequests  int
	TaxBreakerFailureRatio float64
	TaxBreakerOpenFor      time.Duration

	SnapshotTTL time.Duration

	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitStrategy string

	Obs ObsConfig

	HealthRedisTimeout time.Duration
	ShutdownTimeout    time.Duration
}

// ObsConfig groups logging, metrics, tracing and debug endpoint settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	TracingEndpoint  string
	TracingSampling  float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
	SecureHeaders    bool
	HSTS             bool
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
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RequestBodyLimit:   int64(parseInt(k.String("REQUEST_BODY_LIMIT"), 1<<20)),

		CalcPrecision:     int32(parseInt(k.String("CALC_PRECISION"), 8)),
		CurrencyDefault:   strings.ToUpper(valueOrDefault(k.String("CURRENCY_DEFAULT"), "EUR")),
		CurrencyPrecision: int32(parseInt(k.String("CURRENCY_PRECISION"), 2)),
		CurrencyRateTTL:   parseDuration(k.String("CURRENCY_RATE_TTL"), "24h"),

		TaxShopCountry:         strings.ToUpper(valueOrDefault(k.String("TAX_SHOP_COUNTRY"), "DE")),
		TaxServiceURL:          strings.TrimRight(strings.TrimSpace(k.String("TAX_SERVICE_URL")), "/"),
		TaxServiceTimeout:      parseDuration(k.String("TAX_SERVICE_TIMEOUT"), "2s"),
		TaxCacheTTL:            parseDuration(k.String("TAX_CACHE_TTL"), "10m"),
		TaxBreakerMinRequests:  parseInt(k.String("TAX_BREAKER_MIN_REQUESTS"), 10),
		TaxBreakerFailureRatio: parseFloat(k.String("TAX_BREAKER_FAILURE_RATIO"), 0.5),
		TaxBreakerOpenFor:      parseDuration(k.String("TAX_BREAKER_OPEN_FOR"), "30s"),

		SnapshotTTL: parseDuration(k.String("SNAPSHOT_TTL"), "0s"),

		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 0),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitStrategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "erp"),
			MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), true),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			TracingEndpoint:  strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
			SecureHeaders:    parseBool(k.String("SECURE_HEADERS_ENABLE"), true),
			HSTS:             parseBool(k.String("SECURE_HSTS_ENABLE"), false),
		},

		HealthRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),
	}

	rate, err := decimal.NewFromString(valueOrDefault(k.String("TAX_DEFAULT_RATE"), "19"))
	if err != nil {
		return nil, fmt.Errorf("TAX_DEFAULT_RATE: %w", err)
	}
	cfg.TaxDefaultRate = rate

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.CalcPrecision < 0 || cfg.CalcPrecision > 16 {
		return nil, fmt.Errorf("CALC_PRECISION must be between 0 and 16, got %d", cfg.CalcPrecision)
	}
	if cfg.TaxDefaultRate.IsNegative() {
		return nil, errors.New("TAX_DEFAULT_RATE must not be negative")
	}
	if cfg.RateLimitMax < 0 {
		return nil, errors.New("RATE_LIMIT_MAX must not be negative")
	}
	if len(cfg.CurrencyDefault) != 3 {
		return nil, fmt.Errorf("CURRENCY_DEFAULT must be an ISO 4217 code, got %q", cfg.CurrencyDefault)
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
		return strings.TrimSpace(value)
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

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
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
