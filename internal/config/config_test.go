package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":           "redis://localhost:6379/0",
		"CALC_PRECISION":      "",
		"TAX_DEFAULT_RATE":    "",
		"TAX_SERVICE_URL":     "",
		"SNAPSHOT_TTL":        "",
		"CURRENCY_DEFAULT":    "",
		"PORT":                "",
		"RATE_LIMIT_MAX":      "",
		"RATE_LIMIT_WINDOW":   "",
		"RATE_LIMIT_STRATEGY": "",
	})
	require.NoError(t, err)
	require.Equal(t, int32(8), cfg.CalcPrecision)
	require.Equal(t, "19", cfg.TaxDefaultRate.String())
	require.Equal(t, "EUR", cfg.CurrencyDefault)
	require.Equal(t, "DE", cfg.TaxShopCountry)
	require.Empty(t, cfg.TaxServiceURL)
	require.Equal(t, 10*time.Minute, cfg.TaxCacheTTL)
	require.Zero(t, cfg.SnapshotTTL)
	require.Zero(t, cfg.RateLimitMax)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Equal(t, "sliding", cfg.RateLimitStrategy)
	require.Equal(t, 300*time.Millisecond, cfg.HealthRedisTimeout)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                 "redis://localhost:6379/1",
		"CALC_PRECISION":            "4",
		"CURRENCY_DEFAULT":          "chf",
		"TAX_DEFAULT_RATE":          "8.1",
		"TAX_SHOP_COUNTRY":          "ch",
		"TAX_SERVICE_URL":           "http://tax.internal/",
		"TAX_BREAKER_FAILURE_RATIO": "0.25",
		"SNAPSHOT_TTL":              "720h",
		"CORS_ALLOWED_ORIGINS":      "https://a.example, https://b.example",
		"PORT":                      ":9090",
		"RATE_LIMIT_MAX":            "120",
		"RATE_LIMIT_WINDOW":         "30s",
		"RATE_LIMIT_STRATEGY":       "Fixed",
	})
	require.NoError(t, err)
	require.Equal(t, int32(4), cfg.CalcPrecision)
	require.Equal(t, "CHF", cfg.CurrencyDefault)
	require.Equal(t, "8.1", cfg.TaxDefaultRate.String())
	require.Equal(t, "CH", cfg.TaxShopCountry)
	require.Equal(t, "http://tax.internal", cfg.TaxServiceURL)
	require.InDelta(t, 0.25, cfg.TaxBreakerFailureRatio, 1e-9)
	require.Equal(t, 720*time.Hour, cfg.SnapshotTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, 120, cfg.RateLimitMax)
	require.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	require.Equal(t, "fixed", cfg.RateLimitStrategy)
}

func TestLoadObservability(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                  "redis://localhost:6379/0",
		"OBS_LOG_FORMAT":             "console",
		"OBS_ENABLE_PROMETHEUS":      "off",
		"OBS_ENABLE_TRACING":         "no",
		"OBS_TRACING_SAMPLING_RATIO": "0.1",
		"OBS_ENABLE_PPROF":           "yes",
		"SECURE_HEADERS_ENABLE":      "maybe",
		"SHUTDOWN_TIMEOUT":           "3s",
	})
	require.NoError(t, err)
	require.Equal(t, "console", cfg.Obs.LogFormat)
	require.Equal(t, "info", cfg.Obs.LogLevel)
	require.False(t, cfg.Obs.MetricsEnabled)
	require.False(t, cfg.Obs.TracingEnabled)
	require.InDelta(t, 0.1, cfg.Obs.TracingSampling, 1e-9)
	require.True(t, cfg.Obs.PprofEnabled)
	require.True(t, cfg.Obs.SecureHeaders, "unparseable flag keeps the default")
	require.Equal(t, "erp", cfg.Obs.MetricsNamespace)
	require.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoadValidation(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{"REDIS_URL": ""})
	require.ErrorContains(t, err, "REDIS_URL")

	_, err = config.LoadForTests(map[string]string{"REDIS_URL": "redis://x", "TAX_DEFAULT_RATE": "abc"})
	require.ErrorContains(t, err, "TAX_DEFAULT_RATE")

	_, err = config.LoadForTests(map[string]string{"REDIS_URL": "redis://x", "CALC_PRECISION": "40"})
	require.ErrorContains(t, err, "CALC_PRECISION")

	_, err = config.LoadForTests(map[string]string{"REDIS_URL": "redis://x", "CURRENCY_DEFAULT": "EURO"})
	require.ErrorContains(t, err, "CURRENCY_DEFAULT")

	_, err = config.LoadForTests(map[string]string{"REDIS_URL": "redis://x", "RATE_LIMIT_MAX": "-1"})
	require.ErrorContains(t, err, "RATE_LIMIT_MAX")
}
