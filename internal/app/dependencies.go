package app

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-erp/internal/config"
	"github.com/noah-isme/backend-erp/internal/lock"
	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/resilience"
	"github.com/noah-isme/backend-erp/internal/snapshot"
	"github.com/noah-isme/backend-erp/internal/tax"
)

// Dependencies enumerates the collaborators shared by the API server and the
// command line tools.
type Dependencies struct {
	Redis      *redis.Client
	Lookup     tax.Lookup
	Breaker    *resilience.Breaker
	Currencies *money.RateCache
	Snapshots  *snapshot.Store
}

// Options tweaks Build.
type Options struct {
	Logger         zerolog.Logger
	TraceRedis     bool
	RedisMetrics   bool
	SkipRedisCheck bool
}

// Build connects to Redis and assembles the tax lookup chain, the currency
// registry and the snapshot store from cfg.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Dependencies, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if opts.TraceRedis {
		if err := redisotel.InstrumentTracing(client); err != nil {
			opts.Logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			opts.Logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if !opts.SkipRedisCheck {
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	return Assemble(client, cfg, opts.Logger)
}

// Assemble wires the collaborators around an existing Redis client.
func Assemble(client *redis.Client, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	currencies, err := NewCurrencies(client, cfg)
	if err != nil {
		return nil, err
	}
	lookup, breaker := NewTaxLookup(client, cfg, logger)
	return &Dependencies{
		Redis:      client,
		Lookup:     lookup,
		Breaker:    breaker,
		Currencies: currencies,
		Snapshots: &snapshot.Store{
			R:      client,
			Locker: lock.Locker{R: client, Prefix: "lock:"},
			TTL:    cfg.SnapshotTTL,
			Logger: logger.With().Str("component", "snapshot").Logger(),
		},
	}, nil
}

// NewTaxLookup builds the lookup chain. A configured tax service is called
// over HTTP behind a circuit breaker; otherwise the static table built from
// the default rate answers. Either way successful answers are cached in Redis.
func NewTaxLookup(client *redis.Client, cfg *config.Config, logger zerolog.Logger) (tax.Lookup, *resilience.Breaker) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "tax",
		MinRequests:  cfg.TaxBreakerMinRequests,
		FailureRatio: cfg.TaxBreakerFailureRatio,
		OpenFor:      cfg.TaxBreakerOpenFor,
		Logger:       logger,
	})

	var inner tax.Lookup
	if cfg.TaxServiceURL != "" {
		// The breaker guards whole lookups; the HTTP client only retries.
		inner = tax.NewGuarded(tax.NewHTTPLookup(cfg.TaxServiceURL, nil, cfg.TaxServiceTimeout), breaker)
	} else {
		inner = tax.NewStatic(cfg.TaxShopCountry, cfg.TaxDefaultRate)
	}
	if client == nil || cfg.TaxCacheTTL <= 0 {
		return inner, breaker
	}
	return &tax.Cached{Inner: inner, R: client, TTL: cfg.TaxCacheTTL}, breaker
}

// NewCurrencies returns the registry of supported currencies with exchange
// rates overridable through Redis.
func NewCurrencies(client *redis.Client, cfg *config.Config) (*money.RateCache, error) {
	presets := []money.Currency{money.EUR, money.USD, money.GBP, money.CHF}
	for i := range presets {
		if cfg.CurrencyPrecision > 0 {
			presets[i].Precision = cfg.CurrencyPrecision
		}
	}
	registry, err := money.NewStaticRegistry(cfg.CurrencyDefault, presets...)
	if err != nil {
		return nil, err
	}
	return &money.RateCache{Registry: registry, R: client, TTL: cfg.CurrencyRateTTL}, nil
}

// Close releases the Redis connection.
func (d *Dependencies) Close() error {
	if d == nil || d.Redis == nil {
		return nil
	}
	return d.Redis.Close()
}
