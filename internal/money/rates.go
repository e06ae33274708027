package money

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RateCache decorates a Registry with exchange rates kept in Redis. Rates are
// written by StoreRate (e.g. from an import job) and override the rate of the
// wrapped registry while they live.
type RateCache struct {
	Registry Registry
	R        *redis.Client
	TTL      time.Duration
	Prefix   string
}

func (c *RateCache) key(code string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "money:rate:"
	}
	return prefix + normalizeCode(code)
}

// Currency resolves code through the wrapped registry and applies a cached
// rate when one exists.
func (c *RateCache) Currency(ctx context.Context, code string) (Currency, error) {
	if c == nil || c.Registry == nil {
		return Currency{}, errors.New("money: rate cache not configured")
	}
	cur, err := c.Registry.Currency(ctx, code)
	if err != nil {
		return Currency{}, err
	}
	if rate, ok := c.cachedRate(ctx, cur.Code); ok {
		cur.Rate = rate
	}
	return cur, nil
}

// Default returns the default currency of the wrapped registry. The base
// currency keeps its rate.
func (c *RateCache) Default() Currency {
	if c == nil || c.Registry == nil {
		return EUR
	}
	return c.Registry.Default()
}

// StoreRate records the exchange rate of code relative to the base currency.
func (c *RateCache) StoreRate(ctx context.Context, code string, rate decimal.Decimal) error {
	if c == nil || c.R == nil {
		return errors.New("money: rate cache not configured")
	}
	if !rate.IsPositive() {
		return errors.New("money: exchange rate must be positive")
	}
	return c.R.Set(ctx, c.key(code), rate.String(), c.TTL).Err()
}

func (c *RateCache) cachedRate(ctx context.Context, code string) (decimal.Decimal, bool) {
	if c.R == nil {
		return decimal.Decimal{}, false
	}
	raw, err := c.R.Get(ctx, c.key(code)).Result()
	if err != nil {
		return decimal.Decimal{}, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		return decimal.Decimal{}, false
	}
	return rate, true
}
