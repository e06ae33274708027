package tax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cached decorates a Lookup with a Redis cache-aside layer. Only successful
// answers are stored; ErrNoRate and transport failures always reach Inner.
type Cached struct {
	Inner  Lookup
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (c *Cached) TaxRate(ctx context.Context, q Query) (decimal.Decimal, error) {
	if c == nil || c.Inner == nil {
		return decimal.Decimal{}, errors.New("tax cache not configured")
	}
	key := c.key("rate", queryKey(q))
	if raw, ok := c.get(ctx, key); ok {
		if rate, err := decimal.NewFromString(raw); err == nil {
			return rate, nil
		}
	}
	rate, err := c.Inner.TaxRate(ctx, q)
	if err != nil {
		return decimal.Decimal{}, err
	}
	c.store(ctx, key, rate.String())
	return rate, nil
}

func (c *Cached) IsEuVatEligible(ctx context.Context, u *User) (bool, error) {
	if c == nil || c.Inner == nil {
		return false, errors.New("tax cache not configured")
	}
	key := c.key("eu", userKey(u))
	if raw, ok := c.get(ctx, key); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v, nil
		}
	}
	eligible, err := c.Inner.IsEuVatEligible(ctx, u)
	if err != nil {
		return false, err
	}
	c.store(ctx, key, strconv.FormatBool(eligible))
	return eligible, nil
}

func (c *Cached) DefaultArea(ctx context.Context) (Area, error) {
	if c == nil || c.Inner == nil {
		return Area{}, errors.New("tax cache not configured")
	}
	key := c.key("area", "default")
	if raw, ok := c.get(ctx, key); ok {
		var area Area
		if err := json.Unmarshal([]byte(raw), &area); err == nil {
			return area, nil
		}
	}
	area, err := c.Inner.DefaultArea(ctx)
	if err != nil {
		return Area{}, err
	}
	if data, err := json.Marshal(area); err == nil {
		c.store(ctx, key, string(data))
	}
	return area, nil
}

func (c *Cached) key(kind, suffix string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "tax:"
	}
	return prefix + kind + ":" + suffix
}

func (c *Cached) get(ctx context.Context, key string) (string, bool) {
	if c.R == nil || c.TTL <= 0 {
		return "", false
	}
	raw, err := c.R.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return raw, true
}

func (c *Cached) store(ctx context.Context, key, value string) {
	if c.R == nil || c.TTL <= 0 {
		return
	}
	_ = c.R.Set(ctx, key, value, c.TTL).Err()
}

func queryKey(q Query) string {
	area := "-"
	if q.Area != nil {
		area = strconv.Itoa(q.Area.ID)
	}
	return fmt.Sprintf("%s:p%d:a%s", userKey(q.User), q.ProductID, area)
}

func userKey(u *User) string {
	if u.IsSystem() {
		return "system"
	}
	area := "-"
	if u.Area != nil {
		area = strconv.Itoa(u.Area.ID)
	}
	return fmt.Sprintf("u%d:%s:%s:%s", u.ID, strings.ToUpper(u.Country), u.VatID, area)
}
