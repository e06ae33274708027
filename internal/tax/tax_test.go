package tax_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/resilience"
	"github.com/noah-isme/backend-erp/internal/tax"
)

type countingLookup struct {
	inner     tax.Lookup
	rateCalls int
	euCalls   int
	err       error
}

func (c *countingLookup) TaxRate(ctx context.Context, q tax.Query) (decimal.Decimal, error) {
	c.rateCalls++
	if c.err != nil {
		return decimal.Decimal{}, c.err
	}
	return c.inner.TaxRate(ctx, q)
}

func (c *countingLookup) IsEuVatEligible(ctx context.Context, u *tax.User) (bool, error) {
	c.euCalls++
	if c.err != nil {
		return false, c.err
	}
	return c.inner.IsEuVatEligible(ctx, u)
}

func (c *countingLookup) DefaultArea(ctx context.Context) (tax.Area, error) {
	if c.err != nil {
		return tax.Area{}, c.err
	}
	return c.inner.DefaultArea(ctx)
}

func TestUserModes(t *testing.T) {
	var anonymous *tax.User
	require.True(t, anonymous.IsNetto())
	require.True(t, tax.SystemUser().IsNetto())
	require.False(t, (&tax.User{ID: 3}).IsNetto())
	require.True(t, (&tax.User{ID: 3, Netto: true}).IsNetto())

	a := &tax.User{ID: 1, Area: &tax.Area{ID: 2}}
	b := &tax.User{ID: 1, Area: &tax.Area{ID: 2}}
	require.True(t, a.Equal(b))
	b.Area.ID = 3
	require.False(t, a.Equal(b))
	require.False(t, a.Equal(nil))
	require.True(t, anonymous.Equal(nil))
}

func TestStaticLookup(t *testing.T) {
	ctx := context.Background()
	s := tax.NewStatic("de", decimal.NewFromInt(19))
	reduced := tax.Area{ID: 2, Country: "AT"}
	s.AreaRates[reduced.ID] = decimal.NewFromInt(20)
	s.SetProductRate(42, 1, decimal.NewFromInt(7))
	s.UserRates[9] = decimal.NewFromInt(16)

	rate, err := s.TaxRate(ctx, tax.Query{ProductID: 42})
	require.NoError(t, err)
	require.Equal(t, "7", rate.String())

	rate, err = s.TaxRate(ctx, tax.Query{ProductID: 42, Area: &reduced})
	require.NoError(t, err)
	require.Equal(t, "20", rate.String(), "no product override in area falls back to area rate")

	rate, err = s.TaxRate(ctx, tax.Query{User: &tax.User{ID: 9}})
	require.NoError(t, err)
	require.Equal(t, "16", rate.String())

	rate, err = s.TaxRate(ctx, tax.Query{User: &tax.User{ID: 5, Area: &reduced}})
	require.NoError(t, err)
	require.Equal(t, "20", rate.String())

	_, err = s.TaxRate(ctx, tax.Query{Area: &tax.Area{ID: 99}})
	require.ErrorIs(t, err, tax.ErrNoRate)

	area, err := s.DefaultArea(ctx)
	require.NoError(t, err)
	require.Equal(t, "DE", area.Country)
}

func TestStaticEuVatEligibility(t *testing.T) {
	ctx := context.Background()
	s := tax.NewStatic("DE", decimal.NewFromInt(19))
	cases := []struct {
		name string
		user *tax.User
		want bool
	}{
		{"system", tax.SystemUser(), false},
		{"no vat id", &tax.User{ID: 1, Country: "FR"}, false},
		{"same country", &tax.User{ID: 1, Country: "DE", VatID: "DE123"}, false},
		{"outside eu", &tax.User{ID: 1, Country: "US", VatID: "US1"}, false},
		{"eu business", &tax.User{ID: 1, Country: "fr", VatID: "FR123"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.IsEuVatEligible(ctx, tc.user)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCachedLookupCallsInnerOnce(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	inner := &countingLookup{inner: tax.NewStatic("DE", decimal.NewFromInt(19))}
	cached := &tax.Cached{Inner: inner, R: rdb, TTL: time.Minute}
	ctx := context.Background()
	user := &tax.User{ID: 4, Country: "FR", VatID: "FR1"}

	for i := 0; i < 3; i++ {
		rate, err := cached.TaxRate(ctx, tax.Query{User: user})
		require.NoError(t, err)
		require.Equal(t, "19", rate.String())
		eligible, err := cached.IsEuVatEligible(ctx, user)
		require.NoError(t, err)
		require.True(t, eligible)
	}
	require.Equal(t, 1, inner.rateCalls)
	require.Equal(t, 1, inner.euCalls)

	area, err := cached.DefaultArea(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, area.ID)
	require.True(t, mr.Exists("tax:area:default"))
}

func TestCachedLookupDoesNotCacheMisses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	inner := &countingLookup{err: tax.ErrNoRate}
	cached := &tax.Cached{Inner: inner, R: rdb, TTL: time.Minute}
	for i := 0; i < 2; i++ {
		_, err := cached.TaxRate(context.Background(), tax.Query{ProductID: 1})
		require.ErrorIs(t, err, tax.ErrNoRate)
	}
	require.Equal(t, 2, inner.rateCalls)
}

func TestGuardedLookupOpensAndDegrades(t *testing.T) {
	ctx := context.Background()
	inner := &countingLookup{err: errors.New("connection refused")}
	guarded := tax.NewGuarded(inner, resilience.NewBreaker(resilience.BreakerConfig{Target: "tax-test", MinRequests: 2, OpenFor: time.Minute}))

	for i := 0; i < 2; i++ {
		_, err := guarded.TaxRate(ctx, tax.Query{})
		require.Error(t, err)
	}
	_, err := guarded.TaxRate(ctx, tax.Query{})
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 2, inner.rateCalls)
}

func TestGuardedLookupNoRateDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := &countingLookup{err: tax.ErrNoRate}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "tax-test", OpenFor: time.Minute})
	guarded := tax.NewGuarded(inner, breaker)

	for i := 0; i < 3; i++ {
		_, err := guarded.TaxRate(ctx, tax.Query{})
		require.ErrorIs(t, err, tax.ErrNoRate)
	}
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestHTTPLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rate", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("product") == "404" {
			http.NotFound(w, r)
			return
		}
		require.Equal(t, "FR", r.URL.Query().Get("country"))
		_ = json.NewEncoder(w).Encode(map[string]any{"rate": "20"})
	})
	mux.HandleFunc("/eu-vat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"eligible": r.URL.Query().Get("vat_id") != ""})
	})
	mux.HandleFunc("/default-area", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tax.Area{ID: 7, Title: "Germany", Country: "DE"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	lookup := tax.NewHTTPLookup(srv.URL+"/", nil, time.Second)
	ctx := context.Background()
	user := &tax.User{ID: 1, Country: "fr", VatID: "FR1"}

	rate, err := lookup.TaxRate(ctx, tax.Query{User: user})
	require.NoError(t, err)
	require.Equal(t, "20", rate.String())

	_, err = lookup.TaxRate(ctx, tax.Query{User: user, ProductID: 404})
	require.ErrorIs(t, err, tax.ErrNoRate)

	eligible, err := lookup.IsEuVatEligible(ctx, user)
	require.NoError(t, err)
	require.True(t, eligible)

	area, err := lookup.DefaultArea(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, area.ID)
}
