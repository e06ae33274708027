package tax

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/resilience"
)

// Guarded protects a Lookup with a circuit breaker. ErrNoRate is a valid
// answer and never trips the breaker. While the breaker is open every call
// fails with resilience.ErrOpenCircuit.
type Guarded struct {
	Inner   Lookup
	Breaker *resilience.Breaker
}

// NewGuarded wraps inner with breaker.
func NewGuarded(inner Lookup, breaker *resilience.Breaker) *Guarded {
	return &Guarded{Inner: inner, Breaker: breaker}
}

func (g *Guarded) TaxRate(ctx context.Context, q Query) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		rate, err = g.Inner.TaxRate(ctx, q)
		return err
	})
	return rate, err
}

func (g *Guarded) IsEuVatEligible(ctx context.Context, u *User) (bool, error) {
	var eligible bool
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		eligible, err = g.Inner.IsEuVatEligible(ctx, u)
		return err
	})
	return eligible, err
}

func (g *Guarded) DefaultArea(ctx context.Context) (Area, error) {
	var area Area
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		area, err = g.Inner.DefaultArea(ctx)
		return err
	})
	return area, err
}

func (g *Guarded) run(ctx context.Context, fn func(context.Context) error) error {
	if g == nil || g.Inner == nil {
		return errors.New("tax guard not configured")
	}
	if g.Breaker == nil {
		return fn(ctx)
	}
	return g.Breaker.Execute(ctx, fn, func(err error) bool {
		return !errors.Is(err, ErrNoRate)
	})
}
