package money

import (
	"context"
	"fmt"
	"strings"
)

// Registry resolves currencies by code.
type Registry interface {
	Currency(ctx context.Context, code string) (Currency, error)
	Default() Currency
}

// StaticRegistry is an in-memory Registry.
type StaticRegistry struct {
	currencies  map[string]Currency
	defaultCode string
}

// NewStaticRegistry builds a registry from the given currencies. The default
// code must be among them.
func NewStaticRegistry(defaultCode string, currencies ...Currency) (*StaticRegistry, error) {
	r := &StaticRegistry{currencies: make(map[string]Currency, len(currencies))}
	for _, c := range currencies {
		code := normalizeCode(c.Code)
		if code == "" {
			return nil, fmt.Errorf("register currency: %w", ErrInvalidCurrency)
		}
		c.Code = code
		r.currencies[code] = c
	}
	r.defaultCode = normalizeCode(defaultCode)
	if _, ok := r.currencies[r.defaultCode]; !ok {
		return nil, fmt.Errorf("default currency %q: %w", defaultCode, ErrInvalidCurrency)
	}
	return r, nil
}

// Currency returns the currency registered under code.
func (r *StaticRegistry) Currency(_ context.Context, code string) (Currency, error) {
	if r == nil {
		return Currency{}, ErrInvalidCurrency
	}
	c, ok := r.currencies[normalizeCode(code)]
	if !ok {
		return Currency{}, fmt.Errorf("%s: %w", code, ErrInvalidCurrency)
	}
	return c, nil
}

// Default returns the installation default currency.
func (r *StaticRegistry) Default() Currency {
	if r == nil {
		return EUR
	}
	return r.currencies[r.defaultCode]
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
