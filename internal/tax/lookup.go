// Package tax holds the acting-party model and the tax lookup collaborator
// consumed by the accounting engine. Resolution of rates from country or area
// configuration lives behind Lookup; this package ships a static table, a
// Redis cache decorator, a circuit-breaker decorator and an HTTP client.
package tax

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoRate is returned when a lookup has no rate for the query.
var ErrNoRate = errors.New("tax: no rate")

// Area is a tax area such as a country or a region with its own rates.
type Area struct {
	ID      int    `json:"id"`
	Title   string `json:"title,omitempty"`
	Country string `json:"country,omitempty"`
}

// User is the acting party of a calculation. A nil *User is an anonymous
// caller and behaves like the system user.
type User struct {
	ID      int    `json:"id"`
	Netto   bool   `json:"isNetto"`
	System  bool   `json:"system,omitempty"`
	Country string `json:"country,omitempty"`
	VatID   string `json:"vatId,omitempty"`
	Area    *Area  `json:"area,omitempty"`
}

// SystemUser returns the administrative user. It always calculates net prices.
func SystemUser() *User {
	return &User{System: true, Netto: true}
}

// IsSystem reports whether u is the system user or anonymous.
func (u *User) IsSystem() bool {
	return u == nil || u.System
}

// IsNetto reports whether u enters net prices.
func (u *User) IsNetto() bool {
	if u.IsSystem() {
		return true
	}
	return u.Netto
}

// Equal reports whether u and other describe the same acting party.
func (u *User) Equal(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	if u.ID != other.ID || u.Netto != other.Netto || u.System != other.System {
		return false
	}
	if !strings.EqualFold(u.Country, other.Country) || u.VatID != other.VatID {
		return false
	}
	switch {
	case u.Area == nil && other.Area == nil:
		return true
	case u.Area == nil || other.Area == nil:
		return false
	default:
		return *u.Area == *other.Area
	}
}

// Query selects a rate. ProductID 0 means no catalog product; a nil Area
// lets the lookup decide from the user.
type Query struct {
	User      *User
	ProductID int
	Area      *Area
}

// Lookup is the tax collaborator of the engine.
type Lookup interface {
	TaxRate(ctx context.Context, q Query) (decimal.Decimal, error)
	IsEuVatEligible(ctx context.Context, u *User) (bool, error)
	DefaultArea(ctx context.Context) (Area, error)
}
