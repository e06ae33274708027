package tax

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// EUCountries lists the ISO country codes of EU member states.
var EUCountries = []string{
	"AT", "BE", "BG", "CY", "CZ", "DE", "DK", "EE", "ES", "FI", "FR", "GR", "HR", "HU",
	"IE", "IT", "LT", "LU", "LV", "MT", "NL", "PL", "PT", "RO", "SE", "SI", "SK",
}

// Static is an in-memory Lookup backed by rate tables.
//
// TaxRate answers in this order: product override for the queried area, the
// per-user rate (when no product is queried), the area rate. Unknown answers
// return ErrNoRate so callers can fall through their own resolution chain.
type Static struct {
	Default     Area
	AreaRates   map[int]decimal.Decimal
	ProductRate map[int]map[int]decimal.Decimal // product id -> area id -> rate
	UserRates   map[int]decimal.Decimal
	EU          map[string]bool
	ShopCountry string
}

// NewStatic returns a lookup with one default area carrying rate.
func NewStatic(shopCountry string, rate decimal.Decimal) *Static {
	country := strings.ToUpper(strings.TrimSpace(shopCountry))
	eu := make(map[string]bool, len(EUCountries))
	for _, c := range EUCountries {
		eu[c] = true
	}
	def := Area{ID: 1, Title: country, Country: country}
	return &Static{
		Default:     def,
		AreaRates:   map[int]decimal.Decimal{def.ID: rate},
		ProductRate: map[int]map[int]decimal.Decimal{},
		UserRates:   map[int]decimal.Decimal{},
		EU:          eu,
		ShopCountry: country,
	}
}

// SetProductRate registers a product specific rate in area.
func (s *Static) SetProductRate(productID, areaID int, rate decimal.Decimal) {
	if s.ProductRate == nil {
		s.ProductRate = map[int]map[int]decimal.Decimal{}
	}
	if s.ProductRate[productID] == nil {
		s.ProductRate[productID] = map[int]decimal.Decimal{}
	}
	s.ProductRate[productID][areaID] = rate
}

func (s *Static) TaxRate(_ context.Context, q Query) (decimal.Decimal, error) {
	area := s.Default
	if q.Area != nil {
		area = *q.Area
	}
	if q.ProductID > 0 {
		if rate, ok := s.ProductRate[q.ProductID][area.ID]; ok {
			return rate, nil
		}
	} else if q.User != nil && !q.User.IsSystem() && q.Area == nil {
		if rate, ok := s.UserRates[q.User.ID]; ok {
			return rate, nil
		}
		if q.User.Area != nil {
			area = *q.User.Area
		}
	}
	if rate, ok := s.AreaRates[area.ID]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, ErrNoRate
}

func (s *Static) IsEuVatEligible(_ context.Context, u *User) (bool, error) {
	if u.IsSystem() || strings.TrimSpace(u.VatID) == "" {
		return false, nil
	}
	country := strings.ToUpper(strings.TrimSpace(u.Country))
	if country == "" || country == s.ShopCountry {
		return false, nil
	}
	return s.EU[country], nil
}

func (s *Static) DefaultArea(context.Context) (Area, error) {
	return s.Default, nil
}
