package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidCurrency is returned when a currency code is unknown to a registry.
var ErrInvalidCurrency = errors.New("money: unknown currency")

// ErrNoExchangeRate is returned when two currencies have no rate between them.
var ErrNoExchangeRate = errors.New("money: no exchange rate")

const defaultPattern = "{amount} {sign}"

// Currency describes how amounts of one currency are displayed and converted.
// Rate is the exchange rate relative to the base currency of the installation.
type Currency struct {
	Code         string          `json:"code"`
	Sign         string          `json:"sign"`
	Precision    int32           `json:"precision"`
	Rate         decimal.Decimal `json:"rate"`
	DecimalSep   string          `json:"decimalSeparator,omitempty"`
	ThousandsSep string          `json:"thousandsSeparator,omitempty"`
	Pattern      string          `json:"pattern,omitempty"`
}

// Common currencies used as defaults by the registry.
var (
	EUR = Currency{Code: "EUR", Sign: "€", Precision: 2, Rate: decimal.NewFromInt(1), DecimalSep: ",", ThousandsSep: "."}
	USD = Currency{Code: "USD", Sign: "$", Precision: 2, Rate: decimal.NewFromInt(1), DecimalSep: ".", ThousandsSep: ",", Pattern: "{sign}{amount}"}
	GBP = Currency{Code: "GBP", Sign: "£", Precision: 2, Rate: decimal.NewFromInt(1), DecimalSep: ".", ThousandsSep: ",", Pattern: "{sign}{amount}"}
	CHF = Currency{Code: "CHF", Sign: "CHF", Precision: 2, Rate: decimal.NewFromInt(1), DecimalSep: ".", ThousandsSep: "'"}
)

// Known returns the built-in preset for code, or a bare currency carrying
// only the code.
func Known(code string) Currency {
	code = normalizeCode(code)
	for _, c := range []Currency{EUR, USD, GBP, CHF} {
		if c.Code == code {
			return c
		}
	}
	return Currency{Code: code}
}

// IsZero reports whether the currency is unset.
func (c Currency) IsZero() bool {
	return strings.TrimSpace(c.Code) == ""
}

// Equal compares code and exchange rate.
func (c Currency) Equal(other Currency) bool {
	return strings.EqualFold(c.Code, other.Code) && c.rate().Equal(other.rate())
}

// WithRate returns a copy of c using the provided exchange rate.
func (c Currency) WithRate(rate decimal.Decimal) Currency {
	c.Rate = rate
	return c
}

// ExchangeRateTo returns the factor converting an amount of c into other.
func (c Currency) ExchangeRateTo(other Currency) decimal.Decimal {
	if strings.EqualFold(c.Code, other.Code) {
		return decimal.NewFromInt(1)
	}
	return other.rate().DivRound(c.rate(), 16)
}

// CheckConversion fails with ErrNoExchangeRate when from and to are distinct
// currencies whose pair rate is still the neutral 1. Registries start every
// currency at 1 until a rate is configured or stored.
func CheckConversion(from, to Currency) error {
	if strings.EqualFold(from.Code, to.Code) {
		return nil
	}
	if from.ExchangeRateTo(to).Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s to %s: %w", from.Code, to.Code, ErrNoExchangeRate)
	}
	return nil
}

// Convert converts amount into the target currency rounded to places.
func (c Currency) Convert(amount decimal.Decimal, to Currency, places int32) decimal.Decimal {
	return amount.Mul(c.ExchangeRateTo(to)).Round(places)
}

// Format renders amount with the currency precision, separators and sign.
func (c Currency) Format(amount decimal.Decimal) string {
	fixed := amount.StringFixed(c.precision())
	negative := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, fracPart, _ := strings.Cut(fixed, ".")
	out := groupThousands(intPart, c.thousandsSep())
	if fracPart != "" {
		out += c.decimalSep() + fracPart
	}
	if negative && strings.Trim(out, "0.,'") != "" {
		out = "-" + out
	}

	sign := c.Sign
	if sign == "" {
		sign = c.Code
	}
	pattern := c.Pattern
	if pattern == "" {
		pattern = defaultPattern
	}
	replacer := strings.NewReplacer("{amount}", out, "{sign}", sign, "{code}", c.Code)
	return strings.TrimSpace(replacer.Replace(pattern))
}

// ToArray returns the currency block embedded in calculation results.
func (c Currency) ToArray() map[string]any {
	return map[string]any{
		"code":      c.Code,
		"sign":      c.Sign,
		"precision": c.precision(),
		"rate":      c.rate().String(),
	}
}

func (c Currency) precision() int32 {
	if c.Precision < 0 {
		return 0
	}
	if c.Precision == 0 && c.Code == "" {
		return 2
	}
	return c.Precision
}

func (c Currency) rate() decimal.Decimal {
	if c.Rate.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.Rate
}

func (c Currency) decimalSep() string {
	if c.DecimalSep == "" {
		return "."
	}
	return c.DecimalSep
}

func (c Currency) thousandsSep() string {
	if c.ThousandsSep == "" && c.DecimalSep == "," {
		return "."
	}
	if c.ThousandsSep == "" {
		return ","
	}
	return c.ThousandsSep
}

func groupThousands(digits, sep string) string {
	if len(digits) <= 3 || sep == "" {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
