package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/money"
)

// DiscountType selects how a discount value is applied.
type DiscountType int

const (
	// DiscountPercentage reduces the basis price by value percent.
	DiscountPercentage DiscountType = 1
	// DiscountAbsolute subtracts a flat net amount from the basis price.
	DiscountAbsolute DiscountType = 2
)

func (t DiscountType) String() string {
	if t == DiscountPercentage {
		return "percentage"
	}
	return "absolute"
}

func (t DiscountType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "percentage", "absolute" and the legacy numeric
// codes 1 and 2.
func (t *DiscountType) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(raw) {
	case "percentage", "percent", "%", "1":
		*t = DiscountPercentage
	case "absolute", "2", "", "null":
		*t = DiscountAbsolute
	default:
		return fmt.Errorf("unknown discount type %q", raw)
	}
	return nil
}

// Discount is an item discount. The article reference is used for gross-up
// formatting only and may be nil.
type Discount struct {
	Value    decimal.Decimal `json:"value"`
	Type     DiscountType    `json:"type"`
	Currency string          `json:"currency,omitempty"`

	article *Article
}

// NewDiscount returns an unowned discount.
func NewDiscount(value decimal.Decimal, typ DiscountType) *Discount {
	if typ != DiscountPercentage {
		typ = DiscountAbsolute
	}
	return &Discount{Value: value, Type: typ}
}

// Article returns the owning article, if any.
func (d *Discount) Article() *Article {
	if d == nil {
		return nil
	}
	return d.article
}

var currencyAffix = regexp.MustCompile(`^\s*(?:[A-Z]{3}|[€$£¥₣])?\s*(.*?)\s*(?:[A-Z]{3}|[€$£¥₣])?\s*$`)

// UnserializeDiscount parses a discount from free-form input. Accepted forms
// are a bare number (absolute), a number followed by "%" (percentage), a JSON
// object {"value", "type", "currency"} and a money string such as "10,50 €".
// Unparseable input yields nil.
func UnserializeDiscount(input string) *Discount {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "{") {
		return discountFromObject([]byte(s))
	}
	if strings.HasSuffix(s, "%") {
		d, ok := parseLocalizedNumber(strings.TrimSuffix(s, "%"))
		if !ok {
			return nil
		}
		return NewDiscount(d, DiscountPercentage)
	}
	if d, ok := parseNumber(s); ok {
		return NewDiscount(d, DiscountAbsolute)
	}
	m := currencyAffix.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	d, ok := parseLocalizedNumber(m[1])
	if !ok {
		return nil
	}
	return NewDiscount(d, DiscountAbsolute)
}

type discountObject struct {
	Value    json.RawMessage `json:"value"`
	Type     DiscountType    `json:"type"`
	Currency string          `json:"currency"`
}

func discountFromObject(data []byte) *Discount {
	var obj discountObject
	if err := json.Unmarshal(data, &obj); err != nil || len(obj.Value) == 0 {
		return nil
	}
	raw := strings.Trim(strings.TrimSpace(string(obj.Value)), `"`)
	value, ok := parseLocalizedNumber(raw)
	if !ok {
		return nil
	}
	if obj.Type == 0 {
		obj.Type = DiscountAbsolute
	}
	d := NewDiscount(value, obj.Type)
	d.Currency = strings.ToUpper(strings.TrimSpace(obj.Currency))
	return d
}

// Serialize renders the compact string form: "10%" or "5".
func (d *Discount) Serialize() string {
	if d == nil {
		return ""
	}
	if d.Type == DiscountPercentage {
		return d.Value.String() + "%"
	}
	return d.Value.String()
}

// Apply returns basis after the discount. A discount never turns a
// non-negative price negative.
func (d *Discount) Apply(basis decimal.Decimal) decimal.Decimal {
	if d == nil {
		return basis
	}
	var out decimal.Decimal
	if d.Type == DiscountPercentage {
		out = basis.Sub(percentOf(basis, d.Value))
	} else {
		out = basis.Sub(d.Value)
	}
	if out.IsNegative() && !basis.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Formatted renders the discount for display. Percentages render verbatim.
// Absolute values are net amounts and are grossed up with the article VAT
// when the owning article belongs to a gross user.
func (d *Discount) Formatted(ctx context.Context) string {
	if d == nil {
		return ""
	}
	if d.Type == DiscountPercentage {
		return d.Value.String() + "%"
	}
	amount := d.Value
	cur := money.Known(d.Currency)
	if a := d.article; a != nil {
		if !a.user.IsNetto() {
			amount = amount.Mul(vatFactor(a.Vat(ctx)))
		}
		if !a.currency.IsZero() {
			cur = a.currency
		}
	}
	if cur.IsZero() {
		return amount.StringFixed(2)
	}
	return cur.Format(amount)
}

// DiscountField is the wire form of an article discount. It marshals to the
// compact string form and accepts strings, numbers, objects and null.
type DiscountField struct {
	Discount *Discount
}

func (f DiscountField) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Discount.Serialize())
}

func (f *DiscountField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		f.Discount = nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		f.Discount = UnserializeDiscount(s)
	case trimmed[0] == '{':
		f.Discount = discountFromObject(trimmed)
	default:
		f.Discount = UnserializeDiscount(string(trimmed))
	}
	return nil
}
