package accounting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/money"
)

// ErrMissingField is returned when a calculations block lacks a required key.
var ErrMissingField = errors.New("accounting: missing required field")

// calculationKeys lists the keys every totals block must carry.
type calculationKeys struct {
	Sum          json.RawMessage `json:"sum" validate:"required"`
	SubSum       json.RawMessage `json:"subSum" validate:"required"`
	NettoSum     json.RawMessage `json:"nettoSum" validate:"required"`
	NettoSubSum  json.RawMessage `json:"nettoSubSum" validate:"required"`
	VatArray     json.RawMessage `json:"vatArray" validate:"required"`
	VatText      json.RawMessage `json:"vatText" validate:"required"`
	IsEuVat      json.RawMessage `json:"isEuVat" validate:"required"`
	IsNetto      json.RawMessage `json:"isNetto" validate:"required"`
	CurrencyData json.RawMessage `json:"currencyData" validate:"required"`
}

var (
	keysValidatorOnce sync.Once
	keysValidator     *validator.Validate
)

func calculationsValidator() *validator.Validate {
	keysValidatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		keysValidator = v
	})
	return keysValidator
}

// Calculations is a validated read-only view of a totals block.
type Calculations struct {
	raw    json.RawMessage
	result ListResult
}

// NewCalculations validates raw and wraps it. Every one of sum, subSum,
// nettoSum, nettoSubSum, vatArray, vatText, isEuVat, isNetto and currencyData
// must be present; the first missing key is named in the error.
func NewCalculations(raw json.RawMessage) (*Calculations, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: calculations", ErrMissingField)
	}
	var keys calculationKeys
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, fmt.Errorf("decode calculations: %w", err)
	}
	if err := calculationsValidator().Struct(keys); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, verrs[0].Field())
		}
		return nil, err
	}
	var result ListResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, fmt.Errorf("decode calculations: %w", err)
	}
	return &Calculations{raw: append(json.RawMessage(nil), trimmed...), result: result}, nil
}

func newCalculationsFromResult(r ListResult) (*Calculations, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return NewCalculations(raw)
}

func (c *Calculations) value(d decimal.Decimal) CalculationValue {
	return CalculationValue{value: d, currency: c.result.CurrencyData}
}

func (c *Calculations) Sum() CalculationValue         { return c.value(c.result.Sum) }
func (c *Calculations) SubSum() CalculationValue      { return c.value(c.result.SubSum) }
func (c *Calculations) NettoSum() CalculationValue    { return c.value(c.result.NettoSum) }
func (c *Calculations) NettoSubSum() CalculationValue { return c.value(c.result.NettoSubSum) }
func (c *Calculations) IsEuVat() bool                 { return c.result.IsEuVat }
func (c *Calculations) IsNetto() bool                 { return c.result.IsNetto }
func (c *Calculations) Currency() money.Currency      { return c.result.CurrencyData }

// VatArray returns the VAT buckets ordered by rate.
func (c *Calculations) VatArray() []CalculationVatValue {
	out := make([]CalculationVatValue, 0, len(c.result.VatArray))
	for _, entry := range c.result.VatArray {
		out = append(out, CalculationVatValue{
			CalculationValue: c.value(entry.Sum),
			vat:              entry.Vat,
			title:            entry.Text,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].vat.LessThan(out[j].vat) })
	return out
}

// VatText returns the bucket labels keyed by rate.
func (c *Calculations) VatText() map[string]string {
	return c.result.clone().VatText
}

// Result returns a copy of the typed totals.
func (c *Calculations) Result() ListResult { return c.result.clone() }

// ToArray returns the totals block as a generic map.
func (c *Calculations) ToArray() map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(c.raw, &out)
	return out
}

// MarshalJSON emits the block unchanged.
func (c *Calculations) MarshalJSON() ([]byte, error) {
	return append([]byte(nil), c.raw...), nil
}

// CalculationValue pairs a raw amount with the currency used to display it.
type CalculationValue struct {
	value     decimal.Decimal
	currency  money.Currency
	precision *int32
}

// NewCalculationValue wraps value.
func NewCalculationValue(value decimal.Decimal, cur money.Currency) CalculationValue {
	return CalculationValue{value: value, currency: cur}
}

// Get returns the raw amount.
func (v CalculationValue) Get() decimal.Decimal { return v.value }

// Formatted renders the amount with the currency.
func (v CalculationValue) Formatted() string {
	cur := v.currency
	if v.precision != nil {
		cur.Precision = *v.precision
	}
	return cur.Format(v.value)
}

// Precision returns a copy displaying places decimal digits.
func (v CalculationValue) Precision(places int32) CalculationValue {
	v.precision = &places
	return v
}

// CalculationVatValue is a VAT bucket amount with its rate and label.
type CalculationVatValue struct {
	CalculationValue
	vat   decimal.Decimal
	title string
}

// Vat returns the VAT rate of the bucket.
func (v CalculationVatValue) Vat() decimal.Decimal { return v.vat }

// Title returns the bucket label.
func (v CalculationVatValue) Title() string { return v.title }

// Precision returns a copy displaying places decimal digits.
func (v CalculationVatValue) Precision(places int32) CalculationVatValue {
	v.CalculationValue = v.CalculationValue.Precision(places)
	return v
}
