package accounting

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/money"
)

// FactorCalculation selects how a price factor value is interpreted.
type FactorCalculation string

const (
	FactorPercentage FactorCalculation = "percentage"
	FactorAbsolute   FactorCalculation = "absolute"
)

// UnmarshalJSON accepts the names and the legacy numeric codes 1 and 2.
func (f *FactorCalculation) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch raw {
	case "percentage", "1":
		*f = FactorPercentage
	case "absolute", "2", "", "null":
		*f = FactorAbsolute
	default:
		return fmt.Errorf("unknown price factor calculation %q", raw)
	}
	return nil
}

// FactorBasis selects the amount a percentage price factor is computed on.
type FactorBasis string

const (
	// BasisNetto is the running net total.
	BasisNetto FactorBasis = "netto"
	// BasisBrutto is the running gross total; the factor amount is gross.
	BasisBrutto FactorBasis = "brutto"
	// BasisCalculationPrice is the unrounded net sum of the articles.
	BasisCalculationPrice FactorBasis = "calculation_price"
)

func (b *FactorBasis) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch raw {
	case "netto", "net", "1", "", "null":
		*b = BasisNetto
	case "brutto", "gross", "2":
		*b = BasisBrutto
	case "calculation_price", "calculationprice", "3":
		*b = BasisCalculationPrice
	default:
		return fmt.Errorf("unknown price factor basis %q", raw)
	}
	return nil
}

// PriceFactor is a list level surcharge or rebate such as shipping. Negative
// values are rebates. Sum and NettoSum are filled by the calculation.
type PriceFactor struct {
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Value             decimal.Decimal   `json:"value"`
	ValueText         string            `json:"valueText"`
	Sum               decimal.Decimal   `json:"sum"`
	SumFormatted      string            `json:"sumFormatted"`
	NettoSum          decimal.Decimal   `json:"nettoSum"`
	NettoSumFormatted string            `json:"nettoSumFormatted"`
	Vat               OptionalDecimal   `json:"vat"`
	Calculation       FactorCalculation `json:"calculation"`
	CalculationBasis  FactorBasis       `json:"calculation_basis"`
	Index             int               `json:"index"`
	Visible           bool              `json:"visible"`
}

// NewPriceFactor returns a visible factor.
func NewPriceFactor(title string, value decimal.Decimal, calculation FactorCalculation, basis FactorBasis) PriceFactor {
	if calculation == "" {
		calculation = FactorAbsolute
	}
	if basis == "" {
		basis = BasisNetto
	}
	return PriceFactor{Title: title, Value: value, Calculation: calculation, CalculationBasis: basis, Visible: true}
}

// WithVat returns a copy of pf carrying a VAT rate.
func (pf PriceFactor) WithVat(rate decimal.Decimal) PriceFactor {
	pf.Vat = Some(rate)
	return pf
}

func (pf *PriceFactor) format(cur money.Currency) {
	if pf.Calculation == FactorPercentage {
		pf.ValueText = pf.Value.String() + "%"
	} else {
		pf.ValueText = cur.Format(pf.Value)
	}
	pf.SumFormatted = cur.Format(pf.Sum)
	pf.NettoSumFormatted = cur.Format(pf.NettoSum)
}

func clonePriceFactors(in []PriceFactor) []PriceFactor {
	out := make([]PriceFactor, len(in))
	copy(out, in)
	return out
}

// MarshalJSON keeps enum defaults explicit on the wire.
func (pf PriceFactor) MarshalJSON() ([]byte, error) {
	type alias PriceFactor
	if pf.Calculation == "" {
		pf.Calculation = FactorAbsolute
	}
	if pf.CalculationBasis == "" {
		pf.CalculationBasis = BasisNetto
	}
	return json.Marshal(alias(pf))
}
