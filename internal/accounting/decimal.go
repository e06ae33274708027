package accounting

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal digits intermediate results are
// rounded to.
const DefaultPrecision int32 = 8

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// vatFactor returns 1 + rate/100.
func vatFactor(rate decimal.Decimal) decimal.Decimal {
	return one.Add(rate.Div(hundred))
}

// percentOf returns value% of base.
func percentOf(base, value decimal.Decimal) decimal.Decimal {
	return base.Mul(value).Div(hundred)
}

// OptionalDecimal is a decimal that may be unset. It serializes as "" when
// unset and accepts "", null, JSON numbers and numeric strings on input.
type OptionalDecimal struct {
	Value decimal.Decimal
	Valid bool
}

// Some returns a set OptionalDecimal.
func Some(d decimal.Decimal) OptionalDecimal {
	return OptionalDecimal{Value: d, Valid: true}
}

// ParseOptionalDecimal parses s, returning an unset value for empty or
// non-numeric input.
func ParseOptionalDecimal(s string) OptionalDecimal {
	d, ok := parseNumber(s)
	if !ok {
		return OptionalDecimal{}
	}
	return Some(d)
}

func (o OptionalDecimal) String() string {
	if !o.Valid {
		return ""
	}
	return o.Value.String()
}

func (o OptionalDecimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *OptionalDecimal) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = OptionalDecimal{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*o = ParseOptionalDecimal(s)
		return nil
	}
	d, err := decimal.NewFromString(string(trimmed))
	if err != nil {
		return err
	}
	*o = Some(d)
	return nil
}

var (
	plainNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	moneyNumber = regexp.MustCompile(`^[+-]?[\d.,' ]*\d[\d.,' ]*$`)
)

// parseNumber accepts a plain decimal number.
func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if !plainNumber.MatchString(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseLocalizedNumber accepts numbers written with thousands separators and
// either "." or "," as decimal separator, e.g. "1.234,50" or "1,234.50".
// When only one kind of separator occurs it is a decimal separator unless it
// occurs more than once.
func parseLocalizedNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if !moneyNumber.MatchString(s) {
		return decimal.Decimal{}, false
	}
	s = strings.NewReplacer(" ", "", "'", "").Replace(s)
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return parseNumber(s)
}
