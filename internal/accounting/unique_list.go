package accounting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/backend-erp/internal/tax"
)

// UniqueList is a frozen, already calculated list. It keeps the serialized
// form it was built from; Calc and Recalculate do nothing.
type UniqueList struct {
	raw          []byte
	calculations *Calculations
	count        int
}

// ParseUniqueList builds a frozen list from its JSON wire format. The
// calculations block must be complete.
func ParseUniqueList(raw []byte) (*UniqueList, error) {
	var data ArticleListData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode article list: %w", err)
	}
	return NewUniqueList(data)
}

// NewUniqueList freezes data. The data is deep copied.
func NewUniqueList(data ArticleListData) (*UniqueList, error) {
	calcs, err := NewCalculations(data.Calculations)
	if err != nil {
		return nil, err
	}
	if data.Articles == nil {
		data.Articles = []ArticleData{}
	}
	data.PriceFactors = clonePriceFactors(data.PriceFactors)
	data.Calculations = calcs.raw
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode article list: %w", err)
	}
	return &UniqueList{raw: raw, calculations: calcs, count: len(data.Articles)}, nil
}

// Calc is a no-op.
func (u *UniqueList) Calc(context.Context) *UniqueList { return u }

// Recalculate is a no-op.
func (u *UniqueList) Recalculate(context.Context) *UniqueList { return u }

// ToArray returns a fresh copy of the frozen wire format.
func (u *UniqueList) ToArray() ArticleListData {
	var data ArticleListData
	_ = json.Unmarshal(u.raw, &data)
	return data
}

// ToJSON returns the frozen wire format.
func (u *UniqueList) ToJSON() []byte {
	return append([]byte(nil), u.raw...)
}

// MarshalJSON emits the frozen wire format.
func (u *UniqueList) MarshalJSON() ([]byte, error) {
	return u.ToJSON(), nil
}

// Calculations returns the frozen totals.
func (u *UniqueList) Calculations() *Calculations { return u.calculations }

// Count returns the number of articles.
func (u *UniqueList) Count() int { return u.count }

// Articles rebuilds the articles. They carry their frozen calculated block
// for display; changing them does not affect the list.
func (u *UniqueList) Articles(opts ...CalcOption) []*Article {
	data := u.ToArray()
	out := make([]*Article, 0, len(data.Articles))
	for _, ad := range data.Articles {
		out = append(out, NewArticle(ad, opts...))
	}
	return out
}

// PriceFactors returns a copy of the frozen price factors.
func (u *UniqueList) PriceFactors() []PriceFactor {
	return u.ToArray().PriceFactors
}

func (u *UniqueList) ShowHeader() bool {
	return u.ToArray().ShowHeader
}

// ToArticleList returns a new dirty working list seeded from the snapshot,
// e.g. to derive a credit note from a finalized invoice.
func (u *UniqueList) ToArticleList(user *tax.User, opts ...CalcOption) *ArticleList {
	return ParseArticleList(u.ToArray(), user, u.calculations.Currency(), opts...)
}
