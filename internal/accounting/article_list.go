package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/tax"
)

// ErrInvalidPosition is returned for positions or indexes outside the list.
var ErrInvalidPosition = errors.New("accounting: invalid article position")

// ArticleListData is the wire format of a list consumed by output
// collaborators. Calculations is null while the list is dirty.
type ArticleListData struct {
	Articles     []ArticleData   `json:"articles"`
	Calculations json.RawMessage `json:"calculations"`
	PriceFactors []PriceFactor   `json:"priceFactors"`
	ShowHeader   bool            `json:"showHeader"`
}

// Document is the optional owner of a list, e.g. an invoice or an offer.
type Document interface {
	DocumentID() string
}

// ArticleList is the mutable working list. Every price relevant mutation of
// the list or of a contained article marks it dirty; Calc recomputes lazily.
// A list is not safe for concurrent use.
type ArticleList struct {
	articles     []*Article
	priceFactors []PriceFactor
	showHeader   bool
	user         *tax.User
	currency     money.Currency
	opts         []CalcOption
	order        Document

	state state[ListResult]
}

// NewArticleList returns an empty list for user in currency. A zero currency
// falls back to the WithCurrency option or EUR.
func NewArticleList(user *tax.User, currency money.Currency, opts ...CalcOption) *ArticleList {
	l := &ArticleList{user: user, opts: append([]CalcOption(nil), opts...)}
	if currency.IsZero() {
		currency = newCalcConfig(opts).currency
	}
	l.currency = currency
	return l
}

// ParseArticleList builds a dirty working list from its wire format.
func ParseArticleList(data ArticleListData, user *tax.User, currency money.Currency, opts ...CalcOption) *ArticleList {
	l := NewArticleList(user, currency, opts...)
	for _, ad := range data.Articles {
		a := NewArticle(ad, l.articleOptions()...)
		l.attach(a)
		l.articles = append(l.articles, a)
	}
	l.priceFactors = clonePriceFactors(data.PriceFactors)
	l.showHeader = data.ShowHeader
	return l
}

func (l *ArticleList) articleOptions() []CalcOption {
	return append(append([]CalcOption(nil), l.opts...), WithCurrency(l.currency))
}

func (l *ArticleList) invalidate() {
	l.state.invalidate()
}

// attach propagates the list context to a and hooks its invalidation.
func (l *ArticleList) attach(a *Article) {
	a.opts = l.articleOptions()
	a.ensureUUID()
	// A cached result was computed with the article's previous options.
	if a.state.calculated() {
		a.imported = nil
	}
	a.state.invalidate()
	if !a.user.Equal(l.user) {
		a.user = l.user
		a.imported = nil
	}
	if !a.currency.Equal(l.currency) {
		a.retag(l.currency)
		a.imported = nil
	}
	a.onInvalidate = l.invalidate
}

func detach(a *Article) {
	a.onInvalidate = nil
}

// AddArticle appends a; its position becomes the new article count.
func (l *ArticleList) AddArticle(a *Article) {
	if a == nil {
		return
	}
	l.attach(a)
	l.articles = append(l.articles, a)
	a.position = len(l.articles)
	l.invalidate()
}

// ReplaceArticle puts a at the 1-based position, replacing the article there.
func (l *ArticleList) ReplaceArticle(a *Article, position int) error {
	if a == nil || position < 1 || position > len(l.articles) {
		return fmt.Errorf("replace at %d: %w", position, ErrInvalidPosition)
	}
	detach(l.articles[position-1])
	l.attach(a)
	a.position = position
	l.articles[position-1] = a
	l.invalidate()
	return nil
}

// RemoveArticle removes the article at the 0-based index. Positions of the
// remaining articles are kept; call Renumber for contiguous positions.
func (l *ArticleList) RemoveArticle(index int) error {
	if index < 0 || index >= len(l.articles) {
		return fmt.Errorf("remove at %d: %w", index, ErrInvalidPosition)
	}
	detach(l.articles[index])
	l.articles = append(l.articles[:index], l.articles[index+1:]...)
	l.invalidate()
	return nil
}

// Clear removes every article.
func (l *ArticleList) Clear() {
	for _, a := range l.articles {
		detach(a)
	}
	l.articles = nil
	l.invalidate()
}

// Renumber sets positions to 1..n in list order.
func (l *ArticleList) Renumber() {
	for i, a := range l.articles {
		a.position = i + 1
	}
}

// Count returns the number of articles.
func (l *ArticleList) Count() int { return len(l.articles) }

// Articles returns the contained articles. Mutating them marks the list dirty.
func (l *ArticleList) Articles() []*Article {
	return append([]*Article(nil), l.articles...)
}

// Article returns the article at the 0-based index.
func (l *ArticleList) Article(index int) (*Article, error) {
	if index < 0 || index >= len(l.articles) {
		return nil, fmt.Errorf("article %d: %w", index, ErrInvalidPosition)
	}
	return l.articles[index], nil
}

func (l *ArticleList) User() *tax.User { return l.user }

// Currency returns the currency sums are tagged with.
func (l *ArticleList) Currency() money.Currency { return l.currency }

// SetUser changes the acting user of the list and its articles. Nothing is
// invalidated when the user does not change.
func (l *ArticleList) SetUser(u *tax.User) {
	if l.user.Equal(u) {
		return
	}
	l.user = u
	for _, a := range l.articles {
		a.SetUser(u)
	}
	l.invalidate()
}

// SetCurrency re-tags the list and its articles with cur. Amounts are not
// converted and a calculated list stays calculated; use Convert to
// recalculate in another currency.
func (l *ArticleList) SetCurrency(cur money.Currency) {
	if cur.IsZero() || l.currency.Equal(cur) {
		return
	}
	l.currency = cur
	for _, a := range l.articles {
		a.retag(cur)
		a.opts = l.articleOptions()
	}
	for i := range l.priceFactors {
		l.priceFactors[i].format(cur)
	}
	if res, ok := l.state.get(); ok {
		res.CurrencyData = cur
		l.state.set(res)
	}
}

// Convert converts every monetary attribute into target using the exchange
// rate between the current currency and target, then recalculates.
func (l *ArticleList) Convert(ctx context.Context, target money.Currency) *ArticleList {
	if target.IsZero() {
		return l
	}
	cfg := newCalcConfig(l.opts)
	if err := money.CheckConversion(l.currency, target); err != nil {
		cfg.loggerFor(ctx).Warn().Err(err).Msg("currency_conversion_without_rate")
	}
	rate := l.currency.ExchangeRateTo(target)
	precision := cfg.precision
	l.currency = target
	for _, a := range l.articles {
		a.convert(rate, precision, target)
		a.opts = l.articleOptions()
	}
	for i := range l.priceFactors {
		pf := &l.priceFactors[i]
		if pf.Calculation != FactorPercentage {
			pf.Value = pf.Value.Mul(rate).Round(precision)
		}
	}
	l.invalidate()
	return l.Calc(ctx)
}

// Order returns the owning document, if any.
func (l *ArticleList) Order() Document { return l.order }

// SetOrder sets the owning document. The list does not own it.
func (l *ArticleList) SetOrder(d Document) { l.order = d }

func (l *ArticleList) ShowHeader() bool { return l.showHeader }

func (l *ArticleList) SetShowHeader(show bool) { l.showHeader = show }

// AddPriceFactor appends a price factor.
func (l *ArticleList) AddPriceFactor(pf PriceFactor) {
	l.priceFactors = append(l.priceFactors, pf)
	l.invalidate()
}

// RemovePriceFactor removes the price factor at the 0-based index.
func (l *ArticleList) RemovePriceFactor(index int) error {
	if index < 0 || index >= len(l.priceFactors) {
		return fmt.Errorf("price factor %d: %w", index, ErrInvalidPosition)
	}
	l.priceFactors = append(l.priceFactors[:index], l.priceFactors[index+1:]...)
	l.invalidate()
	return nil
}

// SetPriceFactors replaces all price factors.
func (l *ArticleList) SetPriceFactors(factors []PriceFactor) {
	l.priceFactors = clonePriceFactors(factors)
	l.invalidate()
}

// PriceFactors returns a copy of the price factors.
func (l *ArticleList) PriceFactors() []PriceFactor {
	return clonePriceFactors(l.priceFactors)
}

// IsCalculated reports whether the cached totals are current.
func (l *ArticleList) IsCalculated() bool { return l.state.calculated() }

// Calc calculates the list unless it is already calculated. Repeated calls
// do not reach the tax collaborator again.
func (l *ArticleList) Calc(ctx context.Context) *ArticleList {
	if l.state.calculated() {
		return l
	}
	NewCalc(l.user, l.articleOptions()...).CalcArticleList(ctx, l, nil)
	return l
}

// Recalculate drops every cached result and calculates again.
func (l *ArticleList) Recalculate(ctx context.Context) *ArticleList {
	for _, a := range l.articles {
		a.state.invalidate()
		a.imported = nil
	}
	l.invalidate()
	return l.Calc(ctx)
}

// Result returns the cached totals.
func (l *ArticleList) Result() (ListResult, bool) {
	r, ok := l.state.get()
	if !ok {
		return ListResult{}, false
	}
	return r.clone(), true
}

// Calculations returns the validated totals; false while dirty.
func (l *ArticleList) Calculations() (*Calculations, bool) {
	r, ok := l.state.get()
	if !ok {
		return nil, false
	}
	c, err := newCalculationsFromResult(r)
	if err != nil {
		return nil, false
	}
	return c, true
}

// ToArray serializes the list without calculating it.
func (l *ArticleList) ToArray() ArticleListData {
	data := ArticleListData{
		Articles:     make([]ArticleData, 0, len(l.articles)),
		Calculations: json.RawMessage("null"),
		PriceFactors: clonePriceFactors(l.priceFactors),
		ShowHeader:   l.showHeader,
	}
	for _, a := range l.articles {
		data.Articles = append(data.Articles, a.ToArray())
	}
	if r, ok := l.state.get(); ok {
		if raw, err := json.Marshal(r); err == nil {
			data.Calculations = raw
		}
	}
	return data
}

// ToJSON calculates the list and returns its wire format.
func (l *ArticleList) ToJSON(ctx context.Context) ([]byte, error) {
	l.Calc(ctx)
	return json.Marshal(l.ToArray())
}

// ToUniqueList calculates the list and returns a frozen deep copy.
func (l *ArticleList) ToUniqueList(ctx context.Context) (*UniqueList, error) {
	l.Calc(ctx)
	raw, err := json.Marshal(l.ToArray())
	if err != nil {
		return nil, fmt.Errorf("serialize list: %w", err)
	}
	return ParseUniqueList(raw)
}
