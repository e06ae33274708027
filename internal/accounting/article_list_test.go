package accounting_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/tax"
)

func calculatedList(t *testing.T, opts ...accounting.CalcOption) *accounting.ArticleList {
	t.Helper()
	list := accounting.NewArticleList(&tax.User{ID: 9, Netto: true}, money.EUR, opts...)
	first := article("100", "2", "19")
	first.SetDiscount(dec("10"), accounting.DiscountPercentage)
	list.AddArticle(first)
	list.AddArticle(article("12.5", "4", "7"))
	list.AddPriceFactor(accounting.NewPriceFactor("Shipping", dec("4.9"), accounting.FactorAbsolute, accounting.BasisNetto).WithVat(dec("19")))
	list.Calc(context.Background())
	return list
}

func TestListCalcIsIdempotent(t *testing.T) {
	ctx := context.Background()
	lookup := newCountingLookup()
	list := accounting.NewArticleList(&tax.User{ID: 5, Netto: true}, money.EUR, accounting.WithLookup(lookup))
	list.AddArticle(article("10", "1", ""))
	list.AddArticle(accounting.NewArticle(accounting.ArticleData{ID: 42, Control: "product", UnitPrice: dec("3"), Quantity: dec("2")}))

	list.Calc(ctx)
	first := lookup.total()
	require.Positive(t, first)

	list.Calc(ctx)
	require.Equal(t, first, lookup.total())

	list.Recalculate(ctx)
	require.Equal(t, 2*first, lookup.total())
}

func TestListDirtyPropagation(t *testing.T) {
	ctx := context.Background()
	list := accounting.NewArticleList(nil, money.EUR)
	a := article("100", "1", "19")

	list.AddArticle(a)
	require.False(t, list.IsCalculated())
	list.Calc(ctx)
	require.True(t, list.IsCalculated())

	list.SetCurrency(money.EUR)
	require.True(t, list.IsCalculated())
	list.SetUser(nil)
	require.True(t, list.IsCalculated())

	a.SetQuantity(dec("3"))
	require.False(t, list.IsCalculated())
	list.Calc(ctx)
	res, _ := list.Result()
	requireDec(t, "357", res.Sum, "sum after quantity change")

	a.SetTitle("Renamed")
	require.True(t, list.IsCalculated())

	list.SetUser(&tax.User{ID: 2})
	require.False(t, list.IsCalculated())
	require.False(t, a.IsCalculated())
	list.Calc(ctx)

	list.AddPriceFactor(accounting.NewPriceFactor("Fee", dec("1"), accounting.FactorAbsolute, accounting.BasisNetto))
	require.False(t, list.IsCalculated())
	list.Calc(ctx)
	require.NoError(t, list.RemovePriceFactor(0))
	require.False(t, list.IsCalculated())
	list.Calc(ctx)

	list.Clear()
	require.False(t, list.IsCalculated())
	require.Zero(t, list.Count())
}

func TestPrecalculatedArticleAdoptsListContext(t *testing.T) {
	ctx := context.Background()

	a := article("100", "1", "")
	a.Calc(ctx, nil)
	require.True(t, a.IsCalculated())

	list := accounting.NewArticleList(nil, money.EUR, accounting.WithLookup(tax.NewStatic("DE", decimal.NewFromInt(19))))
	list.AddArticle(a)
	require.False(t, a.IsCalculated())
	list.Calc(ctx)

	fresh := accounting.NewArticleList(nil, money.EUR, accounting.WithLookup(tax.NewStatic("DE", decimal.NewFromInt(19))))
	fresh.AddArticle(article("100", "1", ""))
	fresh.Calc(ctx)

	got, _ := list.Result()
	want, _ := fresh.Result()
	requireDec(t, want.Sum.String(), got.Sum, "sum")
	require.Len(t, got.VatArray, len(want.VatArray))

	precise := article("10.005", "1", "19")
	precise.Calc(ctx, nil)
	rounded := accounting.NewArticleList(&tax.User{ID: 3, Netto: true}, money.EUR, accounting.WithPrecision(2))
	rounded.AddArticle(article("1", "1", "19"))
	require.NoError(t, rounded.ReplaceArticle(precise, 1))
	rounded.Calc(ctx)
	res, _ := rounded.Result()
	requireDec(t, "10.01", res.NettoSum, "nettoSum")
}

func TestRemovedArticleNoLongerDirtiesList(t *testing.T) {
	ctx := context.Background()
	list := accounting.NewArticleList(nil, money.EUR)
	a := article("1", "1", "19")
	list.AddArticle(a)
	list.AddArticle(article("2", "1", "19"))
	require.NoError(t, list.RemoveArticle(0))
	list.Calc(ctx)

	a.SetQuantity(dec("5"))
	require.True(t, list.IsCalculated())
}

func TestListPositions(t *testing.T) {
	list := accounting.NewArticleList(nil, money.EUR)
	for i := 0; i < 3; i++ {
		list.AddArticle(article("1", "1", "19"))
	}
	for i, a := range list.Articles() {
		require.Equal(t, i+1, a.Position())
		require.NotEmpty(t, a.UUID())
	}

	require.NoError(t, list.RemoveArticle(0))
	positions := []int{}
	for _, a := range list.Articles() {
		positions = append(positions, a.Position())
	}
	require.Equal(t, []int{2, 3}, positions)

	replacement := article("9", "1", "19")
	require.NoError(t, list.ReplaceArticle(replacement, 2))
	last, err := list.Article(1)
	require.NoError(t, err)
	require.Same(t, replacement, last)
	require.Equal(t, 2, replacement.Position())

	require.ErrorIs(t, list.ReplaceArticle(article("1", "1", "1"), 0), accounting.ErrInvalidPosition)
	require.ErrorIs(t, list.ReplaceArticle(article("1", "1", "1"), 3), accounting.ErrInvalidPosition)
	require.ErrorIs(t, list.RemoveArticle(5), accounting.ErrInvalidPosition)
	_, err = list.Article(-1)
	require.ErrorIs(t, err, accounting.ErrInvalidPosition)

	list.Renumber()
	for i, a := range list.Articles() {
		require.Equal(t, i+1, a.Position())
	}
}

func TestListSetCurrencyRetagsOnly(t *testing.T) {
	list := calculatedList(t)
	before, _ := list.Result()

	chf := money.CHF.WithRate(dec("0.95"))
	list.SetCurrency(chf)
	require.True(t, list.IsCalculated())

	after, _ := list.Result()
	require.Equal(t, "CHF", after.CurrencyData.Code)
	require.True(t, before.Sum.Equal(after.Sum))
	for _, a := range list.Articles() {
		require.Equal(t, "CHF", a.Currency().Code)
		require.True(t, a.IsCalculated())
	}
	require.Contains(t, list.PriceFactors()[0].SumFormatted, "CHF")
}

func TestListConvertMultipliesAmounts(t *testing.T) {
	ctx := context.Background()
	list := accounting.NewArticleList(nil, money.EUR)
	a := article("100", "2", "19")
	a.SetDiscount(dec("10"), accounting.DiscountAbsolute)
	list.AddArticle(a)
	list.AddPriceFactor(accounting.NewPriceFactor("Shipping", dec("5"), accounting.FactorAbsolute, accounting.BasisNetto))
	list.Calc(ctx)

	usd := money.USD.WithRate(dec("1.1"))
	list.Convert(ctx, usd)
	require.True(t, list.IsCalculated())

	converted, _ := list.Article(0)
	requireDec(t, "110", converted.UnitPrice(), "unit price")
	requireDec(t, "11", converted.Discount().Value, "absolute discount")
	requireDec(t, "5.5", list.PriceFactors()[0].Value, "price factor")

	res, _ := list.Result()
	require.Equal(t, "USD", res.CurrencyData.Code)
	requireDec(t, "203.5", res.NettoSum, "nettoSum")
	requireDec(t, "241.12", res.Sum, "sum")
}

func TestListConvertWithoutRateWarns(t *testing.T) {
	var logs bytes.Buffer
	list := accounting.NewArticleList(nil, money.EUR, accounting.WithLogger(zerolog.New(&logs)))
	list.AddArticle(article("10", "1", "0"))

	list.Convert(context.Background(), money.CHF)
	require.Contains(t, logs.String(), "currency_conversion_without_rate")
	require.Contains(t, logs.String(), "EUR to CHF")

	logs.Reset()
	list.Convert(context.Background(), money.USD.WithRate(dec("1.1")))
	require.NotContains(t, logs.String(), "currency_conversion_without_rate")
}

func TestRoundTripThroughUniqueList(t *testing.T) {
	list := calculatedList(t)
	raw, err := json.Marshal(list.ToArray())
	require.NoError(t, err)

	unique, err := accounting.ParseUniqueList(raw)
	require.NoError(t, err)
	again, err := json.Marshal(unique.ToArray())
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(again))
	require.Equal(t, list.Count(), unique.Count())
}

func TestFrozenSnapshotIsIndependent(t *testing.T) {
	ctx := context.Background()
	list := calculatedList(t)
	unique, err := list.ToUniqueList(ctx)
	require.NoError(t, err)
	before := unique.ToJSON()

	a, _ := list.Article(0)
	a.SetUnitPrice(dec("999"))
	a.SetTitle("changed")
	list.AddArticle(article("1", "1", "19"))
	list.SetPriceFactors(nil)
	list.Calc(ctx)

	data := unique.ToArray()
	data.Articles[0].Title = "mutated copy"
	data.PriceFactors = nil

	unique.Calc(ctx)
	unique.Recalculate(ctx)
	require.JSONEq(t, string(before), string(unique.ToJSON()))
	requireDec(t, "180", mustArticleSum(t, unique, 0), "frozen article nettoSum")
}

func mustArticleSum(t *testing.T, u *accounting.UniqueList, i int) decimal.Decimal {
	t.Helper()
	articles := u.Articles()
	require.Greater(t, len(articles), i)
	data := articles[i].ToArray()
	require.NotNil(t, data.Calculated)
	require.False(t, articles[i].IsCalculated())
	return data.Calculated.NettoSum
}

func TestToArrayWhileDirtyHasNullCalculations(t *testing.T) {
	list := accounting.NewArticleList(nil, money.EUR)
	list.AddArticle(article("1", "1", "19"))
	data := list.ToArray()
	require.JSONEq(t, "null", string(data.Calculations))
	require.Nil(t, data.Articles[0].Calculated)

	_, err := accounting.NewUniqueList(data)
	require.ErrorIs(t, err, accounting.ErrMissingField)
}

func TestToJSONCalculates(t *testing.T) {
	list := accounting.NewArticleList(nil, money.EUR)
	list.AddArticle(article("100", "2", "19"))
	raw, err := list.ToJSON(context.Background())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	calcs := out["calculations"].(map[string]any)
	require.Equal(t, "238", calcs["sum"])
	require.Contains(t, calcs, "vatText")
	require.Contains(t, calcs, "currencyData")
}

func TestParseArticleListStartsDirty(t *testing.T) {
	ctx := context.Background()
	source := calculatedList(t)
	parsed := accounting.ParseArticleList(source.ToArray(), &tax.User{ID: 9, Netto: true}, money.EUR)
	require.False(t, parsed.IsCalculated())
	require.Equal(t, source.Count(), parsed.Count())
	parsed.Calc(ctx)

	want, _ := source.Result()
	got, _ := parsed.Result()
	require.True(t, want.Sum.Equal(got.Sum))
	require.True(t, want.NettoSum.Equal(got.NettoSum))
}

func TestUniqueListToArticleList(t *testing.T) {
	ctx := context.Background()
	unique, err := calculatedList(t).ToUniqueList(ctx)
	require.NoError(t, err)

	working := unique.ToArticleList(&tax.User{ID: 9, Netto: true})
	require.Equal(t, "EUR", working.Currency().Code)
	working.Calc(ctx)
	res, _ := working.Result()
	require.True(t, unique.Calculations().Sum().Get().Equal(res.Sum))
}

type invoice struct{ id string }

func (i invoice) DocumentID() string { return i.id }

func TestListOrderReference(t *testing.T) {
	list := accounting.NewArticleList(nil, money.Currency{})
	require.Equal(t, "EUR", list.Currency().Code)
	require.Nil(t, list.Order())
	list.SetOrder(invoice{id: "INV-1"})
	require.Equal(t, "INV-1", list.Order().DocumentID())
	list.SetShowHeader(true)
	require.True(t, list.ShowHeader())
}
