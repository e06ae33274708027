package accounting_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/tax"
)

func TestUnserializeDiscount(t *testing.T) {
	cases := []struct {
		input     string
		wantNil   bool
		wantValue string
		wantType  accounting.DiscountType
	}{
		{input: "5", wantValue: "5", wantType: accounting.DiscountAbsolute},
		{input: " -2.5 ", wantValue: "-2.5", wantType: accounting.DiscountAbsolute},
		{input: "10%", wantValue: "10", wantType: accounting.DiscountPercentage},
		{input: "12,5 %", wantValue: "12.5", wantType: accounting.DiscountPercentage},
		{input: `{"value": 7, "type": "percentage"}`, wantValue: "7", wantType: accounting.DiscountPercentage},
		{input: `{"value": "3.20", "type": 2, "currency": "usd"}`, wantValue: "3.2", wantType: accounting.DiscountAbsolute},
		{input: `{"value": 4}`, wantValue: "4", wantType: accounting.DiscountAbsolute},
		{input: "10,50 €", wantValue: "10.5", wantType: accounting.DiscountAbsolute},
		{input: "EUR 1.234,50", wantValue: "1234.5", wantType: accounting.DiscountAbsolute},
		{input: "$1,234.50", wantValue: "1234.5", wantType: accounting.DiscountAbsolute},
		{input: "", wantNil: true},
		{input: "abc", wantNil: true},
		{input: "ten%", wantNil: true},
		{input: "5 apples", wantNil: true},
		{input: `{"value": "x"}`, wantNil: true},
		{input: `{"type": "percentage"}`, wantNil: true},
		{input: `{broken`, wantNil: true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			d := accounting.UnserializeDiscount(tc.input)
			if tc.wantNil {
				require.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			requireDec(t, tc.wantValue, d.Value, "value")
			require.Equal(t, tc.wantType, d.Type)
		})
	}

	d := accounting.UnserializeDiscount(`{"value": "3.20", "type": 2, "currency": "usd"}`)
	require.Equal(t, "USD", d.Currency)
}

func TestDiscountSerialize(t *testing.T) {
	require.Equal(t, "10%", accounting.NewDiscount(dec("10"), accounting.DiscountPercentage).Serialize())
	require.Equal(t, "2.5", accounting.NewDiscount(dec("2.50"), accounting.DiscountAbsolute).Serialize())
	var none *accounting.Discount
	require.Equal(t, "", none.Serialize())
}

func TestDiscountFormattedGrossUp(t *testing.T) {
	ctx := context.Background()

	grossList := accounting.NewArticleList(&tax.User{ID: 1}, money.EUR)
	gross := article("119", "1", "19")
	grossList.AddArticle(gross)
	gross.SetDiscount(dec("10"), accounting.DiscountAbsolute)
	require.Equal(t, "11,90 €", gross.Discount().Formatted(ctx))

	netList := accounting.NewArticleList(&tax.User{ID: 2, Netto: true}, money.EUR)
	net := article("100", "1", "19")
	netList.AddArticle(net)
	net.SetDiscount(dec("10"), accounting.DiscountAbsolute)
	require.Equal(t, "10,00 €", net.Discount().Formatted(ctx))

	gross.SetDiscount(dec("15"), accounting.DiscountPercentage)
	require.Equal(t, "15%", gross.Discount().Formatted(ctx))

	unowned := accounting.NewDiscount(dec("5"), accounting.DiscountAbsolute)
	require.Nil(t, unowned.Article())
	require.Equal(t, "5.00", unowned.Formatted(ctx))
	unowned.Currency = "USD"
	require.Equal(t, "$5.00", unowned.Formatted(ctx))
}

func TestDiscountApply(t *testing.T) {
	require.True(t, accounting.NewDiscount(dec("25"), accounting.DiscountPercentage).Apply(dec("80")).Equal(dec("60")))
	require.True(t, accounting.NewDiscount(dec("30"), accounting.DiscountAbsolute).Apply(dec("80")).Equal(dec("50")))
	require.True(t, accounting.NewDiscount(dec("90"), accounting.DiscountAbsolute).Apply(dec("80")).IsZero())
	require.True(t, accounting.NewDiscount(dec("150"), accounting.DiscountPercentage).Apply(dec("80")).IsZero())
	var none *accounting.Discount
	require.True(t, none.Apply(dec("80")).Equal(dec("80")))
}

func TestDiscountFieldJSON(t *testing.T) {
	var data accounting.ArticleData
	require.NoError(t, json.Unmarshal([]byte(`{"discount": "10%"}`), &data))
	require.Equal(t, accounting.DiscountPercentage, data.Discount.Discount.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"discount": 5}`), &data))
	require.Equal(t, accounting.DiscountAbsolute, data.Discount.Discount.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"discount": {"value": 2, "type": 1}}`), &data))
	require.Equal(t, accounting.DiscountPercentage, data.Discount.Discount.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"discount": "garbage"}`), &data))
	require.Nil(t, data.Discount.Discount)

	require.NoError(t, json.Unmarshal([]byte(`{"discount": null}`), &data))
	require.Nil(t, data.Discount.Discount)

	out, err := json.Marshal(accounting.DiscountField{})
	require.NoError(t, err)
	require.Equal(t, `""`, string(out))
}
