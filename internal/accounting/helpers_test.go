package accounting_test

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/tax"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// countingLookup records collaborator calls and optionally fails them all.
type countingLookup struct {
	mu        sync.Mutex
	inner     tax.Lookup
	err       error
	rateCalls int
	euCalls   int
	areaCalls int
}

func newCountingLookup() *countingLookup {
	return &countingLookup{inner: tax.NewStatic("DE", decimal.NewFromInt(19))}
}

func (c *countingLookup) TaxRate(ctx context.Context, q tax.Query) (decimal.Decimal, error) {
	c.mu.Lock()
	c.rateCalls++
	c.mu.Unlock()
	if c.err != nil {
		return decimal.Decimal{}, c.err
	}
	return c.inner.TaxRate(ctx, q)
}

func (c *countingLookup) IsEuVatEligible(ctx context.Context, u *tax.User) (bool, error) {
	c.mu.Lock()
	c.euCalls++
	c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.inner.IsEuVatEligible(ctx, u)
}

func (c *countingLookup) DefaultArea(ctx context.Context) (tax.Area, error) {
	c.mu.Lock()
	c.areaCalls++
	c.mu.Unlock()
	if c.err != nil {
		return tax.Area{}, c.err
	}
	return c.inner.DefaultArea(ctx)
}

func (c *countingLookup) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateCalls + c.euCalls + c.areaCalls
}

func article(unitPrice, quantity, vat string) *accounting.Article {
	data := accounting.ArticleData{
		Title:     "Item",
		ArticleNo: "A-1",
		UnitPrice: dec(unitPrice),
		Quantity:  dec(quantity),
	}
	if vat != "" {
		data.Vat = accounting.Some(dec(vat))
	}
	return accounting.NewArticle(data)
}
