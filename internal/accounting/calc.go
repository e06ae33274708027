package accounting

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/obs"
	"github.com/noah-isme/backend-erp/internal/tax"
)

var nopLogger = zerolog.Nop()

// VatLabelFunc renders the label of a VAT bucket.
type VatLabelFunc func(rate decimal.Decimal, netto bool) string

// DefaultVatLabel renders "plus 19% VAT" for net users and "incl. 19% VAT"
// for gross users.
func DefaultVatLabel(rate decimal.Decimal, netto bool) string {
	if netto {
		return "plus " + rate.String() + "% VAT"
	}
	return "incl. " + rate.String() + "% VAT"
}

type calcConfig struct {
	lookup    tax.Lookup
	precision int32
	logger    zerolog.Logger
	backend   bool
	currency  money.Currency
	vatLabel  VatLabelFunc
}

// CalcOption configures a Calc and the lists and articles that build one.
type CalcOption func(*calcConfig)

// WithLookup sets the tax collaborator.
func WithLookup(l tax.Lookup) CalcOption {
	return func(c *calcConfig) { c.lookup = l }
}

// WithPrecision sets the rounding precision of intermediate results.
func WithPrecision(places int32) CalcOption {
	return func(c *calcConfig) {
		if places >= 0 {
			c.precision = places
		}
	}
}

func WithLogger(l zerolog.Logger) CalcOption {
	return func(c *calcConfig) { c.logger = l }
}

// WithBackend marks an administrative context: the system user then
// calculates without VAT.
func WithBackend() CalcOption {
	return func(c *calcConfig) { c.backend = true }
}

// WithCurrency sets the currency sums are tagged with.
func WithCurrency(cur money.Currency) CalcOption {
	return func(c *calcConfig) {
		if !cur.IsZero() {
			c.currency = cur
		}
	}
}

func WithVatLabel(fn VatLabelFunc) CalcOption {
	return func(c *calcConfig) {
		if fn != nil {
			c.vatLabel = fn
		}
	}
}

func newCalcConfig(opts []CalcOption) calcConfig {
	cfg := calcConfig{
		precision: DefaultPrecision,
		logger:    nopLogger,
		currency:  money.EUR,
		vatLabel:  DefaultVatLabel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (c calcConfig) loggerFor(ctx context.Context) *zerolog.Logger {
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger != nil && ctxLogger.GetLevel() != zerolog.Disabled {
		return ctxLogger
	}
	l := c.logger
	return &l
}

// Calc is the calculation context bound to an acting user. A nil user is the
// system user.
type Calc struct {
	cfg  calcConfig
	user *tax.User

	euVat *bool
}

// NewCalc returns a calculation context for user.
func NewCalc(user *tax.User, opts ...CalcOption) *Calc {
	return &Calc{cfg: newCalcConfig(opts), user: user}
}

// User returns the acting user.
func (c *Calc) User() *tax.User { return c.user }

// Precision returns the rounding precision.
func (c *Calc) Precision() int32 { return c.cfg.precision }

// IsNetto reports whether prices are entered net.
func (c *Calc) IsNetto() bool { return c.user.IsNetto() }

func (c *Calc) ignoreVat() bool {
	return c.cfg.backend && c.user.IsSystem()
}

// IsEuVat reports whether the user qualifies for EU reverse charge. The
// collaborator is asked at most once per Calc; failures count as false.
func (c *Calc) IsEuVat(ctx context.Context) bool {
	if c.euVat != nil {
		return *c.euVat
	}
	eligible := false
	if !c.user.IsSystem() && c.cfg.lookup != nil {
		ok, err := c.cfg.lookup.IsEuVatEligible(ctx, c.user)
		switch {
		case err != nil:
			c.cfg.loggerFor(ctx).Warn().Err(err).Msg("eu_vat_lookup_failed")
			recordTaxLookup("eu_vat", "error")
		default:
			recordTaxLookup("eu_vat", "ok")
			eligible = ok
		}
	}
	c.euVat = &eligible
	return eligible
}

func (c *Calc) round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.cfg.precision)
}

// CalcArticlePrice calculates a, stores the result on it and passes it to cb.
func (c *Calc) CalcArticlePrice(ctx context.Context, a *Article, cb func(ArticleResult)) ArticleResult {
	netto := c.IsNetto()
	euVat := c.IsEuVat(ctx)
	result := ArticleResult{VatArray: VatArray{}, IsEuVat: euVat, IsNetto: netto}

	if !a.kind.Priced {
		a.state.set(result)
		a.imported = nil
		recordCalculation("article", "skipped")
		if cb != nil {
			cb(result.clone())
		}
		return result.clone()
	}

	cfg := c.cfg
	if cfg.lookup == nil {
		cfg.lookup = newCalcConfig(a.opts).lookup
	}
	vat := a.resolveVat(ctx, c.user, cfg)
	effective := vat
	if euVat || c.ignoreVat() {
		effective = decimal.Zero
	}

	var basis, price decimal.Decimal
	if netto {
		basis = a.unitPrice
		price = c.round(basis.Mul(vatFactor(effective)))
	} else {
		price = a.unitPrice
		basis = c.round(price.Div(vatFactor(vat)))
	}

	after := a.discount.Apply(basis)
	result.Price = price
	result.BasisPrice = basis
	result.NettoBasisPrice = basis
	result.NettoPriceNotRounded = after
	result.NettoPrice = c.round(after)
	result.NettoSubSum = after.Mul(a.quantity)
	result.NettoSum = c.round(result.NettoSubSum)
	result.Sum = c.round(result.NettoSum.Mul(vatFactor(effective)))

	if !c.ignoreVat() {
		result.VatArray[effective.String()] = VatEntry{
			Vat:  effective,
			Sum:  result.Sum.Sub(result.NettoSum),
			Text: cfg.vatLabel(effective, netto),
		}
	}

	a.state.set(result)
	a.imported = nil
	recordCalculation("article", "ok")
	if cb != nil {
		cb(result.clone())
	}
	return result.clone()
}

// ListResult is the totals block of a list.
type ListResult struct {
	Sum          decimal.Decimal   `json:"sum"`
	SubSum       decimal.Decimal   `json:"subSum"`
	NettoSum     decimal.Decimal   `json:"nettoSum"`
	NettoSubSum  decimal.Decimal   `json:"nettoSubSum"`
	VatArray     VatArray          `json:"vatArray"`
	VatText      map[string]string `json:"vatText"`
	IsEuVat      bool              `json:"isEuVat"`
	IsNetto      bool              `json:"isNetto"`
	CurrencyData money.Currency    `json:"currencyData"`
}

func (r ListResult) clone() ListResult {
	r.VatArray = r.VatArray.clone()
	text := make(map[string]string, len(r.VatText))
	for k, v := range r.VatText {
		text[k] = v
	}
	r.VatText = text
	return r
}

// CalcArticleList calculates every dirty article of l, aggregates the totals
// and applies the price factors in ascending index order. The result is
// cached on l and passed to cb.
func (c *Calc) CalcArticleList(ctx context.Context, l *ArticleList, cb func(ListResult)) ListResult {
	start := time.Now()
	netto := c.IsNetto()
	euVat := c.IsEuVat(ctx)
	cur := l.Currency()

	res := ListResult{
		VatArray:     VatArray{},
		VatText:      map[string]string{},
		IsEuVat:      euVat,
		IsNetto:      netto,
		CurrencyData: cur,
	}
	addVat := func(rate, amount decimal.Decimal) {
		key := rate.String()
		entry, ok := res.VatArray[key]
		if !ok {
			entry = VatEntry{Vat: rate, Text: c.cfg.vatLabel(rate, netto)}
		}
		entry.Sum = entry.Sum.Add(amount)
		res.VatArray[key] = entry
		res.VatText[key] = entry.Text
	}

	calcPrice := decimal.Zero
	for _, a := range l.articles {
		if !a.state.calculated() {
			c.CalcArticlePrice(ctx, a, nil)
		}
		r, _ := a.state.get()
		res.NettoSubSum = res.NettoSubSum.Add(r.NettoSum)
		res.SubSum = res.SubSum.Add(r.Sum)
		calcPrice = calcPrice.Add(r.NettoSubSum)
		for _, entry := range r.VatArray {
			addVat(entry.Vat, entry.Sum)
		}
	}
	res.NettoSum = res.NettoSubSum
	res.Sum = res.SubSum

	order := make([]int, len(l.priceFactors))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return l.priceFactors[order[i]].Index < l.priceFactors[order[j]].Index
	})
	for _, i := range order {
		pf := &l.priceFactors[i]
		rate := decimal.Zero
		if pf.Vat.Valid && !euVat && !c.ignoreVat() {
			rate = pf.Vat.Value
		}

		var base decimal.Decimal
		switch pf.CalculationBasis {
		case BasisBrutto:
			base = res.Sum
		case BasisCalculationPrice:
			base = calcPrice
		default:
			base = res.NettoSum
		}
		amount := c.round(pf.Value)
		if pf.Calculation == FactorPercentage {
			amount = c.round(percentOf(base, pf.Value))
		}

		var nettoAmount, grossAmount decimal.Decimal
		if pf.CalculationBasis == BasisBrutto {
			grossAmount = amount
			nettoAmount = c.round(amount.Div(vatFactor(rate)))
		} else {
			nettoAmount = amount
			grossAmount = c.round(amount.Mul(vatFactor(rate)))
		}
		pf.NettoSum = nettoAmount
		pf.Sum = grossAmount
		pf.format(cur)

		res.NettoSum = res.NettoSum.Add(nettoAmount)
		res.Sum = res.Sum.Add(grossAmount)
		if pf.Vat.Valid && !c.ignoreVat() {
			addVat(rate, grossAmount.Sub(nettoAmount))
		}
	}

	l.state.set(res)
	recordCalculation("list", "ok")
	if obs.CalculationDuration != nil {
		obs.CalculationDuration.WithLabelValues("list").Observe(obs.DurationMillis(time.Since(start)))
	}
	if cb != nil {
		cb(res.clone())
	}
	return res.clone()
}

func isNoRate(err error) bool {
	return errors.Is(err, tax.ErrNoRate)
}

func recordTaxLookup(step, result string) {
	if obs.TaxLookupTotal != nil {
		obs.TaxLookupTotal.WithLabelValues(step, result).Inc()
	}
}

func recordCalculation(kind, result string) {
	if obs.CalculationsTotal != nil {
		obs.CalculationsTotal.WithLabelValues(kind, result).Inc()
	}
}
