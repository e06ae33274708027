package accounting

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/tax"
)

// QuantityUnit is the unit a quantity is counted in.
type QuantityUnit struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// CustomField is a named attribute shown on documents. Value holds a string
// or a number.
type CustomField struct {
	Title   string         `json:"title"`
	Value   any            `json:"value"`
	Display map[string]any `json:"display,omitempty"`
}

// VatEntry is one VAT bucket.
type VatEntry struct {
	Vat  decimal.Decimal `json:"vat"`
	Sum  decimal.Decimal `json:"sum"`
	Text string          `json:"text"`
}

// VatArray groups VAT by rate. Keys are the canonical rate strings.
type VatArray map[string]VatEntry

func (v VatArray) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]VatEntry(v))
}

// UnmarshalJSON accepts an object and the empty array form.
func (v *VatArray) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || strings.ReplaceAll(trimmed, " ", "") == "[]" {
		*v = VatArray{}
		return nil
	}
	m := map[string]VatEntry{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*v = m
	return nil
}

func (v VatArray) clone() VatArray {
	out := make(VatArray, len(v))
	for k, e := range v {
		out[k] = e
	}
	return out
}

// ArticleResult is the calculated block of an article.
type ArticleResult struct {
	Price                decimal.Decimal `json:"price"`
	BasisPrice           decimal.Decimal `json:"basisPrice"`
	NettoPriceNotRounded decimal.Decimal `json:"nettoPriceNotRounded"`
	Sum                  decimal.Decimal `json:"sum"`
	NettoPrice           decimal.Decimal `json:"nettoPrice"`
	NettoBasisPrice      decimal.Decimal `json:"nettoBasisPrice"`
	NettoSubSum          decimal.Decimal `json:"nettoSubSum"`
	NettoSum             decimal.Decimal `json:"nettoSum"`
	VatArray             VatArray        `json:"vatArray"`
	IsEuVat              bool            `json:"isEuVat"`
	IsNetto              bool            `json:"isNetto"`
}

func (r ArticleResult) clone() ArticleResult {
	r.VatArray = r.VatArray.clone()
	return r
}

// ArticleData is the serialized article.
type ArticleData struct {
	ID                   int                    `json:"id"`
	UUID                 string                 `json:"uuid,omitempty"`
	Control              string                 `json:"control,omitempty"`
	Class                string                 `json:"class,omitempty"`
	ProductID            int                    `json:"productId,omitempty"`
	ProductSetParentUUID string                 `json:"productSetParentUuid,omitempty"`
	ArticleNo            string                 `json:"articleNo"`
	GTIN                 string                 `json:"gtin,omitempty"`
	Title                string                 `json:"title"`
	Description          string                 `json:"description"`
	UnitPrice            decimal.Decimal        `json:"unitPrice"`
	Quantity             decimal.Decimal        `json:"quantity"`
	QuantityUnit         *QuantityUnit          `json:"quantityUnit"`
	Vat                  OptionalDecimal        `json:"vat"`
	Discount             DiscountField          `json:"discount"`
	Position             int                    `json:"position"`
	Currency             string                 `json:"currency"`
	DisplayPrice         bool                   `json:"displayPrice"`
	CustomFields         map[string]CustomField `json:"customFields"`
	CustomData           map[string]any         `json:"customData"`
	Calculated           *ArticleResult         `json:"calculated"`
}

// Article is one line item. Price affecting setters invalidate the cached
// result and notify the owning list.
type Article struct {
	id                   int
	uuid                 string
	control              string
	kind                 Kind
	productID            int
	productSetParentUUID string
	articleNo            string
	gtin                 string
	title                string
	description          string
	unitPrice            decimal.Decimal
	quantity             decimal.Decimal
	quantityUnit         *QuantityUnit
	vat                  OptionalDecimal
	discount             *Discount
	position             int
	currency             money.Currency
	displayPrice         bool
	customFields         map[string]CustomField
	customData           map[string]any

	user     *tax.User
	opts     []CalcOption
	state    state[ArticleResult]
	imported *ArticleResult

	onInvalidate func()
}

// NewArticle builds an article from its serialized form. The article starts
// dirty; a calculated block present in data is kept for display until the
// article is mutated or calculated.
func NewArticle(data ArticleData, opts ...CalcOption) *Article {
	cfg := newCalcConfig(opts)
	control := data.Control
	if control == "" {
		control = data.Class
	}
	a := &Article{
		id:                   data.ID,
		uuid:                 strings.TrimSpace(data.UUID),
		control:              control,
		kind:                 LookupKind(control),
		productID:            data.ProductID,
		productSetParentUUID: data.ProductSetParentUUID,
		articleNo:            data.ArticleNo,
		gtin:                 data.GTIN,
		title:                data.Title,
		description:          data.Description,
		unitPrice:            data.UnitPrice,
		quantity:             data.Quantity,
		vat:                  data.Vat,
		position:             data.Position,
		displayPrice:         data.DisplayPrice,
		customData:           cloneMap(data.CustomData),
		opts:                 append([]CalcOption(nil), opts...),
	}
	if data.QuantityUnit != nil {
		qu := *data.QuantityUnit
		a.quantityUnit = &qu
	}
	a.currency = resolveCurrency(data.Currency, cfg.currency)
	if d := data.Discount.Discount; d != nil {
		cp := *d
		cp.article = a
		if cp.Currency == "" {
			cp.Currency = a.currency.Code
		}
		a.discount = &cp
	}
	a.customFields = sanitizeCustomFields(data.CustomFields, func(id string) {
		cfg.logger.Warn().Str("article_uuid", a.uuid).Str("field", id).Msg("custom_field_dropped")
	})
	if data.Calculated != nil {
		imported := data.Calculated.clone()
		a.imported = &imported
	}
	if a.kind.Init != nil {
		a.kind.Init(a)
	}
	return a
}

func resolveCurrency(code string, fallback money.Currency) money.Currency {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.EqualFold(code, fallback.Code) {
		return fallback
	}
	return money.Known(code)
}

func sanitizeCustomFields(in map[string]CustomField, dropped func(id string)) map[string]CustomField {
	if in == nil {
		return nil
	}
	out := make(map[string]CustomField, len(in))
	for id, field := range in {
		switch field.Value.(type) {
		case string, float64, float32, int, int32, int64, json.Number, nil:
		default:
			dropped(id)
			continue
		}
		if field.Display != nil {
			field.Display = cloneMap(field.Display)
		}
		out[id] = field
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func (a *Article) invalidate() {
	a.state.invalidate()
	a.imported = nil
	if a.onInvalidate != nil {
		a.onInvalidate()
	}
}

// Calc calculates the article unless it is already calculated. A nil calc
// uses a default context built from the article's user and currency.
func (a *Article) Calc(ctx context.Context, calc *Calc) *Article {
	if a.state.calculated() {
		return a
	}
	if calc == nil {
		opts := append(append([]CalcOption(nil), a.opts...), WithCurrency(a.currency))
		calc = NewCalc(a.user, opts...)
	}
	calc.CalcArticlePrice(ctx, a, nil)
	return a
}

// Vat resolves the VAT rate of the article. It never fails: lookup errors
// are logged and resolution falls through to the next source, ending at 0.
func (a *Article) Vat(ctx context.Context) decimal.Decimal {
	cfg := newCalcConfig(a.opts)
	return a.resolveVat(ctx, a.user, cfg)
}

func (a *Article) resolveVat(ctx context.Context, user *tax.User, cfg calcConfig) decimal.Decimal {
	if a.vat.Valid {
		return a.vat.Value
	}
	lookup := cfg.lookup
	if lookup == nil {
		return decimal.Zero
	}
	logger := cfg.loggerFor(ctx)
	degrade := func(step string, err error) {
		result := "error"
		if isNoRate(err) {
			result = "miss"
		} else {
			logger.Warn().Err(err).Str("step", step).Str("article_uuid", a.uuid).Msg("tax_lookup_failed")
		}
		recordTaxLookup(step, result)
	}

	if a.productID > 0 {
		var area *tax.Area
		if !user.IsSystem() && user.Area != nil {
			ua := *user.Area
			area = &ua
		} else if def, err := lookup.DefaultArea(ctx); err == nil {
			area = &def
		} else {
			degrade("default_area", err)
		}
		if area != nil {
			rate, err := lookup.TaxRate(ctx, tax.Query{User: user, ProductID: a.productID, Area: area})
			if err == nil {
				recordTaxLookup("product", "ok")
				return rate
			}
			degrade("product", err)
		}
	}
	if !user.IsSystem() {
		rate, err := lookup.TaxRate(ctx, tax.Query{User: user})
		if err == nil {
			recordTaxLookup("user", "ok")
			return rate
		}
		degrade("user", err)
	}
	def, err := lookup.DefaultArea(ctx)
	if err != nil {
		degrade("default_area", err)
		return decimal.Zero
	}
	rate, err := lookup.TaxRate(ctx, tax.Query{Area: &def})
	if err != nil {
		degrade("default", err)
		return decimal.Zero
	}
	recordTaxLookup("default", "ok")
	return rate
}

// Calculated returns the cached result.
func (a *Article) Calculated() (ArticleResult, bool) {
	r, ok := a.state.get()
	if !ok {
		return ArticleResult{}, false
	}
	return r.clone(), true
}

// IsCalculated reports whether the cached result is current.
func (a *Article) IsCalculated() bool { return a.state.calculated() }

func (a *Article) ID() int                      { return a.id }
func (a *Article) UUID() string                 { return a.uuid }
func (a *Article) Kind() Kind                   { return a.kind }
func (a *Article) ProductID() int               { return a.productID }
func (a *Article) ProductSetParentUUID() string { return a.productSetParentUUID }
func (a *Article) ArticleNo() string            { return a.articleNo }
func (a *Article) GTIN() string                 { return a.gtin }
func (a *Article) Title() string                { return a.title }
func (a *Article) Description() string          { return a.description }
func (a *Article) UnitPrice() decimal.Decimal   { return a.unitPrice }
func (a *Article) Quantity() decimal.Decimal    { return a.quantity }
func (a *Article) Position() int                { return a.position }
func (a *Article) Currency() money.Currency     { return a.currency }
func (a *Article) User() *tax.User              { return a.user }
func (a *Article) DisplayPrice() bool           { return a.displayPrice }
func (a *Article) ExplicitVat() OptionalDecimal { return a.vat }

// Discount returns a copy of the discount; nil when none is set.
func (a *Article) Discount() *Discount {
	if a.discount == nil {
		return nil
	}
	d := *a.discount
	return &d
}

// CustomFields returns a copy of the custom fields.
func (a *Article) CustomFields() map[string]CustomField {
	return sanitizeCustomFields(a.customFields, func(string) {})
}

// CustomData returns a copy of the collaborator data.
func (a *Article) CustomData() map[string]any { return cloneMap(a.customData) }

// SetQuantity sets the quantity. Zero is legal.
func (a *Article) SetQuantity(q decimal.Decimal) {
	a.quantity = q
	a.invalidate()
}

func (a *Article) SetUnitPrice(p decimal.Decimal) {
	a.unitPrice = p
	a.invalidate()
}

// SetVat fixes the VAT rate, bypassing lookup.
func (a *Article) SetVat(rate decimal.Decimal) {
	a.vat = Some(rate)
	a.invalidate()
}

// ClearVat makes the article resolve its VAT through the lookup again.
func (a *Article) ClearVat() {
	a.vat = OptionalDecimal{}
	a.invalidate()
}

// SetDiscount replaces the discount.
func (a *Article) SetDiscount(value decimal.Decimal, typ DiscountType) {
	d := NewDiscount(value, typ)
	d.Currency = a.currency.Code
	d.article = a
	a.discount = d
	a.invalidate()
}

func (a *Article) ClearDiscount() {
	a.discount = nil
	a.invalidate()
}

// SetUser changes the acting user; the cache is dropped only on change.
func (a *Article) SetUser(u *tax.User) {
	if a.user.Equal(u) {
		return
	}
	a.user = u
	a.invalidate()
}

// SetCurrency changes the currency; the cache is dropped only on change.
func (a *Article) SetCurrency(c money.Currency) {
	if a.currency.Equal(c) {
		return
	}
	a.retag(c)
	a.invalidate()
}

// retag switches the currency without touching amounts or the cache.
func (a *Article) retag(c money.Currency) {
	a.currency = c
	if a.discount != nil && a.discount.Type == DiscountAbsolute {
		a.discount.Currency = c.Code
	}
}

// convert multiplies all monetary attributes by rate.
func (a *Article) convert(rate decimal.Decimal, precision int32, target money.Currency) {
	a.unitPrice = a.unitPrice.Mul(rate).Round(precision)
	if a.discount != nil && a.discount.Type == DiscountAbsolute {
		a.discount.Value = a.discount.Value.Mul(rate).Round(precision)
	}
	a.retag(target)
	a.invalidate()
}

func (a *Article) SetTitle(title string)              { a.title = title }
func (a *Article) SetDescription(description string)  { a.description = description }
func (a *Article) SetArticleNo(no string)             { a.articleNo = no }
func (a *Article) SetGTIN(gtin string)                { a.gtin = gtin }
func (a *Article) SetPosition(position int)           { a.position = position }
func (a *Article) SetDisplayPrice(display bool)       { a.displayPrice = display }
func (a *Article) SetQuantityUnit(unit *QuantityUnit) { a.quantityUnit = unit }

// SetCustomData replaces the collaborator data.
func (a *Article) SetCustomData(data map[string]any) { a.customData = cloneMap(data) }

// SetProductID links the article to a catalog product; VAT may change.
func (a *Article) SetProductID(id int) {
	if a.productID == id {
		return
	}
	a.productID = id
	a.invalidate()
}

func (a *Article) ensureUUID() {
	if a.uuid == "" {
		a.uuid = uuid.NewString()
	}
}

// ToArray serializes the article. The calculated block is null while the
// article is dirty unless it still carries the block it was imported with.
func (a *Article) ToArray() ArticleData {
	data := ArticleData{
		ID:                   a.id,
		UUID:                 a.uuid,
		Control:              a.control,
		ProductID:            a.productID,
		ProductSetParentUUID: a.productSetParentUUID,
		ArticleNo:            a.articleNo,
		GTIN:                 a.gtin,
		Title:                a.title,
		Description:          a.description,
		UnitPrice:            a.unitPrice,
		Quantity:             a.quantity,
		Vat:                  a.vat,
		Discount:             DiscountField{Discount: a.Discount()},
		Position:             a.position,
		Currency:             a.currency.Code,
		DisplayPrice:         a.displayPrice,
		CustomFields:         a.CustomFields(),
		CustomData:           cloneMap(a.customData),
	}
	if a.quantityUnit != nil {
		qu := *a.quantityUnit
		data.QuantityUnit = &qu
	}
	if r, ok := a.state.get(); ok {
		c := r.clone()
		data.Calculated = &c
	} else if a.imported != nil {
		c := a.imported.clone()
		data.Calculated = &c
	}
	return data
}
