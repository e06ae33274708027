package tax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-erp/internal/resilience"
)

// HTTPLookup queries a remote tax service.
//
//	GET {base}/rate?user=&country=&vat_id=&area=&product=  -> {"rate": "19"}
//	GET {base}/eu-vat?user=&country=&vat_id=               -> {"eligible": true}
//	GET {base}/default-area                                -> {"id": 1, "title": "DE", "country": "DE"}
//
// A 404 from /rate maps to ErrNoRate.
type HTTPLookup struct {
	BaseURL string
	Client  resilience.HTTPClient
}

// NewHTTPLookup builds a client whose transport is traced with otelhttp.
func NewHTTPLookup(baseURL string, breaker *resilience.Breaker, timeout time.Duration) *HTTPLookup {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return &HTTPLookup{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     breaker,
			BaseBackoff: 50 * time.Millisecond,
			MaxAttempts: 2,
			Jitter:      0.2,
			Timeout:     timeout,
		},
	}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

type euVatResponse struct {
	Eligible bool `json:"eligible"`
}

func (h *HTTPLookup) TaxRate(ctx context.Context, q Query) (decimal.Decimal, error) {
	params := userParams(q.User)
	if q.ProductID > 0 {
		params.Set("product", strconv.Itoa(q.ProductID))
	}
	if q.Area != nil {
		params.Set("area", strconv.Itoa(q.Area.ID))
	}
	var out rateResponse
	if err := h.get(ctx, "/rate", params, &out); err != nil {
		return decimal.Decimal{}, err
	}
	return out.Rate, nil
}

func (h *HTTPLookup) IsEuVatEligible(ctx context.Context, u *User) (bool, error) {
	if u.IsSystem() {
		return false, nil
	}
	var out euVatResponse
	if err := h.get(ctx, "/eu-vat", userParams(u), &out); err != nil {
		return false, err
	}
	return out.Eligible, nil
}

func (h *HTTPLookup) DefaultArea(ctx context.Context) (Area, error) {
	var out Area
	if err := h.get(ctx, "/default-area", nil, &out); err != nil {
		return Area{}, err
	}
	return out, nil
}

func (h *HTTPLookup) get(ctx context.Context, path string, params url.Values, out any) error {
	if h == nil || h.BaseURL == "" {
		return errors.New("tax service not configured")
	}
	target := h.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("tax service %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNoRate
	case resp.StatusCode >= 300:
		return fmt.Errorf("tax service %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tax service %s: decode: %w", path, err)
	}
	return nil
}

func userParams(u *User) url.Values {
	params := url.Values{}
	if u.IsSystem() {
		params.Set("user", "system")
		return params
	}
	params.Set("user", strconv.Itoa(u.ID))
	if u.Country != "" {
		params.Set("country", strings.ToUpper(u.Country))
	}
	if u.VatID != "" {
		params.Set("vat_id", u.VatID)
	}
	if u.Area != nil {
		params.Set("area", strconv.Itoa(u.Area.ID))
	}
	return params
}
