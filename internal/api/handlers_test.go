package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/api"
	"github.com/noah-isme/backend-erp/internal/lock"
	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/snapshot"
	"github.com/noah-isme/backend-erp/internal/tax"
)

const invoiceBody = `{
	"user": {"id": 7, "isNetto": true, "country": "de"},
	"list": {
		"articles": [
			{"title": "Consulting", "articleNo": "C-1", "unitPrice": "100", "quantity": 2, "vat": 19, "discount": "10%"},
			{"title": "Book", "articleNo": "B-1", "unitPrice": 12.5, "quantity": "4", "vat": "7"},
			{"control": "text", "title": "Thank you for your order"}
		],
		"priceFactors": [
			{"title": "Shipping", "value": "4.90", "calculation": "absolute", "calculation_basis": "netto", "vat": "19"}
		]
	}
}`

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string           `json:"code"`
		Message string           `json:"message"`
		Details []map[string]any `json:"details"`
	} `json:"error"`
}

func newServer(t *testing.T) (*miniredis.Miniredis, http.Handler) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry, err := money.NewStaticRegistry("EUR", money.EUR, money.GBP, money.USD.WithRate(decimal.RequireFromString("1.1")))
	require.NoError(t, err)

	h := api.NewHandler(api.Handler{
		Lookup:     tax.NewStatic("DE", decimal.NewFromInt(19)),
		Currencies: registry,
		Snapshots: &snapshot.Store{
			R:      client,
			Locker: lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		},
	})
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return mr, r
}

func do(t *testing.T, srv http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func calculations(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out struct {
		Calculations map[string]any `json:"calculations"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotNil(t, out.Calculations)
	return out.Calculations
}

func TestCalculate(t *testing.T) {
	_, srv := newServer(t)
	rr, env := do(t, srv, http.MethodPost, "/api/v1/calculations", invoiceBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	calcs := calculations(t, env.Data)
	require.Equal(t, "234.9", calcs["nettoSum"])
	require.Equal(t, "230", calcs["nettoSubSum"])
	require.Equal(t, "273.531", calcs["sum"])
	require.Equal(t, true, calcs["isNetto"])

	vatText := calcs["vatText"].(map[string]any)
	require.Equal(t, "plus 19% VAT", vatText["19"])
	require.Equal(t, "plus 7% VAT", vatText["7"])
}

func TestCalculateConvertsCurrency(t *testing.T) {
	_, srv := newServer(t)
	body := `{"convertTo": "usd", "list": {"articles": [{"title": "A", "unitPrice": "10", "quantity": 1, "vat": "0"}]}}`
	rr, env := do(t, srv, http.MethodPost, "/api/v1/calculations", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	calcs := calculations(t, env.Data)
	require.Equal(t, "11", calcs["sum"])
	require.Equal(t, "USD", calcs["currencyData"].(map[string]any)["code"])
}

func TestCalculateRejectsConversionWithoutRate(t *testing.T) {
	_, srv := newServer(t)
	body := `{"convertTo": "gbp", "list": {"articles": [{"title": "A", "unitPrice": "10", "quantity": 1, "vat": "0"}]}}`
	rr, env := do(t, srv, http.MethodPost, "/api/v1/calculations", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	require.Contains(t, env.Error.Message, "EUR to GBP")
}

func TestCalculateValidation(t *testing.T) {
	_, srv := newServer(t)

	rr, env := do(t, srv, http.MethodPost, "/api/v1/calculations", `{"currency": "EURO"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	fields := map[string]bool{}
	for _, d := range env.Error.Details {
		fields[d["field"].(string)] = true
	}
	require.True(t, fields["currency"])
	require.True(t, fields["list"])

	rr, env = do(t, srv, http.MethodPost, "/api/v1/calculations", `{"user": {"country": "Germany"}, "list": {}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "user.country", env.Error.Details[0]["field"])

	rr, env = do(t, srv, http.MethodPost, "/api/v1/calculations", `{"currency": "JPY", "list": {}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, env.Error.Message, "JPY")

	rr, env = do(t, srv, http.MethodPost, "/api/v1/calculations", `{broken`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestSnapshotLifecycle(t *testing.T) {
	mr, srv := newServer(t)

	rr, _ := do(t, srv, http.MethodGet, "/api/v1/snapshots/INV-9", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, created := do(t, srv, http.MethodPost, "/api/v1/snapshots/INV-9", invoiceBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.True(t, mr.Exists("snapshot:INV-9"))

	rr, env := do(t, srv, http.MethodPost, "/api/v1/snapshots/INV-9", `{"list": {"articles": []}}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "CONFLICT", env.Error.Code)

	rr, loaded := do(t, srv, http.MethodGet, "/api/v1/snapshots/INV-9", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, string(created.Data), string(loaded.Data))
	require.Equal(t, "273.531", calculations(t, loaded.Data)["sum"])
}
