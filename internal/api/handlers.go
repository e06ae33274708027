// Package api exposes the accounting engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/common"
	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/snapshot"
	"github.com/noah-isme/backend-erp/internal/tax"
)

// SnapshotStore persists frozen lists per document.
type SnapshotStore interface {
	Save(ctx context.Context, documentID string, list *accounting.UniqueList) error
	Load(ctx context.Context, documentID string) (*accounting.UniqueList, error)
}

// Handler serves calculation and snapshot endpoints.
type Handler struct {
	Lookup     tax.Lookup
	Currencies money.Registry
	Snapshots  SnapshotStore
	Precision  int32
	Logger     zerolog.Logger

	validate *validator.Validate
}

// NewHandler wires a handler and its request validator.
func NewHandler(h Handler) *Handler {
	h.validate = newValidator()
	return &h
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/calculations", h.Calculate)
	r.Route("/snapshots/{documentID}", func(s chi.Router) {
		s.Post("/", h.CreateSnapshot)
		s.Get("/", h.GetSnapshot)
	})
}

// Calculate computes the totals of the posted list without storing anything.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	list, err := h.buildList(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	raw, err := list.ToJSON(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, json.RawMessage(raw))
}

// CreateSnapshot calculates the posted list and freezes it for the document.
// A document can be frozen once.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.Snapshots == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "snapshot store not configured", nil)
		return
	}
	documentID := strings.TrimSpace(chi.URLParam(r, "documentID"))
	list, err := h.buildList(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	unique, err := list.ToUniqueList(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Snapshots.Save(r.Context(), documentID, unique); err != nil {
		common.WriteError(w, mapSnapshotError(documentID, err))
		return
	}
	common.Data(w, http.StatusCreated, json.RawMessage(unique.ToJSON()))
}

// GetSnapshot returns the frozen list of a document.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.Snapshots == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "snapshot store not configured", nil)
		return
	}
	documentID := strings.TrimSpace(chi.URLParam(r, "documentID"))
	unique, err := h.Snapshots.Load(r.Context(), documentID)
	if err != nil {
		common.WriteError(w, mapSnapshotError(documentID, err))
		return
	}
	common.Data(w, http.StatusOK, json.RawMessage(unique.ToJSON()))
}

func (h *Handler) buildList(r *http.Request) (*accounting.ArticleList, error) {
	var req calculationRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return nil, common.NewAppError(common.CodeBadRequest, "invalid payload", http.StatusBadRequest, err)
	}
	if err := h.validator().Struct(req); err != nil {
		return nil, validationError(err)
	}

	ctx := r.Context()
	cur, err := h.currency(ctx, req.Currency)
	if err != nil {
		return nil, err
	}
	opts := []accounting.CalcOption{
		accounting.WithCurrency(cur),
		accounting.WithLogger(h.Logger),
	}
	if h.Lookup != nil {
		opts = append(opts, accounting.WithLookup(h.Lookup))
	}
	if h.Precision > 0 {
		opts = append(opts, accounting.WithPrecision(h.Precision))
	}
	if req.Backend {
		opts = append(opts, accounting.WithBackend())
	}

	list := accounting.ParseArticleList(*req.List, req.User.toUser(), cur, opts...)
	if req.ConvertTo != "" {
		target, err := h.currency(ctx, req.ConvertTo)
		if err != nil {
			return nil, err
		}
		if err := money.CheckConversion(cur, target); err != nil {
			return nil, common.NewAppError(common.CodeValidation, "no exchange rate from "+cur.Code+" to "+target.Code, http.StatusUnprocessableEntity, err)
		}
		list.Convert(ctx, target)
	}
	return list.Calc(ctx), nil
}

func (h *Handler) currency(ctx context.Context, code string) (money.Currency, error) {
	if h.Currencies == nil {
		if code == "" {
			return money.EUR, nil
		}
		return money.Known(code), nil
	}
	if code == "" {
		return h.Currencies.Default(), nil
	}
	cur, err := h.Currencies.Currency(ctx, code)
	if err != nil {
		if errors.Is(err, money.ErrInvalidCurrency) {
			return money.Currency{}, common.NewAppError(common.CodeValidation, "unknown currency "+strings.ToUpper(code), http.StatusUnprocessableEntity, err)
		}
		return money.Currency{}, err
	}
	return cur, nil
}

func (h *Handler) validator() *validator.Validate {
	if h.validate == nil {
		h.validate = newValidator()
	}
	return h.validate
}

func mapSnapshotError(documentID string, err error) error {
	switch {
	case errors.Is(err, snapshot.ErrExists):
		return common.NewAppError(common.CodeConflict, "document "+documentID+" is already frozen", http.StatusConflict, err)
	case errors.Is(err, snapshot.ErrNotFound):
		return common.NewAppError(common.CodeNotFound, "snapshot not found", http.StatusNotFound, err)
	case errors.Is(err, snapshot.ErrInvalidID):
		return common.NewAppError(common.CodeBadRequest, "document id is required", http.StatusBadRequest, err)
	case errors.Is(err, accounting.ErrMissingField):
		return common.NewAppError(common.CodeInternal, "stored snapshot is incomplete", http.StatusInternalServerError, err)
	}
	return err
}
