package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/common"
	"github.com/noah-isme/backend-erp/internal/tax"
)

type calculationRequest struct {
	User      *userPayload                `json:"user"`
	Currency  string                      `json:"currency" validate:"omitempty,len=3,alpha"`
	ConvertTo string                      `json:"convertTo" validate:"omitempty,len=3,alpha"`
	Backend   bool                        `json:"backend"`
	List      *accounting.ArticleListData `json:"list" validate:"required"`
}

type userPayload struct {
	ID      int    `json:"id" validate:"gte=0"`
	Netto   bool   `json:"isNetto"`
	System  bool   `json:"system"`
	Country string `json:"country" validate:"omitempty,len=2,alpha"`
	VatID   string `json:"vatId" validate:"omitempty,max=32"`
	AreaID  int    `json:"areaId" validate:"gte=0"`
}

func (p *userPayload) toUser() *tax.User {
	if p == nil {
		return nil
	}
	if p.System {
		return tax.SystemUser()
	}
	u := &tax.User{
		ID:      p.ID,
		Netto:   p.Netto,
		Country: strings.ToUpper(p.Country),
		VatID:   strings.TrimSpace(p.VatID),
	}
	if p.AreaID > 0 {
		u.Area = &tax.Area{ID: p.AreaID}
	}
	return u
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.NewAppError(common.CodeBadRequest, "invalid payload", http.StatusBadRequest, err)
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		details = append(details, fieldError{Field: field, Rule: fe.Tag()})
	}
	return common.NewAppError(common.CodeValidation, "request validation failed", http.StatusUnprocessableEntity, err).WithDetails(details)
}
