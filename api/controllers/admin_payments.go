package controllers

import (
	"context"
	"net/http"

	"github.com/farmlink/farmlink-backend/api/responses"
	"github.com/farmlink/farmlink-backend/api/validators"
	"github.com/farmlink/farmlink-backend/internal/payments"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/pagination"
)

const (
	maxStatusParamLen = 32
	maxCursorParamLen = 512
)

type paymentLister interface {
	List(ctx context.Context, params payments.AdminListParams) (*payments.PaymentList, error)
}

// AdminPayments lists payments, optionally only the unmatched ones awaiting
// manual reconciliation.
func AdminPayments(svc paymentLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unmatched, err := validators.ParseQueryBool(r, "unmatched")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryString(r, "status", maxStatusParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := validators.ParseQueryString(r, "cursor", maxCursorParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), payments.AdminListParams{
			Status:    status,
			Unmatched: unmatched,
			Params:    pagination.Params{Limit: limit, Cursor: cursor},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
