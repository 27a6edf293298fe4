package controllers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmlink/farmlink-backend/api/middleware"
	"github.com/farmlink/farmlink-backend/api/responses"
	"github.com/farmlink/farmlink-backend/api/validators"
	"github.com/farmlink/farmlink-backend/internal/payments"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
	"github.com/farmlink/farmlink-backend/pkg/types"
)

// Daraja callbacks are small; anything past this is truncated before parsing.
const maxCallbackBytes = 64 << 10

type tokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type pushInitiator interface {
	Initiate(ctx context.Context, in payments.PushInput) (*mpesa.PushResponse, error)
}

type callbackHandler interface {
	HandleRawCallback(ctx context.Context, body []byte) enums.CallbackOutcome
}

// MpesaToken returns a provider access token. Every failure surfaces as a 500
// so clients see one failure shape regardless of cause.
func MpesaToken(tokens tokenSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConfiguration, "M-Pesa client unavailable"))
			return
		}
		token, err := tokens.AccessToken(r.Context())
		if err != nil {
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeConfiguration {
				err = pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "failed to obtain M-Pesa access token").
					WithHTTPStatus(http.StatusInternalServerError)
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, types.TokenEnvelope{Success: true, Token: token})
	}
}

type stkPushRequest struct {
	Phone            string          `json:"phone" validate:"required,max=20,msisdn"`
	Amount           decimal.Decimal `json:"amount"`
	OrderID          uuid.UUID       `json:"orderId" validate:"required"`
	AccountReference string          `json:"accountReference,omitempty" validate:"omitempty,max=12"`
	TransactionDesc  string          `json:"transactionDesc,omitempty" validate:"omitempty,max=64"`
}

// MpesaSTKPush prompts the buyer's phone to pay an existing pending order.
func MpesaSTKPush(push pushInitiator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if push == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body stkPushRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Amount.IsNegative() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"amount": "must not be negative"}))
			return
		}

		resp, err := push.Initiate(r.Context(), payments.PushInput{
			BuyerID:          buyerID,
			OrderID:          body.OrderID,
			Phone:            body.Phone,
			Amount:           body.Amount,
			AccountReference: validators.SanitizeString(body.AccountReference, 12),
			TransactionDesc:  validators.SanitizeString(body.TransactionDesc, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

// MpesaCallback always acknowledges with 200; outcomes are logged and counted
// by the reconciler.
func MpesaCallback(reconciler callbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "failed to read mpesa callback body")
		}
		if reconciler != nil {
			outcome := reconcileCallback(r.Context(), reconciler, body, logg)
			logg.Debug(logg.WithField(r.Context(), "outcome", string(outcome)), "mpesa callback handled")
		}
		responses.WriteAck(w, http.StatusOK)
	}
}

// reconcileCallback contains a reconciler panic so the provider still gets its ack.
func reconcileCallback(ctx context.Context, reconciler callbackHandler, body []byte, logg *logger.Logger) (outcome enums.CallbackOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logg.Error(ctx, "mpesa callback handler panicked", fmt.Errorf("panic: %v", rec))
			outcome = enums.CallbackOutcomeError
		}
	}()
	return reconciler.HandleRawCallback(ctx, body)
}

func buyerIDFromContext(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	return id, nil
}

func orderIDParam(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id")
	}
	return id, nil
}
