package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmlink/farmlink-backend/api/responses"
	"github.com/farmlink/farmlink-backend/api/validators"
	"github.com/farmlink/farmlink-backend/internal/checkout"
	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

type orderItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type placeOrderRequest struct {
	Items           []orderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	DeliveryAddress string             `json:"delivery_address" validate:"required,max=500"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=mpesa cash_on_delivery"`
	Phone           string             `json:"phone,omitempty" validate:"omitempty,max=20,msisdn"`
}

type checkoutRequest struct {
	placeOrderRequest
	AccountReference string `json:"account_reference,omitempty" validate:"omitempty,max=12"`
	TransactionDesc  string `json:"transaction_desc,omitempty" validate:"omitempty,max=64"`
}

func (p placeOrderRequest) toInput(buyerID uuid.UUID) checkout.PlaceOrderInput {
	items := make([]checkout.ItemInput, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, checkout.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return checkout.PlaceOrderInput{
		BuyerID:         buyerID,
		Items:           items,
		DeliveryAddress: validators.SanitizeString(p.DeliveryAddress, 500),
		PaymentMethod:   enums.PaymentMethod(p.PaymentMethod),
		Phone:           p.Phone,
	}
}

// BuyerCheckout places the order and, for M-Pesa, sends the STK push.
func BuyerCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Checkout(r.Context(), checkout.CheckoutInput{
			PlaceOrderInput:  payload.toInput(buyerID),
			AccountReference: validators.SanitizeString(payload.AccountReference, 12),
			TransactionDesc:  validators.SanitizeString(payload.TransactionDesc, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// BuyerCreateOrder creates and reserves an order without contacting the provider.
func BuyerCreateOrder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		placed, err := svc.PlaceOrder(r.Context(), payload.toInput(buyerID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, placed)
	}
}

func BuyerOrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return buyerOrderAction(svc, logg, func(r *http.Request, buyerID, orderID uuid.UUID) (any, int, error) {
		detail, err := svc.Detail(r.Context(), buyerID, orderID)
		return detail, http.StatusOK, err
	})
}

func BuyerCancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return buyerOrderAction(svc, logg, func(r *http.Request, buyerID, orderID uuid.UUID) (any, int, error) {
		detail, err := svc.Cancel(r.Context(), buyerID, orderID)
		return detail, http.StatusOK, err
	})
}

// BuyerRequestReceipt queues a receipt for a paid order and answers 202.
func BuyerRequestReceipt(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return buyerOrderAction(svc, logg, func(r *http.Request, buyerID, orderID uuid.UUID) (any, int, error) {
		receipt, err := svc.RequestReceipt(r.Context(), buyerID, orderID)
		return receipt, http.StatusAccepted, err
	})
}

type orderAction func(r *http.Request, buyerID, orderID uuid.UUID) (any, int, error)

func buyerOrderAction(svc orders.Service, logg *logger.Logger, action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := orderIDParam(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithOrderID(r.Context(), orderID.String())
		data, status, err := action(r.WithContext(ctx), buyerID, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, status, data)
	}
}
