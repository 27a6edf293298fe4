package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/pagination"
)

// AdminListParams are the admin listing query inputs.
type AdminListParams struct {
	Status    string
	Unmatched bool
	pagination.Params
}

type PaymentView struct {
	ID                   uuid.UUID           `json:"id"`
	OrderID              *uuid.UUID          `json:"order_id"`
	Amount               decimal.Decimal     `json:"amount"`
	PaymentMethod        enums.PaymentMethod `json:"payment_method"`
	PaymentStatus        enums.PaymentStatus `json:"payment_status"`
	TransactionReference string              `json:"transaction_reference"`
	MerchantRequestID    *string             `json:"merchant_request_id,omitempty"`
	MpesaTransactionID   *string             `json:"mpesa_transaction_id,omitempty"`
	PhoneNumber          *string             `json:"phone_number,omitempty"`
	ResultCode           *int                `json:"result_code,omitempty"`
	ResultDesc           *string             `json:"result_desc,omitempty"`
	PaymentDate          *time.Time          `json:"payment_date,omitempty"`
	Unmatched            bool                `json:"unmatched"`
	CreatedAt            time.Time           `json:"created_at"`
}

type PaymentList struct {
	Payments   []PaymentView `json:"payments"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// AdminService lists payments for manual reconciliation.
type AdminService struct {
	repo Repository
}

func NewAdminService(repo Repository) (*AdminService, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	return &AdminService{repo: repo}, nil
}

func (s *AdminService) List(ctx context.Context, params AdminListParams) (*PaymentList, error) {
	filter := ListFilter{Unmatched: params.Unmatched, Limit: params.Limit}
	if params.Status != "" {
		status, err := enums.ParsePaymentStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = &status
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter.Cursor = cursor

	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})

	list := &PaymentList{Payments: make([]PaymentView, 0, len(rows)), NextCursor: next}
	for _, p := range rows {
		list.Payments = append(list.Payments, PaymentView{
			ID:                   p.ID,
			OrderID:              p.OrderID,
			Amount:               p.Amount,
			PaymentMethod:        p.PaymentMethod,
			PaymentStatus:        p.PaymentStatus,
			TransactionReference: p.TransactionReference,
			MerchantRequestID:    p.MerchantRequestID,
			MpesaTransactionID:   p.MpesaTransactionID,
			PhoneNumber:          p.PhoneNumber,
			ResultCode:           p.ResultCode,
			ResultDesc:           p.ResultDesc,
			PaymentDate:          p.PaymentDate,
			Unmatched:            p.OrderID == nil,
			CreatedAt:            p.CreatedAt,
		})
	}
	return list, nil
}
