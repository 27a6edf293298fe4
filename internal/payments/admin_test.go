package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/farmlink-backend/pkg/db/dbtest"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/pagination"
)

func TestAdminListFilters(t *testing.T) {
	conn := dbtest.Open(t)
	order := dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{Total: "100", ExpiresAt: time.Now()})
	dbtest.SeedPendingPayment(t, conn, order.ID, "ws_CO_pending", "100")
	require.NoError(t, conn.Create(&models.Payment{
		Amount:               decimal.NewFromInt(500),
		PaymentMethod:        enums.PaymentMethodMpesa,
		PaymentStatus:        enums.PaymentStatusCompleted,
		TransactionReference: "ws_CO_orphan",
	}).Error)

	svc, err := NewAdminService(NewRepository(conn))
	require.NoError(t, err)

	all, err := svc.List(context.Background(), AdminListParams{})
	require.NoError(t, err)
	assert.Len(t, all.Payments, 2)
	assert.Empty(t, all.NextCursor)

	unmatched, err := svc.List(context.Background(), AdminListParams{Unmatched: true})
	require.NoError(t, err)
	require.Len(t, unmatched.Payments, 1)
	assert.Equal(t, "ws_CO_orphan", unmatched.Payments[0].TransactionReference)
	assert.True(t, unmatched.Payments[0].Unmatched)

	pending, err := svc.List(context.Background(), AdminListParams{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending.Payments, 1)
	assert.Equal(t, "ws_CO_pending", pending.Payments[0].TransactionReference)

	_, err = svc.List(context.Background(), AdminListParams{Status: "refunded"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestAdminListPaginates(t *testing.T) {
	conn := dbtest.Open(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, ref := range []string{"ws_CO_1", "ws_CO_2", "ws_CO_3"} {
		require.NoError(t, conn.Create(&models.Payment{
			Amount:               decimal.NewFromInt(100),
			PaymentMethod:        enums.PaymentMethodMpesa,
			PaymentStatus:        enums.PaymentStatusCompleted,
			TransactionReference: ref,
			CreatedAt:            base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	svc, err := NewAdminService(NewRepository(conn))
	require.NoError(t, err)

	first, err := svc.List(context.Background(), AdminListParams{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Payments, 2)
	assert.Equal(t, "ws_CO_3", first.Payments[0].TransactionReference)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.List(context.Background(), AdminListParams{Params: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second.Payments, 1)
	assert.Equal(t, "ws_CO_1", second.Payments[0].TransactionReference)
	assert.Empty(t, second.NextCursor)
}
