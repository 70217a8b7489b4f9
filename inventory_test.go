package earmark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/earmark-commerce/earmark/internal/apierror"
	"github.com/earmark-commerce/earmark/model"
)

func seedPending(t *testing.T, e *Earmark, pending model.PendingOrder) {
	t.Helper()
	ctx := context.Background()
	for id, quantity := range pending.Products {
		require.NoError(t, e.reservations.SetAvailable(ctx, id, quantity*10))
	}
	ok, err := e.reservations.CheckAndReserve(ctx, pending.Products)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.reservations.AddPendingOrder(ctx, pending))
}

func TestHandleInventorySettlement_SuccessDebitsStock(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)
	ctx := context.Background()

	seedPending(t, e, model.PendingOrder{
		OrderID:  "ord_1",
		Products: map[string]int64{"prod_a": 3},
	})

	mockDS.On("MarkEventProcessed", mock.Anything, "ord_1", model.EventPaymentSuccess, model.ScopeInventory).
		Return(true, nil)
	mockDS.On("RecordQuantityChange", mock.Anything, mock.MatchedBy(func(change *model.QuantityChange) bool {
		return change.ProductID == "prod_a" && change.Quantity == -3
	})).Return(nil)
	mockDS.On("ProductQuantity", mock.Anything, "prod_a").Return(int64(27), nil)

	err := e.HandleInventorySettlement(ctx, model.PaymentEvent{
		OrderID:   "ord_1",
		EventType: model.EventPaymentSuccess,
	})
	require.NoError(t, err)

	// Queued released, pending removed, availability refreshed to the new
	// committed stock.
	queued, err := e.reservations.QueuedQuantity(ctx, "prod_a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), queued)

	_, found, err := e.reservations.PendingOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.False(t, found)

	available, exists, err := e.reservations.Available(ctx, "prod_a")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, int64(27), available)

	mockDS.AssertExpectations(t)
}

func TestHandleInventorySettlement_FailureReleasesWithoutDebit(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)
	ctx := context.Background()

	seedPending(t, e, model.PendingOrder{
		OrderID:  "ord_1",
		Products: map[string]int64{"prod_a": 2, "prod_b": 1},
	})

	mockDS.On("MarkEventProcessed", mock.Anything, "ord_1", model.EventPaymentFailed, model.ScopeInventory).
		Return(true, nil)

	err := e.HandleInventorySettlement(ctx, model.PaymentEvent{
		OrderID:   "ord_1",
		EventType: model.EventPaymentFailed,
	})
	require.NoError(t, err)

	for _, id := range []string{"prod_a", "prod_b"} {
		queued, err := e.reservations.QueuedQuantity(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), queued, id)
	}
	_, found, err := e.reservations.PendingOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.False(t, found)

	mockDS.AssertNotCalled(t, "RecordQuantityChange", mock.Anything, mock.Anything)
}

func TestHandleInventorySettlement_DuplicateDeliveryIsNoop(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)
	ctx := context.Background()

	seedPending(t, e, model.PendingOrder{
		OrderID:  "ord_1",
		Products: map[string]int64{"prod_a": 2},
	})

	mockDS.On("MarkEventProcessed", mock.Anything, "ord_1", model.EventPaymentSuccess, model.ScopeInventory).
		Return(false, nil)

	err := e.HandleInventorySettlement(ctx, model.PaymentEvent{
		OrderID:   "ord_1",
		EventType: model.EventPaymentSuccess,
	})
	require.NoError(t, err)

	// The reservation is untouched; the first delivery owns it.
	queued, err := e.reservations.QueuedQuantity(ctx, "prod_a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), queued)
}

func TestHandleInventorySettlement_MissingPendingIsNoop(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)

	mockDS.On("MarkEventProcessed", mock.Anything, "ord_gone", model.EventPaymentCanceled, model.ScopeInventory).
		Return(true, nil)

	err := e.HandleInventorySettlement(context.Background(), model.PaymentEvent{
		OrderID:   "ord_gone",
		EventType: model.EventPaymentCanceled,
	})
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "RecordQuantityChange", mock.Anything, mock.Anything)
}

func TestAdjustQuantity_PublishesNewAvailability(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)
	ctx := context.Background()

	mockDS.On("ProductQuantity", mock.Anything, "prod_a").Return(int64(10), nil)
	mockDS.On("RecordQuantityChange", mock.Anything, mock.MatchedBy(func(change *model.QuantityChange) bool {
		return change.ProductID == "prod_a" && change.Quantity == 5
	})).Return(nil)

	change, err := e.AdjustQuantity(ctx, "prod_a", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), change.Quantity)

	available, exists, err := e.reservations.Available(ctx, "prod_a")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, int64(15), available)
}

func TestAdjustQuantity_RejectsOverdraw(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)

	mockDS.On("ProductQuantity", mock.Anything, "prod_a").Return(int64(2), nil)

	_, err := e.AdjustQuantity(context.Background(), "prod_a", -5)
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	mockDS.AssertNotCalled(t, "RecordQuantityChange", mock.Anything, mock.Anything)
}

func TestAdjustQuantity_RejectsZero(t *testing.T) {
	e, _, _ := newTestEarmark(t)

	_, err := e.AdjustQuantity(context.Background(), "prod_a", 0)
	require.Error(t, err)
}

func TestRegisterProduct(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)
	ctx := context.Background()

	mockDS.On("UpsertInventoryProduct", mock.Anything, mock.AnythingOfType("*model.InventoryProduct")).Return(nil)
	mockDS.On("ProductQuantity", mock.Anything, mock.AnythingOfType("string")).Return(int64(0), nil)

	product, err := e.RegisterProduct(ctx, &model.InventoryProduct{Name: "Widget", Price: ptrFloat(9.99)})
	require.NoError(t, err)
	assert.NotEmpty(t, product.ProductID)
	assert.Equal(t, int64(0), *product.Quantity)

	_, exists, err := e.reservations.Available(ctx, product.ProductID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetProduct_ReadThroughCache(t *testing.T) {
	e, mockDS, _ := newTestEarmark(t)
	ctx := context.Background()

	mockDS.On("GetInventoryProducts", mock.Anything, []string{"prod_a"}).
		Return([]model.InventoryProduct{stubProduct("prod_a", 9.99, 12)}, nil).Once()

	first, err := e.GetProduct(ctx, "prod_a")
	require.NoError(t, err)
	assert.Equal(t, int64(12), *first.Quantity)

	// Second read is served from the cache; the datasource mock would panic
	// on a second call because of Once.
	second, err := e.GetProduct(ctx, "prod_a")
	require.NoError(t, err)
	assert.Equal(t, first.ProductID, second.ProductID)

	mockDS.AssertExpectations(t)
}
