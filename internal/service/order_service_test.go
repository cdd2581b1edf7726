package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrderStore keeps the order aggregate in memory. WithTx snapshots the
// state before running fn and restores it on error, so rollback semantics
// hold the same way they do against Postgres.
type fakeOrderStore struct {
	stores   map[string]*models.Store
	products map[string]*models.Product
	orders   map[string]*models.Order
	items    map[string][]models.OrderItem
	history  map[string][]models.OrderStatusHistory
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		stores:   make(map[string]*models.Store),
		products: make(map[string]*models.Product),
		orders:   make(map[string]*models.Order),
		items:    make(map[string][]models.OrderItem),
		history:  make(map[string][]models.OrderStatusHistory),
	}
}

func (f *fakeOrderStore) clone() *fakeOrderStore {
	cp := newFakeOrderStore()
	for k, v := range f.stores {
		s := *v
		cp.stores[k] = &s
	}
	for k, v := range f.products {
		p := *v
		cp.products[k] = &p
	}
	for k, v := range f.orders {
		o := *v
		cp.orders[k] = &o
	}
	for k, v := range f.items {
		cp.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range f.history {
		cp.history[k] = append([]models.OrderStatusHistory(nil), v...)
	}
	return cp
}

func (f *fakeOrderStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	saved := f.clone()
	if err := fn(nil); err != nil {
		f.stores, f.products, f.orders = saved.stores, saved.products, saved.orders
		f.items, f.history = saved.items, saved.history
		return err
	}
	return nil
}

func (f *fakeOrderStore) GetStoreByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Store, error) {
	st, ok := f.stores[id]
	if !ok || st.DeletedAt.Valid {
		return nil, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (f *fakeOrderStore) GetProductForUpdate(ctx context.Context, tx *sqlx.Tx, productID string) (*models.Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeOrderStore) Reserve(ctx context.Context, tx *sqlx.Tx, productID string, qty int) (int, error) {
	p, ok := f.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if p.Stock < qty {
		return 0, fmt.Errorf("product %s has %d, requested %d: %w",
			productID, p.Stock, qty, ErrInsufficientStock)
	}
	p.Stock -= qty
	return p.Stock, nil
}

func (f *fakeOrderStore) Release(ctx context.Context, tx *sqlx.Tx, productID string, qty int) error {
	p, ok := f.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	p.Stock += qty
	return nil
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	cp.Items = nil
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrderStore) CreateOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	f.items[item.OrderID] = append(f.items[item.OrderID], *item)
	return nil
}

func (f *fakeOrderStore) GetOrderForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderStore) GetOrderItemsTx(ctx context.Context, tx *sqlx.Tx, orderID string) ([]models.OrderItem, error) {
	return f.GetOrderItems(ctx, orderID)
}

func (f *fakeOrderStore) AppendStatusHistory(ctx context.Context, tx *sqlx.Tx, h *models.OrderStatusHistory) error {
	h.CreatedAt = time.Now()
	f.history[h.OrderID] = append(f.history[h.OrderID], *h)
	return nil
}

func (f *fakeOrderStore) UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID, status string) error {
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	o.Status = status
	return nil
}

func (f *fakeOrderStore) GetLatestStatusHistory(ctx context.Context, tx *sqlx.Tx, orderID string) (*models.OrderStatusHistory, error) {
	rows := f.history[orderID]
	if len(rows) == 0 {
		return nil, fmt.Errorf("no status history for order %s: %w", orderID, ErrNotFound)
	}
	cp := rows[len(rows)-1]
	return &cp, nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeOrderStore) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	return append([]models.OrderStatusHistory(nil), f.history[orderID]...), nil
}

func (f *fakeOrderStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOrderStore) ListOrdersByStore(ctx context.Context, storeID string) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.StoreID == storeID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func checkoutFixture() (*fakeOrderStore, *OrderService) {
	fs := newFakeOrderStore()
	fs.stores["store-1"] = &models.Store{ID: "store-1", UserID: "seller-1", Name: "Atelier"}
	fs.products["p1"] = &models.Product{
		ID: "p1", StoreID: "store-1", Name: "Desk Lamp", Price: 1500,
		Stock: 5, Status: models.ProductStatusActive,
	}
	fs.products["p2"] = &models.Product{
		ID: "p2", StoreID: "store-1", Name: "Ceramic Vase", Price: 2000,
		Stock: 0, Status: models.ProductStatusSoldOut,
	}
	return fs, NewOrderService(fs, testNotifier())
}

func checkoutRequest(items ...OrderItemRequest) *CreateOrderRequest {
	return &CreateOrderRequest{
		Items:           items,
		ShippingAddress: models.ShippingAddress{FullName: "Ada B", Line1: "1 Main St", City: "Utrecht", Country: "NL"},
		PaymentInfo:     &PaymentInfo{Method: "card"},
	}
}

func TestStockEffect(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want stockSideEffect
	}{
		{"pending to confirmed", models.OrderStatusPending, models.OrderStatusConfirmed, stockNone},
		{"confirmed to packed", models.OrderStatusConfirmed, models.OrderStatusPacked, stockNone},
		{"shipped to delivered", models.OrderStatusShipped, models.OrderStatusDelivered, stockNone},
		{"pending to cancelled", models.OrderStatusPending, models.OrderStatusCancelled, stockRelease},
		{"delivered to cancelled", models.OrderStatusDelivered, models.OrderStatusCancelled, stockRelease},
		{"cancelled to pending", models.OrderStatusCancelled, models.OrderStatusPending, stockReserve},
		{"cancelled to confirmed", models.OrderStatusCancelled, models.OrderStatusConfirmed, stockReserve},
		{"cancelled to cancelled", models.OrderStatusCancelled, models.OrderStatusCancelled, stockNone},
		{"delivered to refunded", models.OrderStatusDelivered, models.OrderStatusRefunded, stockNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stockEffect(tt.from, tt.to))
		})
	}
}

func TestGroupItemsByStore(t *testing.T) {
	items := []OrderItemRequest{
		{ProductID: "p1", StoreID: "store-a", Quantity: 1},
		{ProductID: "p2", StoreID: "store-b", Quantity: 2},
		{ProductID: "p3", StoreID: "store-a", Quantity: 3},
	}

	groups := groupItemsByStore(items)

	assert.Len(t, groups, 2)
	// First-appearance order is preserved.
	assert.Equal(t, "store-a", groups[0].storeID)
	assert.Equal(t, "store-b", groups[1].storeID)
	assert.Len(t, groups[0].items, 2)
	assert.Len(t, groups[1].items, 1)
	assert.Equal(t, "p3", groups[0].items[1].ProductID)
}

func TestAuthorizeOrderMutation(t *testing.T) {
	order := &models.Order{ID: "o1", UserID: "buyer-1", StoreID: "store-1"}

	tests := []struct {
		name    string
		actor   models.Actor
		wantErr bool
	}{
		{"admin", models.Actor{UserID: "a1", Role: models.RoleAdmin}, false},
		{"owning seller", models.Actor{UserID: "s1", Role: models.RoleSeller, StoreID: "store-1"}, false},
		{"other seller", models.Actor{UserID: "s2", Role: models.RoleSeller, StoreID: "store-2"}, true},
		{"seller without store", models.Actor{UserID: "s3", Role: models.RoleSeller}, true},
		{"buyer", models.Actor{UserID: "buyer-1", Role: models.RoleBuyer}, true},
		{"unknown role", models.Actor{UserID: "x", Role: models.Role("root")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizeOrderMutation(tt.actor, order)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrForbidden)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthorizeOrderRead(t *testing.T) {
	order := &models.Order{ID: "o1", UserID: "buyer-1", StoreID: "store-1"}

	assert.NoError(t, authorizeOrderRead(models.Actor{UserID: "buyer-1", Role: models.RoleBuyer}, order))
	assert.ErrorIs(t, authorizeOrderRead(models.Actor{UserID: "buyer-2", Role: models.RoleBuyer}, order), ErrForbidden)
	assert.NoError(t, authorizeOrderRead(models.Actor{UserID: "s1", Role: models.RoleSeller, StoreID: "store-1"}, order))
	assert.ErrorIs(t, authorizeOrderRead(models.Actor{UserID: "s2", Role: models.RoleSeller, StoreID: "store-2"}, order), ErrForbidden)
	assert.NoError(t, authorizeOrderRead(models.Actor{UserID: "root", Role: models.RoleAdmin}, order))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "invalid_items", failureReason(ErrValidation))
	assert.Equal(t, "insufficient_stock", failureReason(ErrInsufficientStock))
	assert.Equal(t, "not_found", failureReason(ErrNotFound))
	assert.Equal(t, "db_error", failureReason(assert.AnError))
}

func TestItemData(t *testing.T) {
	items := []models.OrderItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: 1500, TotalPrice: 3000},
	}

	data := itemData(items)

	assert.Len(t, data, 1)
	assert.Equal(t, "p1", data[0].ProductID)
	assert.Equal(t, int64(3000), data[0].TotalPrice)
}

func TestCreateOrderRollsBackOnInsufficientStock(t *testing.T) {
	fs, svc := checkoutFixture()

	// p1 can be reserved; p2 cannot. The whole checkout must roll back.
	_, err := svc.CreateOrder(context.Background(), "buyer-1", checkoutRequest(
		OrderItemRequest{ProductID: "p1", StoreID: "store-1", Quantity: 2, UnitPrice: 1500},
		OrderItemRequest{ProductID: "p2", StoreID: "store-1", Quantity: 1, UnitPrice: 2000},
	))

	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Empty(t, fs.orders)
	assert.Empty(t, fs.items)
	assert.Equal(t, 5, fs.products["p1"].Stock)
	assert.Equal(t, 0, fs.products["p2"].Stock)
}

func TestCancelReactivateRoundTrip(t *testing.T) {
	fs, svc := checkoutFixture()
	admin := models.Actor{UserID: "root", Role: models.RoleAdmin}

	orders, err := svc.CreateOrder(context.Background(), "buyer-1", checkoutRequest(
		OrderItemRequest{ProductID: "p1", StoreID: "store-1", Quantity: 2, UnitPrice: 1500},
	))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	orderID := orders[0].ID
	assert.Equal(t, 3, fs.products["p1"].Stock)

	order, err := svc.Transition(context.Background(), admin, orderID, models.OrderStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 5, fs.products["p1"].Stock)

	order, err = svc.Transition(context.Background(), admin, orderID, models.OrderStatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, 3, fs.products["p1"].Stock)

	history, err := svc.GetStatusHistory(context.Background(), admin, orderID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.OrderStatusCancelled, history[0].ToStatus)
	assert.Equal(t, models.OrderStatusConfirmed, history[1].ToStatus)
}

func TestReactivateFailsCleanlyWhenStockMoved(t *testing.T) {
	fs, svc := checkoutFixture()
	admin := models.Actor{UserID: "root", Role: models.RoleAdmin}

	orders, err := svc.CreateOrder(context.Background(), "buyer-1", checkoutRequest(
		OrderItemRequest{ProductID: "p1", StoreID: "store-1", Quantity: 4, UnitPrice: 1500},
	))
	require.NoError(t, err)
	orderID := orders[0].ID

	_, err = svc.Transition(context.Background(), admin, orderID, models.OrderStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, 5, fs.products["p1"].Stock)

	// Someone else bought the stock back down before the reactivation.
	fs.products["p1"].Stock = 1

	_, err = svc.Transition(context.Background(), admin, orderID, models.OrderStatusConfirmed, "")
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The failed reactivation left nothing behind.
	order, err := fs.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 1, fs.products["p1"].Stock)
	assert.Len(t, fs.history[orderID], 1)
}

func TestProductSnapshotFrozenAfterPriceEdit(t *testing.T) {
	fs, svc := checkoutFixture()

	orders, err := svc.CreateOrder(context.Background(), "buyer-1", checkoutRequest(
		OrderItemRequest{ProductID: "p1", StoreID: "store-1", Quantity: 1, UnitPrice: 1500},
	))
	require.NoError(t, err)
	orderID := orders[0].ID

	// The seller edits the live product after the sale.
	fs.products["p1"].Price = 9900
	fs.products["p1"].Name = "Desk Lamp v2"

	items, err := fs.GetOrderItems(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1500), items[0].ProductSnapshot["price"])
	assert.Equal(t, "Desk Lamp", items[0].ProductSnapshot["name"])
}

func TestCreateOrderPersistsBillingAddress(t *testing.T) {
	fs, svc := checkoutFixture()

	req := checkoutRequest(
		OrderItemRequest{ProductID: "p1", StoreID: "store-1", Quantity: 1, UnitPrice: 1500},
	)
	req.BillingAddress = models.ShippingAddress{FullName: "Ada B", Line1: "PO Box 7", City: "Delft", Country: "NL"}

	orders, err := svc.CreateOrder(context.Background(), "buyer-1", req)
	require.NoError(t, err)

	stored := fs.orders[orders[0].ID]
	assert.Equal(t, "PO Box 7", stored.BillingAddress.Line1)

	// Omitting the billing address falls back to shipping.
	orders, err = svc.CreateOrder(context.Background(), "buyer-1", checkoutRequest(
		OrderItemRequest{ProductID: "p1", StoreID: "store-1", Quantity: 1, UnitPrice: 1500},
	))
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", fs.orders[orders[0].ID].BillingAddress.Line1)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$25.00", FormatAmount(2500))
	assert.Equal(t, "$0.05", FormatAmount(5))
	assert.Equal(t, "$1234.56", FormatAmount(123456))
}
