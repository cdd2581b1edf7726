package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order inside the checkout transaction.
func (s *Store) CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (id, user_id, store_id, status, payment_method,
		                    payment_status, total_amount, shipping_address,
		                    billing_address, qr_status, qr_verification_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		RETURNING created_at, updated_at`

	return tx.QueryRowxContext(ctx, query,
		order.ID, order.UserID, order.StoreID, order.Status, order.PaymentMethod,
		order.PaymentStatus, order.TotalAmount, order.ShippingAddress,
		order.BillingAddress, order.QRStatus).Scan(&order.CreatedAt, &order.UpdatedAt)
}

// CreateOrderItem inserts one order line inside the checkout transaction.
func (s *Store) CreateOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price,
		                         total_price, product_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.ExecContext(ctx, query,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
		item.TotalPrice, item.ProductSnapshot)
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate loads an order with a row lock inside tx. Transitions
// take this lock first so concurrent transitions on one order serialize.
func (s *Store) GetOrderForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForVerification loads an order only if its credential is active.
// Used by the public verify endpoint; an inactive or missing order is the
// same generic ErrNotFound either way.
func (s *Store) GetOrderForVerification(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 AND qr_status = $2",
		id, models.QRStatusActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatusTx updates order status inside the transition transaction.
func (s *Store) UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// GetOrderItems retrieves all items for an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderItemsTx retrieves items inside the caller's transaction.
func (s *Store) GetOrderItemsTx(ctx context.Context, tx *sqlx.Tx, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// AppendStatusHistory inserts one audit row inside the transition
// transaction. History rows are never updated or deleted.
func (s *Store) AppendStatusHistory(ctx context.Context, tx *sqlx.Tx, h *models.OrderStatusHistory) error {
	query := `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return tx.QueryRowxContext(ctx, query,
		h.ID, h.OrderID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Notes).Scan(&h.CreatedAt)
}

// GetStatusHistory returns the audit trail oldest-first.
func (s *Store) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return rows, err
}

// GetLatestStatusHistory returns the most recent audit row inside tx, or
// ErrNotFound when the order has never transitioned.
func (s *Store) GetLatestStatusHistory(ctx context.Context, tx *sqlx.Tx, orderID string) (*models.OrderStatusHistory, error) {
	var h models.OrderStatusHistory
	err := tx.GetContext(ctx, &h,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no status history for order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListOrdersByUser retrieves a buyer's orders, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// ListOrdersByStore retrieves a store's incoming orders, newest first.
func (s *Store) ListOrdersByStore(ctx context.Context, storeID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE store_id = $1 ORDER BY created_at DESC", storeID)
	return orders, err
}

// ListOrders retrieves all orders (admin projection), newest first.
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// SetOrderQRCredential overwrites the order's verification credential. A
// previously active credential is silently invalidated.
func (s *Store) SetOrderQRCredential(ctx context.Context, orderID string, data models.QRData) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET qr_data = $1, qr_status = $2, updated_at = NOW() WHERE id = $3",
		data, models.QRStatusActive, orderID)
	return err
}

// RecordQRVerification bumps the scan counter and the last-verified
// timestamp. The counter is monotonic; it only ever increments.
func (s *Store) RecordQRVerification(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET qr_verification_count = qr_verification_count + 1,
		    qr_last_verified_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`, orderID)
	return err
}
