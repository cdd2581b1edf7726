package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ErrInsufficientStock is returned by Reserve when the locked row cannot
// cover the requested quantity. The caller's transaction must roll back.
var ErrInsufficientStock = errors.New("insufficient stock")

// Reserve locks the product row and decrements stock by qty inside the
// caller's transaction. It returns the remaining stock. Stock never goes
// negative: a shortfall fails the call, and with it the enclosing
// transaction, before any mutation is visible.
//
// The lock is scoped to tx. Never call this while holding a connection to
// the ledger service; blockchain calls happen outside stock transactions.
func (s *Store) Reserve(ctx context.Context, tx *sqlx.Tx, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}

	var stock int
	err := tx.GetContext(ctx, &stock,
		"SELECT stock FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock product %s: %w", productID, err)
	}

	if stock < qty {
		return 0, fmt.Errorf("product %s has %d, requested %d: %w",
			productID, stock, qty, ErrInsufficientStock)
	}

	remaining := stock - qty
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $1,
		    status = CASE WHEN $1 = 0 AND status = $2 THEN $3 ELSE status END,
		    updated_at = NOW()
		WHERE id = $4`,
		remaining, models.ProductStatusActive, models.ProductStatusSoldOut, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve stock: %w", err)
	}

	return remaining, nil
}

// Release locks the product row and returns qty units to stock inside the
// caller's transaction. Used when an order is cancelled.
func (s *Store) Release(ctx context.Context, tx *sqlx.Tx, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("release quantity must be positive, got %d", qty)
	}

	var stock int
	err := tx.GetContext(ctx, &stock,
		"SELECT stock FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock product %s: %w", productID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $1,
		    status = CASE WHEN status = $2 THEN $3 ELSE status END,
		    updated_at = NOW()
		WHERE id = $4`,
		stock+qty, models.ProductStatusSoldOut, models.ProductStatusActive, productID)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}

	return nil
}

// GetProductForUpdate loads a product with a row lock inside tx.
func (s *Store) GetProductForUpdate(ctx context.Context, tx *sqlx.Tx, productID string) (*models.Product, error) {
	var product models.Product
	err := tx.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}
