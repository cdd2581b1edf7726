package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a row does not resolve. Callers map it onto
// their own taxonomy with errors.Is.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on any error. Every
// multi-row mutation in the lifecycle manager goes through this.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductByTokenID retrieves a product by its minted token id.
func (s *Store) GetProductByTokenID(ctx context.Context, tokenID string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE token_id = $1", tokenID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product with token %s: %w", tokenID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetStoreByID retrieves a store, excluding tombstoned rows.
func (s *Store) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st,
		"SELECT * FROM stores WHERE id = $1 AND deleted_at IS NULL", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStoreByIDTx is GetStoreByID inside the caller's transaction.
func (s *Store) GetStoreByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Store, error) {
	var st models.Store
	err := tx.GetContext(ctx, &st,
		"SELECT * FROM stores WHERE id = $1 AND deleted_at IS NULL", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStoreByUserID resolves a seller's store, excluding tombstoned rows.
func (s *Store) GetStoreByUserID(ctx context.Context, userID string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st,
		"SELECT * FROM stores WHERE user_id = $1 AND deleted_at IS NULL", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetUserByID retrieves a user, excluding tombstoned rows.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u,
		"SELECT * FROM users WHERE id = $1 AND deleted_at IS NULL", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListMintableProducts returns products whose NFT still has to be minted,
// together with the owning store's wallet. Stores that are tombstoned do not
// mint. Products already minted are excluded, which makes re-running the
// mint job idempotent.
func (s *Store) ListMintableProducts(ctx context.Context) ([]MintableProduct, error) {
	var rows []MintableProduct
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.id, p.name, p.description, p.images, p.attributes,
		       p.blockchain_status, st.id AS store_id, st.name AS store_name,
		       st.user_id AS store_owner_id, st.wallet_address
		FROM products p
		JOIN stores st ON st.id = p.store_id AND st.deleted_at IS NULL
		WHERE p.blockchain_status IN ($1, $2)
		ORDER BY p.created_at`,
		models.BlockchainStatusPending, models.BlockchainStatusFailed)
	return rows, err
}

// MintableProduct is the join row the mint job iterates over.
type MintableProduct struct {
	ID               string             `db:"id"`
	Name             string             `db:"name"`
	Description      string             `db:"description"`
	Images           models.JSONStrings `db:"images"`
	Attributes       models.JSONMap     `db:"attributes"`
	BlockchainStatus string             `db:"blockchain_status"`
	StoreID          string             `db:"store_id"`
	StoreName        string             `db:"store_name"`
	StoreOwnerID     string             `db:"store_owner_id"`
	WalletAddress    sql.NullString     `db:"wallet_address"`
}

// MarkProductMinted records a successful mint. The token id is set at most
// once; a second attempt on an already-minted product changes nothing.
func (s *Store) MarkProductMinted(ctx context.Context, productID, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET token_id = $1, blockchain_status = $2, updated_at = NOW()
		WHERE id = $3 AND blockchain_status != $2`,
		tokenID, models.BlockchainStatusMinted, productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s already minted or missing: %w", productID, ErrNotFound)
	}
	return nil
}

// MarkProductMintFailed flags a product for retry on the next scheduled run.
func (s *Store) MarkProductMintFailed(ctx context.Context, productID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET blockchain_status = $1, updated_at = NOW()
		WHERE id = $2 AND blockchain_status != $3`,
		models.BlockchainStatusFailed, productID, models.BlockchainStatusMinted)
	return err
}

// SetProductHologram persists the hologram artifact metadata for a product.
func (s *Store) SetProductHologram(ctx context.Context, productID string, data models.JSONMap) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET hologram_data = $1, updated_at = NOW() WHERE id = $2",
		data, productID)
	return err
}

// CreateNotification inserts a best-effort user-facing event record.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, type, priority, is_read, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	return s.db.GetContext(ctx, &n.CreatedAt, query,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.Priority, n.IsRead, n.Data)
}
