package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Role is the closed set of actor kinds. Authorization checks switch over it
// exhaustively; there is no free-form role string anywhere else in the system.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ParseRole maps a stored role string onto the closed Role set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Actor is the authenticated identity attached to a request.
type Actor struct {
	UserID  string
	Role    Role
	StoreID string // set only for sellers
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPacked    = "packed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// ValidOrderStatus reports whether s is a member of the order status enum.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPacked,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded:
		return true
	}
	return false
}

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Product blockchain mirror statuses
const (
	BlockchainStatusPending = "pending"
	BlockchainStatusMinted  = "minted"
	BlockchainStatusFailed  = "failed"
)

// Product catalog statuses
const (
	ProductStatusDraft    = "draft"
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
	ProductStatusSoldOut  = "sold_out"
)

// QR credential statuses
const (
	QRStatusNotGenerated = "not_generated"
	QRStatusActive       = "active"
	QRStatusRevoked      = "revoked"
)

// Order is one purchase directed at a single store.
type Order struct {
	ID                  string          `db:"id" json:"id"`
	UserID              string          `db:"user_id" json:"user_id"`
	StoreID             string          `db:"store_id" json:"store_id"`
	Status              string          `db:"status" json:"status"`
	PaymentMethod       string          `db:"payment_method" json:"payment_method"`
	PaymentStatus       string          `db:"payment_status" json:"payment_status"`
	TotalAmount         int64           `db:"total_amount" json:"total_amount"` // cents
	ShippingAddress     ShippingAddress `db:"shipping_address" json:"shipping_address"`
	BillingAddress      ShippingAddress `db:"billing_address" json:"billing_address"`
	TrackingNumber      sql.NullString  `db:"tracking_number" json:"tracking_number,omitempty"`
	CurrentLocation     sql.NullString  `db:"current_location" json:"current_location,omitempty"`
	QRData              QRData          `db:"qr_data" json:"qr_data"`
	QRStatus            string          `db:"qr_status" json:"qr_status"`
	QRVerificationCount int             `db:"qr_verification_count" json:"qr_verification_count"`
	QRLastVerifiedAt    sql.NullTime    `db:"qr_last_verified_at" json:"qr_last_verified_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is an immutable snapshot of a purchased product line.
// ProductSnapshot freezes the product as sold; it never changes even if the
// live product row is edited later.
type OrderItem struct {
	ID              string         `db:"id" json:"id"`
	OrderID         string         `db:"order_id" json:"order_id"`
	ProductID       string         `db:"product_id" json:"product_id"`
	Quantity        int            `db:"quantity" json:"quantity"`
	UnitPrice       int64          `db:"unit_price" json:"unit_price"`
	TotalPrice      int64          `db:"total_price" json:"total_price"`
	ProductSnapshot JSONMap        `db:"product_snapshot" json:"product_snapshot"`
	TokenID         sql.NullString `db:"token_id" json:"token_id,omitempty"`
	TransferHash    sql.NullString `db:"transfer_hash" json:"transfer_hash,omitempty"`
}

// OrderStatusHistory is the append-only audit trail of status transitions.
type OrderStatusHistory struct {
	ID         string    `db:"id" json:"id"`
	OrderID    string    `db:"order_id" json:"order_id"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	Notes      string    `db:"notes" json:"notes"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Product is a sellable item, optionally backed by an NFT.
// Stock is mutated only inside a locked transaction by the inventory ledger;
// BlockchainStatus and TokenID only by the mirror adapter.
type Product struct {
	ID               string         `db:"id" json:"id"`
	StoreID          string         `db:"store_id" json:"store_id"`
	Name             string         `db:"name" json:"name"`
	Description      string         `db:"description" json:"description"`
	Manufacturer     string         `db:"manufacturer" json:"manufacturer"`
	Category         string         `db:"category" json:"category"`
	Price            int64          `db:"price" json:"price"`
	Stock            int            `db:"stock" json:"stock"`
	Status           string         `db:"status" json:"status"`
	Images           JSONStrings    `db:"images" json:"images"`
	Attributes       JSONMap        `db:"attributes" json:"attributes"`
	BlockchainStatus string         `db:"blockchain_status" json:"blockchain_status"`
	TokenID          sql.NullString `db:"token_id" json:"token_id,omitempty"`
	QRStatus         string         `db:"qr_status" json:"qr_status"`
	HologramData     JSONMap        `db:"hologram_data" json:"hologram_data,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

/// Store carries an explicit tombstone: every query joining or selecting
// stores must filter deleted_at IS NULL.
type Store struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	Name          string         `db:"name" json:"name"`
	WalletAddress sql.NullString `db:"wallet_address" json:"wallet_address,omitempty"`
	Status        string         `db:"status" json:"status"`
	DeletedAt     sql.NullTime   `db:"deleted_at" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// User rows are soft-deleted the same way stores are.
type User struct {
	ID        string       `db:"id" json:"id"`
	Email     string       `db:"email" json:"email"`
	UserName  string       `db:"user_name" json:"user_name"`
	Role      string       `db:"role" json:"role"`
	DeletedAt sql.NullTime `db:"deleted_at" json:"-"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Notification is a best-effort user-facing event record. Failures creating
// one never roll back the operation that triggered it.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"type" json:"type"`
	Priority  int       `db:"priority" json:"priority"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	Data      JSONMap   `db:"data" json:"data,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// QRData is the persisted half of a verification credential.
type QRData struct {
	VerificationCode string    `json:"verificationCode"`
	GeneratedAt      time.Time `json:"generatedAt"`
	Version          string    `json:"version"`
}

// ShippingAddress is stored as a JSONB blob on the order row.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}
