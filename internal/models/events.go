package models

import "time"

// Event types published on the marketplace topic. The notification worker
// consumes these and writes user-facing notification rows; nothing on the
// request path waits for them.
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeLabelsGenerated    = "LABELS_GENERATED"
	EventTypeProductMinted      = "PRODUCT_MINTED"
	EventTypeProductMintFailed  = "PRODUCT_MINT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after a checkout transaction commits, one per
// created order (one per store in the checkout).
type OrderCreatedEvent struct {
	BaseEvent
	OrderID      string          `json:"order_id"`
	StoreID      string          `json:"store_id"`
	StoreOwnerID string          `json:"store_owner_id"`
	BuyerID      string          `json:"buyer_id"`
	TotalAmount  int64           `json:"total_amount"`
	ItemCount    int             `json:"item_count"`
	Items        []OrderItemData `json:"items"`
	Customer     string          `json:"customer"`
}

// OrderStatusChangedEvent published after a lifecycle transition commits.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	BuyerID    string `json:"buyer_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedBy  string `json:"changed_by"`
	Undo       bool   `json:"undo,omitempty"`
}

// LabelsGeneratedEvent published when a verification credential is issued.
type LabelsGeneratedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	BuyerID   string `json:"buyer_id"`
}

// ProductMintedEvent published by the mint job on success.
type ProductMintedEvent struct {
	BaseEvent
	ProductID    string `json:"product_id"`
	StoreOwnerID string `json:"store_owner_id"`
	TokenID      string `json:"token_id"`
	TxHash       string `json:"tx_hash"`
}

// ProductMintFailedEvent published by the mint job when a product is marked
// failed; the next scheduled run retries it.
type ProductMintFailedEvent struct {
	BaseEvent
	ProductID    string `json:"product_id"`
	StoreOwnerID string `json:"store_owner_id"`
	Reason       string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}
