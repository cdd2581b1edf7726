package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// orderStore is the persistence surface the order lifecycle needs. Tx-scoped
// methods receive the transaction WithTx opened.
type orderStore interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	GetStoreByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Store, error)
	GetProductForUpdate(ctx context.Context, tx *sqlx.Tx, productID string) (*models.Product, error)
	Reserve(ctx context.Context, tx *sqlx.Tx, productID string, qty int) (int, error)
	Release(ctx context.Context, tx *sqlx.Tx, productID string, qty int) error
	CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error
	CreateOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error
	GetOrderForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Order, error)
	GetOrderItemsTx(ctx context.Context, tx *sqlx.Tx, orderID string) ([]models.OrderItem, error)
	AppendStatusHistory(ctx context.Context, tx *sqlx.Tx, h *models.OrderStatusHistory) error
	UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID, status string) error
	GetLatestStatusHistory(ctx context.Context, tx *sqlx.Tx, orderID string) (*models.OrderStatusHistory, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListOrdersByStore(ctx context.Context, storeID string) ([]models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
}

// OrderService owns the Order/OrderItem aggregate and its status state
// machine. Every mutation runs inside one transaction together with the
// stock adjustment it implies; notifications go out only after commit.
type OrderService struct {
	store    orderStore
	notifier *NotificationEmitter
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(st orderStore, notifier *NotificationEmitter) *OrderService {
	return &OrderService{
		store:    st,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest is one checkout. Items may span stores; the checkout
// produces one order per store.
type CreateOrderRequest struct {
	Items           []OrderItemRequest     `json:"items" binding:"required,min=1"`
	ShippingAddress models.ShippingAddress `json:"shipping_address" binding:"required"`
	BillingAddress  models.ShippingAddress `json:"billing_address"`
	PaymentInfo     *PaymentInfo           `json:"payment_info" binding:"required"`
}

// OrderItemRequest represents an item in a checkout
type OrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	StoreID   string `json:"store_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	UnitPrice int64  `json:"unit_price" binding:"required,min=0"`
}

// PaymentInfo carries checkout payment details; only non-sensitive fields
// are persisted.
type PaymentInfo struct {
	Method     string `json:"method"`
	CardNumber string `json:"card_number,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
}

// storeGroup keeps the checkout's store ordering deterministic.
type storeGroup struct {
	storeID string
	items   []OrderItemRequest
}

// CreateOrder validates a checkout, groups items by store, and creates one
// order per store inside a single transaction. Any failure - unknown store,
// unknown product, product in the wrong store, insufficient stock - rolls
// back the entire checkout; partial orders are never persisted.
//
// No status-history row is written here: the audit trail starts at the
// first explicit transition.
func (s *OrderService) CreateOrder(ctx context.Context, buyerID string, req *CreateOrderRequest) ([]*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("order must contain items: %w", ErrValidation)
	}
	if req.PaymentInfo == nil || req.PaymentInfo.Method == "" {
		return nil, fmt.Errorf("payment information is required: %w", ErrValidation)
	}
	for _, item := range req.Items {
		if item.StoreID == "" {
			return nil, fmt.Errorf("all items must have a valid store_id: %w", ErrValidation)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("item quantity must be at least 1: %w", ErrValidation)
		}
	}

	groups := groupItemsByStore(req.Items)

	// Billing defaults to the shipping address when the buyer omits it.
	billing := req.BillingAddress
	if billing == (models.ShippingAddress{}) {
		billing = req.ShippingAddress
	}

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	var orders []*models.Order
	ownerByOrder := make(map[string]string)

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, group := range groups {
			st, err := s.store.GetStoreByIDTx(ctx, tx, group.storeID)
			if err != nil {
				return err
			}

			var total int64
			for _, item := range group.items {
				total += item.UnitPrice * int64(item.Quantity)
			}

			order := &models.Order{
				ID:              uuid.New().String(),
				UserID:          buyerID,
				StoreID:         st.ID,
				Status:          models.OrderStatusPending,
				PaymentMethod:   req.PaymentInfo.Method,
				PaymentStatus:   models.PaymentStatusPending,
				TotalAmount:     total,
				ShippingAddress: req.ShippingAddress,
				BillingAddress:  billing,
				QRStatus:        models.QRStatusNotGenerated,
			}
			if err := s.store.CreateOrder(ctx, tx, order); err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}

			for _, item := range group.items {
				product, err := s.store.GetProductForUpdate(ctx, tx, item.ProductID)
				if err != nil {
					return err
				}
				if product.StoreID != group.storeID {
					return fmt.Errorf("product %s does not belong to store %s: %w",
						item.ProductID, group.storeID, ErrValidation)
				}

				if _, err := s.store.Reserve(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}

				orderItem := &models.OrderItem{
					ID:         uuid.New().String(),
					OrderID:    order.ID,
					ProductID:  item.ProductID,
					Quantity:   item.Quantity,
					UnitPrice:  item.UnitPrice,
					TotalPrice: item.UnitPrice * int64(item.Quantity),
					ProductSnapshot: models.JSONMap{
						"name":         product.Name,
						"description":  product.Description,
						"price":        product.Price,
						"manufacturer": product.Manufacturer,
						"category":     product.Category,
						"images":       product.Images,
						"attributes":   product.Attributes,
					},
				}
				if err := s.store.CreateOrderItem(ctx, tx, orderItem); err != nil {
					return fmt.Errorf("failed to create order item: %w", err)
				}
				order.Items = append(order.Items, *orderItem)
			}

			ownerByOrder[order.ID] = st.UserID
			orders = append(orders, order)
		}
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	for _, order := range orders {
		s.logger.Info("Order created",
			zap.String("order_id", order.ID),
			zap.String("store_id", order.StoreID),
			zap.Int64("total", order.TotalAmount))
		s.notifier.OrderCreated(ctx, order, ownerByOrder[order.ID], itemData(order.Items))
	}

	return orders, nil
}

// Transition moves an order to newStatus, applying the stock side effect
// the (from, to) pair implies and appending exactly one history row, all in
// one transaction.
func (s *OrderService) Transition(ctx context.Context, actor models.Actor, orderID, newStatus, notes string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition")
	defer span.End()

	if !models.ValidOrderStatus(newStatus) {
		return nil, fmt.Errorf("invalid order status %q: %w", newStatus, ErrValidation)
	}

	var fromStatus string

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderMutation(actor, order); err != nil {
			return err
		}

		fromStatus = order.Status

		if notes == "" {
			notes = fmt.Sprintf("Status changed from %s to %s", fromStatus, newStatus)
		}
		return s.applyTransition(ctx, tx, order, newStatus, actor.UserID, notes)
	})
	if err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(newStatus).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", fromStatus),
		zap.String("to", newStatus),
		zap.String("changed_by", actor.UserID))

	order, err := s.getOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifier.StatusChanged(ctx, order, fromStatus, actor.UserID, false)
	return order, nil
}

// UndoLastTransition reverts the most recent transition by applying it in
// reverse, under the same stock rules. The undone row stays; a new row
// records the undo. Reverting into a reserved state can fail with
// ErrInsufficientStock if stock moved in the interim.
func (s *OrderService) UndoLastTransition(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UndoLastTransition")
	defer span.End()

	var fromStatus string

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderMutation(actor, order); err != nil {
			return err
		}

		last, err := s.store.GetLatestStatusHistory(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("no status changes to undo: %w", ErrValidation)
		}

		fromStatus = order.Status
		target := last.FromStatus
		notes := fmt.Sprintf("Undid status change back to %s", target)
		return s.applyTransition(ctx, tx, order, target, actor.UserID, notes)
	})
	if err != nil {
		return nil, err
	}

	util.OrderUndosTotal.Inc()
	s.logger.Info("Order status change undone",
		zap.String("order_id", orderID),
		zap.String("changed_by", actor.UserID))

	order, err := s.getOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifier.StatusChanged(ctx, order, fromStatus, actor.UserID, true)
	return order, nil
}

// applyTransition performs the stock side effect for (order.Status, to),
// appends the audit row, and updates the order, inside the caller's
// transaction.
func (s *OrderService) applyTransition(ctx context.Context, tx *sqlx.Tx, order *models.Order, to, actorID, notes string) error {
	items, err := s.store.GetOrderItemsTx(ctx, tx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	switch stockEffect(order.Status, to) {
	case stockRelease:
		for _, item := range items {
			if err := s.store.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
	case stockReserve:
		for _, item := range items {
			if _, err := s.store.Reserve(ctx, tx, item.ProductID, item.Quantity); err != nil {
				util.StockReservationsFailed.WithLabelValues("reactivation").Inc()
				return err
			}
		}
	}

	history := &models.OrderStatusHistory{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   to,
		ChangedBy:  actorID,
		Notes:      notes,
	}
	if err := s.store.AppendStatusHistory(ctx, tx, history); err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	if err := s.store.UpdateOrderStatusTx(ctx, tx, order.ID, to); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = to
	return nil
}

type stockSideEffect int

const (
	stockNone stockSideEffect = iota
	stockRelease
	stockReserve
)

// stockEffect decides the inventory side effect of a transition: moving
// into cancelled returns items to stock, moving out of cancelled reserves
// them again, and every other pair leaves stock alone.
func stockEffect(from, to string) stockSideEffect {
	switch {
	case to == models.OrderStatusCancelled && from != models.OrderStatusCancelled:
		return stockRelease
	case from == models.OrderStatusCancelled && to != models.OrderStatusCancelled:
		return stockReserve
	default:
		return stockNone
	}
}

// authorizeOrderMutation enforces who may transition an order. The Role set
// is closed; the switch is exhaustive.
func authorizeOrderMutation(actor models.Actor, order *models.Order) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleSeller:
		if actor.StoreID != "" && actor.StoreID == order.StoreID {
			return nil
		}
		return fmt.Errorf("seller %s does not own order %s: %w", actor.UserID, order.ID, ErrForbidden)
	case models.RoleBuyer:
		return fmt.Errorf("buyers cannot change order status: %w", ErrForbidden)
	default:
		return fmt.Errorf("unknown role %q: %w", actor.Role, ErrForbidden)
	}
}

// authorizeOrderRead enforces who may view an order and its history.
func authorizeOrderRead(actor models.Actor, order *models.Order) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleSeller:
		if actor.StoreID != "" && actor.StoreID == order.StoreID {
			return nil
		}
		return fmt.Errorf("not authorized to view order %s: %w", order.ID, ErrForbidden)
	case models.RoleBuyer:
		if actor.UserID == order.UserID {
			return nil
		}
		return fmt.Errorf("not authorized to view order %s: %w", order.ID, ErrForbidden)
	default:
		return fmt.Errorf("unknown role %q: %w", actor.Role, ErrForbidden)
	}
}

// GetOrder returns an order with items, subject to read authorization.
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	order, err := s.getOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrderRead(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetStatusHistory returns the audit trail oldest-first, subject to read
// authorization.
func (s *OrderService) GetStatusHistory(ctx context.Context, actor models.Actor, orderID string) ([]models.OrderStatusHistory, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrderRead(actor, order); err != nil {
		return nil, err
	}
	return s.store.GetStatusHistory(ctx, orderID)
}

// ListOrders returns the order projection the actor is entitled to: buyers
// see their purchases, sellers their store's orders, admins everything.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	switch actor.Role {
	case models.RoleAdmin:
		return s.store.ListOrders(ctx)
	case models.RoleSeller:
		if actor.StoreID == "" {
			return nil, fmt.Errorf("seller has no store: %w", ErrForbidden)
		}
		return s.store.ListOrdersByStore(ctx, actor.StoreID)
	case models.RoleBuyer:
		return s.store.ListOrdersByUser(ctx, actor.UserID)
	default:
		return nil, fmt.Errorf("unknown role %q: %w", actor.Role, ErrForbidden)
	}
}

func (s *OrderService) getOrderWithItems(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func groupItemsByStore(items []OrderItemRequest) []storeGroup {
	index := make(map[string]int)
	var groups []storeGroup
	for _, item := range items {
		i, ok := index[item.StoreID]
		if !ok {
			i = len(groups)
			index[item.StoreID] = i
			groups = append(groups, storeGroup{storeID: item.StoreID})
		}
		groups[i].items = append(groups[i].items, item)
	}
	return groups
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	out := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, models.OrderItemData{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}
	return out
}

func failureReason(err error) string {
	switch {
	case isValidation(err):
		return "invalid_items"
	case isInsufficientStock(err):
		return "insufficient_stock"
	case isNotFound(err):
		return "not_found"
	default:
		return "db_error"
	}
}
