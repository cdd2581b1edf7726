package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher is the broker surface the emitter publishes through;
// *broker.EventPublisher satisfies it.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishLabelsGenerated(ctx context.Context, event *models.LabelsGeneratedEvent) error
	PublishProductMinted(ctx context.Context, event *models.ProductMintedEvent) error
	PublishProductMintFailed(ctx context.Context, event *models.ProductMintFailedEvent) error
}

// NotificationEmitter publishes user-facing events after the primary
// transaction has committed. Nothing here can fail an order operation:
// publish errors are logged and counted, never returned to the caller.
type NotificationEmitter struct {
	publisher EventPublisher
	logger    *zap.Logger
}

// NewNotificationEmitter creates a new emitter.
func NewNotificationEmitter(publisher EventPublisher) *NotificationEmitter {
	return &NotificationEmitter{
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

func baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreated notifies the store owner about a new incoming order.
func (ne *NotificationEmitter) OrderCreated(ctx context.Context, order *models.Order, storeOwnerID string, items []models.OrderItemData) {
	event := &models.OrderCreatedEvent{
		BaseEvent:    baseEvent(models.EventTypeOrderCreated),
		OrderID:      order.ID,
		StoreID:      order.StoreID,
		StoreOwnerID: storeOwnerID,
		BuyerID:      order.UserID,
		TotalAmount:  order.TotalAmount,
		ItemCount:    len(items),
		Items:        items,
		Customer:     order.ShippingAddress.FullName,
	}
	ne.publish(ctx, models.EventTypeOrderCreated,
		ne.publisher.PublishOrderCreated(ctx, event))
}

// StatusChanged notifies the buyer about a lifecycle transition.
func (ne *NotificationEmitter) StatusChanged(ctx context.Context, order *models.Order, fromStatus string, changedBy string, undo bool) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:  baseEvent(models.EventTypeOrderStatusChanged),
		OrderID:    order.ID,
		BuyerID:    order.UserID,
		FromStatus: fromStatus,
		ToStatus:   order.Status,
		ChangedBy:  changedBy,
		Undo:       undo,
	}
	ne.publish(ctx, models.EventTypeOrderStatusChanged,
		ne.publisher.PublishOrderStatusChanged(ctx, event))
}

// LabelsGenerated notifies the buyer that verification labels exist.
func (ne *NotificationEmitter) LabelsGenerated(ctx context.Context, order *models.Order, productID string) {
	event := &models.LabelsGeneratedEvent{
		BaseEvent: baseEvent(models.EventTypeLabelsGenerated),
		OrderID:   order.ID,
		ProductID: productID,
		BuyerID:   order.UserID,
	}
	ne.publish(ctx, models.EventTypeLabelsGenerated,
		ne.publisher.PublishLabelsGenerated(ctx, event))
}

// ProductMinted notifies the store owner that a product NFT exists.
func (ne *NotificationEmitter) ProductMinted(ctx context.Context, productID, storeOwnerID, tokenID, txHash string) {
	event := &models.ProductMintedEvent{
		BaseEvent:    baseEvent(models.EventTypeProductMinted),
		ProductID:    productID,
		StoreOwnerID: storeOwnerID,
		TokenID:      tokenID,
		TxHash:       txHash,
	}
	ne.publish(ctx, models.EventTypeProductMinted,
		ne.publisher.PublishProductMinted(ctx, event))
}

// MintFailed notifies the store owner that a mint was deferred.
func (ne *NotificationEmitter) MintFailed(ctx context.Context, productID, storeOwnerID, reason string) {
	event := &models.ProductMintFailedEvent{
		BaseEvent:    baseEvent(models.EventTypeProductMintFailed),
		ProductID:    productID,
		StoreOwnerID: storeOwnerID,
		Reason:       reason,
	}
	ne.publish(ctx, models.EventTypeProductMintFailed,
		ne.publisher.PublishProductMintFailed(ctx, event))
}

func (ne *NotificationEmitter) publish(ctx context.Context, eventType string, err error) {
	if err != nil {
		util.NotificationsFailed.Inc()
		ne.logger.Error("Failed to publish notification event",
			zap.String("type", eventType),
			zap.Error(err))
		return
	}
	util.NotificationsPublished.WithLabelValues(eventType).Inc()
}

// FormatAmount renders a cent amount for notification text.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
