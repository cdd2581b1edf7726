package worker

import (
	"context"
	"fmt"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationWorker consumes marketplace events and materializes them as
// user-facing notification rows. It runs behind the request path: a failed
// insert is logged and the message retried by the consumer group, but no
// order operation ever waits on it.
type NotificationWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	store    *store.Store
	logger   *zap.Logger
}

func NewNotificationWorker(consumer *broker.Consumer, st *store.Store) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    st,
		logger:   util.GetLogger(),
	}

	handler := broker.NewEventHandler()
	handler.OnOrderCreated(w.handleOrderCreated)
	handler.OnOrderStatusChanged(w.handleStatusChanged)
	handler.OnLabelsGenerated(w.handleLabelsGenerated)
	handler.OnProductMinted(w.handleProductMinted)
	handler.OnProductMintFailed(w.handleMintFailed)
	w.handler = handler

	return w
}

// Start blocks consuming events until ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return w.create(ctx, &models.Notification{
		UserID:   event.StoreOwnerID,
		Title:    "New order received",
		Message:  fmt.Sprintf("Order %s: %d item(s), %s from %s", shortID(event.OrderID), event.ItemCount, service.FormatAmount(event.TotalAmount), event.Customer),
		Type:     "order",
		Priority: 1,
		Data: models.JSONMap{
			"order_id": event.OrderID,
			"store_id": event.StoreID,
		},
	})
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	title := "Order status updated"
	if event.Undo {
		title = "Order status reverted"
	}
	return w.create(ctx, &models.Notification{
		UserID:   event.BuyerID,
		Title:    title,
		Message:  fmt.Sprintf("Order %s is now %s", shortID(event.OrderID), event.ToStatus),
		Type:     "order_status",
		Priority: 1,
		Data: models.JSONMap{
			"order_id":    event.OrderID,
			"from_status": event.FromStatus,
			"to_status":   event.ToStatus,
		},
	})
}

func (w *NotificationWorker) handleLabelsGenerated(ctx context.Context, event *models.LabelsGeneratedEvent) error {
	return w.create(ctx, &models.Notification{
		UserID:   event.BuyerID,
		Title:    "Verification labels ready",
		Message:  fmt.Sprintf("Authenticity labels were generated for order %s", shortID(event.OrderID)),
		Type:     "qr",
		Priority: 0,
		Data: models.JSONMap{
			"order_id":   event.OrderID,
			"product_id": event.ProductID,
		},
	})
}

func (w *NotificationWorker) handleProductMinted(ctx context.Context, event *models.ProductMintedEvent) error {
	return w.create(ctx, &models.Notification{
		UserID:   event.StoreOwnerID,
		Title:    "Product minted",
		Message:  fmt.Sprintf("Product received token %s (tx %s)", event.TokenID, shortID(event.TxHash)),
		Type:     "blockchain",
		Priority: 0,
		Data: models.JSONMap{
			"product_id": event.ProductID,
			"token_id":   event.TokenID,
			"tx_hash":    event.TxHash,
		},
	})
}

func (w *NotificationWorker) handleMintFailed(ctx context.Context, event *models.ProductMintFailedEvent) error {
	return w.create(ctx, &models.Notification{
		UserID:   event.StoreOwnerID,
		Title:    "Product mint deferred",
		Message:  fmt.Sprintf("Minting failed and will be retried: %s", event.Reason),
		Type:     "blockchain",
		Priority: 2,
		Data: models.JSONMap{
			"product_id": event.ProductID,
			"reason":     event.Reason,
		},
	})
}

func (w *NotificationWorker) create(ctx context.Context, n *models.Notification) error {
	if n.UserID == "" {
		w.logger.Warn("Dropping notification without recipient", zap.String("title", n.Title))
		return nil
	}
	n.ID = uuid.New().String()
	if err := w.store.CreateNotification(ctx, n); err != nil {
		w.logger.Error("Failed to persist notification",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
		return err
	}
	return nil
}

func shortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
