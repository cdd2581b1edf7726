package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"marketplace-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing marketplace events. Everything here is
// fire-and-forget from the caller's point of view: the order transaction has
// already committed by the time any of these run.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishLabelsGenerated publishes LabelsGenerated event
func (ep *EventPublisher) PublishLabelsGenerated(ctx context.Context, event *models.LabelsGeneratedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishProductMinted publishes ProductMinted event
func (ep *EventPublisher) PublishProductMinted(ctx context.Context, event *models.ProductMintedEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.ProductID, event)
}

// PublishProductMintFailed publishes ProductMintFailed event
func (ep *EventPublisher) PublishProductMintFailed(ctx context.Context, event *models.ProductMintFailedEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.ProductID, event)
}

// EventHandler routes consumed events to registered callbacks.
type EventHandler struct {
	onOrderCreated       func(context.Context, *models.OrderCreatedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	onLabelsGenerated    func(context.Context, *models.LabelsGeneratedEvent) error
	onProductMinted      func(context.Context, *models.ProductMintedEvent) error
	onProductMintFailed  func(context.Context, *models.ProductMintFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// OnLabelsGenerated registers a handler for LabelsGenerated events
func (eh *EventHandler) OnLabelsGenerated(handler func(context.Context, *models.LabelsGeneratedEvent) error) {
	eh.onLabelsGenerated = handler
}

// OnProductMinted registers a handler for ProductMinted events
func (eh *EventHandler) OnProductMinted(handler func(context.Context, *models.ProductMintedEvent) error) {
	eh.onProductMinted = handler
}

// OnProductMintFailed registers a handler for ProductMintFailed events
func (eh *EventHandler) OnProductMintFailed(handler func(context.Context, *models.ProductMintFailedEvent) error) {
	eh.onProductMintFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCreated event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			return eh.onOrderStatusChanged(ctx, &event)
		}

	case models.EventTypeLabelsGenerated:
		if eh.onLabelsGenerated != nil {
			var event models.LabelsGeneratedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LabelsGenerated event: %w", err)
			}
			return eh.onLabelsGenerated(ctx, &event)
		}

	case models.EventTypeProductMinted:
		if eh.onProductMinted != nil {
			var event models.ProductMintedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductMinted event: %w", err)
			}
			return eh.onProductMinted(ctx, &event)
		}

	case models.EventTypeProductMintFailed:
		if eh.onProductMintFailed != nil {
			var event models.ProductMintFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductMintFailed event: %w", err)
			}
			return eh.onProductMintFailed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
