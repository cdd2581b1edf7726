package ledger

import (
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"
)

// Chain event kinds.
const (
	EventProductMinted   = "PRODUCT_MINTED"
	EventMintFailed      = "MINT_FAILED"
	EventStageUpdated    = "STAGE_UPDATED"
	EventLocationUpdated = "LOCATION_UPDATED"
)

// Event is a typed chain-side occurrence fanned out to subscribers.
type Event struct {
	Type      string
	ProductID string
	TokenID   string
	Stage     models.ShipmentStage
	Location  string
	TxHash    string
	Reason    string
	Timestamp time.Time
}

// Broker fans chain events out to subscribers over bounded channels. A slow
// subscriber overflows its own buffer and loses events; it never blocks
// publication to the others.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	bufSize int
	closed  bool
}

// Subscription is one subscriber's bounded event feed.
type Subscription struct {
	ch     chan Event
	broker *Broker
}

// NewBroker creates a broker whose subscribers each get a buffer of bufSize
// events.
func NewBroker(bufSize int) *Broker {
	if bufSize < 1 {
		bufSize = 64
	}
	return &Broker{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	sub := &Subscription{
		ch:     make(chan Event, b.bufSize),
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber without blocking. Events to a full
// subscriber are dropped and counted.
func (b *Broker) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			util.ChainEventsDropped.WithLabelValues(ev.Type).Inc()
		}
	}
}

// Close terminates all subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription is cancelled or the broker shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if _, ok := s.broker.subs[s]; !ok {
		return
	}
	delete(s.broker.subs, s)
	close(s.ch)
}
