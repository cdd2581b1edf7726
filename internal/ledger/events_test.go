package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(Event{Type: EventProductMinted, TokenID: "42"})

	for _, sub := range []*Subscription{a, c} {
		ev := <-sub.Events()
		assert.Equal(t, EventProductMinted, ev.Type)
		assert.Equal(t, "42", ev.TokenID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

// A slow subscriber loses events past its buffer; it never blocks the
// publisher or starves the other subscribers.
func TestBrokerDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(2)
	defer b.Close()

	slow := b.Subscribe()
	fast := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Type: EventStageUpdated, Location: "stop"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The slow subscriber kept exactly its buffer's worth.
	assert.Len(t, slow.ch, 2)
	// The fast one drained nothing either, but its buffer of 2 filled the
	// same way; drops are per subscriber, not global.
	assert.Len(t, fast.ch, 2)
}

func TestBrokerCancel(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	sub := b.Subscribe()
	sub.Cancel()

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	require.NotPanics(t, func() {
		b.Publish(Event{Type: EventLocationUpdated})
	})

	// Double cancel is a no-op.
	require.NotPanics(t, sub.Cancel)
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(4)
	sub := b.Subscribe()

	b.Close()

	_, open := <-sub.Events()
	assert.False(t, open)

	// Late subscribers get an already-closed feed instead of a leak.
	late := b.Subscribe()
	_, open = <-late.Events()
	assert.False(t, open)

	require.NotPanics(t, func() {
		b.Publish(Event{Type: EventProductMinted})
	})
}
