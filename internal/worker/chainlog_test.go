package worker

import (
	"context"
	"testing"
	"time"

	"marketplace-service/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainEventLoggerDrainsUntilClosed(t *testing.T) {
	broker := ledger.NewBroker(4)
	logger := NewChainEventLogger(broker.Subscribe())

	done := make(chan error, 1)
	go func() {
		done <- logger.Start(context.Background())
	}()

	broker.Publish(ledger.Event{Type: ledger.EventProductMinted, ProductID: "p1", TokenID: "42"})
	broker.Publish(ledger.Event{Type: ledger.EventStageUpdated, TokenID: "42"})
	broker.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("logger did not stop after broker close")
	}
}

func TestChainEventLoggerStopsOnCancel(t *testing.T) {
	broker := ledger.NewBroker(4)
	defer broker.Close()
	logger := NewChainEventLogger(broker.Subscribe())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- logger.Start(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("logger did not stop after cancellation")
	}
}
