package worker

import (
	"context"

	"marketplace-service/internal/ledger"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// ChainEventLogger drains one broker subscription and records every chain
// event in the structured log. It stands in for a client push transport;
// without a subscriber the broker would drop everything on the floor.
type ChainEventLogger struct {
	sub    *ledger.Subscription
	logger *zap.Logger
}

// NewChainEventLogger creates a logger over an existing subscription.
func NewChainEventLogger(sub *ledger.Subscription) *ChainEventLogger {
	return &ChainEventLogger{
		sub:    sub,
		logger: util.GetLogger(),
	}
}

// Start consumes events until the context is cancelled or the subscription
// closes. It returns nil on a closed feed.
func (w *ChainEventLogger) Start(ctx context.Context) error {
	w.logger.Info("Chain event logger started")
	for {
		select {
		case <-ctx.Done():
			w.sub.Cancel()
			return ctx.Err()
		case ev, ok := <-w.sub.Events():
			if !ok {
				w.logger.Info("Chain event feed closed")
				return nil
			}
			w.logger.Info("Chain event",
				zap.String("type", ev.Type),
				zap.String("product_id", ev.ProductID),
				zap.String("token_id", ev.TokenID),
				zap.String("stage", ev.Stage.String()),
				zap.String("location", ev.Location),
				zap.String("tx_hash", ev.TxHash),
				zap.String("reason", ev.Reason),
				zap.Time("at", ev.Timestamp))
		}
	}
}
