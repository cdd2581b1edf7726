package worker

import (
	"context"
	"time"

	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const mintLockKey = "jobs:mint-pending"

// MintWorker runs the mint-pending batch on a fixed interval. A redis lock
// keeps replicas from running overlapping batches; a replica that cannot
// take the lock simply skips its tick.
type MintWorker struct {
	mirror   *service.MirrorService
	redis    *redisclient.Client
	interval time.Duration
	logger   *zap.Logger
}

func NewMintWorker(mirror *service.MirrorService, redis *redisclient.Client, interval time.Duration) *MintWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MintWorker{
		mirror:   mirror,
		redis:    redis,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start blocks running batches until ctx is cancelled. The first batch runs
// immediately.
func (w *MintWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting mint worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping mint worker")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *MintWorker) runOnce(ctx context.Context) {
	acquired, err := w.redis.AcquireLock(ctx, mintLockKey, w.interval)
	if err != nil {
		w.logger.Warn("Mint lock unavailable, skipping run", zap.Error(err))
		return
	}
	if !acquired {
		w.logger.Debug("Mint batch already running elsewhere, skipping")
		return
	}
	defer func() {
		if err := w.redis.ReleaseLock(ctx, mintLockKey); err != nil {
			w.logger.Warn("Failed to release mint lock", zap.Error(err))
		}
	}()

	if _, err := w.mirror.MintPendingProducts(ctx); err != nil {
		w.logger.Error("Mint batch failed", zap.Error(err))
	}
}
