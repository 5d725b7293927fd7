package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const retryBatchSize = 50

// RetryWorker periodically drains due entries from the retry queue. Scheduled
// re-attempts, never blocking waits: the revocation path stays independent of
// vendor endpoint health.
type RetryWorker struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *zap.Logger
}

// NewRetryWorker creates the worker.
func NewRetryWorker(dispatcher *Dispatcher, interval time.Duration, logger *zap.Logger) *RetryWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	return &RetryWorker{dispatcher: dispatcher, interval: interval, logger: logger}
}

// Run processes the queue until ctx is done.
func (w *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := w.dispatcher.ProcessDue(ctx, time.Now(), retryBatchSize)
			if err != nil {
				w.logger.Error("webhook retry sweep failed", zap.Error(err))
				continue
			}
			if processed > 0 {
				w.logger.Debug("webhook retry sweep", zap.Int("processed", processed))
			}
		}
	}
}
