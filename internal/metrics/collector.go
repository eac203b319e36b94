package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB is the slice of the database the collector needs
type DB interface {
	QueueDepth() (int, error)
}

// StartQueueDepthCollector periodically samples the work queue depth into
// the QueueDepth gauge until the context is cancelled
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepth(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepth(db, logger)
		}
	}
}

func collectQueueDepth(db DB, logger *slog.Logger) {
	depth, err := db.QueueDepth()
	if err != nil {
		logger.Error("Failed to get queue depth", "error", err)
		return
	}
	QueueDepth.Set(float64(depth))
}
