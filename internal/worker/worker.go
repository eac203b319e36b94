// Package worker drains the work queue. It is the retry path behind the
// ack-first webhook policy: events are acknowledged immediately and
// reconciled here, off the request path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marshallyale/cyber-commutr/internal/backfill"
	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/reconcile"
)

const defaultPollInterval = 2 * time.Second

// Worker claims queue items and dispatches them by kind
type Worker struct {
	db         *database.DB
	reconciler *reconcile.Reconciler
	fetcher    *backfill.Fetcher
	logger     *slog.Logger

	pollInterval time.Duration
}

// New creates a queue worker
func New(db *database.DB, reconciler *reconcile.Reconciler, fetcher *backfill.Fetcher) *Worker {
	return &Worker{
		db:           db,
		reconciler:   reconciler,
		fetcher:      fetcher,
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
	}
}

// Run polls the queue until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	w.logger.Info("worker started")
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("failed to process queue item", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessNext claims and processes at most one queue item. It reports
// whether an item was claimed. A failed item is released for retry with
// backoff; retries exhausted means the item is dropped.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.db.ClaimJob()
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	if err := w.processItem(ctx, item); err != nil {
		w.logger.Warn("queue item failed",
			"id", item.ID, "kind", item.Kind, "retry_count", item.RetryCount, "error", err)
		retried, releaseErr := w.db.ReleaseJob(item.ID, item.RetryCount, err.Error())
		if releaseErr != nil {
			return true, releaseErr
		}
		if !retried {
			w.logger.Error("queue item dropped after retries",
				"id", item.ID, "kind", item.Kind, "error", err)
		}
		return true, nil
	}

	if err := w.db.CompleteJob(item.ID); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) processItem(ctx context.Context, item *database.QueueItem) error {
	switch item.Kind {
	case database.JobKindWebhook:
		event, err := reconcile.DecodeEvent(item.Data)
		if err != nil {
			return err
		}
		return w.reconciler.Process(ctx, event)

	case database.JobKindBackfill:
		var job backfill.Job
		if err := json.Unmarshal(item.Data, &job); err != nil {
			return fmt.Errorf("invalid backfill job payload: %w", err)
		}
		user, err := w.db.GetUser(job.Username)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("backfill for unknown user %q", job.Username)
		}
		if !user.AuthorizedWithStrava() {
			return fmt.Errorf("backfill for unauthorized user %q", job.Username)
		}
		_, err = w.fetcher.FetchHistory(ctx, user, backfill.Options{Limit: job.Limit})
		return err

	default:
		return fmt.Errorf("unknown job kind %q", item.Kind)
	}
}
