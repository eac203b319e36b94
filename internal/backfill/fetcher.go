// Package backfill imports a user's historical activities after they
// link their Strava account.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/strava"
	"github.com/marshallyale/cyber-commutr/internal/tokens"
)

const (
	defaultRetries   = 3
	defaultBaseDelay = 2 * time.Second
)

// Options narrows and bounds a history fetch. Zero values mean no bound.
type Options struct {
	Before  int64 // only activities started before this epoch second
	After   int64 // only activities started after this epoch second
	Limit   int   // stop after this many activities have been seen
	Retries int   // attempts per page before giving up
}

// Fetcher pages through a user's activity history and stores what is not
// already present. Webhook-reconciled copies are never overwritten.
type Fetcher struct {
	db     *database.DB
	client *strava.Client
	tokens *tokens.Manager
	logger *slog.Logger

	// baseDelay scales the linear retry backoff, shortened in tests
	baseDelay time.Duration
}

// NewFetcher creates a backfill fetcher
func NewFetcher(db *database.DB, client *strava.Client, tokenManager *tokens.Manager) *Fetcher {
	return &Fetcher{
		db:        db,
		client:    client,
		tokens:    tokenManager,
		logger:    slog.Default(),
		baseDelay: defaultBaseDelay,
	}
}

// FetchHistory pages through the user's activities and bulk-inserts each
// page, skipping activities already stored. It stops at a short page, at
// opts.Limit, or when a page's retries are exhausted. Returns the number
// of activities inserted.
func (f *Fetcher) FetchHistory(ctx context.Context, user *database.User, opts Options) (int64, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	listOpts := strava.ListActivitiesOptions{Before: opts.Before, After: opts.After}

	var inserted, seen int64
	for page := 1; ; page++ {
		activities, err := f.fetchPage(ctx, user, page, strava.MaxPerPage, listOpts, retries)
		if err != nil {
			metrics.BackfillPagesTotal.WithLabelValues(metrics.ResultFailure).Inc()
			return inserted, fmt.Errorf("backfill for %s abandoned at page %d: %w", user.Username, page, err)
		}
		metrics.BackfillPagesTotal.WithLabelValues(metrics.ResultSuccess).Inc()

		shortPage := len(activities) < strava.MaxPerPage

		// A shrinking per_page would shift the provider's paging window,
		// so the limit trims the final page instead
		if opts.Limit > 0 {
			if remaining := int64(opts.Limit) - seen; int64(len(activities)) > remaining {
				activities = activities[:remaining]
			}
		}

		if len(activities) > 0 {
			n, err := f.db.BulkInsertIfAbsent(database.CollectionActivities, activities, "id")
			if err != nil {
				return inserted, fmt.Errorf("failed to store backfill page %d: %w", page, err)
			}
			inserted += n
			seen += int64(len(activities))
			metrics.BackfillActivitiesInserted.Add(float64(n))
		}

		f.logger.Info("backfilled page",
			"username", user.Username, "page", page,
			"fetched", len(activities), "inserted", inserted)

		if shortPage {
			break
		}
		if opts.Limit > 0 && seen >= int64(opts.Limit) {
			break
		}
	}

	f.logger.Info("backfill complete", "username", user.Username, "inserted", inserted)
	return inserted, nil
}

// fetchPage fetches one page, retrying with linear backoff. The access
// token is re-validated per attempt in case it expired mid-backfill.
func (f *Fetcher) fetchPage(ctx context.Context, user *database.User, page, perPage int, opts strava.ListActivitiesOptions, retries int) ([]json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * f.baseDelay):
			}
		}

		accessToken, err := f.tokens.EnsureValid(ctx, user)
		if err != nil {
			lastErr = err
			continue
		}

		activities, err := f.client.ListActivities(ctx, accessToken, page, perPage, opts)
		if err == nil {
			return activities, nil
		}
		lastErr = err
		f.logger.Warn("backfill page fetch failed",
			"username", user.Username, "page", page, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}
