package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Job kinds in the work queue
const (
	JobKindWebhook  = "webhook"
	JobKindBackfill = "backfill"
)

const (
	maxJobRetries   = 5
	retryBackoffMin = time.Second

	// A claim older than this is treated as abandoned (worker crashed
	// between claim and complete) and the job becomes claimable again.
	staleClaimTimeout = 5 * time.Minute
)

// QueueItem represents a claimed job awaiting processing
type QueueItem struct {
	ID         int64
	Kind       string
	Data       json.RawMessage
	RetryCount int
}

// Enqueue adds a job to the work queue
func (db *DB) Enqueue(kind string, data json.RawMessage) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO work_queue (kind, data, created_at) VALUES (?, ?, ?)
	`, kind, string(data), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}
	return id, nil
}

// ClaimJob claims the oldest job that is due for processing. A job is
// claimable if it is unclaimed, or its claim is older than
// staleClaimTimeout (the claiming worker died without releasing it).
// Returns nil if nothing is ready.
func (db *DB) ClaimJob() (*QueueItem, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	staleThreshold := now - int64(staleClaimTimeout/time.Second)

	var item QueueItem
	err = tx.QueryRow(`
		SELECT id, kind, data, retry_count FROM work_queue
		WHERE (claimed_at IS NULL OR claimed_at < ?) AND next_attempt_at <= ?
		ORDER BY id ASC LIMIT 1
	`, staleThreshold, now).Scan(&item.ID, &item.Kind, &item.Data, &item.RetryCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query work queue: %w", err)
	}

	if _, err := tx.Exec(`UPDATE work_queue SET claimed_at = ? WHERE id = ?`, now, item.ID); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &item, nil
}

// CompleteJob removes a finished job from the queue
func (db *DB) CompleteJob(id int64) error {
	if _, err := db.conn.Exec(`DELETE FROM work_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ReleaseJob returns a failed job to the queue with exponential backoff.
// After maxJobRetries the job is dropped. Returns whether the job will be retried.
func (db *DB) ReleaseJob(id int64, currentRetryCount int, errorMsg string) (bool, error) {
	if currentRetryCount >= maxJobRetries {
		if _, err := db.conn.Exec(`DELETE FROM work_queue WHERE id = ?`, id); err != nil {
			return false, fmt.Errorf("failed to drop job: %w", err)
		}
		return false, nil
	}

	backoff := retryBackoffMin << uint(currentRetryCount)
	nextAttempt := time.Now().Add(backoff).Unix()

	_, err := db.conn.Exec(`
		UPDATE work_queue
		SET claimed_at = NULL, retry_count = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, currentRetryCount+1, nextAttempt, errorMsg, id)
	if err != nil {
		return false, fmt.Errorf("failed to release job: %w", err)
	}
	return true, nil
}

// QueueDepth returns the number of jobs in the work queue
func (db *DB) QueueDepth() (int, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM work_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return count, nil
}
