package database

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnqueueAndClaim(t *testing.T) {
	db := setupTestDB(t)

	data := json.RawMessage(`{"object_type": "activity", "aspect_type": "create", "object_id": 10}`)
	id, err := db.Enqueue(JobKindWebhook, data)
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if id == 0 {
		t.Error("Expected non-zero queue item id")
	}

	item, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	if item == nil {
		t.Fatal("Expected a job, got nil")
	}
	if item.Kind != JobKindWebhook {
		t.Errorf("Expected kind %q, got %q", JobKindWebhook, item.Kind)
	}
	if item.RetryCount != 0 {
		t.Errorf("Expected retry count 0, got %d", item.RetryCount)
	}

	// Claimed jobs are not handed out twice
	second, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if second != nil {
		t.Error("Expected no claimable job while first is in flight")
	}

	if err := db.CompleteJob(item.ID); err != nil {
		t.Fatalf("Failed to complete job: %v", err)
	}

	depth, err := db.QueueDepth()
	if err != nil {
		t.Fatalf("Failed to get queue depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("Expected empty queue, got depth %d", depth)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	db := setupTestDB(t)

	item, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim from empty queue: %v", err)
	}
	if item != nil {
		t.Errorf("Expected nil from empty queue, got %+v", item)
	}
}

func TestReleaseJobSchedulesRetry(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.Enqueue(JobKindWebhook, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	item, err := db.ClaimJob()
	if err != nil || item == nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	willRetry, err := db.ReleaseJob(id, item.RetryCount, "fetch failed")
	if err != nil {
		t.Fatalf("Failed to release job: %v", err)
	}
	if !willRetry {
		t.Error("Expected job to be scheduled for retry")
	}

	// Backoff pushes next_attempt_at into the future, so nothing is claimable yet
	item, err = db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if item != nil {
		t.Error("Expected no claimable job during backoff")
	}

	depth, _ := db.QueueDepth()
	if depth != 1 {
		t.Errorf("Expected released job to remain in queue, depth %d", depth)
	}
}

func TestReleaseJobDropsAfterMaxRetries(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.Enqueue(JobKindBackfill, json.RawMessage(`{"username": "alice"}`))
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	willRetry, err := db.ReleaseJob(id, maxJobRetries, "still failing")
	if err != nil {
		t.Fatalf("Failed to release job: %v", err)
	}
	if willRetry {
		t.Error("Expected job to be dropped after max retries")
	}

	depth, _ := db.QueueDepth()
	if depth != 0 {
		t.Errorf("Expected dropped job removed from queue, depth %d", depth)
	}
}

func TestClaimJobReclaimsStaleClaim(t *testing.T) {
	path := t.TempDir() + "/test.db"

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	id, err := db.Enqueue(JobKindWebhook, json.RawMessage(`{"object_id": 10}`))
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	item, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	if item == nil || item.ID != id {
		t.Fatalf("Expected job %d, got %+v", id, item)
	}

	// Simulate a worker that claimed the job and died: backdate the claim
	// beyond the stale window, then restart by reopening the database.
	backdated := time.Now().Add(-staleClaimTimeout - time.Minute).Unix()
	if _, err := db.conn.Exec(`UPDATE work_queue SET claimed_at = ? WHERE id = ?`, backdated, id); err != nil {
		t.Fatalf("Failed to backdate claim: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	reclaimed, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim after reopen: %v", err)
	}
	if reclaimed == nil {
		t.Fatal("Expected stale claim to be reclaimable after restart")
	}
	if reclaimed.ID != id {
		t.Errorf("Expected job %d, got %d", id, reclaimed.ID)
	}
}

func TestClaimJobLeavesFreshClaimAlone(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.Enqueue(JobKindWebhook, json.RawMessage(`{"object_id": 11}`)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if _, err := db.ClaimJob(); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	// The claim is recent, so it stays with its worker
	second, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if second != nil {
		t.Error("Expected fresh claim not to be stolen")
	}
}
