package stats

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/marshallyale/cyber-commutr/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func storeActivity(t *testing.T, db *database.DB, id, athleteID int64, startDate string, distance float64, movingTime int64, commute bool) {
	t.Helper()

	doc := json.RawMessage(fmt.Sprintf(
		`{"id": %d, "athlete": {"id": %d}, "start_date": %q, "distance": %f, "moving_time": %d, "commute": %t}`,
		id, athleteID, startDate, distance, movingTime, commute))
	if _, err := db.UpsertDocument(database.CollectionActivities, "id", id, doc); err != nil {
		t.Fatalf("Failed to store activity %d: %v", id, err)
	}
}

func TestWeeklyCommuteTotals(t *testing.T) {
	db := setupTestDB(t)

	// Two commutes in one week, one in the next, one non-commute, and one
	// from a different athlete
	storeActivity(t, db, 1, 777, "2026-08-17T08:00:00Z", 5000, 900, true)
	storeActivity(t, db, 2, 777, "2026-08-19T17:30:00Z", 5200, 950, true)
	storeActivity(t, db, 3, 777, "2026-08-25T08:05:00Z", 4800, 880, true)
	storeActivity(t, db, 4, 777, "2026-08-18T12:00:00Z", 42000, 7200, false)
	storeActivity(t, db, 5, 888, "2026-08-18T08:00:00Z", 6000, 1000, true)

	totals, err := WeeklyCommuteTotals(db, 777)
	if err != nil {
		t.Fatalf("WeeklyCommuteTotals failed: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("Expected 2 weeks, got %d: %+v", len(totals), totals)
	}

	// Newest week first
	if totals[0].Week <= totals[1].Week {
		t.Errorf("Expected newest week first, got %q then %q", totals[0].Week, totals[1].Week)
	}

	newest := totals[0]
	if newest.Rides != 1 {
		t.Errorf("Expected 1 ride in newest week, got %d", newest.Rides)
	}
	if newest.DistanceKM != 4.8 {
		t.Errorf("Expected 4.8 km in newest week, got %f", newest.DistanceKM)
	}

	prior := totals[1]
	if prior.Rides != 2 {
		t.Errorf("Expected 2 rides in prior week, got %d", prior.Rides)
	}
	if prior.DistanceKM != 10.2 {
		t.Errorf("Expected 10.2 km in prior week, got %f", prior.DistanceKM)
	}
	if prior.MovingTimeSec != 1850 {
		t.Errorf("Expected 1850s moving time in prior week, got %d", prior.MovingTimeSec)
	}
}

func TestWeeklyCommuteTotalsEmpty(t *testing.T) {
	db := setupTestDB(t)

	totals, err := WeeklyCommuteTotals(db, 777)
	if err != nil {
		t.Fatalf("WeeklyCommuteTotals failed: %v", err)
	}
	if len(totals) != 0 {
		t.Errorf("Expected no totals for unknown athlete, got %d", len(totals))
	}
}

func TestWeeklyCommuteTotalsIgnoresDocsWithoutStartDate(t *testing.T) {
	db := setupTestDB(t)

	doc := json.RawMessage(`{"id": 9, "athlete": {"id": 777}, "distance": 1000, "commute": true}`)
	if _, err := db.UpsertDocument(database.CollectionActivities, "id", 9, doc); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}

	totals, err := WeeklyCommuteTotals(db, 777)
	if err != nil {
		t.Fatalf("WeeklyCommuteTotals failed: %v", err)
	}
	if len(totals) != 0 {
		t.Errorf("Expected docs without start_date to be skipped, got %d weeks", len(totals))
	}
}

func TestWeeklyCommuteTotalsHandlesMissingDistance(t *testing.T) {
	db := setupTestDB(t)

	// Manual entries can lack a distance field entirely
	doc := json.RawMessage(`{"id": 12, "athlete": {"id": 777}, "commute": true, "start_date": "2026-08-24T08:00:00Z", "moving_time": 900}`)
	if _, err := db.UpsertDocument(database.CollectionActivities, "id", 12, doc); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}

	totals, err := WeeklyCommuteTotals(db, 777)
	if err != nil {
		t.Fatalf("WeeklyCommuteTotals failed: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("Expected 1 week, got %d", len(totals))
	}
	if totals[0].Rides != 1 {
		t.Errorf("Expected 1 ride, got %d", totals[0].Rides)
	}
	if totals[0].DistanceKM != 0 {
		t.Errorf("Expected 0 km for distance-less ride, got %f", totals[0].DistanceKM)
	}
	if totals[0].MovingTimeSec != 900 {
		t.Errorf("Expected 900s moving time, got %d", totals[0].MovingTimeSec)
	}
}
