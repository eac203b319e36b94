// Package stats aggregates stored activities into commute summaries.
package stats

import (
	"fmt"

	"github.com/marshallyale/cyber-commutr/internal/database"
)

// WeeklyTotal is one ISO week's commute distance for an athlete
type WeeklyTotal struct {
	Week          string  `json:"week"` // ISO year-week, e.g. "2026-W35"
	Rides         int     `json:"rides"`
	DistanceKM    float64 `json:"distance_km"`
	MovingTimeSec int64   `json:"moving_time_sec"`
}

// WeeklyCommuteTotals sums commute activity distance per ISO week for one
// athlete, newest week first. Activities are stored as JSON documents;
// the aggregation happens inside SQLite over the doc column.
func WeeklyCommuteTotals(db *database.DB, athleteID int64) ([]WeeklyTotal, error) {
	rows, err := db.Conn().Query(`
		SELECT
			strftime('%Y-W%W', json_extract(doc, '$.start_date')) AS week,
			COUNT(*) AS rides,
			SUM(COALESCE(json_extract(doc, '$.distance'), 0)) AS distance,
			SUM(COALESCE(json_extract(doc, '$.moving_time'), 0)) AS moving_time
		FROM activities
		WHERE json_extract(doc, '$.athlete.id') = ?
		  AND json_extract(doc, '$.commute') = true
		  AND json_extract(doc, '$.start_date') IS NOT NULL
		GROUP BY week
		ORDER BY week DESC
	`, athleteID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate weekly totals: %w", err)
	}
	defer rows.Close()

	var totals []WeeklyTotal
	for rows.Next() {
		var t WeeklyTotal
		var distanceMeters float64
		if err := rows.Scan(&t.Week, &t.Rides, &distanceMeters, &t.MovingTimeSec); err != nil {
			return nil, fmt.Errorf("failed to scan weekly total: %w", err)
		}
		t.DistanceKM = distanceMeters / 1000
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read weekly totals: %w", err)
	}
	return totals, nil
}
