package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Collection names for document operations
const (
	CollectionActivities = "activities"
	CollectionAthletes   = "strava_athletes"
)

// collectionSpec describes how a document collection maps onto a table
type collectionSpec struct {
	table     string
	keyColumn string
}

// Collection and key-field names are resolved through this registry so that
// caller-supplied names never reach SQL directly.
var collections = map[string]collectionSpec{
	CollectionActivities: {table: "activities", keyColumn: "id"},
	CollectionAthletes:   {table: "strava_athletes", keyColumn: "id"},
}

func resolveCollection(collection, keyField string) (collectionSpec, error) {
	spec, ok := collections[collection]
	if !ok {
		return collectionSpec{}, fmt.Errorf("unknown collection %q", collection)
	}
	if keyField != spec.keyColumn {
		return collectionSpec{}, fmt.Errorf("collection %q is keyed by %q, not %q", collection, spec.keyColumn, keyField)
	}
	return spec, nil
}

// UpsertDocument inserts or fully replaces the document with the given key.
// Returns the number of rows affected.
func (db *DB) UpsertDocument(collection, keyField string, key int64, doc json.RawMessage) (int64, error) {
	spec, err := resolveCollection(collection, keyField)
	if err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(%s) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, spec.table, spec.keyColumn, spec.keyColumn)

	result, err := db.conn.Exec(query, key, string(doc), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert document in %s: %w", collection, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// DeleteDocument removes the document with the given key.
// Deleting a missing document is not an error; it reports zero affected rows.
func (db *DB) DeleteDocument(collection, keyField string, key int64) (int64, error) {
	spec, err := resolveCollection(collection, keyField)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, spec.table, spec.keyColumn)

	result, err := db.conn.Exec(query, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document from %s: %w", collection, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// GetDocument retrieves the document with the given key, or nil if absent
func (db *DB) GetDocument(collection, keyField string, key int64) (json.RawMessage, error) {
	spec, err := resolveCollection(collection, keyField)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT doc FROM %s WHERE %s = ?`, spec.table, spec.keyColumn)

	var doc string
	err = db.conn.QueryRow(query, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document from %s: %w", collection, err)
	}
	return json.RawMessage(doc), nil
}

// BulkInsertIfAbsent inserts documents whose key does not already exist,
// skipping the rest. Existing documents are never overwritten. The key is
// read from idField inside each document. Returns the number of documents
// inserted.
func (db *DB) BulkInsertIfAbsent(collection string, docs []json.RawMessage, idField string) (int64, error) {
	spec, err := resolveCollection(collection, idField)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (%s, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, spec.table, spec.keyColumn)

	stmt, err := tx.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	var inserted int64

	for _, doc := range docs {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(doc, &fields); err != nil {
			return 0, fmt.Errorf("document is not a JSON object: %w", err)
		}
		var key int64
		if err := json.Unmarshal(fields[idField], &key); err != nil {
			return 0, fmt.Errorf("document is missing numeric %q field: %w", idField, err)
		}

		result, err := stmt.Exec(key, string(doc), now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert document %d: %w", key, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// CountDocuments returns the number of documents in a collection
func (db *DB) CountDocuments(collection string) (int, error) {
	spec, ok := collections[collection]
	if !ok {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, spec.table)
	if err := db.conn.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents in %s: %w", collection, err)
	}
	return count, nil
}

// LastActivityEventTime returns the event_time of the newest webhook event
// applied to the activity, or 0 if the activity is unknown
func (db *DB) LastActivityEventTime(activityID int64) (int64, error) {
	var eventTime int64
	err := db.conn.QueryRow(`SELECT event_time FROM activities WHERE id = ?`, activityID).Scan(&eventTime)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get activity event time: %w", err)
	}
	return eventTime, nil
}

// SetActivityEventTime records the event_time of the newest applied event.
// It never moves the recorded time backwards.
func (db *DB) SetActivityEventTime(activityID, eventTime int64) error {
	_, err := db.conn.Exec(`
		UPDATE activities
		SET event_time = MAX(event_time, ?)
		WHERE id = ?
	`, eventTime, activityID)
	if err != nil {
		return fmt.Errorf("failed to set activity event time: %w", err)
	}
	return nil
}
