package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/marshallyale/cyber-commutr/internal/config"
	"github.com/marshallyale/cyber-commutr/internal/crypto"
	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/strava"
	"github.com/marshallyale/cyber-commutr/internal/tokens"
)

type testFixture struct {
	db         *database.DB
	reconciler *Reconciler
	apiCalls   *int
}

func setupReconciler(t *testing.T, handler http.HandlerFunc) *testFixture {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	apiCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		if handler != nil {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := strava.NewClient(&config.Config{
		StravaClientID:     "123",
		StravaClientSecret: "secret",
	})
	client.BaseURL = server.URL
	client.TokenURL = server.URL + "/oauth/token"

	cipher, err := crypto.NewTokenCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	tokenManager := tokens.NewManager(db, client, cipher)

	// Linked user whose token does not need refreshing
	encrypted, err := cipher.Encrypt("refresh-token")
	if err != nil {
		t.Fatalf("Failed to encrypt refresh token: %v", err)
	}
	user := &database.User{
		Username:       "alice",
		Email:          "alice@example.com",
		StravaID:       777,
		Scope:          true,
		RefreshToken:   encrypted,
		AccessToken:    "access-token",
		AccessTokenExp: time.Now().Add(time.Hour).Unix(),
	}
	if err := db.CreateUser(user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	return &testFixture{
		db:         db,
		reconciler: NewReconciler(db, client, tokenManager),
		apiCalls:   &apiCalls,
	}
}

func activityHandler(t *testing.T, doc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("Expected bearer token on activity fetch, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(doc))
	}
}

func TestProcessActivityCreate(t *testing.T) {
	f := setupReconciler(t, activityHandler(t, `{"id": 555, "name": "Morning Commute", "commute": true}`))

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectCreate,
		ObjectID:   555,
		OwnerID:    777,
		EventTime:  1000,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if *f.apiCalls != 1 {
		t.Errorf("Expected 1 API call, got %d", *f.apiCalls)
	}

	doc, err := f.db.GetDocument(database.CollectionActivities, "id", 555)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		t.Fatalf("Stored activity is not valid JSON: %v", err)
	}
	if fields["name"] != "Morning Commute" {
		t.Errorf("Expected fetched activity to be stored, got %v", fields["name"])
	}
}

func TestProcessActivityUpdateRefetches(t *testing.T) {
	f := setupReconciler(t, activityHandler(t, `{"id": 555, "name": "Renamed Ride"}`))

	// Seed a stored activity; the update must replace it with the
	// provider copy, not apply the partial updates map.
	seed := json.RawMessage(`{"id": 555, "name": "Old Name"}`)
	if _, err := f.db.UpsertDocument(database.CollectionActivities, "id", 555, seed); err != nil {
		t.Fatalf("Failed to seed activity: %v", err)
	}
	if err := f.db.SetActivityEventTime(555, 1000); err != nil {
		t.Fatalf("Failed to set event time: %v", err)
	}

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectUpdate,
		ObjectID:   555,
		OwnerID:    777,
		EventTime:  2000,
		Updates:    map[string]string{"title": "Ignored Title"},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	doc, err := f.db.GetDocument(database.CollectionActivities, "id", 555)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		t.Fatalf("Stored activity is not valid JSON: %v", err)
	}
	if fields["name"] != "Renamed Ride" {
		t.Errorf("Expected provider copy stored, got %v", fields["name"])
	}
	if _, ok := fields["title"]; ok {
		t.Error("Partial updates map must not be applied to activities")
	}
}

func TestProcessStaleActivityUpdateSkipped(t *testing.T) {
	f := setupReconciler(t, nil)

	seed := json.RawMessage(`{"id": 555, "name": "Current"}`)
	if _, err := f.db.UpsertDocument(database.CollectionActivities, "id", 555, seed); err != nil {
		t.Fatalf("Failed to seed activity: %v", err)
	}
	if err := f.db.SetActivityEventTime(555, 2000); err != nil {
		t.Fatalf("Failed to set event time: %v", err)
	}

	skipped := metrics.WebhookEventsTotal.WithLabelValues(ObjectActivity, AspectUpdate, metrics.ResultSkipped)
	skippedBefore := testutil.ToFloat64(skipped)

	// Older than the stored event time: skipped as success, no fetch
	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectUpdate,
		ObjectID:   555,
		OwnerID:    777,
		EventTime:  1500,
	})
	if err != nil {
		t.Fatalf("Expected stale event to succeed, got %v", err)
	}
	if *f.apiCalls != 0 {
		t.Errorf("Expected no API calls for stale event, got %d", *f.apiCalls)
	}
	if got := testutil.ToFloat64(skipped) - skippedBefore; got != 1 {
		t.Errorf("Expected 1 skipped event recorded, got %v", got)
	}
}

func TestProcessActivityDelete(t *testing.T) {
	f := setupReconciler(t, nil)

	seed := json.RawMessage(`{"id": 555, "name": "Doomed"}`)
	if _, err := f.db.UpsertDocument(database.CollectionActivities, "id", 555, seed); err != nil {
		t.Fatalf("Failed to seed activity: %v", err)
	}

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectDelete,
		ObjectID:   555,
		OwnerID:    777,
		EventTime:  1000,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	doc, err := f.db.GetDocument(database.CollectionActivities, "id", 555)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	if doc != nil {
		t.Error("Expected activity to be deleted")
	}
}

func TestProcessActivityDeleteAbsentSucceeds(t *testing.T) {
	f := setupReconciler(t, nil)

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectDelete,
		ObjectID:   999,
		OwnerID:    777,
		EventTime:  1000,
	})
	if err != nil {
		t.Fatalf("Expected delete of absent activity to succeed, got %v", err)
	}
}

func TestProcessAthleteUpdateMergesDoc(t *testing.T) {
	f := setupReconciler(t, nil)

	seed := json.RawMessage(`{"id": 777, "firstname": "Alice", "city": "Portland"}`)
	if _, err := f.db.UpsertDocument(database.CollectionAthletes, "id", 777, seed); err != nil {
		t.Fatalf("Failed to seed athlete: %v", err)
	}

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectAthlete,
		AspectType: AspectUpdate,
		ObjectID:   777,
		OwnerID:    777,
		EventTime:  1000,
		Updates:    map[string]string{"city": "Seattle"},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	doc, err := f.db.GetDocument(database.CollectionAthletes, "id", 777)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		t.Fatalf("Stored athlete is not valid JSON: %v", err)
	}
	if fields["city"] != "Seattle" {
		t.Errorf("Expected updated city, got %v", fields["city"])
	}
	if fields["firstname"] != "Alice" {
		t.Errorf("Expected untouched fields to survive the merge, got %v", fields["firstname"])
	}
	if *f.apiCalls != 0 {
		t.Errorf("Expected no API calls for athlete update, got %d", *f.apiCalls)
	}
}

func TestProcessAthleteCreateTreatedAsUpdate(t *testing.T) {
	f := setupReconciler(t, nil)

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectAthlete,
		AspectType: AspectCreate,
		ObjectID:   777,
		OwnerID:    777,
		EventTime:  1000,
		Updates:    map[string]string{"firstname": "Alice"},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	doc, err := f.db.GetDocument(database.CollectionAthletes, "id", 777)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	if doc == nil {
		t.Fatal("Expected athlete document to be created")
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		t.Fatalf("Stored athlete is not valid JSON: %v", err)
	}
	if fields["firstname"] != "Alice" {
		t.Errorf("Expected firstname from updates, got %v", fields["firstname"])
	}
}

func TestProcessDeauthorization(t *testing.T) {
	f := setupReconciler(t, nil)

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectAthlete,
		AspectType: AspectUpdate,
		ObjectID:   777,
		OwnerID:    777,
		EventTime:  1000,
		Updates:    map[string]string{"authorized": "false"},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if *f.apiCalls != 0 {
		t.Errorf("Expected no API calls for deauthorization, got %d", *f.apiCalls)
	}

	user, err := f.db.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to load user: %v", err)
	}
	if user.Scope {
		t.Error("Expected scope revoked")
	}
	if user.AuthorizedWithStrava() {
		t.Error("Expected user to no longer be authorized")
	}
}

func TestProcessAthleteDelete(t *testing.T) {
	f := setupReconciler(t, nil)

	seed := json.RawMessage(`{"id": 777, "firstname": "Alice"}`)
	if _, err := f.db.UpsertDocument(database.CollectionAthletes, "id", 777, seed); err != nil {
		t.Fatalf("Failed to seed athlete: %v", err)
	}

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectAthlete,
		AspectType: AspectDelete,
		ObjectID:   777,
		OwnerID:    777,
		EventTime:  1000,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	doc, err := f.db.GetDocument(database.CollectionAthletes, "id", 777)
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	if doc != nil {
		t.Error("Expected athlete document to be deleted")
	}
}

func TestProcessFetchFailureReturnsError(t *testing.T) {
	f := setupReconciler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message": "server error"}`)
	})

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectCreate,
		ObjectID:   555,
		OwnerID:    777,
		EventTime:  1000,
	})
	if err == nil {
		t.Fatal("Expected error when activity fetch fails, got nil")
	}
}

func TestProcessUnknownUserReturnsError(t *testing.T) {
	f := setupReconciler(t, nil)

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: ObjectActivity,
		AspectType: AspectCreate,
		ObjectID:   555,
		OwnerID:    31337, // no linked user
		EventTime:  1000,
	})
	if err == nil {
		t.Fatal("Expected error for unlinked athlete, got nil")
	}
}

func TestProcessUnrecognizedEvent(t *testing.T) {
	f := setupReconciler(t, nil)

	err := f.reconciler.Process(context.Background(), &Event{
		ObjectType: "segment",
		AspectType: "create",
		ObjectID:   1,
		OwnerID:    777,
	})
	if err == nil {
		t.Fatal("Expected error for unrecognized object type, got nil")
	}
}

func TestDecodeEvent(t *testing.T) {
	payload := []byte(`{
		"object_type": "activity",
		"aspect_type": "update",
		"object_id": 555,
		"owner_id": 777,
		"subscription_id": 12,
		"event_time": 1700000000,
		"updates": {"title": "New Title"}
	}`)

	event, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.ObjectID != 555 || event.OwnerID != 777 {
		t.Errorf("Unexpected IDs: object=%d owner=%d", event.ObjectID, event.OwnerID)
	}
	if event.Updates["title"] != "New Title" {
		t.Errorf("Expected updates map decoded, got %v", event.Updates)
	}

	if _, err := DecodeEvent([]byte(`{not json`)); err == nil {
		t.Error("Expected error for malformed payload, got nil")
	}
}

func TestDeauthorizedDetection(t *testing.T) {
	cases := []struct {
		name  string
		event Event
		want  bool
	}{
		{"deauth", Event{ObjectType: ObjectAthlete, AspectType: AspectUpdate, Updates: map[string]string{"authorized": "false"}}, true},
		{"plain update", Event{ObjectType: ObjectAthlete, AspectType: AspectUpdate, Updates: map[string]string{"city": "Seattle"}}, false},
		{"activity", Event{ObjectType: ObjectActivity, AspectType: AspectUpdate, Updates: map[string]string{"authorized": "false"}}, false},
		{"no updates", Event{ObjectType: ObjectAthlete, AspectType: AspectUpdate}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.event.Deauthorized(); got != tc.want {
				t.Errorf("Deauthorized() = %v, want %v", got, tc.want)
			}
		})
	}
}
