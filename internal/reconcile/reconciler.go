package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/strava"
	"github.com/marshallyale/cyber-commutr/internal/tokens"
)

// Reconciler converges datastore state with the provider state a webhook
// event describes. Events are processed off the request path; callers
// acknowledge the webhook before Process runs.
type Reconciler struct {
	db     *database.DB
	client *strava.Client
	tokens *tokens.Manager
	logger *slog.Logger
}

// NewReconciler creates an event reconciler
func NewReconciler(db *database.DB, client *strava.Client, tokenManager *tokens.Manager) *Reconciler {
	return &Reconciler{
		db:     db,
		client: client,
		tokens: tokenManager,
		logger: slog.Default(),
	}
}

// errStaleEvent marks an event superseded by a newer one for the same
// activity. It never escapes Process; it only selects the metrics label.
var errStaleEvent = errors.New("stale event")

// Process applies a single webhook event to the datastore. A returned
// error means the event should be retried; skipped stale events and
// deletes of absent documents count as success.
func (r *Reconciler) Process(ctx context.Context, event *Event) error {
	act, err := event.resolve()
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.ObjectType, event.AspectType, metrics.ResultFailure).Inc()
		return err
	}

	switch act {
	case actionActivityUpsert:
		err = r.upsertActivity(ctx, event)
	case actionActivityDelete:
		err = r.deleteActivity(event)
	case actionAthleteUpdate:
		err = r.updateAthlete(event)
	case actionAthleteDelete:
		err = r.deleteAthlete(event)
	case actionDeauthorize:
		err = r.deauthorize(event)
	}

	result := metrics.ResultSuccess
	if errors.Is(err, errStaleEvent) {
		result = metrics.ResultSkipped
		err = nil
	} else if err != nil {
		result = metrics.ResultFailure
	}
	metrics.WebhookEventsTotal.WithLabelValues(event.ObjectType, event.AspectType, result).Inc()
	return err
}

// upsertActivity refetches the full activity and replaces the stored
// document. The event's partial updates map is never applied to
// activities; the provider copy is authoritative.
func (r *Reconciler) upsertActivity(ctx context.Context, event *Event) error {
	if event.AspectType == AspectUpdate {
		stale, err := r.staleEvent(event)
		if err != nil {
			return err
		}
		if stale {
			r.logger.Info("skipping stale activity update",
				"activity_id", event.ObjectID, "event_time", event.EventTime)
			return errStaleEvent
		}
	}

	user, err := r.db.GetUserByStravaID(event.OwnerID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user linked to athlete %d", event.OwnerID)
	}

	accessToken, err := r.tokens.EnsureValid(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to get access token for %s: %w", user.Username, err)
	}

	doc, err := r.client.GetActivity(ctx, accessToken, event.ObjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch activity %d: %w", event.ObjectID, err)
	}

	if _, err := r.db.UpsertDocument(database.CollectionActivities, "id", event.ObjectID, doc); err != nil {
		return fmt.Errorf("failed to store activity %d: %w", event.ObjectID, err)
	}
	if err := r.db.SetActivityEventTime(event.ObjectID, event.EventTime); err != nil {
		return err
	}

	r.logger.Info("reconciled activity", "activity_id", event.ObjectID, "aspect", event.AspectType)
	return nil
}

// deleteActivity removes the stored document. Deleting an activity we
// never stored is a success: the desired end state already holds.
func (r *Reconciler) deleteActivity(event *Event) error {
	stale, err := r.staleEvent(event)
	if err != nil {
		return err
	}
	if stale {
		r.logger.Info("skipping stale activity delete",
			"activity_id", event.ObjectID, "event_time", event.EventTime)
		return errStaleEvent
	}

	affected, err := r.db.DeleteDocument(database.CollectionActivities, "id", event.ObjectID)
	if err != nil {
		return fmt.Errorf("failed to delete activity %d: %w", event.ObjectID, err)
	}

	r.logger.Info("deleted activity", "activity_id", event.ObjectID, "existed", affected > 0)
	return nil
}

// updateAthlete merges the event's updates map onto the stored athlete
// document. There is no athlete-profile fetch; the event carries all we
// will ever learn about the change.
func (r *Reconciler) updateAthlete(event *Event) error {
	stored, err := r.db.GetDocument(database.CollectionAthletes, "id", event.OwnerID)
	if err != nil {
		return err
	}

	fields := map[string]any{"id": event.OwnerID}
	if stored != nil {
		if err := json.Unmarshal(stored, &fields); err != nil {
			return fmt.Errorf("stored athlete %d is not valid JSON: %w", event.OwnerID, err)
		}
	}
	for k, v := range event.Updates {
		fields[k] = v
	}

	doc, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if _, err := r.db.UpsertDocument(database.CollectionAthletes, "id", event.OwnerID, doc); err != nil {
		return fmt.Errorf("failed to store athlete %d: %w", event.OwnerID, err)
	}

	r.logger.Info("updated athlete", "athlete_id", event.OwnerID)
	return nil
}

func (r *Reconciler) deleteAthlete(event *Event) error {
	if _, err := r.db.DeleteDocument(database.CollectionAthletes, "id", event.OwnerID); err != nil {
		return fmt.Errorf("failed to delete athlete %d: %w", event.OwnerID, err)
	}
	r.logger.Info("deleted athlete", "athlete_id", event.OwnerID)
	return nil
}

// deauthorize revokes the linked user's Strava access. No provider call
// is made; the grant is already gone on their side.
func (r *Reconciler) deauthorize(event *Event) error {
	matched, err := r.db.RevokeStravaAccess(event.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to revoke access for athlete %d: %w", event.OwnerID, err)
	}

	r.logger.Info("athlete deauthorized", "athlete_id", event.OwnerID, "user_found", matched)
	return nil
}

// staleEvent reports whether the event predates the newest event already
// applied to the activity
func (r *Reconciler) staleEvent(event *Event) (bool, error) {
	last, err := r.db.LastActivityEventTime(event.ObjectID)
	if err != nil {
		return false, err
	}
	return event.EventTime < last, nil
}
