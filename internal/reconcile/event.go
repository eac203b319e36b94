// Package reconcile maps webhook events onto datastore state.
package reconcile

import (
	"encoding/json"
	"fmt"
)

// Event mirrors a Strava webhook push payload
type Event struct {
	ObjectType     string            `json:"object_type"`
	AspectType     string            `json:"aspect_type"`
	ObjectID       int64             `json:"object_id"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// action is what an event resolves to once its object and aspect types
// have been interpreted
type action int

const (
	actionActivityUpsert action = iota
	actionActivityDelete
	actionAthleteUpdate
	actionAthleteDelete
	actionDeauthorize
)

// Deauthorized reports whether an event revokes the athlete's grant.
// Strava encodes it as an athlete update with "authorized": "false".
func (e *Event) Deauthorized() bool {
	return e.ObjectType == ObjectAthlete && e.AspectType == AspectUpdate && e.Updates["authorized"] == "false"
}

// resolve maps the event's type pair to an action. Athlete creates are
// folded into updates since both hydrate the stored athlete document.
func (e *Event) resolve() (action, error) {
	switch e.ObjectType {
	case ObjectActivity:
		switch e.AspectType {
		case AspectCreate, AspectUpdate:
			return actionActivityUpsert, nil
		case AspectDelete:
			return actionActivityDelete, nil
		}
	case ObjectAthlete:
		switch e.AspectType {
		case AspectCreate, AspectUpdate:
			if e.Deauthorized() {
				return actionDeauthorize, nil
			}
			return actionAthleteUpdate, nil
		case AspectDelete:
			return actionAthleteDelete, nil
		}
	}
	return 0, fmt.Errorf("unrecognized event type %s/%s", e.ObjectType, e.AspectType)
}

// DecodeEvent parses a webhook payload into an Event
func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	return &event, nil
}
