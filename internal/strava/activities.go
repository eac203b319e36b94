package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/marshallyale/cyber-commutr/internal/metrics"
)

// MaxPerPage is the page size cap for activity listing
const MaxPerPage = 50

// GetActivity fetches a single activity document by id
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d", activityID)

	body, err := c.doRequest(ctx, metrics.OpGetActivity, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	return json.RawMessage(body), nil
}

// ListActivitiesOptions narrows an activity listing
type ListActivitiesOptions struct {
	Before int64 // only activities before this epoch timestamp, 0 = no bound
	After  int64 // only activities after this epoch timestamp, 0 = no bound
}

// ListActivities fetches one page of the athlete's activities.
// perPage is clamped to MaxPerPage. Returns the raw activity documents.
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int, opts ListActivitiesOptions) ([]json.RawMessage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if opts.Before > 0 {
		params.Set("before", strconv.FormatInt(opts.Before, 10))
	}
	if opts.After > 0 {
		params.Set("after", strconv.FormatInt(opts.After, 10))
	}

	path := "/athlete/activities?" + params.Encode()

	body, err := c.doRequest(ctx, metrics.OpListActivities, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	var activities []json.RawMessage
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
	}

	return activities, nil
}
