package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/marshallyale/cyber-commutr/internal/metrics"
)

// Subscription represents a Strava webhook subscription
type Subscription struct {
	ID            int64  `json:"id"`
	ApplicationID int64  `json:"application_id"`
	CallbackURL   string `json:"callback_url"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// CreateSubscription registers a webhook subscription.
// Subscriptions use app credentials, not athlete tokens.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*Subscription, error) {
	data := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"callback_url":  {callbackURL},
		"verify_token":  {verifyToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/push_subscriptions", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpCreateSubscription, "transport_error").Inc()
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	defer resp.Body.Close()

	metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpCreateSubscription, strconv.Itoa(resp.StatusCode)).Inc()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var subscription Subscription
	if err := json.Unmarshal(body, &subscription); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}

	return &subscription, nil
}

// ListSubscriptions lists the application's webhook subscriptions.
// Strava allows at most one active subscription per application.
func (c *Client) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	params := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/push_subscriptions?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpListSubscriptions, "transport_error").Inc()
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer resp.Body.Close()

	metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpListSubscriptions, strconv.Itoa(resp.StatusCode)).Inc()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var subscriptions []*Subscription
	if err := json.Unmarshal(body, &subscriptions); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions response: %w", err)
	}

	return subscriptions, nil
}

// DeleteSubscription removes a webhook subscription by id
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID int64) error {
	params := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	reqURL := fmt.Sprintf("%s/push_subscriptions/%d?%s", c.BaseURL, subscriptionID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpDeleteSubscription, "transport_error").Inc()
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	defer resp.Body.Close()

	metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpDeleteSubscription, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}
