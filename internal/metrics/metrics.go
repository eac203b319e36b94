package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Results
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"

	// HTTP endpoints
	EndpointWebhook      = "strava_webhook"
	EndpointAuthorize    = "strava_authorize"
	EndpointToken        = "strava_token"
	EndpointRegister     = "register"
	EndpointLogin        = "login"
	EndpointLogout       = "logout"
	EndpointUser         = "user"
	EndpointSubscription = "admin_subscription"
	EndpointHealth       = "health"

	// Strava API operations
	OpExchangeCode       = "exchange_code"
	OpRefreshToken       = "refresh_token"
	OpGetActivity        = "get_activity"
	OpListActivities     = "list_activities"
	OpCreateSubscription = "create_subscription"
	OpDeleteSubscription = "delete_subscription"
	OpListSubscriptions  = "list_subscriptions"
)

var (
	// HTTPRequestsTotal counts HTTP requests by endpoint and status code
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commutr_http_requests_total",
		Help: "Total HTTP requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	// HTTPRequestDuration observes request latency by endpoint
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commutr_http_request_duration_seconds",
		Help:    "HTTP request duration by endpoint and status code",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	// StravaAPIRequestsTotal counts outbound Strava API calls
	StravaAPIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commutr_strava_api_requests_total",
		Help: "Total Strava API requests by operation and status code",
	}, []string{"operation", "status"})

	// StravaRateLimit exposes the rate limit headers from the last API response
	StravaRateLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commutr_strava_rate_limit",
		Help: "Strava rate limit state from response headers",
	}, []string{"window", "bucket"})

	// WebhookEventsTotal counts reconciled webhook events
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commutr_webhook_events_total",
		Help: "Webhook events reconciled by object type, aspect type and result",
	}, []string{"object_type", "aspect_type", "result"})

	// TokenRefreshTotal counts access-token refresh attempts
	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commutr_token_refresh_total",
		Help: "Access token refresh attempts by result",
	}, []string{"result"})

	// BackfillPagesTotal counts backfill page fetches
	BackfillPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commutr_backfill_pages_total",
		Help: "Backfill page fetches by result",
	}, []string{"result"})

	// BackfillActivitiesInserted counts activities inserted during backfill
	BackfillActivitiesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commutr_backfill_activities_inserted_total",
		Help: "Activities inserted by the backfill fetcher",
	})

	// QueueDepth exposes the current work queue depth
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commutr_queue_depth",
		Help: "Number of jobs in the work queue",
	})

	// WorkerActive is 1 while the queue worker is running
	WorkerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commutr_worker_active",
		Help: "Whether the queue worker is running",
	})
)
