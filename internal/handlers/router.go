package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/middleware"
)

// Router builds the HTTP routing table with per-endpoint metrics and
// request-id middleware on every route
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	route := func(endpoint string, handler http.HandlerFunc) http.Handler {
		return middleware.Metrics(endpoint, handler)
	}

	r.Handle("/strava/webhook", route(metrics.EndpointWebhook, s.HandleWebhookVerify)).Methods(http.MethodGet)
	r.Handle("/strava/webhook", route(metrics.EndpointWebhook, s.HandleWebhookEvent)).Methods(http.MethodPost)
	r.Handle("/strava/authorize", route(metrics.EndpointAuthorize, s.HandleAuthorize)).Methods(http.MethodGet)
	r.Handle("/strava/token", route(metrics.EndpointToken, s.HandleTokenCallback)).Methods(http.MethodGet)

	r.Handle("/register", route(metrics.EndpointRegister, s.HandleRegister)).Methods(http.MethodPost)
	r.Handle("/login", route(metrics.EndpointLogin, s.HandleLogin)).Methods(http.MethodPost)
	r.Handle("/logout", route(metrics.EndpointLogout, s.HandleLogout)).Methods(http.MethodPost)

	r.Handle("/user/{username}", route(metrics.EndpointUser, s.HandleUserProfile)).Methods(http.MethodGet)
	r.Handle("/admin/subscription", route(metrics.EndpointSubscription, s.HandleSubscriptionReconcile)).Methods(http.MethodPost)

	r.Handle("/health", route(metrics.EndpointHealth, s.HandleHealth)).Methods(http.MethodGet)

	return middleware.RequestID(r)
}
