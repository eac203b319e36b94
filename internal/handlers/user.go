package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marshallyale/cyber-commutr/internal/stats"
)

// HandleUserProfile serves a user's profile with their weekly commute
// totals. Users see only their own profile; admins see anyone's.
func (s *Server) HandleUserProfile(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.sessionUser(r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if viewer == nil {
		s.writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	username := mux.Vars(r)["username"]
	if username != viewer.Username && !viewer.IsAdmin {
		s.writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	user := viewer
	if username != viewer.Username {
		user, err = s.db.GetUser(username)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			s.writeError(w, http.StatusNotFound, "user not found")
			return
		}
	}

	var weekly []stats.WeeklyTotal
	if user.StravaID != 0 {
		weekly, err = stats.WeeklyCommuteTotals(s.db, user.StravaID)
		if err != nil {
			s.logger.Error("failed to aggregate weekly totals", "username", username, "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"username":          user.Username,
		"email":             user.Email,
		"strava_authorized": user.AuthorizedWithStrava(),
		"weekly_commutes":   weekly,
	})
}

// HandleSubscriptionReconcile converges the provider-side webhook
// subscription with the configured domain: stale callbacks are deleted
// and a current one is created if missing. Admin only.
func (s *Server) HandleSubscriptionReconcile(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.sessionUser(r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if viewer == nil {
		s.writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	if !viewer.IsAdmin {
		s.writeError(w, http.StatusForbidden, "admin only")
		return
	}

	callbackURL := s.cfg.Domain + "/strava/webhook"

	subs, err := s.client.ListSubscriptions(r.Context())
	if err != nil {
		s.logger.Error("failed to list subscriptions", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to list subscriptions")
		return
	}

	var deleted int
	current := false
	for _, sub := range subs {
		if sub.CallbackURL == callbackURL {
			current = true
			continue
		}
		if err := s.client.DeleteSubscription(r.Context(), sub.ID); err != nil {
			s.logger.Error("failed to delete stale subscription", "subscription_id", sub.ID, "error", err)
			s.writeError(w, http.StatusBadGateway, "failed to delete stale subscription")
			return
		}
		s.logger.Info("deleted stale subscription", "subscription_id", sub.ID, "callback_url", sub.CallbackURL)
		deleted++
	}

	created := false
	if !current {
		sub, err := s.client.CreateSubscription(r.Context(), callbackURL, s.cfg.StravaVerifyToken)
		if err != nil {
			s.logger.Error("failed to create subscription", "error", err)
			s.writeError(w, http.StatusBadGateway, "failed to create subscription")
			return
		}
		s.logger.Info("created subscription", "subscription_id", sub.ID, "callback_url", callbackURL)
		created = true
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"callback_url": callbackURL,
		"deleted":      deleted,
		"created":      created,
	})
}
