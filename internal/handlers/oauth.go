package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/marshallyale/cyber-commutr/internal/backfill"
	"github.com/marshallyale/cyber-commutr/internal/database"
)

const stravaAuthorizeURL = "https://www.strava.com/oauth/authorize"

// HandleAuthorize sends a logged-in user to Strava's consent screen
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessionUser(r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		s.writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	params := url.Values{
		"client_id":       {s.cfg.StravaClientID},
		"redirect_uri":    {s.cfg.Domain + "/strava/token"},
		"response_type":   {"code"},
		"scope":           {s.cfg.RequiredScope},
		"approval_prompt": {"auto"},
	}
	http.Redirect(w, r, stravaAuthorizeURL+"?"+params.Encode(), http.StatusFound)
}

// HandleTokenCallback finishes the OAuth flow: it validates the grant,
// exchanges the code, links the Strava athlete to the user and queues a
// history backfill.
func (s *Server) HandleTokenCallback(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessionUser(r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		s.writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		s.logger.Warn("oauth grant denied", "username", user.Username, "error", errParam)
		s.writeError(w, http.StatusForbidden, "authorization denied")
		return
	}

	if granted := query.Get("scope"); !scopeSatisfies(granted, s.cfg.RequiredScope) {
		s.logger.Warn("oauth grant missing scope",
			"username", user.Username, "granted", granted, "required", s.cfg.RequiredScope)
		s.writeError(w, http.StatusForbidden, "required scope not granted")
		return
	}

	code := query.Get("code")
	if code == "" {
		s.writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	resp, err := s.client.ExchangeCode(r.Context(), code)
	if err != nil {
		s.logger.Error("code exchange failed", "username", user.Username, "error", err)
		s.writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	var athlete struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Athlete, &athlete); err != nil || athlete.ID == 0 {
		s.logger.Error("token response missing athlete", "username", user.Username, "error", err)
		s.writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	encryptedRefresh, err := s.cipher.Encrypt(resp.RefreshToken)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	matched, err := s.db.UpdateUser(user.Username, database.UserUpdate{
		"strava_id":        athlete.ID,
		"scope":            true,
		"access_token":     resp.AccessToken,
		"access_token_exp": resp.ExpiresAt,
		"refresh_token":    encryptedRefresh,
	})
	if err != nil || !matched {
		s.logger.Error("failed to link strava account", "username", user.Username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.db.UpsertDocument(database.CollectionAthletes, "id", athlete.ID, resp.Athlete); err != nil {
		s.logger.Error("failed to store athlete profile", "athlete_id", athlete.ID, "error", err)
	}

	job, err := json.Marshal(backfill.Job{Username: user.Username})
	if err == nil {
		if _, err := s.db.Enqueue(database.JobKindBackfill, job); err != nil {
			s.logger.Error("failed to enqueue backfill", "username", user.Username, "error", err)
		}
	}

	s.logger.Info("strava account linked", "username", user.Username, "athlete_id", athlete.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"linked":     true,
		"athlete_id": athlete.ID,
	})
}

// scopeSatisfies reports whether every required scope was granted
func scopeSatisfies(granted, required string) bool {
	have := make(map[string]bool)
	for _, s := range strings.Split(granted, ",") {
		have[strings.TrimSpace(s)] = true
	}
	for _, s := range strings.Split(required, ",") {
		if s = strings.TrimSpace(s); s != "" && !have[s] {
			return false
		}
	}
	return true
}
