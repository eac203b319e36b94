package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/marshallyale/cyber-commutr/internal/database"
)

const minPasswordLength = 8

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// HandleRegister creates an account with an argon2id password hash
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	creds.Username = strings.TrimSpace(creds.Username)
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Username == "" || creds.Email == "" {
		s.writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	if len(creds.Password) < minPasswordLength {
		s.writeError(w, http.StatusBadRequest, "password too short")
		return
	}

	if existing, err := s.db.GetUser(creds.Username); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		s.writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if existing, err := s.db.GetUserByEmail(creds.Email); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		s.writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hash, err := s.hasher.Hash(creds.Password)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &database.User{
		Username:     creds.Username,
		Email:        creds.Email,
		PasswordHash: hash,
	}
	if err := s.db.CreateUser(user); err != nil {
		s.logger.Error("failed to create user", "username", creds.Username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("user registered", "username", creds.Username)
	s.writeJSON(w, http.StatusCreated, map[string]string{"username": creds.Username})
}

// HandleLogin verifies the password and starts a cookie session. The
// response tells the client whether the account still needs to authorize
// with Strava.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.db.GetUser(strings.TrimSpace(creds.Username))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ok, err := s.hasher.Verify(creds.Password, user.PasswordHash)
	if err != nil || !ok {
		s.logger.Warn("login failed", "username", user.Username)
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	session, _ := s.sessions.Get(r, sessionName)
	session.Values["username"] = user.Username
	if err := session.Save(r, w); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.db.UpdateUser(user.Username, database.UserUpdate{"last_seen": time.Now().Unix()}); err != nil {
		s.logger.Error("failed to touch last_seen", "username", user.Username, "error", err)
	}

	s.logger.Info("user logged in", "username", user.Username)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"username":          user.Username,
		"needs_strava_auth": !user.AuthorizedWithStrava(),
	})
}

// HandleLogout clears the session cookie
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := s.sessions.Get(r, sessionName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
