// Package handlers implements the HTTP surface: webhook intake, OAuth
// linking, account auth and profile pages.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/marshallyale/cyber-commutr/internal/config"
	"github.com/marshallyale/cyber-commutr/internal/crypto"
	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/strava"
	"github.com/marshallyale/cyber-commutr/internal/tokens"
)

const sessionName = "commutr_session"

// Server wires the HTTP handlers to their dependencies
type Server struct {
	cfg      *config.Config
	db       *database.DB
	client   *strava.Client
	tokens   *tokens.Manager
	cipher   *crypto.TokenCipher
	hasher   *crypto.PasswordHasher
	sessions *sessions.CookieStore
	logger   *slog.Logger
}

// NewServer creates the handler set
func NewServer(cfg *config.Config, db *database.DB, client *strava.Client, tokenManager *tokens.Manager, cipher *crypto.TokenCipher) *Server {
	store := sessions.NewCookieStore(cfg.SessionKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Server{
		cfg:      cfg,
		db:       db,
		client:   client,
		tokens:   tokenManager,
		cipher:   cipher,
		hasher:   crypto.NewPasswordHasher(),
		sessions: store,
		logger:   slog.Default(),
	}
}

// HandleHealth reports process and database health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Health(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// sessionUser returns the logged-in user, or nil without a valid session
func (s *Server) sessionUser(r *http.Request) (*database.User, error) {
	session, err := s.sessions.Get(r, sessionName)
	if err != nil {
		return nil, nil // invalid cookie = not logged in
	}
	username, ok := session.Values["username"].(string)
	if !ok || username == "" {
		return nil, nil
	}
	return s.db.GetUser(username)
}
