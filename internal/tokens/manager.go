// Package tokens keeps per-user Strava access tokens valid.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marshallyale/cyber-commutr/internal/crypto"
	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/strava"
)

// refreshBuffer refreshes tokens slightly before they expire so a token
// returned by EnsureValid stays usable for the duration of a request
const refreshBuffer = 60 * time.Second

// Manager refreshes access tokens from stored refresh tokens.
// Refresh tokens only exist in plaintext between decrypt-before-use and
// encrypt-before-persist inside this package.
type Manager struct {
	db     *database.DB
	client *strava.Client
	cipher *crypto.TokenCipher
	logger *slog.Logger
}

// NewManager creates a token manager
func NewManager(db *database.DB, client *strava.Client, cipher *crypto.TokenCipher) *Manager {
	return &Manager{
		db:     db,
		client: client,
		cipher: cipher,
		logger: slog.Default(),
	}
}

// EnsureValid returns a currently valid access token for the user,
// refreshing it first if it expires within the buffer window. On any
// failure an error is returned; a stale token is never handed back.
// The user's in-memory token fields are updated alongside the store.
func (m *Manager) EnsureValid(ctx context.Context, user *database.User) (string, error) {
	if time.Now().Add(refreshBuffer).Unix() < user.AccessTokenExp {
		return user.AccessToken, nil
	}

	if user.RefreshToken == "" {
		return "", fmt.Errorf("user %s has no refresh token", user.Username)
	}

	refreshToken, err := m.cipher.Decrypt(user.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	m.logger.Info("refreshing access token", "username", user.Username, "strava_id", user.StravaID)

	resp, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	// Strava may rotate the refresh token on refresh
	encryptedRefresh, err := m.cipher.Encrypt(resp.RefreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	matched, err := m.db.UpdateUser(user.Username, database.UserUpdate{
		"access_token":     resp.AccessToken,
		"access_token_exp": resp.ExpiresAt,
		"refresh_token":    encryptedRefresh,
	})
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}
	if !matched {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return "", fmt.Errorf("user %s not found while persisting tokens", user.Username)
	}

	user.AccessToken = resp.AccessToken
	user.AccessTokenExp = resp.ExpiresAt
	user.RefreshToken = encryptedRefresh

	metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	m.logger.Info("access token refreshed", "username", user.Username, "expires_at", resp.ExpiresAt)

	return resp.AccessToken, nil
}
