package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is one stored user session. The API key is stored encrypted.
type Session struct {
	ID              string
	Token           string
	Provider        string
	EncryptedAPIKey string
	ModelPreference string
	ExpiresAt       time.Time
}

// CreateSession inserts a session and returns its generated ID.
func (s *Store) CreateSession(ctx context.Context, sess Session) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions
		 (id, session_token, provider, encrypted_api_key, model_preference, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, sess.Token, sess.Provider, sess.EncryptedAPIKey,
		nullable(sess.ModelPreference), sess.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	log.Info().Str("session_id", id).Str("provider", sess.Provider).Msg("Session created")
	return id, nil
}

// GetSessionByToken returns a live session and touches its last_used
// timestamp. Expired or unknown tokens yield ErrNotFound.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_token, provider, encrypted_api_key, model_preference, expires_at
		 FROM user_sessions WHERE session_token = ? AND expires_at > ?`, token, now)

	var (
		sess      Session
		modelPref sql.NullString
		expiresAt string
	)
	err := row.Scan(&sess.ID, &sess.Token, &sess.Provider,
		&sess.EncryptedAPIKey, &modelPref, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	sess.ModelPreference = modelPref.String
	sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)

	_, err = s.db.ExecContext(ctx,
		`UPDATE user_sessions SET last_used = CURRENT_TIMESTAMP WHERE id = ?`, sess.ID)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to touch session last_used")
	}
	return &sess, nil
}

// DeleteSessionByToken removes a session. Reports whether one existed.
func (s *Store) DeleteSessionByToken(ctx context.Context, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE session_token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// CleanupExpiredSessions removes sessions past their expiry and returns
// how many were deleted.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Info().Int64("removed", removed).Msg("Cleaned up expired sessions")
	}
	return removed, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
