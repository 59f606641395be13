// Package session manages user sessions: provider API keys are encrypted
// with AES-GCM before they reach the database, and session tokens expire
// after a configured window.
package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/aytekaytemur/perseptor/internal/store"
)

// ErrInvalidSession is returned for unknown, expired or undecryptable
// sessions.
var ErrInvalidSession = errors.New("invalid or expired session")

const (
	keyIterations = 4096
	keySize       = 32
)

var keySalt = []byte("perseptor-session-v1")

// Manager creates and resolves encrypted sessions.
type Manager struct {
	key    []byte
	store  *store.Store
	expiry time.Duration
}

// New derives the AES key from the configured secret. An empty secret
// gets a random per-process key, which invalidates sessions on restart.
func New(secret string, expiry time.Duration, st *store.Store) (*Manager, error) {
	var key []byte
	if secret == "" {
		key = make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generating session key: %w", err)
		}
		log.Warn().Msg("SESSION_SECRET not set, sessions will not survive restarts")
	} else {
		key = pbkdf2.Key([]byte(secret), keySalt, keyIterations, keySize, sha256.New)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Manager{key: key, store: st, expiry: expiry}, nil
}

// Created is the response for a new session. The token is shown once.
type Created struct {
	Token           string    `json:"session_token"`
	SessionID       string    `json:"session_id"`
	Provider        string    `json:"provider"`
	ModelPreference string    `json:"model_preference,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Resolved is a validated session with the API key decrypted.
type Resolved struct {
	SessionID       string
	APIKey          string
	Provider        string
	ModelPreference string
}

// Create encrypts the API key and stores a new session.
func (m *Manager) Create(ctx context.Context, apiKey, provider, modelPreference string) (*Created, error) {
	token := uuid.NewString()
	encrypted, err := m.encryptString(apiKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting api key: %w", err)
	}

	expiresAt := time.Now().Add(m.expiry)
	sessionID, err := m.store.CreateSession(ctx, store.Session{
		Token:           token,
		Provider:        provider,
		EncryptedAPIKey: encrypted,
		ModelPreference: modelPreference,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("provider", provider).Msg("Session created")
	return &Created{
		Token:           token,
		SessionID:       sessionID,
		Provider:        provider,
		ModelPreference: modelPreference,
		ExpiresAt:       expiresAt,
	}, nil
}

// Validate resolves a token to its decrypted API key.
func (m *Manager) Validate(ctx context.Context, token string) (*Resolved, error) {
	sess, err := m.store.GetSessionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}

	apiKey, err := m.decryptString(sess.EncryptedAPIKey)
	if err != nil {
		log.Error().Err(err).Msg("Session decryption failed")
		return nil, ErrInvalidSession
	}

	return &Resolved{
		SessionID:       sess.ID,
		APIKey:          apiKey,
		Provider:        sess.Provider,
		ModelPreference: sess.ModelPreference,
	}, nil
}

// Destroy removes a session. Reports whether one existed.
func (m *Manager) Destroy(ctx context.Context, token string) (bool, error) {
	destroyed, err := m.store.DeleteSessionByToken(ctx, token)
	if err != nil {
		return false, err
	}
	if destroyed {
		log.Info().Msg("Session destroyed")
	}
	return destroyed, nil
}

// StartCleanup removes expired sessions on an interval until ctx ends.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.store.CleanupExpiredSessions(ctx); err != nil {
					log.Error().Err(err).Msg("Session cleanup failed")
				}
			}
		}
	}()
}

func (m *Manager) encryptString(plaintext string) (string, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *Manager) decryptString(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
