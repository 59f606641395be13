// Package store persists analysis reports, user sessions and token usage
// in a local SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the database handle. All repositories hang off it.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, applies pragmas and migrates
// the schema. Safe to call on an existing database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("Database initialized")
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_reports (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		threat_summary TEXT,
		analysis_data TEXT,
		mitre_mapping TEXT,
		yara_rules TEXT,
		ioc_sigma_rules TEXT,
		generated_sigma_rules TEXT,
		siem_queries TEXT,
		atomic_tests TEXT,
		sigma_matches TEXT,
		provider TEXT DEFAULT 'openai',
		model TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS generated_rules (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		author TEXT DEFAULT 'PERSEPTOR',
		date TEXT,
		confidence_score REAL DEFAULT 0.0,
		rule_content TEXT,
		mitre_techniques TEXT,
		test_cases TEXT,
		recommendations TEXT,
		explanation TEXT,
		component_scores TEXT,
		provider TEXT DEFAULT 'openai',
		model TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id TEXT PRIMARY KEY,
		session_token TEXT UNIQUE NOT NULL,
		provider TEXT NOT NULL,
		encrypted_api_key TEXT NOT NULL,
		model_preference TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TEXT NOT NULL,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS token_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		endpoint TEXT,
		latency_ms REAL DEFAULT 0,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES user_sessions(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON analysis_reports(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_url ON analysis_reports(url)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_token ON user_sessions(session_token)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON user_sessions(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_session ON token_usage(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON token_usage(timestamp)`,
	`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}
