// Package config loads process-wide Perseptor settings.
//
// Configuration is read once at startup: a .env file in the working
// directory (if present) is loaded first, then environment variables
// override. The resulting Config is treated as read-only by every other
// package.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ProviderConfig holds per-vendor AI settings.
type ProviderConfig struct {
	Provider     string
	APIKey       string
	DefaultModel string
	Temperature  float64
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	BackendHost string
	BackendPort int

	// AI providers
	DefaultProvider string
	DefaultModel    string
	Providers       map[string]ProviderConfig

	// Task timeouts
	GenerationTimeout time.Duration
	SmallTaskTimeout  time.Duration

	// Response cache
	CacheEnabled bool
	CacheMaxSize int
	CacheTTL     time.Duration

	// Sigma catalog
	SigmaRulesDir   string
	SigmaHQBaseURL  string
	SigmaRuleAuthor string

	// Persistence
	DatabasePath string

	// Security
	CORSOrigins        []string
	RateLimitPerMinute int
	MaxUploadSizeMB    int
	SessionSecret      string
	SessionExpiry      time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load reads configuration from .env and the environment.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration from .env")
	}

	cfg := &Config{
		BackendHost:     envString("BACKEND_HOST", "0.0.0.0"),
		BackendPort:     envInt("BACKEND_PORT", 5000),
		DefaultProvider: envString("DEFAULT_AI_PROVIDER", "openai"),
		DefaultModel:    envString("DEFAULT_MODEL", "gpt-4.1-2025-04-14"),

		GenerationTimeout: envDuration("GENERATION_TIMEOUT", 300*time.Second),
		SmallTaskTimeout:  envDuration("SMALL_TASK_TIMEOUT", 120*time.Second),

		CacheEnabled: envBool("CACHE_ENABLED", true),
		CacheMaxSize: envInt("CACHE_MAX_SIZE", 100),
		CacheTTL:     envDuration("CACHE_TTL", time.Hour),

		SigmaRulesDir:   envString("SIGMA_RULES_DIR", "Global_Sigma_Rules"),
		SigmaHQBaseURL:  envString("SIGMAHQ_BASE_URL", "https://github.com/SigmaHQ/sigma/blob/master"),
		SigmaRuleAuthor: envString("SIGMA_RULE_AUTHOR", "PERSEPTOR"),

		DatabasePath: envString("DATABASE_PATH", "data/perseptor.db"),

		CORSOrigins:        splitAndTrim(envString("CORS_ORIGINS", "http://localhost:3000")),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		MaxUploadSizeMB:    envInt("MAX_UPLOAD_SIZE_MB", 20),
		SessionSecret:      envString("SESSION_SECRET", ""),
		SessionExpiry:      time.Duration(envInt("SESSION_EXPIRY_HOURS", 24)) * time.Hour,

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "json"),
		LogFile:   envString("LOG_FILE", ""),
	}

	cfg.Providers = map[string]ProviderConfig{
		"openai": {
			Provider:     "openai",
			APIKey:       envString("OPENAI_API_KEY", ""),
			DefaultModel: "gpt-4.1-2025-04-14",
			Temperature:  envFloat("OPENAI_TEMPERATURE", 0.1),
		},
		"anthropic": {
			Provider:     "anthropic",
			APIKey:       envString("ANTHROPIC_API_KEY", ""),
			DefaultModel: "claude-sonnet-4-20250514",
			Temperature:  envFloat("ANTHROPIC_TEMPERATURE", 0.1),
		},
		"google": {
			Provider:     "google",
			APIKey:       envString("GOOGLE_API_KEY", ""),
			DefaultModel: "gemini-2.5-flash",
			Temperature:  envFloat("GOOGLE_TEMPERATURE", 0.1),
		},
	}

	return cfg
}

// ProviderFor returns the configuration for a provider id, falling back to
// the default provider when the id is unknown.
func (c *Config) ProviderFor(provider string) ProviderConfig {
	if p, ok := c.Providers[provider]; ok {
		return p
	}
	return c.Providers[c.DefaultProvider]
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	// Accept both plain seconds and Go duration syntax.
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
