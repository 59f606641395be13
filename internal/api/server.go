// Package api exposes the analysis service over HTTP: analysis endpoints
// (sync, SSE and PDF upload), report and session management, the provider
// catalog and operational endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/ai"
	"github.com/aytekaytemur/perseptor/internal/ai/cache"
	"github.com/aytekaytemur/perseptor/internal/ai/providers"
	"github.com/aytekaytemur/perseptor/internal/config"
	"github.com/aytekaytemur/perseptor/internal/fetch"
	"github.com/aytekaytemur/perseptor/internal/metrics"
	"github.com/aytekaytemur/perseptor/internal/pipeline"
	"github.com/aytekaytemur/perseptor/internal/session"
	"github.com/aytekaytemur/perseptor/internal/sigmamatch"
	"github.com/aytekaytemur/perseptor/internal/store"
	"github.com/aytekaytemur/perseptor/internal/websocket"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// ContentFetcher provides article, image and PDF text extraction.
type ContentFetcher interface {
	FetchArticle(ctx context.Context, pageURL string) (*fetch.Page, error)
	ExtractImageText(ctx context.Context, imageURLs []string) string
	ExtractPDFText(ctx context.Context, pdfData []byte) (string, error)
}

// Server wires all handlers and their dependencies.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	catalog  *sigmamatch.Catalog
	hub      *websocket.Hub
	factory  *providers.Factory
	cache    *cache.Cache
	fetcher  ContentFetcher
	limiter  *rateLimiter
	mux      *http.ServeMux

	// buildEngine and buildRuleEngine are replaced in tests to inject stubs.
	buildEngine     func(p providerParams) (pipeline.TaskEngine, error)
	buildRuleEngine func(p providerParams) (ruleEngine, error)
}

// NewServer builds the HTTP server. Catalog, hub and sessions may be nil;
// the corresponding endpoints degrade gracefully.
func NewServer(cfg *config.Config, st *store.Store, sessions *session.Manager, catalog *sigmamatch.Catalog, hub *websocket.Hub) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		catalog:  catalog,
		hub:      hub,
		factory:  providers.NewFactory(),
		fetcher:  fetch.New(),
		limiter:  newRateLimiter(cfg.RateLimitPerMinute),
		mux:      http.NewServeMux(),
	}
	if cfg.CacheEnabled {
		s.cache = cache.New(cfg.CacheMaxSize, cfg.CacheTTL)
	}
	s.buildEngine = s.defaultEngine
	s.buildRuleEngine = s.defaultRuleEngine
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/api/analyze/stream", s.handleAnalyzeStream)
	s.mux.HandleFunc("/api/analyze/pdf/stream", s.handleAnalyzePDFStream)

	s.mux.HandleFunc("/api/reports", s.handleReports)
	s.mux.HandleFunc("/api/reports/", s.handleReportByID)

	s.mux.HandleFunc("/api/generate_rule", s.handleGenerateRule)
	s.mux.HandleFunc("/api/refine_queries", s.handleRefineQueries)
	s.mux.HandleFunc("/api/rules", s.handleRules)
	s.mux.HandleFunc("/api/rules/", s.handleRuleByID)

	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/usage", s.handleUsage)

	s.mux.HandleFunc("/api/models", s.handleModels)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.hub != nil {
		s.mux.HandleFunc("/api/analyze/ws", s.hub.HandleWebSocket)
	}
	s.mux.Handle("/metrics", metrics.Handler())
}

// ServeHTTP implements http.Handler with CORS, security headers, rate
// limiting and request metrics around the route mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Session-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/") {
		addSecurityHeaders(w)

		if !s.limiter.allow(clientKey(r)) {
			log.Warn().Str("client", clientKey(r)).Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			metrics.HTTPRequests.WithLabelValues(routeLabel(r.URL.Path), "429").Inc()
			return
		}

		maxBytes := int64(s.cfg.MaxUploadSizeMB) << 20
		if r.ContentLength > maxBytes {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request too large. Maximum size: %dMB", s.cfg.MaxUploadSizeMB))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	metrics.HTTPRequests.WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// providerParams is a resolved provider selection for one request.
type providerParams struct {
	APIKey    string
	Provider  string
	Model     string
	SessionID string
}

// resolveProvider merges explicit credentials with an optional session
// token. Explicit keys win; the session supplies defaults for the rest.
func (s *Server) resolveProvider(r *http.Request, apiKey, openaiKey, provider, model string) (providerParams, error) {
	p := providerParams{APIKey: apiKey, Provider: provider, Model: model}
	if p.APIKey == "" {
		p.APIKey = openaiKey
	}

	if token := r.Header.Get("X-Session-Token"); token != "" && s.sessions != nil {
		resolved, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			return p, err
		}
		p.SessionID = resolved.SessionID
		if p.APIKey == "" {
			p.APIKey = resolved.APIKey
		}
		if p.Provider == "" {
			p.Provider = resolved.Provider
		}
		if p.Model == "" {
			p.Model = resolved.ModelPreference
		}
	}

	if p.APIKey == "" {
		return p, errMissingKey
	}
	if err := session.ValidateAPIKey(p.APIKey); err != nil {
		return p, err
	}
	if p.Provider == "" {
		p.Provider = providers.DetectProvider(p.APIKey)
	}
	return p, nil
}

func (s *Server) newEngine(p providerParams) (*ai.Engine, error) {
	client, err := s.factory.Get(p.Provider, p.APIKey, p.Model)
	if err != nil {
		return nil, err
	}
	pc := s.cfg.ProviderFor(p.Provider)
	return ai.NewEngine(ai.Config{
		Provider:     client,
		ProviderName: p.Provider,
		Model:        p.Model,
		Temperature:  pc.Temperature,
		SessionID:    p.SessionID,
		Cache:        s.cache,
		Usage:        usageSink{store: s.store},
	}), nil
}

func (s *Server) defaultEngine(p providerParams) (pipeline.TaskEngine, error) {
	return s.newEngine(p)
}

func (s *Server) defaultRuleEngine(p providerParams) (ruleEngine, error) {
	return s.newEngine(p)
}

func (s *Server) newPipeline(engine pipeline.TaskEngine) *pipeline.Pipeline {
	p := pipeline.New(engine, s.catalog, s.store)
	p.Timeouts = pipeline.Timeouts{
		Generation: s.cfg.GenerationTimeout,
		SmallTask:  s.cfg.SmallTaskTimeout,
	}
	return p
}

// usageSink records provider usage to the database and to Prometheus.
type usageSink struct {
	store *store.Store
}

func (u usageSink) RecordUsage(ctx context.Context, record ai.UsageRecord) error {
	metrics.RecordProviderCall(record.Provider, record.Model, record.Endpoint,
		record.PromptTokens, record.CompletionTokens,
		time.Duration(record.LatencyMS)*time.Millisecond)
	if u.store == nil {
		return nil
	}
	return u.store.RecordUsage(ctx, record)
}
