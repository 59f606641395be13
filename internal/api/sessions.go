package api

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/ai/providers"
	"github.com/aytekaytemur/perseptor/internal/session"
)

// rough blended prices per 1K tokens, used only for the usage estimate
const (
	costPer1KPrompt     = 0.002
	costPer1KCompletion = 0.008
)

type createSessionRequest struct {
	APIKey   string `json:"api_key"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// handleSession creates (POST) or destroys (DELETE) a session.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Sessions are not enabled")
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodDelete:
		s.destroySession(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data received")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if err := session.ValidateAPIKey(req.APIKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Provider == "" {
		req.Provider = providers.DetectProvider(req.APIKey)
	}

	created, err := s.sessions.Create(r.Context(), req.APIKey, req.Provider, req.Model)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) destroySession(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "X-Session-Token header required")
		return
	}

	if _, err := s.sessions.Destroy(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session destroyed"})
}

// handleUsage reports aggregated token usage. With a valid session token
// the numbers are scoped to that session, otherwise they are global.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := ""
	if token := r.Header.Get("X-Session-Token"); token != "" && s.sessions != nil {
		if resolved, err := s.sessions.Validate(r.Context(), token); err == nil {
			sessionID = resolved.SessionID
		}
	}

	summary, err := s.store.GetUsageSummary(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch usage summary")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byProvider, err := s.store.GetUsageByProvider(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cost := float64(summary.TotalPromptTokens)/1000*costPer1KPrompt +
		float64(summary.TotalCompletionTokens)/1000*costPer1KCompletion

	writeJSON(w, http.StatusOK, map[string]any{
		"total_prompt_tokens":     summary.TotalPromptTokens,
		"total_completion_tokens": summary.TotalCompletionTokens,
		"total_cost":              math.Round(cost*1e6) / 1e6,
		"request_count":           summary.TotalRequests,
		"avg_latency_ms":          summary.AvgLatencyMS,
		"by_provider":             byProvider,
	})
}
