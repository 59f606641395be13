package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/aytekaytemur/perseptor/internal/ai/providers"
)

// handleHealth reports service status for load balancers and the UI.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sigmaCount := 0
	if s.catalog != nil {
		sigmaCount = s.catalog.Index().Len()
	}

	available := make([]string, 0, len(s.cfg.Providers))
	for name := range s.cfg.Providers {
		available = append(available, name)
	}
	sort.Strings(available)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"version":             Version,
		"app_name":            "PERSEPTOR",
		"default_provider":    s.cfg.DefaultProvider,
		"default_model":       s.cfg.DefaultModel,
		"sigma_rules_loaded":  sigmaCount,
		"available_providers": available,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

// handleModels returns the static provider/model catalog.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"providers":        providers.AvailableProviders(),
		"default_provider": s.cfg.DefaultProvider,
		"default_model":    s.cfg.DefaultModel,
	})
}
