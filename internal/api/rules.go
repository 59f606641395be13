package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/aytekaytemur/perseptor/internal/ai"
	"github.com/aytekaytemur/perseptor/internal/session"
	"github.com/aytekaytemur/perseptor/internal/store"
)

// ruleEngine covers the standalone rule Q&A operations, separate from the
// analysis pipeline tasks.
type ruleEngine interface {
	GenerateRule(ctx context.Context, query string) (map[string]any, error)
	RefineQueries(ctx context.Context, sigmaYAML string, splunkQueries, qradarQueries []string) (string, error)
}

type generateRuleRequest struct {
	Prompt       string `json:"prompt"`
	APIKey       string `json:"api_key"`
	OpenAIAPIKey string `json:"openai_api_key"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

// handleGenerateRule turns a natural-language detection request into a
// scored Sigma rule and persists it.
func (s *Server) handleGenerateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req generateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data received")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters (prompt + api_key/openai_api_key)")
		return
	}
	if err := session.ValidateText(req.Prompt, "prompt"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params, err := s.resolveProvider(r, req.APIKey, req.OpenAIAPIKey, req.Provider, req.Model)
	if errors.Is(err, errMissingKey) {
		writeError(w, http.StatusBadRequest, "Missing required parameters (prompt + api_key/openai_api_key)")
		return
	}
	if err != nil {
		writeError(w, providerErrorStatus(err), err.Error())
		return
	}

	engine, err := s.buildRuleEngine(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("provider", params.Provider).Msg("Generating rule from prompt")
	doc, err := engine.GenerateRule(r.Context(), req.Prompt)
	if err != nil {
		log.Error().Err(err).Msg("Rule generation failed")
		if errors.Is(err, ai.ErrUnparseableOutput) {
			writeError(w, http.StatusInternalServerError, "Failed to generate rule")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rule, _ := doc["rule"].(map[string]any)
	if rule == nil {
		rule = map[string]any{}
		doc["rule"] = rule
	}
	rule["author"] = "PERSEPTOR"
	rule["date"] = time.Now().Format("2006/01/02")

	ruleID, err := s.store.SaveRule(r.Context(), storedRuleFromDoc(doc, rule, params))
	if err != nil {
		log.Error().Err(err).Msg("Failed to save generated rule")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	doc["rule_id"] = ruleID
	doc["status"] = "success"
	writeJSON(w, http.StatusOK, doc)
}

func storedRuleFromDoc(doc, rule map[string]any, params providerParams) store.StoredRule {
	title, _ := rule["title"].(string)
	description, _ := rule["description"].(string)
	date, _ := rule["date"].(string)
	confidence, _ := doc["confidence_score"].(float64)
	techniques, _ := doc["mitre_techniques"].([]any)
	testCases, _ := doc["test_cases"].([]any)
	recommendations, _ := doc["recommendations"].([]any)
	explanation, _ := doc["explanation"].(string)
	componentScores, _ := doc["component_scores"].(map[string]any)

	return store.StoredRule{
		Title:           title,
		Description:     description,
		Date:            date,
		ConfidenceScore: confidence,
		RuleContent:     rule,
		MITRETechniques: techniques,
		TestCases:       testCases,
		Recommendations: recommendations,
		Explanation:     explanation,
		ComponentScores: componentScores,
		Provider:        params.Provider,
		Model:           params.Model,
	}
}

type refineQueriesRequest struct {
	SigmaRule     string   `json:"sigma_rule"`
	SplunkQueries []string `json:"splunk_queries"`
	QRadarQueries []string `json:"qradar_queries"`
	APIKey        string   `json:"api_key"`
	OpenAIAPIKey  string   `json:"openai_api_key"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
}

// handleRefineQueries rewrites IoC-derived SIEM queries against a Sigma
// rule for tighter detection logic.
func (s *Server) handleRefineQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req refineQueriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data received")
		return
	}
	if req.SigmaRule == "" {
		writeError(w, http.StatusBadRequest, "sigma_rule is required")
		return
	}

	params, err := s.resolveProvider(r, req.APIKey, req.OpenAIAPIKey, req.Provider, req.Model)
	if err != nil {
		writeError(w, providerErrorStatus(err), err.Error())
		return
	}

	engine, err := s.buildRuleEngine(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	refined, err := engine.RefineQueries(r.Context(), req.SigmaRule, req.SplunkQueries, req.QRadarQueries)
	if err != nil {
		log.Error().Err(err).Msg("Query refinement failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"refined_queries": refined,
		"status":          "success",
	})
}

// handleRules lists stored generated rules.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	rules, err := s.store.ListRules(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list rules")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// handleRuleByID serves DELETE /api/rules/{id} and
// GET /api/rules/{id}/download.
func (s *Server) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}

	if ruleID, ok := strings.CutSuffix(rest, "/download"); ok {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.serveRuleDownload(w, r, ruleID)
		return
	}

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	deleted, err := s.store.DeleteRule(r.Context(), rest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Rule deleted successfully"})
}

func (s *Server) serveRuleDownload(w http.ResponseWriter, r *http.Request, ruleID string) {
	rule, err := s.store.GetRule(r.Context(), ruleID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := yaml.Marshal(rule.RuleContent)
	if err != nil {
		log.Error().Err(err).Str("rule_id", ruleID).Msg("Rule YAML rendering failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	safeTitle := strings.NewReplacer(" ", "_", "/", "_").Replace(rule.Title)
	w.Header().Set("Content-Type", "text/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+safeTitle+`.yml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
