// Package ai implements the analysis tasks that combine prompt templates,
// provider calls, retry, caching and output validation.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/ai/cache"
	"github.com/aytekaytemur/perseptor/internal/ai/prompts"
	"github.com/aytekaytemur/perseptor/internal/ai/providers"
	"github.com/aytekaytemur/perseptor/internal/validate"
)

// ErrUnparseableOutput is returned when a model reply cannot be recovered
// into the structure the task requires.
var ErrUnparseableOutput = errors.New("model output could not be parsed")

// UsageRecord captures the token cost of one provider call.
type UsageRecord struct {
	SessionID        string
	Provider         string
	Model            string
	Endpoint         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMS        int64
}

// UsageRecorder persists usage records. Recording failures must never
// affect the analysis.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, record UsageRecord) error
}

// Config wires an Engine. Cache and Usage are optional.
type Config struct {
	Provider     providers.Provider
	ProviderName string
	Model        string
	Temperature  float64
	SessionID    string
	Cache        *cache.Cache
	Usage        UsageRecorder
	Retry        providers.RetryConfig
}

// Engine runs the AI analysis tasks against a single resolved provider.
type Engine struct {
	provider     providers.Provider
	providerName string
	model        string
	temperature  float64
	sessionID    string
	cache        *cache.Cache
	usage        UsageRecorder
	retry        providers.RetryConfig
}

// task-level retry: tighter than the transport default
var taskRetry = providers.RetryConfig{
	MaxRetries: 2,
	BaseDelay:  2 * time.Second,
	MaxDelay:   60 * time.Second,
}

const maxThreatContextChars = 3000

// NewEngine builds an Engine from cfg, applying task defaults for the
// zero values.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		sessionID:    cfg.SessionID,
		cache:        cfg.Cache,
		usage:        cfg.Usage,
		retry:        cfg.Retry,
	}
	if e.temperature == 0 {
		e.temperature = 0.1
	}
	if e.retry.MaxRetries == 0 && e.retry.BaseDelay == 0 {
		e.retry = taskRetry
	}
	return e
}

func (e *Engine) chat(ctx context.Context, endpoint string, messages []providers.Message) (*providers.ChatResponse, error) {
	start := time.Now()
	resp, err := providers.ChatWithRetry(ctx, e.provider, providers.ChatRequest{
		Messages:    messages,
		Model:       e.model,
		Temperature: e.temperature,
	}, e.retry)
	if err != nil {
		return nil, err
	}
	e.trackUsage(ctx, resp, endpoint, time.Since(start))
	return resp, nil
}

func (e *Engine) trackUsage(ctx context.Context, resp *providers.ChatResponse, endpoint string, latency time.Duration) {
	if e.usage == nil || resp == nil {
		return
	}
	err := e.usage.RecordUsage(ctx, UsageRecord{
		SessionID:        e.sessionID,
		Provider:         e.providerName,
		Model:            resp.Model,
		Endpoint:         endpoint,
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
		TotalTokens:      resp.InputTokens + resp.OutputTokens,
		LatencyMS:        latency.Milliseconds(),
	})
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("Token usage tracking failed")
	}
}

func (e *Engine) cacheGet(key string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	return e.cache.Get(key)
}

func (e *Engine) cacheSet(key, value string) {
	if e.cache != nil {
		e.cache.Set(key, value)
	}
}

// Summarize produces the executive threat summary for a report.
func (e *Engine) Summarize(ctx context.Context, text string) (string, error) {
	key := cache.Key("summarize", text, e.providerName, e.model)
	if cached, ok := e.cacheGet(key); ok {
		log.Info().Msg("Returning cached threat summary")
		return cached, nil
	}

	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.ThreatAnalystSystem)},
		{Role: "user", Content: prompts.Render(prompts.ThreatSummaryCOT, map[string]string{"text": text})},
	}

	log.Info().Str("provider", e.providerName).Msg("Generating threat summary")
	resp, err := e.chat(ctx, "summarize_threat_report", messages)
	if err != nil {
		return "", err
	}

	result := strings.TrimSpace(resp.Content)
	e.cacheSet(key, result)
	log.Info().Str("provider", e.providerName).Str("model", resp.Model).
		Int("tokens", resp.InputTokens+resp.OutputTokens).Msg("Threat summary generated")
	return result, nil
}

// ExtractIOCs extracts indicators and TTPs as a normalized document. Parse
// failures yield an empty document, not an error; only parsed results are
// cached.
func (e *Engine) ExtractIOCs(ctx context.Context, text string) (map[string]any, error) {
	key := cache.Key("ioc_extract", text, e.providerName, e.model)
	if cached, ok := e.cacheGet(key); ok {
		var doc map[string]any
		if json.Unmarshal([]byte(cached), &doc) == nil {
			log.Info().Msg("Returning cached IoC extraction")
			return doc, nil
		}
	}

	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.IOCExtractorSystem)},
	}
	if example := prompts.FewShot("ioc_extraction_example"); example != "" {
		messages = append(messages,
			providers.Message{Role: "user", Content: "Extract IoCs from: 'APT29 used SUNBURST backdoor via trojanized SolarWinds update, C2 at avsvmcloud.com'"},
			providers.Message{Role: "assistant", Content: example},
		)
	}
	messages = append(messages, providers.Message{
		Role:    "user",
		Content: prompts.Render(prompts.IOCExtractionCOT, map[string]string{"text": text}),
	})

	log.Info().Str("provider", e.providerName).Msg("Extracting IoCs and TTPs")
	resp, err := e.chat(ctx, "extract_iocs_ttps", messages)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("length", len(resp.Content)).Msg("IoC raw response received")

	parsed, ok := validate.ParseJSON(resp.Content)
	doc, isDoc := parsed.(map[string]any)
	if !ok || !isDoc {
		log.Warn().Str("head", head(resp.Content, 300)).Msg("IoC extraction returned invalid JSON")
		return map[string]any{}, nil
	}

	_, validated, warnings := validate.ValidateIOCResponse(doc)
	if len(warnings) > 0 {
		log.Warn().Strs("warnings", warnings).Msg("IoC validation warnings")
	}

	if encoded, err := json.Marshal(validated); err == nil {
		e.cacheSet(key, string(encoded))
	}
	log.Info().Str("provider", e.providerName).Str("model", resp.Model).
		Int("tokens", resp.InputTokens+resp.OutputTokens).Msg("IoC/TTP extraction complete")
	return validated, nil
}

// GenerateSigma asks the model for additional Sigma rules derived from
// the article body and OCR text. Output is returned as raw YAML text;
// structural problems are logged, not fatal.
func (e *Engine) GenerateSigma(ctx context.Context, articleText, imagesOCRText string) (string, error) {
	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.DetectionEngineerSystem)},
	}
	if example := prompts.FewShot("sigma_rule_example"); example != "" {
		messages = append(messages,
			providers.Message{Role: "user", Content: "Generate a Sigma rule for PowerShell download-and-execute behavior"},
			providers.Message{Role: "assistant", Content: example},
		)
	}
	messages = append(messages, providers.Message{
		Role: "user",
		Content: prompts.Render(prompts.SigmaGenerationCOT, map[string]string{
			"article_text":    articleText,
			"images_ocr_text": imagesOCRText,
		}),
	})

	log.Info().Str("provider", e.providerName).Msg("Generating Sigma rules from article")
	resp, err := e.chat(ctx, "generate_sigma_rules", messages)
	if err != nil {
		return "", err
	}

	result := strings.TrimSpace(resp.Content)
	if _, warnings := validate.ValidateSigmaYAML(result); len(warnings) > 0 {
		log.Warn().Strs("warnings", warnings).Msg("Sigma validation warnings")
	}
	return result, nil
}

// ConvertSIEM converts Sigma YAML into per-platform SIEM queries. Invalid
// model output falls back to basic queries derived from the rule text.
func (e *Engine) ConvertSIEM(ctx context.Context, sigmaRules string) (map[string]any, error) {
	key := cache.Key("siem_convert", sigmaRules, e.providerName, "")
	if cached, ok := e.cacheGet(key); ok {
		var doc map[string]any
		if json.Unmarshal([]byte(cached), &doc) == nil {
			log.Info().Msg("Returning cached SIEM queries")
			return doc, nil
		}
	}

	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.SIEMSpecialistSystem)},
	}
	if example := prompts.FewShot("siem_query_example"); example != "" {
		messages = append(messages,
			providers.Message{Role: "user", Content: "Convert this Sigma rule to SIEM queries: PowerShell download and execute detection"},
			providers.Message{Role: "assistant", Content: example},
		)
	}
	messages = append(messages, providers.Message{
		Role:    "user",
		Content: prompts.Render(prompts.SIEMConversionCOT, map[string]string{"sigma_rules": sigmaRules}),
	})

	resp, err := e.chat(ctx, "convert_siem_queries", messages)
	if err != nil {
		return nil, err
	}

	var queries map[string]any
	parsed, ok := validate.ParseJSON(resp.Content)
	if doc, isDoc := parsed.(map[string]any); ok && isDoc {
		_, validated, warnings := validate.ValidateSIEMResponse(doc)
		if len(warnings) > 0 {
			log.Warn().Strs("warnings", warnings).Msg("SIEM validation warnings")
		}
		queries = validated
	} else {
		log.Warn().Msg("SIEM conversion returned invalid JSON, using fallback")
		queries = FallbackSIEMQueries(sigmaRules)
	}

	if encoded, err := json.Marshal(queries); err == nil {
		e.cacheSet(key, string(encoded))
	}
	log.Info().Str("provider", e.providerName).Str("model", resp.Model).Msg("SIEM query conversion complete")
	return queries, nil
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// AtomicTests generates atomic red-team scenarios from Sigma rules. The
// model sometimes emits a bare object, concatenated documents or trailing
// commas; all of those are recovered into a test list. Unrecoverable
// output yields an empty list.
func (e *Engine) AtomicTests(ctx context.Context, sigmaRules, threatContext string) ([]any, error) {
	key := cache.Key("atomic_tests", sigmaRules, e.providerName, "")
	if cached, ok := e.cacheGet(key); ok {
		var tests []any
		if json.Unmarshal([]byte(cached), &tests) == nil {
			log.Info().Msg("Returning cached atomic tests")
			return tests, nil
		}
	}

	contextText := threatContext
	if contextText == "" {
		contextText = "No additional threat context available."
	} else if len(contextText) > maxThreatContextChars {
		contextText = contextText[:maxThreatContextChars]
	}

	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.AtomicTestEngineerSystem)},
	}
	if example := prompts.FewShot("atomic_test_example"); example != "" {
		messages = append(messages,
			providers.Message{Role: "user", Content: "Generate an atomic test scenario for a Sigma rule detecting PowerShell download and execute behavior"},
			providers.Message{Role: "assistant", Content: example},
		)
	}
	messages = append(messages, providers.Message{
		Role: "user",
		Content: prompts.Render(prompts.AtomicTestGenerationCOT, map[string]string{
			"sigma_rules":    sigmaRules,
			"threat_context": contextText,
		}),
	})

	log.Info().Str("provider", e.providerName).Msg("Generating atomic test scenarios")
	resp, err := e.chat(ctx, "generate_atomic_tests", messages)
	if err != nil {
		return nil, err
	}

	tests := parseAtomicTests(resp.Content)
	if tests == nil {
		log.Warn().Str("head", head(resp.Content, 300)).Msg("Atomic test generation returned invalid JSON")
		return []any{}, nil
	}

	if encoded, err := json.Marshal(tests); err == nil {
		e.cacheSet(key, string(encoded))
	}
	log.Info().Int("tests", len(tests)).Msg("Generated atomic test scenarios")
	return tests, nil
}

func parseAtomicTests(content string) []any {
	parsed, ok := validate.ParseJSON(content)
	if ok {
		switch v := parsed.(type) {
		case []any:
			return v
		case map[string]any:
			return []any{v}
		}
	}

	// concatenated documents: take the first balanced [...] span
	if start := strings.IndexByte(content, '['); start >= 0 {
		depth := 0
		for i := start; i < len(content); i++ {
			switch content[i] {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					var tests []any
					if json.Unmarshal([]byte(content[start:i+1]), &tests) == nil {
						return tests
					}
					i = len(content)
				}
			}
		}
	}

	fixed := trailingCommaRe.ReplaceAllString(content, "$1")
	var tests []any
	if json.Unmarshal([]byte(fixed), &tests) == nil {
		return tests
	}
	return nil
}

// RefineQueries asks the model to review the Sigma rule and platform
// queries together and returns its plain-text revision.
func (e *Engine) RefineQueries(ctx context.Context, sigmaYAML string, splunkQueries, qradarQueries []string) (string, error) {
	splunkText := "(No Splunk Queries)"
	if len(splunkQueries) > 0 {
		splunkText = strings.Join(splunkQueries, "\n")
	}
	qradarText := "(No QRadar Queries)"
	if len(qradarQueries) > 0 {
		qradarText = strings.Join(qradarQueries, "\n")
	}

	var b strings.Builder
	b.WriteString("Review and refine the following detection rules and queries.\n\n")
	b.WriteString("REFINEMENT GOALS:\n")
	b.WriteString("1. Fix any syntax errors in the Sigma rule\n")
	b.WriteString("2. Optimize Splunk queries for search performance\n")
	b.WriteString("3. Ensure QRadar AQL uses correct property names\n")
	b.WriteString("4. Add missing detection fields or conditions\n")
	b.WriteString("5. Reduce false positive potential\n\n")
	b.WriteString("Output in plain text with these sections:\n")
	b.WriteString("1) Refined Sigma Rule (valid YAML)\n")
	b.WriteString("2) Refined Splunk Queries (valid SPL)\n")
	b.WriteString("3) Refined QRadar Queries (valid AQL)\n\n")
	b.WriteString("Sigma YAML:\n" + sigmaYAML + "\n\n")
	b.WriteString("Splunk queries:\n" + splunkText + "\n\n")
	b.WriteString("QRadar queries:\n" + qradarText)

	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.SIEMSpecialistSystem)},
		{Role: "user", Content: b.String()},
	}

	resp, err := e.chat(ctx, "refine_queries", messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// GenerateRule answers a free-form detection engineering request with a
// single structured rule document.
func (e *Engine) GenerateRule(ctx context.Context, query string) (map[string]any, error) {
	messages := []providers.Message{
		{Role: "system", Content: prompts.Get(prompts.RuleQASystem)},
		{Role: "user", Content: prompts.Render(prompts.RuleGenerationCOT, map[string]string{"prompt": query})},
	}

	resp, err := e.chat(ctx, "generate_rule", messages)
	if err != nil {
		return nil, err
	}

	parsed, ok := validate.ParseJSON(resp.Content)
	doc, isDoc := parsed.(map[string]any)
	if !ok || !isDoc {
		log.Warn().Str("head", head(resp.Content, 300)).Msg("Rule generation returned invalid JSON")
		return nil, ErrUnparseableOutput
	}

	_, validated, warnings := validate.ValidateRuleResponse(doc)
	if len(warnings) > 0 {
		log.Warn().Strs("warnings", warnings).Msg("Rule validation warnings")
	}
	return validated, nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
