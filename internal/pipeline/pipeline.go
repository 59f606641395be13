// Package pipeline orchestrates a full report analysis: parallel AI tasks,
// deterministic rule generation, catalog matching, SIEM conversion and
// atomic test generation, with streaming progress events.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/metrics"
	"github.com/aytekaytemur/perseptor/internal/mitre"
	"github.com/aytekaytemur/perseptor/internal/rules/siem"
	"github.com/aytekaytemur/perseptor/internal/rules/sigma"
	"github.com/aytekaytemur/perseptor/internal/rules/yara"
	"github.com/aytekaytemur/perseptor/internal/sigmamatch"
)

// TaskEngine is the AI task surface the pipeline drives.
type TaskEngine interface {
	Summarize(ctx context.Context, text string) (string, error)
	ExtractIOCs(ctx context.Context, text string) (map[string]any, error)
	GenerateSigma(ctx context.Context, articleText, imagesOCRText string) (string, error)
	ConvertSIEM(ctx context.Context, sigmaRules string) (map[string]any, error)
	AtomicTests(ctx context.Context, sigmaRules, threatContext string) ([]any, error)
}

// ProgressEvent is one streamed pipeline update.
type ProgressEvent struct {
	Stage    string         `json:"stage"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// Emitter receives progress events in order. A nil Emitter disables
// streaming.
type Emitter func(event ProgressEvent)

// Input is one analysis request after content fetching.
type Input struct {
	ArticleText   string
	ImagesOCRText string
	CombinedText  string
	SourceURL     string
	Provider      string
	Model         string
}

// AnalysisData is the normalized extraction block of a result.
type AnalysisData struct {
	IndicatorsOfCompromise map[string]any `json:"indicators_of_compromise"`
	TTPs                   []any          `json:"ttps"`
	ThreatActors           []any          `json:"threat_actors"`
	ToolsOrMalware         []any          `json:"tools_or_malware"`
}

// MITREMapping groups the ATT&CK view of a result.
type MITREMapping struct {
	Techniques    []mitre.Match  `json:"techniques"`
	TacticSummary map[string]int `json:"tactic_summary"`
	Tags          []string       `json:"tags"`
}

// Result is the complete defensive package for one report.
type Result struct {
	ThreatSummary       string            `json:"threat_summary"`
	AnalysisData        AnalysisData      `json:"analysis_data"`
	MITREMapping        MITREMapping      `json:"mitre_mapping"`
	YARARules           string            `json:"yara_rules"`
	IOCSigmaRules       []sigma.Rule      `json:"ioc_sigma_rules"`
	GeneratedSigmaRules string            `json:"generated_sigma_rules"`
	SIEMQueries         map[string]any    `json:"siem_queries"`
	AtomicTests         []any             `json:"atomic_tests"`
	SigmaMatches        []sigmamatch.Match `json:"sigma_matches"`
}

// Report is a persisted analysis record.
type Report struct {
	ID        string
	URL       string
	CreatedAt time.Time
	Provider  string
	Model     string
	Result    *Result
}

// ReportStore persists finished analyses. Save failures are logged, never
// fatal.
type ReportStore interface {
	SaveReport(ctx context.Context, report Report) error
}

// Timeouts bound the two task classes.
type Timeouts struct {
	Generation time.Duration
	SmallTask  time.Duration
}

// DefaultTimeouts are the standard per-task limits.
var DefaultTimeouts = Timeouts{
	Generation: 300 * time.Second,
	SmallTask:  120 * time.Second,
}

const (
	summaryFallback   = "Could not generate threat summary"
	minSigmaYAMLChars = 20
)

// Pipeline runs analyses. Catalog and Store are optional.
type Pipeline struct {
	Engine   TaskEngine
	Catalog  *sigmamatch.Catalog
	Store    ReportStore
	Match    sigmamatch.Options
	Timeouts Timeouts
}

// New builds a Pipeline with default matching options and timeouts.
func New(engine TaskEngine, catalog *sigmamatch.Catalog, store ReportStore) *Pipeline {
	return &Pipeline{
		Engine:   engine,
		Catalog:  catalog,
		Store:    store,
		Match:    sigmamatch.DefaultOptions,
		Timeouts: DefaultTimeouts,
	}
}

// Run executes all stages for one input. Individual task failures degrade
// to documented defaults; Run itself fails only on a cancelled context.
func (p *Pipeline) Run(ctx context.Context, input Input, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	if p.Timeouts.Generation == 0 {
		p.Timeouts = DefaultTimeouts
	}

	emit(ProgressEvent{Stage: "ai_parallel", Progress: 22, Message: "Starting parallel AI analysis..."})

	stageStart := time.Now()
	summary, analysis, moreSigma := p.runAITasks(ctx, input, emit)
	metrics.ObserveStage("ai_parallel", time.Since(stageStart))
	if err := ctx.Err(); err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		emit(ProgressEvent{Stage: "error", Progress: 0, Message: err.Error()})
		return nil, err
	}

	emit(ProgressEvent{Stage: "rules", Progress: 55, Message: "Generating detection rules..."})
	stageStart = time.Now()
	yaraRules, mitreTechniques, mitreTags, tacticSummary, iocSigmaRules, iocSigmaYAML := p.runRuleStage(analysis, input.SourceURL, emit)
	metrics.ObserveStage("rules", time.Since(stageStart))

	emit(ProgressEvent{Stage: "sigma_match", Progress: 76, Message: "Matching global Sigma rules with MITRE data..."})
	stageStart = time.Now()
	sigmaMatches := p.runSigmaMatch(analysis, input.CombinedText, mitreTechniques)
	metrics.ObserveStage("sigma_match", time.Since(stageStart))
	emit(ProgressEvent{
		Stage: "sigma_match_done", Progress: 80,
		Message: plural(len(sigmaMatches), "Matched %d global Sigma rules"),
		Data:    map[string]any{"sigma_matches": sigmaMatches},
	})

	emit(ProgressEvent{Stage: "siem", Progress: 82, Message: "Generating SIEM queries..."})
	stageStart = time.Now()
	siemQueries := p.runSIEMStage(ctx, analysis, moreSigma, emit)
	metrics.ObserveStage("siem", time.Since(stageStart))

	allSigmaYAML := iocSigmaYAML
	if moreSigma != "" {
		if allSigmaYAML != "" {
			allSigmaYAML = allSigmaYAML + "\n---\n" + moreSigma
		} else {
			allSigmaYAML = moreSigma
		}
	}

	atomicTests := []any{}
	if len(strings.TrimSpace(allSigmaYAML)) > minSigmaYAMLChars {
		emit(ProgressEvent{Stage: "atomic_tests", Progress: 93, Message: "Generating Atomic Red Team test scenarios..."})
		stageStart = time.Now()
		taskCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Generation)
		tests, err := p.Engine.AtomicTests(taskCtx, allSigmaYAML, summary)
		cancel()
		metrics.ObserveStage("atomic_tests", time.Since(stageStart))
		if err != nil {
			log.Error().Err(err).Msg("Atomic test generation failed")
			emit(ProgressEvent{Stage: "atomic_tests_done", Progress: 97, Message: "Atomic test generation failed"})
		} else {
			atomicTests = tests
			emit(ProgressEvent{
				Stage: "atomic_tests_done", Progress: 97,
				Message: plural(len(tests), "Generated %d atomic test scenarios"),
				Data:    map[string]any{"atomic_tests": tests},
			})
		}
	}

	emit(ProgressEvent{Stage: "finalizing", Progress: 98, Message: "Compiling final report..."})

	result := &Result{
		ThreatSummary: summary,
		AnalysisData: AnalysisData{
			IndicatorsOfCompromise: mapValue(analysis, "indicators_of_compromise"),
			TTPs:                   listValue(analysis, "ttps"),
			ThreatActors:           listValue(analysis, "threat_actors"),
			ToolsOrMalware:         listValue(analysis, "tools_or_malware"),
		},
		MITREMapping: MITREMapping{
			Techniques:    mitreTechniques,
			TacticSummary: tacticSummary,
			Tags:          mitreTags,
		},
		YARARules:           yaraRules,
		IOCSigmaRules:       iocSigmaRules,
		GeneratedSigmaRules: allSigmaYAML,
		SIEMQueries:         siemQueries,
		AtomicTests:         atomicTests,
		SigmaMatches:        sigmaMatches,
	}

	p.saveReport(ctx, input, result)

	metrics.AnalysesTotal.WithLabelValues("complete").Inc()
	emit(ProgressEvent{Stage: "complete", Progress: 100, Message: "Analysis complete!", Data: map[string]any{
		"threat_summary":        result.ThreatSummary,
		"analysis_data":         result.AnalysisData,
		"mitre_mapping":         result.MITREMapping,
		"yara_rules":            result.YARARules,
		"ioc_sigma_rules":       result.IOCSigmaRules,
		"generated_sigma_rules": result.GeneratedSigmaRules,
		"siem_queries":          result.SIEMQueries,
		"atomic_tests":          result.AtomicTests,
		"sigma_matches":         result.SigmaMatches,
	}})

	return result, nil
}

// runAITasks runs the three independent generation tasks in parallel and
// applies the degradation defaults.
func (p *Pipeline) runAITasks(ctx context.Context, input Input, emit Emitter) (summary string, analysis map[string]any, moreSigma string) {
	summary = summaryFallback
	analysis = map[string]any{}

	var (
		wg         sync.WaitGroup
		summaryErr error
		iocErr     error
		sigmaErr   error
		iocResult  map[string]any
		rawSigma   string
		gotSummary string
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		taskCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Generation)
		defer cancel()
		gotSummary, summaryErr = p.Engine.Summarize(taskCtx, input.CombinedText)
	}()
	go func() {
		defer wg.Done()
		taskCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Generation)
		defer cancel()
		iocResult, iocErr = p.Engine.ExtractIOCs(taskCtx, input.CombinedText)
	}()
	go func() {
		defer wg.Done()
		taskCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Generation)
		defer cancel()
		rawSigma, sigmaErr = p.Engine.GenerateSigma(taskCtx, input.ArticleText, input.ImagesOCRText)
	}()

	emit(ProgressEvent{Stage: "threat_summary", Progress: 25, Message: "AI analyzing threat landscape..."})
	emit(ProgressEvent{Stage: "ioc_extraction", Progress: 25, Message: "AI extracting IoCs and TTPs..."})
	emit(ProgressEvent{Stage: "ai_sigma", Progress: 25, Message: "AI generating Sigma rules..."})

	wg.Wait()

	if summaryErr != nil {
		log.Error().Err(summaryErr).Msg("Threat summary failed")
		emit(ProgressEvent{Stage: "threat_summary_done", Progress: 40, Message: "Threat summary failed: " + head(summaryErr.Error(), 100)})
	} else {
		summary = gotSummary
		emit(ProgressEvent{Stage: "threat_summary_done", Progress: 40, Message: "Threat summary complete", Data: map[string]any{"threat_summary": summary}})
	}

	if iocErr != nil {
		log.Error().Err(iocErr).Msg("IoC extraction failed")
		emit(ProgressEvent{Stage: "ioc_done", Progress: 50, Message: "IoC extraction failed: " + head(iocErr.Error(), 100)})
	} else {
		analysis = iocResult
		emit(ProgressEvent{
			Stage: "ioc_done", Progress: 50,
			Message: plural(countIndicators(analysis), "Extracted %d IoCs"),
			Data: map[string]any{"analysis_data": AnalysisData{
				IndicatorsOfCompromise: mapValue(analysis, "indicators_of_compromise"),
				TTPs:                   listValue(analysis, "ttps"),
				ThreatActors:           listValue(analysis, "threat_actors"),
				ToolsOrMalware:         listValue(analysis, "tools_or_malware"),
			}},
		})
	}

	if sigmaErr != nil {
		log.Error().Err(sigmaErr).Msg("AI Sigma generation failed")
	} else {
		moreSigma = cleanAISigma(rawSigma)
	}
	return summary, analysis, moreSigma
}

// runRuleStage runs the deterministic generators in parallel.
func (p *Pipeline) runRuleStage(analysis map[string]any, sourceURL string, emit Emitter) (string, []mitre.Match, []string, map[string]int, []sigma.Rule, string) {
	var (
		wg            sync.WaitGroup
		yaraRules     string
		techniques    []mitre.Match
		tags          []string
		tacticSummary map[string]int
		sigmaRules    []sigma.Rule
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		yaraRules = yara.Generate(analysis)
	}()
	go func() {
		defer wg.Done()
		techniques = mitre.MapIOCs(analysis)
		tags = mitre.Tags(techniques)
		tacticSummary = mitre.TacticSummary(techniques)
	}()
	go func() {
		defer wg.Done()
		title, _ := analysis["sigma_title"].(string)
		description, _ := analysis["sigma_description"].(string)
		sigmaRules = sigma.Generate(analysis, sourceURL, title, description)
	}()
	wg.Wait()

	emit(ProgressEvent{Stage: "yara_done", Progress: 62, Message: plural(strings.Count(yaraRules, "rule "), "Generated %d YARA rules")})
	emit(ProgressEvent{
		Stage: "mitre_done", Progress: 68,
		Message: plural(len(techniques), "Mapped %d MITRE techniques"),
		Data: map[string]any{"mitre_mapping": MITREMapping{
			Techniques:    techniques,
			TacticSummary: tacticSummary,
			Tags:          tags,
		}},
	})
	emit(ProgressEvent{Stage: "sigma_done", Progress: 75, Message: plural(len(sigmaRules), "Generated %d Sigma rules")})

	return yaraRules, techniques, tags, tacticSummary, sigmaRules, sigma.ToYAML(sigmaRules)
}

func (p *Pipeline) runSigmaMatch(analysis map[string]any, combinedText string, techniques []mitre.Match) []sigmamatch.Match {
	if p.Catalog == nil {
		return []sigmamatch.Match{}
	}
	ids := make([]string, 0, len(techniques))
	for _, t := range techniques {
		ids = append(ids, t.TechniqueID)
	}
	matches := sigmamatch.MatchReport(p.Catalog.Index(), analysis, strings.ToLower(combinedText), ids, p.Match)
	if matches == nil {
		matches = []sigmamatch.Match{}
	}
	return matches
}

// runSIEMStage generates the structured queries and overlays the AI
// refinement of the model-written Sigma rules when present.
func (p *Pipeline) runSIEMStage(ctx context.Context, analysis map[string]any, moreSigma string, emit Emitter) map[string]any {
	var (
		wg     sync.WaitGroup
		aiSIEM map[string]any
		aiErr  error
		flat   map[string]siem.FlatQuery
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		flat = siem.Flatten(siem.Generate(analysis))
	}()
	if moreSigma != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Generation)
			defer cancel()
			aiSIEM, aiErr = p.Engine.ConvertSIEM(taskCtx, moreSigma)
		}()
	}
	wg.Wait()

	queries := make(map[string]any, len(siem.Platforms))
	for _, platform := range siem.Platforms {
		entry := flat[platform]
		queries[platform] = map[string]any{
			"description": entry.Description,
			"query":       entry.Query,
			"notes":       entry.Notes,
		}
	}
	emit(ProgressEvent{Stage: "siem_structured_done", Progress: 88, Message: "IoC-based SIEM queries ready"})

	if aiErr != nil {
		log.Error().Err(aiErr).Msg("AI SIEM conversion failed")
	} else if aiSIEM != nil {
		for _, platform := range siem.Platforms {
			aiEntry, ok := aiSIEM[platform].(map[string]any)
			if !ok {
				continue
			}
			aiQuery, _ := aiEntry["query"].(string)
			if aiQuery == "" || aiQuery == "N/A" {
				continue
			}
			entry := queries[platform].(map[string]any)
			existing, _ := entry["query"].(string)
			entry["query"] = existing + "\n\n/* AI-Refined */\n" + aiQuery
			entry["notes"] = "Includes both IoC-based and AI-refined queries"
		}
		emit(ProgressEvent{Stage: "siem_ai_done", Progress: 93, Message: "AI-refined SIEM queries ready"})
	}

	return queries
}

func (p *Pipeline) saveReport(ctx context.Context, input Input, result *Result) {
	if p.Store == nil {
		return
	}
	report := Report{
		ID:        uuid.NewString(),
		URL:       input.SourceURL,
		CreatedAt: time.Now(),
		Provider:  input.Provider,
		Model:     input.Model,
		Result:    result,
	}
	if err := p.Store.SaveReport(ctx, report); err != nil {
		log.Error().Err(err).Msg("Error saving report")
		return
	}
	log.Info().Str("report_id", report.ID).Msg("Saved analysis report")
}

// skip markers for the prose the model wraps around generated rules
var sigmaNoiseMarkers = []string{
	"–––––––",
	"These rules can be further tuned",
	"Below are two Sigma rules",
	"This rule detects",
	"This query searches",
}

// cleanAISigma strips surrounding prose from model-generated Sigma output
// and regroups it into one block per rule, split on title lines.
func cleanAISigma(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "Error") {
		return ""
	}

	// drop any leading prose outright; rules start at the first title line
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "title:") {
			lines = lines[i:]
			break
		}
	}

	var rules []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "title:") {
			if len(current) > 0 {
				rules = append(rules, strings.Join(current, "\n"))
			}
			current = []string{line}
			continue
		}
		if containsAny(line, sigmaNoiseMarkers) {
			continue
		}
		if len(current) > 0 || strings.TrimSpace(line) != "" {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		rules = append(rules, strings.Join(current, "\n"))
	}
	return strings.Join(rules, "\n\n")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func countIndicators(analysis map[string]any) int {
	iocs, _ := analysis["indicators_of_compromise"].(map[string]any)
	total := 0
	for _, raw := range iocs {
		if values, ok := raw.([]any); ok {
			total += len(values)
		}
	}
	return total
}

func mapValue(data map[string]any, key string) map[string]any {
	if v, ok := data[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func listValue(data map[string]any, key string) []any {
	if v, ok := data[key].([]any); ok {
		return v
	}
	return []any{}
}

func plural(n int, format string) string {
	return fmt.Sprintf(format, n)
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
