package sigmamatch

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Match is one catalog rule scored against a report.
type Match struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Level           string         `json:"level"`
	Status          string         `json:"status"`
	MatchRatio      float64        `json:"match_ratio"`
	CombinedScore   float64        `json:"combined_score"`
	Confidence      string         `json:"confidence"`
	MITREMatched    []string       `json:"mitre_matched"`
	Logsource       Logsource      `json:"logsource"`
	MatchedKeywords []string       `json:"matched_keywords"`
	PhraseMatches   []string       `json:"phrase_matches"`
	Tags            []string       `json:"tags"`
	GitHubLink      string         `json:"github_link"`
	ScoreBreakdown  ScoreBreakdown `json:"score_breakdown"`
}

// ScoreBreakdown exposes the weighted contribution of each signal.
type ScoreBreakdown struct {
	MITRE     float64 `json:"mitre"`
	IOCField  float64 `json:"ioc_field"`
	Logsource float64 `json:"logsource"`
	Keyword   float64 `json:"keyword"`
}

// Options tune the matching engine. Zero values fall back to defaults.
type Options struct {
	Threshold  float64
	MaxResults int
	UseFuzzy   bool
	BaseURL    string
}

// DefaultOptions are the production matching parameters.
var DefaultOptions = Options{
	Threshold:  25.0,
	MaxResults: 15,
	UseFuzzy:   true,
	BaseURL:    "https://github.com/SigmaHQ/sigma/blob/master",
}

const minDisplayKeywords = 3

// signal weights of the combined 0-100 score
const (
	mitreWeight     = 40.0
	iocFieldWeight  = 25.0
	logsourceWeight = 15.0
	keywordWeight   = 20.0
)

var qualityMultiplier = map[string]float64{
	"stable":       1.15,
	"test":         1.0,
	"experimental": 0.85,
}

// MatchReport scores the catalog against the report's signals and returns
// the top matches above the threshold, deduplicated by rule id and sorted
// by combined score.
func MatchReport(idx *Index, analysis map[string]any, reportText string, mitreTechniqueIDs []string, opts Options) []Match {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultOptions.Threshold
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = DefaultOptions.MaxResults
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOptions.BaseURL
	}

	signals := GatherSignals(analysis, mitreTechniqueIDs)

	// raw-text fallback when structured extraction produced nothing
	if len(signals.Keywords) == 0 && reportText != "" {
		for t := range tokenizeLower(reportText) {
			if len(t) >= 4 {
				signals.Keywords[t] = true
			}
			if len(signals.Keywords) >= 500 {
				break
			}
		}
	}

	if len(signals.Keywords) == 0 && len(signals.Techniques) == 0 && len(signals.IOCValues) == 0 {
		log.Warn().Msg("No report signals extracted, skipping Sigma matching")
		return nil
	}

	techniqueMatches := make(map[int]map[string]bool)
	for tid := range signals.Techniques {
		for ruleIdx := range idx.techniqueIndex[tid] {
			if techniqueMatches[ruleIdx] == nil {
				techniqueMatches[ruleIdx] = make(map[string]bool)
			}
			techniqueMatches[ruleIdx][tid] = true
		}
	}

	logsourceRelevant := make(map[int]bool)
	for category := range signals.LogsourceCategories {
		for lsKey, set := range idx.logsourceIndex {
			if !strings.Contains(lsKey, category) {
				continue
			}
			for ruleIdx := range set {
				logsourceRelevant[ruleIdx] = true
			}
		}
	}

	keywordCandidates := idx.findCandidates(signals.Keywords)

	candidateSet := make(map[int]bool)
	for ruleIdx := range techniqueMatches {
		candidateSet[ruleIdx] = true
	}
	for ruleIdx := range logsourceRelevant {
		candidateSet[ruleIdx] = true
	}
	for ruleIdx := range keywordCandidates {
		candidateSet[ruleIdx] = true
	}

	candidates := make([]int, 0, len(candidateSet))
	for ruleIdx := range candidateSet {
		candidates = append(candidates, ruleIdx)
	}
	sort.Ints(candidates)

	log.Info().
		Int("technique_matches", len(techniqueMatches)).
		Int("logsource_relevant", len(logsourceRelevant)).
		Int("keyword_candidates", len(keywordCandidates)).
		Int("candidates", len(candidates)).
		Msg("Collected Sigma match candidates")

	reportLower := strings.ToLower(reportText)
	var results []Match

	for _, ruleIdx := range candidates {
		rule := idx.rules[ruleIdx]

		mitreScore := 0.0
		var mitreMatched []string
		if hits := techniqueMatches[ruleIdx]; len(hits) > 0 {
			mitreScore = 1.0
			for tid := range hits {
				mitreMatched = append(mitreMatched, tid)
			}
			sort.Strings(mitreMatched)
		}

		logsourceScore := 0.0
		if logsourceRelevant[ruleIdx] {
			logsourceScore = 1.0
		}

		iocScore, _ := iocFieldScore(idx, ruleIdx, signals.IOCValues)

		keywordScore := 0.0
		matchedKeywords := make(map[string]bool)
		var phraseMatches []string

		keywords := idx.ruleKeywords[ruleIdx]
		phrases := idx.rulePhrases[ruleIdx]
		if len(keywords) > 0 || len(phrases) > 0 {
			uniqueKeywords := make(map[string]bool, len(keywords))
			for _, kw := range keywords {
				lower := strings.ToLower(kw)
				uniqueKeywords[lower] = true
				if signals.Keywords[lower] {
					matchedKeywords[lower] = true
				} else if opts.UseFuzzy && fuzzyMatch(lower, signals.Keywords) {
					matchedKeywords[lower] = true
				}
			}
			for _, phrase := range phrases {
				if strings.Contains(reportLower, phrase) {
					phraseMatches = append(phraseMatches, phrase)
					matchedKeywords[phrase] = true
				}
			}

			totalTerms := len(uniqueKeywords) + len(phrases)
			if totalTerms > 0 {
				matchRatio := float64(len(matchedKeywords)) / float64(totalTerms)
				tfidf := idx.tfidfScore(ruleIdx, signals.Keywords)
				keywordScore = matchRatio*0.5 + math.Min(tfidf, 1.0)*0.5
			}
		}

		rawScore := mitreScore*mitreWeight +
			iocScore*iocFieldWeight +
			logsourceScore*logsourceWeight +
			keywordScore*keywordWeight

		status := idx.ruleStatus[ruleIdx]
		mult, ok := qualityMultiplier[status]
		if !ok {
			mult = 1.0
		}
		combined := math.Min(100.0, rawScore*mult)

		if combined < opts.Threshold {
			continue
		}

		var display []string
		for kw := range matchedKeywords {
			if !isSigmaFieldName(kw) {
				display = append(display, kw)
			}
		}
		if len(display) < minDisplayKeywords {
			continue
		}
		sort.Strings(display)

		results = append(results, Match{
			ID:              ruleString(rule.Data, "id", "unknown"),
			Title:           ruleString(rule.Data, "title", "Untitled Sigma Rule"),
			Description:     ruleString(rule.Data, "description", ""),
			Level:           idx.ruleLevel[ruleIdx],
			Status:          status,
			MatchRatio:      round2(combined),
			CombinedScore:   round2(combined),
			Confidence:      confidenceLabel(combined),
			MITREMatched:    mitreMatched,
			Logsource:       idx.ruleLogsource[ruleIdx],
			MatchedKeywords: display,
			PhraseMatches:   phraseMatches,
			Tags:            ruleTags(rule.Data),
			GitHubLink:      buildGitHubLink(rule, opts.BaseURL),
			ScoreBreakdown: ScoreBreakdown{
				MITRE:     round1(mitreScore * mitreWeight),
				IOCField:  round1(iocScore * iocFieldWeight),
				Logsource: round1(logsourceScore * logsourceWeight),
				Keyword:   round1(keywordScore * keywordWeight),
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})

	seen := make(map[string]bool)
	deduped := results[:0]
	for _, r := range results {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		deduped = append(deduped, r)
	}

	if len(deduped) > opts.MaxResults {
		deduped = deduped[:opts.MaxResults]
	}

	log.Info().Int("matches", len(deduped)).Msg("Sigma matching complete")
	return deduped
}

// iocFieldScore checks how many report IoC values appear inside the rule's
// detection keywords or phrases. A single hit is already significant, so
// the denominator is capped at five values.
func iocFieldScore(idx *Index, ruleIdx int, iocValues map[string]bool) (float64, []string) {
	if len(iocValues) == 0 {
		return 0, nil
	}

	detection := make(map[string]bool)
	for _, kw := range idx.ruleKeywords[ruleIdx] {
		detection[strings.ToLower(kw)] = true
	}
	for _, p := range idx.rulePhrases[ruleIdx] {
		detection[p] = true
	}
	if len(detection) == 0 {
		return 0, nil
	}

	var matched []string
	for val := range iocValues {
		if len(val) < 3 {
			continue
		}
		for term := range detection {
			if strings.Contains(term, val) || strings.Contains(val, term) {
				matched = append(matched, val)
				break
			}
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	denom := len(iocValues)
	if denom > 5 {
		denom = 5
	}
	if denom < 1 {
		denom = 1
	}
	return math.Min(1.0, float64(len(matched))/float64(denom)), matched
}

// fuzzyMatch tolerates substring containment and small character drift
// between a rule keyword and the report vocabulary.
func fuzzyMatch(keyword string, candidates map[string]bool) bool {
	for candidate := range candidates {
		if keyword == candidate {
			return true
		}
		if len(keyword) >= 4 && strings.Contains(candidate, keyword) {
			return true
		}
		if len(candidate) >= 4 && strings.Contains(keyword, candidate) {
			return true
		}
		diff := len(keyword) - len(candidate)
		if diff < 0 {
			diff = -diff
		}
		if diff <= 2 && len(keyword) >= 4 {
			common := 0
			for i := 0; i < len(keyword) && i < len(candidate); i++ {
				if keyword[i] == candidate[i] {
					common++
				}
			}
			longer := len(keyword)
			if len(candidate) > longer {
				longer = len(candidate)
			}
			if float64(common)/float64(longer) >= 0.8 {
				return true
			}
		}
	}
	return false
}

func confidenceLabel(score float64) string {
	switch {
	case score >= 80:
		return "Direct Hit"
	case score >= 60:
		return "Strong Match"
	case score >= 40:
		return "Relevant"
	default:
		return "Related"
	}
}

var filenamePrefixPaths = []struct {
	prefix string
	path   string
}{
	{"proc_creation_win_", "rules/windows/process_creation"},
	{"proc_creation_lnx_", "rules/linux/process_creation"},
	{"proc_creation_macos_", "rules/macos/process_creation"},
	{"dns_query_win_", "rules/windows/dns_query"},
	{"dns_query_", "rules/windows/dns_query"},
	{"net_connection_win_", "rules/windows/network_connection"},
	{"net_connection_", "rules/windows/network_connection"},
	{"registry_set_", "rules/windows/registry/registry_set"},
	{"registry_add_", "rules/windows/registry/registry_add"},
	{"registry_event_", "rules/windows/registry/registry_event"},
	{"registry_delete_", "rules/windows/registry/registry_delete"},
	{"file_event_", "rules/windows/file_event"},
	{"file_change_", "rules/windows/file_change"},
	{"file_access_", "rules/windows/file_access"},
	{"file_delete_", "rules/windows/file_delete"},
	{"file_rename_", "rules/windows/file_rename"},
	{"image_load_", "rules/windows/image_load"},
	{"driver_load_", "rules/windows/driver_load"},
	{"ps_classic_", "rules/windows/powershell/powershell_classic"},
	{"ps_module_", "rules/windows/powershell/powershell_module"},
	{"ps_script_", "rules/windows/powershell/powershell_script"},
	{"create_remote_thread_", "rules/windows/create_remote_thread"},
	{"pipe_created_", "rules/windows/pipe_created"},
	{"process_access_", "rules/windows/process_access"},
	{"wmi_event_", "rules/windows/wmi_event"},
	{"sysmon_", "rules/windows/sysmon"},
	{"cloud_", "rules/cloud"},
	{"web_", "rules/web"},
}

// buildGitHubLink derives the upstream SigmaHQ URL for a local rule file.
// Logsource metadata is the most reliable source; the filename prefix map
// covers rules with partial metadata.
func buildGitHubLink(rule RuleFile, baseURL string) string {
	filename := filepath.Base(rule.FilePath)

	if ls, ok := rule.Data["logsource"].(map[string]any); ok {
		category, _ := ls["category"].(string)
		product, _ := ls["product"].(string)
		if category != "" && product != "" {
			return baseURL + "/rules/" + product + "/" + category + "/" + filename
		}
	}

	for _, entry := range filenamePrefixPaths {
		if strings.HasPrefix(filename, entry.prefix) {
			return baseURL + "/" + entry.path + "/" + filename
		}
	}

	return baseURL + "/rules/windows/process_creation/" + filename
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
