package sigmamatch

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Logsource is a rule's declared log origin.
type Logsource struct {
	Category string `json:"category"`
	Product  string `json:"product"`
}

// Index is the multi-signal inverted index built over a loaded catalog.
// It is immutable after construction; reloads build a fresh Index.
type Index struct {
	rules    []RuleFile
	docCount int

	keywordIndex map[string]map[int]bool
	ruleKeywords map[int][]string
	rulePhrases  map[int][]string
	df           map[string]int

	techniqueIndex map[string]map[int]bool
	ruleTechniques map[int]map[string]bool

	logsourceIndex map[string]map[int]bool
	ruleLogsource  map[int]Logsource

	ruleStatus map[int]string
	ruleLevel  map[int]string
}

// NewIndex builds the keyword, technique and logsource indexes for rules.
func NewIndex(rules []RuleFile) *Index {
	idx := &Index{
		rules:          rules,
		docCount:       len(rules),
		keywordIndex:   make(map[string]map[int]bool),
		ruleKeywords:   make(map[int][]string),
		rulePhrases:    make(map[int][]string),
		df:             make(map[string]int),
		techniqueIndex: make(map[string]map[int]bool),
		ruleTechniques: make(map[int]map[string]bool),
		logsourceIndex: make(map[string]map[int]bool),
		ruleLogsource:  make(map[int]Logsource),
		ruleStatus:     make(map[int]string),
		ruleLevel:      make(map[int]string),
	}

	for i, rule := range rules {
		keywords, phrases := extractDetectionTerms(rule.Data["detection"])
		idx.ruleKeywords[i] = keywords
		idx.rulePhrases[i] = phrases

		seen := make(map[string]bool)
		for _, kw := range keywords {
			lower := strings.ToLower(kw)
			addToSet(idx.keywordIndex, lower, i)
			if !seen[lower] {
				idx.df[lower]++
				seen[lower] = true
			}
		}

		techniques := make(map[string]bool)
		for _, tag := range ruleTags(rule.Data) {
			m := tagTechniqueRe.FindStringSubmatch(tag)
			if m == nil {
				continue
			}
			tid := "t" + strings.ToLower(m[1])
			techniques[tid] = true
			addToSet(idx.techniqueIndex, tid, i)
			if parent, _, found := strings.Cut(tid, "."); found {
				techniques[parent] = true
				addToSet(idx.techniqueIndex, parent, i)
			}
		}
		idx.ruleTechniques[i] = techniques

		ls := Logsource{Category: "unknown", Product: "unknown"}
		if raw, ok := rule.Data["logsource"].(map[string]any); ok {
			if c, ok := raw["category"].(string); ok && c != "" {
				ls.Category = c
			}
			if p, ok := raw["product"].(string); ok && p != "" {
				ls.Product = p
			}
		}
		addToSet(idx.logsourceIndex, ls.Category+":"+ls.Product, i)
		addToSet(idx.logsourceIndex, ls.Category+":*", i)
		idx.ruleLogsource[i] = ls

		idx.ruleStatus[i] = ruleString(rule.Data, "status", "experimental")
		idx.ruleLevel[i] = ruleString(rule.Data, "level", "medium")
	}

	log.Info().
		Int("keyword_terms", len(idx.keywordIndex)).
		Int("technique_ids", len(idx.techniqueIndex)).
		Int("logsource_keys", len(idx.logsourceIndex)).
		Int("rules", idx.docCount).
		Msg("Built Sigma index")

	return idx
}

// Len reports the number of indexed rules.
func (idx *Index) Len() int { return idx.docCount }

func addToSet(m map[string]map[int]bool, key string, i int) {
	set, ok := m[key]
	if !ok {
		set = make(map[int]bool)
		m[key] = set
	}
	set[i] = true
}

// extractDetectionTerms pulls keyword tokens and multi-word phrases out of
// a detection block. Only VALUES are indexed; dict keys are Sigma field
// names (Image, CommandLine) rather than indicator content.
func extractDetectionTerms(detection any) (keywords, phrases []string) {
	data := detection
	if block, ok := detection.(map[string]any); ok {
		if _, hasCondition := block["condition"]; hasCondition {
			filtered := make(map[string]any, len(block))
			for k, v := range block {
				if k == "condition" {
					continue
				}
				switch v.(type) {
				case map[string]any, []any, string:
					filtered[k] = v
				}
			}
			data = filtered
		} else if sel, ok := block["selection"]; ok {
			data = sel
		}
	}

	kwSet := make(map[string]bool)
	phraseSet := make(map[string]bool)

	var recurse func(obj any)
	collect := func(s string) {
		trimmed := strings.TrimSpace(s)
		if strings.Contains(trimmed, " ") && len(trimmed) > 3 {
			phraseSet[strings.ToLower(trimmed)] = true
		}
		for _, t := range tokenize(s) {
			kwSet[t] = true
		}
	}
	recurse = func(obj any) {
		switch v := obj.(type) {
		case map[string]any:
			for _, val := range v {
				if s, ok := val.(string); ok {
					collect(s)
				} else {
					recurse(val)
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					collect(s)
				} else {
					recurse(item)
				}
			}
		case string:
			for _, t := range tokenize(v) {
				kwSet[t] = true
			}
		}
	}
	recurse(data)

	keywords = make([]string, 0, len(kwSet))
	for kw := range kwSet {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	phrases = make([]string, 0, len(phraseSet))
	for p := range phraseSet {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)
	return keywords, phrases
}

// findCandidates returns rule indexes sharing at least one token with the
// query along with their shared-token counts.
func (idx *Index) findCandidates(queryTokens map[string]bool) map[int]int {
	candidates := make(map[int]int)
	for token := range queryTokens {
		for ruleIdx := range idx.keywordIndex[token] {
			candidates[ruleIdx]++
		}
	}
	return candidates
}

// tfidfScore computes the normalized TF-IDF relevance of one rule against
// the query tokens.
func (idx *Index) tfidfScore(ruleIdx int, queryTokens map[string]bool) float64 {
	keywords := idx.ruleKeywords[ruleIdx]
	if len(keywords) == 0 {
		return 0
	}

	tf := make(map[string]int, len(keywords))
	maxTF := 1
	for _, kw := range keywords {
		lower := strings.ToLower(kw)
		tf[lower]++
		if tf[lower] > maxTF {
			maxTF = tf[lower]
		}
	}

	score := 0.0
	for token := range queryTokens {
		lower := strings.ToLower(token)
		freq, ok := tf[lower]
		if !ok {
			continue
		}
		termFreq := 0.5 + 0.5*float64(freq)/float64(maxTF)
		idf := 1.0
		if df := idx.df[lower]; df > 0 {
			idf = math.Log(float64(idx.docCount+1)/float64(df+1)) + 1
		}
		score += termFreq * idf
	}

	return score / float64(len(keywords)+1)
}
