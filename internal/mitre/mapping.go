// Package mitre maps extracted indicators and TTPs onto MITRE ATT&CK
// techniques using a built-in reference table.
package mitre

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Match is one identified technique with its provenance and confidence.
type Match struct {
	TechniqueID   string  `json:"technique_id"`
	TechniqueName string  `json:"technique_name"`
	Tactic        string  `json:"tactic"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"` // "ai_extracted" or "keyword_match"
	KeywordHits   int     `json:"keyword_hits,omitempty"`
	Description   string  `json:"description"`
}

var techniqueIDRe = regexp.MustCompile(`T\d{4}(?:\.\d{3})?`)

// MapIOCs maps AI-extracted TTPs and indicator text onto techniques.
//
// TTPs the AI already identified win: each resolvable id scores 0.95. The
// remaining techniques are keyword-matched against the combined lowercased
// indicator text (all IoC values plus threat actors and tools) and score
// min(0.9, 0.3 + 0.15 per hit). Results are sorted by confidence descending
// and deduplicated by technique id.
func MapIOCs(analysis map[string]any) []Match {
	matches := make([]Match, 0)
	seen := make(map[string]bool)

	if ttps, ok := analysis["ttps"].([]any); ok {
		for _, raw := range ttps {
			var ttpStr, ttpDescription string
			if m, ok := raw.(map[string]any); ok {
				ttpStr, _ = m["mitre_id"].(string)
				ttpDescription, _ = m["description"].(string)
			} else {
				ttpStr = fmt.Sprintf("%v", raw)
			}
			for _, tid := range techniqueIDRe.FindAllString(strings.ToUpper(ttpStr), -1) {
				tech, ok := TechniqueDB[tid]
				if !ok || seen[tid] {
					continue
				}
				seen[tid] = true
				description := ttpDescription
				if description == "" {
					description = fmt.Sprintf("AI identified %s technique used in this attack.", tech.Name)
				}
				matches = append(matches, Match{
					TechniqueID:   tid,
					TechniqueName: tech.Name,
					Tactic:        tech.Tactic,
					Confidence:    0.95,
					Source:        "ai_extracted",
					Description:   description,
				})
			}
		}
	}

	combined := combinedIndicatorText(analysis)

	keywordMatches := make([]Match, 0)
	for tid, tech := range TechniqueDB {
		if seen[tid] {
			continue
		}
		var matched []string
		for _, kw := range tech.Keywords {
			if strings.Contains(combined, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		confidence := math.Min(0.9, 0.3+float64(len(matched))*0.15)
		evidence := matched
		if len(evidence) > 5 {
			evidence = evidence[:5]
		}
		seen[tid] = true
		keywordMatches = append(keywordMatches, Match{
			TechniqueID:   tid,
			TechniqueName: tech.Name,
			Tactic:        tech.Tactic,
			Confidence:    math.Round(confidence*100) / 100,
			Source:        "keyword_match",
			KeywordHits:   len(matched),
			Description:   "Detected via keyword indicators: " + strings.Join(evidence, ", "),
		})
	}
	// map iteration order is random; fix it before the stable sort below
	sort.Slice(keywordMatches, func(i, j int) bool {
		return keywordMatches[i].TechniqueID < keywordMatches[j].TechniqueID
	})
	matches = append(matches, keywordMatches...)

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	log.Info().Int("techniques", len(matches)).Msg("MITRE ATT&CK mapping complete")
	return matches
}

func combinedIndicatorText(analysis map[string]any) string {
	var parts []string

	if iocs, ok := analysis["indicators_of_compromise"].(map[string]any); ok {
		categories := make([]string, 0, len(iocs))
		for category := range iocs {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			if values, ok := iocs[category].([]any); ok {
				for _, v := range values {
					parts = append(parts, strings.ToLower(fmt.Sprintf("%v", v)))
				}
			}
		}
	}
	for _, field := range []string{"threat_actors", "tools_or_malware"} {
		if values, ok := analysis[field].([]any); ok {
			for _, v := range values {
				parts = append(parts, strings.ToLower(fmt.Sprintf("%v", v)))
			}
		}
	}
	return strings.Join(parts, " ")
}

// Tags converts matches to Sigma-style attack tags, sorted and deduplicated.
func Tags(matches []Match) []string {
	set := make(map[string]bool)
	for _, m := range matches {
		if m.Tactic != "" {
			set["attack."+m.Tactic] = true
		}
		if m.TechniqueID != "" {
			set["attack."+strings.ToLower(m.TechniqueID)] = true
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// TacticSummary counts techniques per tactic.
func TacticSummary(matches []Match) map[string]int {
	summary := make(map[string]int)
	for _, m := range matches {
		tactic := m.Tactic
		if tactic == "" {
			tactic = "unknown"
		}
		summary[tactic]++
	}
	return summary
}

// KillChainPhase orders tactics along the attack lifecycle; unknown tactics
// sort last.
func KillChainPhase(tactic string) int {
	order := map[string]int{
		"initial_access":       1,
		"execution":            2,
		"persistence":          3,
		"privilege_escalation": 4,
		"defense_evasion":      5,
		"credential_access":    6,
		"discovery":            7,
		"lateral_movement":     8,
		"collection":           9,
		"command_and_control":  10,
		"exfiltration":         11,
		"impact":               12,
	}
	if phase, ok := order[tactic]; ok {
		return phase
	}
	return 99
}
