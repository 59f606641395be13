package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// IOCCategories is the closed set of indicator buckets every extraction
// result carries, present even when empty.
var IOCCategories = []string{
	"ips", "domains", "urls", "email_addresses",
	"file_hashes", "filenames", "registry_keys",
	"process_names", "malicious_commands",
}

// SIEMPlatforms is the closed set of query targets.
var SIEMPlatforms = []string{"splunk", "qradar", "elastic", "sentinel"}

var siemQuerySubfields = []string{"description", "query", "notes"}

// ValidateIOCResponse normalizes an IoC extraction result in place: missing
// top-level fields and indicator buckets get defaults, bare-string TTPs are
// wrapped into objects, and the confidence level is forced into the closed
// set. Returns whether the input was already well-formed plus the warnings.
func ValidateIOCResponse(data map[string]any) (bool, map[string]any, []string) {
	var warnings []string

	stringFields := []string{"sigma_title", "sigma_description", "confidence_level"}
	listFields := []string{"ttps", "tools_or_malware", "threat_actors"}

	for _, field := range stringFields {
		if _, ok := data[field]; !ok {
			data[field] = ""
			warnings = append(warnings, fmt.Sprintf("Missing field '%s', added default", field))
		}
	}
	for _, field := range listFields {
		if _, ok := data[field]; !ok {
			data[field] = []any{}
			warnings = append(warnings, fmt.Sprintf("Missing field '%s', added default", field))
		}
	}
	if _, ok := data["indicators_of_compromise"]; !ok {
		data["indicators_of_compromise"] = map[string]any{}
		warnings = append(warnings, "Missing field 'indicators_of_compromise', added default")
	}

	ioc, ok := data["indicators_of_compromise"].(map[string]any)
	if !ok {
		ioc = map[string]any{}
	}
	for _, category := range IOCCategories {
		if _, ok := ioc[category]; !ok {
			ioc[category] = []any{}
			warnings = append(warnings, fmt.Sprintf("Missing IoC field '%s', added empty list", category))
		}
	}
	data["indicators_of_compromise"] = ioc

	// TTPs may arrive as objects or bare technique strings
	validTTPs := make([]any, 0)
	if ttps, ok := data["ttps"].([]any); ok {
		for _, raw := range ttps {
			switch ttp := raw.(type) {
			case map[string]any:
				if _, ok := ttp["mitre_id"]; ok {
					validTTPs = append(validTTPs, ttp)
				}
			case string:
				mitreID := ""
				if strings.HasPrefix(ttp, "T") {
					mitreID = ttp
				}
				validTTPs = append(validTTPs, map[string]any{
					"mitre_id":       mitreID,
					"technique_name": ttp,
					"description":    "",
				})
			}
		}
	}
	data["ttps"] = validTTPs

	level, _ := data["confidence_level"].(string)
	if level != "high" && level != "medium" && level != "low" {
		data["confidence_level"] = "medium"
		warnings = append(warnings, "Invalid confidence_level, defaulted to 'medium'")
	}

	return len(warnings) == 0, data, warnings
}

// ValidateSIEMResponse ensures every platform key is present with its
// description/query/notes subfields, inserting explicit error placeholders
// for platforms the model skipped.
func ValidateSIEMResponse(data map[string]any) (bool, map[string]any, []string) {
	var warnings []string

	for _, platform := range SIEMPlatforms {
		raw, ok := data[platform]
		if !ok {
			data[platform] = map[string]any{
				"description": fmt.Sprintf("%s query (missing from response)", platform),
				"query":       "ERROR: Query not generated",
				"notes":       "AI response did not include this platform",
			}
			warnings = append(warnings, fmt.Sprintf("Missing platform '%s', added placeholder", platform))
			continue
		}
		entry, ok := raw.(map[string]any)
		if !ok {
			entry = map[string]any{}
			data[platform] = entry
		}
		for _, subfield := range siemQuerySubfields {
			if _, ok := entry[subfield]; !ok {
				entry[subfield] = ""
				warnings = append(warnings, fmt.Sprintf("Missing '%s.%s'", platform, subfield))
			}
		}
	}

	return len(warnings) == 0, data, warnings
}

// ValidateRuleResponse normalizes a rule-generation result: defaults for
// missing fields and all scores scaled into [0,1] (values above 1 are read
// as percentages).
func ValidateRuleResponse(data map[string]any) (bool, map[string]any, []string) {
	var warnings []string

	defaults := map[string]any{
		"rule":             map[string]any{},
		"explanation":      "",
		"test_cases":       []any{},
		"mitre_techniques": []any{},
		"recommendations":  []any{},
		"confidence_score": 0.0,
		"component_scores": map[string]any{},
	}
	for field, def := range defaults {
		if _, ok := data[field]; !ok {
			data[field] = def
			warnings = append(warnings, fmt.Sprintf("Missing field '%s', added default", field))
		}
	}

	if score, ok := asFloat(data["confidence_score"]); ok {
		data["confidence_score"] = clampScore(score)
	} else {
		data["confidence_score"] = 0.5
		warnings = append(warnings, "Invalid confidence_score type, defaulted to 0.5")
	}

	if scores, ok := data["component_scores"].(map[string]any); ok {
		for _, key := range []string{"detection_quality", "false_positive_risk", "coverage", "maintainability"} {
			raw, present := scores[key]
			if !present {
				scores[key] = 0.5
				warnings = append(warnings, fmt.Sprintf("Missing component_score '%s'", key))
				continue
			}
			if val, ok := asFloat(raw); ok {
				scores[key] = clampScore(val)
			}
		}
	}

	return len(warnings) == 0, data, warnings
}

var sigmaLevelRe = regexp.MustCompile(`level:\s*(\w+)`)

// ValidateSigmaYAML runs cheap textual checks over generated Sigma YAML.
func ValidateSigmaYAML(yamlText string) (bool, []string) {
	var warnings []string

	for _, field := range []string{"title", "logsource", "detection", "level"} {
		if !strings.Contains(yamlText, field+":") {
			warnings = append(warnings, "Missing required Sigma field: "+field)
		}
	}

	if strings.Contains(yamlText, "level:") {
		if m := sigmaLevelRe.FindStringSubmatch(yamlText); m != nil {
			level := strings.ToLower(m[1])
			switch level {
			case "informational", "low", "medium", "high", "critical":
			default:
				warnings = append(warnings, fmt.Sprintf("Invalid level '%s'", level))
			}
		}
	}

	return len(warnings) == 0, warnings
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func clampScore(v float64) float64 {
	if v > 1 {
		v = v / 100.0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
