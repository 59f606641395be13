// Package sigma generates structural Sigma detection rules from extracted
// indicators, one rule per indicator bucket.
package sigma

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Rule is one generated Sigma rule plus its metadata.
type Rule struct {
	Title    string   `json:"title"`
	RuleYAML string   `json:"rule_yaml"`
	Category string   `json:"category"`
	Level    string   `json:"level"`
	Tags     []string `json:"tags"`
	IOCType  string   `json:"ioc_type"`
	IOCCount int      `json:"ioc_count"`
}

// ruleDoc is the serialized Sigma document. Field order follows SigmaHQ
// convention, preserved by yaml.v3 struct marshalling.
type ruleDoc struct {
	Title          string            `yaml:"title"`
	ID             string            `yaml:"id"`
	Status         string            `yaml:"status"`
	Description    string            `yaml:"description"`
	References     []string          `yaml:"references"`
	Author         string            `yaml:"author"`
	Date           string            `yaml:"date"`
	Tags           []string          `yaml:"tags"`
	Logsource      map[string]string `yaml:"logsource"`
	Detection      map[string]any    `yaml:"detection"`
	Fields         []string          `yaml:"fields"`
	FalsePositives []string          `yaml:"falsepositives"`
	Level          string            `yaml:"level"`
}

const maxIndicatorsPerRule = 50

var logsourceMap = map[string]map[string]string{
	"process":    {"category": "process_creation", "product": "windows"},
	"network":    {"category": "firewall", "product": "windows"},
	"dns":        {"category": "dns_query", "product": "windows"},
	"file":       {"category": "file_event", "product": "windows"},
	"registry":   {"category": "registry_set", "product": "windows"},
	"image_load": {"category": "image_load", "product": "windows"},
}

var iocCategoryMap = map[string]string{
	"malicious_commands": "process",
	"process_names":      "process",
	"filenames":          "file",
	"registry_keys":      "registry",
	"ips":                "network",
	"domains":            "dns",
	"urls":               "network",
	"file_hashes":        "file",
}

var iocFieldMap = map[string]string{
	"malicious_commands": "CommandLine",
	"process_names":      "Image",
	"filenames":          "TargetFilename",
	"registry_keys":      "TargetObject",
	"ips":                "DestinationIp",
	"domains":            "QueryName",
	"urls":               "RequestUrl",
	"file_hashes":        "Hashes",
}

// substring matching for buckets whose values appear inside larger fields
var containsTypes = map[string]bool{
	"malicious_commands": true,
	"process_names":      true,
	"filenames":          true,
	"urls":               true,
}

var categoryFields = map[string][]string{
	"process":    {"CommandLine", "ParentCommandLine", "ParentImage", "User", "IntegrityLevel"},
	"network":    {"DestinationIp", "DestinationPort", "SourceIp", "SourcePort"},
	"dns":        {"QueryName", "QueryType", "QueryResults"},
	"file":       {"TargetFilename", "Image", "CreationUtcTime"},
	"registry":   {"TargetObject", "Details", "Image"},
	"image_load": {"ImageLoaded", "Image", "Signed", "SignatureStatus"},
}

var tacticKeywords = map[string][]string{
	"execution":           {"cmd", "powershell", "wscript", "cscript", "mshta", "rundll32", "regsvr32"},
	"persistence":         {"registry", "scheduled", "startup", "service", `run\`},
	"defense_evasion":     {"bypass", "hidden", "encoded", "base64", "-enc", "-w hidden"},
	"credential_access":   {"mimikatz", "lsass", "sam", "credential", "password", "ntds"},
	"discovery":           {"whoami", "ipconfig", "netstat", "systeminfo", "tasklist", "net user"},
	"lateral_movement":    {"psexec", "wmic", "winrm", "rdp", "smb"},
	"command_and_control": {"beacon", "callback", "c2", "tunnel"},
	"exfiltration":        {"upload", "exfil", "compress", "archive"},
}

var typeTactics = map[string][]string{
	"malicious_commands": {"execution"},
	"process_names":      {"execution"},
	"filenames":          {"persistence"},
	"registry_keys":      {"persistence"},
	"ips":                {"command_and_control"},
	"domains":            {"command_and_control"},
	"urls":               {"command_and_control"},
	"file_hashes":        {"execution"},
}

var titleSanitizeRe = regexp.MustCompile(`[^\w\s\-\.]`)

// Generate builds one structural rule per non-empty, mapped indicator
// bucket. When nothing is mapped a single low-level placeholder rule is
// emitted so downstream stages always have YAML to work with.
func Generate(analysis map[string]any, articleURL, aiTitle, aiDescription string) []Rule {
	var rules []Rule
	date := time.Now().Format("2006/01/02")

	iocs, _ := analysis["indicators_of_compromise"].(map[string]any)

	iocTypes := make([]string, 0, len(iocs))
	for iocType := range iocs {
		iocTypes = append(iocTypes, iocType)
	}
	sort.Strings(iocTypes)

	for _, iocType := range iocTypes {
		indicators := stringValues(iocs[iocType])
		if len(indicators) == 0 {
			continue
		}
		category, ok := iocCategoryMap[iocType]
		if !ok {
			continue
		}
		if len(indicators) > maxIndicatorsPerRule {
			indicators = indicators[:maxIndicatorsPerRule]
		}

		field := iocFieldMap[iocType]
		logsource := logsourceMap[category]
		tags := detectTactics(iocType, indicators)
		level := determineLevel(iocType, len(indicators))

		title := aiTitle
		if title == "" {
			title = fmt.Sprintf("PERSEPTOR - Suspicious %s Detection", titleize(iocType))
		}
		title = sanitizeTitle(title)

		description := aiDescription
		if description == "" {
			description = fmt.Sprintf("Detects suspicious %s indicators identified by PERSEPTOR AI analysis.",
				strings.ReplaceAll(iocType, "_", " "))
		}

		references := []string{}
		if articleURL != "" {
			references = []string{articleURL}
		}

		doc := ruleDoc{
			Title:       title,
			ID:          uuid.NewString(),
			Status:      "experimental",
			Description: description,
			References:  references,
			Author:      "PERSEPTOR - Aytek AYTEMUR",
			Date:        date,
			Tags:        tags,
			Logsource:   logsource,
			Detection:   buildDetection(field, indicators, containsTypes[iocType]),
			Fields:      categoryFields[category],
			FalsePositives: []string{
				"Legitimate administrative activity",
				"Security tools using similar patterns",
			},
			Level: level,
		}

		ruleYAML, err := yaml.Marshal(doc)
		if err != nil {
			log.Error().Err(err).Str("ioc_type", iocType).Msg("Failed to serialize Sigma rule")
			continue
		}

		rules = append(rules, Rule{
			Title:    title,
			RuleYAML: string(ruleYAML),
			Category: category,
			Level:    level,
			Tags:     tags,
			IOCType:  iocType,
			IOCCount: len(indicators),
		})

		log.Info().Str("title", title).Str("category", category).
			Str("level", level).Int("ioc_count", len(indicators)).
			Msg("Generated Sigma rule")
	}

	if len(rules) == 0 {
		rules = append(rules, placeholderRule(articleURL, aiTitle, aiDescription, date))
	}

	log.Info().Int("rules", len(rules)).Msg("Sigma generation complete")
	return rules
}

// ToYAML joins rules into a multi-document YAML string.
func ToYAML(rules []Rule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		parts = append(parts, r.RuleYAML)
	}
	return strings.Join(parts, "\n---\n")
}

func placeholderRule(articleURL, aiTitle, aiDescription, date string) Rule {
	title := aiTitle
	if title == "" {
		title = "PERSEPTOR - No IoC Detected"
	}
	description := aiDescription
	if description == "" {
		description = "No malicious indicators detected in AI analysis"
	}
	references := []string{}
	if articleURL != "" {
		references = []string{articleURL}
	}

	doc := ruleDoc{
		Title:       title,
		ID:          uuid.NewString(),
		Status:      "experimental",
		Description: description,
		References:  references,
		Author:      "PERSEPTOR - Aytek AYTEMUR",
		Date:        date,
		Tags:        []string{"attack.execution"},
		Logsource:   logsourceMap["process"],
		Detection: map[string]any{
			"selection": map[string]any{"CommandLine|contains": "placeholder"},
			"condition": "selection",
		},
		Fields:         []string{"CommandLine", "ParentCommandLine"},
		FalsePositives: []string{"N/A"},
		Level:          "low",
	}
	ruleYAML, _ := yaml.Marshal(doc)

	return Rule{
		Title:    title,
		RuleYAML: string(ruleYAML),
		Category: "process",
		Level:    "low",
		Tags:     []string{"attack.execution"},
		IOCType:  "none",
		IOCCount: 0,
	}
}

func buildDetection(field string, indicators []string, useContains bool) map[string]any {
	key := field
	if useContains {
		key = field + "|contains"
	}
	var value any
	if len(indicators) == 1 {
		value = indicators[0]
	} else {
		value = indicators
	}
	return map[string]any{
		"selection": map[string]any{key: value},
		"condition": "selection",
	}
}

func detectTactics(iocType string, indicators []string) []string {
	set := make(map[string]bool)
	for _, t := range typeTactics[iocType] {
		set[t] = true
	}

	allText := strings.ToLower(strings.Join(indicators, " "))
	for tactic, keywords := range tacticKeywords {
		for _, kw := range keywords {
			if strings.Contains(allText, kw) {
				set[tactic] = true
				break
			}
		}
	}

	tags := make([]string, 0, len(set))
	for tactic := range set {
		tags = append(tags, "attack."+tactic)
	}
	sort.Strings(tags)
	return tags
}

func determineLevel(iocType string, count int) string {
	switch iocType {
	case "malicious_commands", "file_hashes":
		if count <= 5 {
			return "high"
		}
		return "critical"
	case "process_names", "registry_keys", "ips":
		return "medium"
	default:
		return "low"
	}
}

func sanitizeTitle(title string) string {
	sanitized := titleSanitizeRe.ReplaceAllString(title, "")
	if len(sanitized) > 80 {
		sanitized = sanitized[:80]
	}
	return strings.TrimSpace(sanitized)
}

func titleize(iocType string) string {
	words := strings.Split(strings.ReplaceAll(iocType, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func stringValues(raw any) []string {
	values, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
