// Package yara generates YARA rules from extracted indicators.
package yara

import (
	"fmt"
	"strings"
	"time"
)

// categoryModifiers maps each indicator bucket to the YARA string modifiers
// appropriate for its content. Order matters for stable output.
var categoryOrder = []string{
	"ips", "domains", "urls", "email_addresses",
	"file_hashes", "filenames", "registry_keys",
	"process_names", "malicious_commands",
}

var categoryModifiers = map[string]string{
	"ips":                "ascii fullword",
	"domains":            "nocase",
	"urls":               "ascii wide",
	"email_addresses":    "nocase",
	"file_hashes":        "ascii fullword",
	"filenames":          "nocase",
	"registry_keys":      "nocase",
	"process_names":      "nocase",
	"malicious_commands": "ascii wide nocase",
}

// Generate builds one rule per non-empty indicator bucket plus a dedicated
// command-detection rule, joined by blank lines. Buckets with no indicators
// produce no rule; an empty analysis yields an empty string.
func Generate(analysis map[string]any) string {
	var rules []string
	date := time.Now().Format("2006-01-02")

	iocs, _ := analysis["indicators_of_compromise"].(map[string]any)

	for _, category := range categoryOrder {
		values := stringValues(iocs[category])
		if len(values) == 0 {
			continue
		}
		strs := make([]string, 0, len(values))
		for i, v := range values {
			strs = append(strs, fmt.Sprintf("$%s_%d = \"%s\" %s", category, i, escape(v), categoryModifiers[category]))
		}
		rules = append(rules, buildRule(
			fmt.Sprintf("Suspicious_%s_Match", titleCase(category)),
			fmt.Sprintf("Detects suspicious %s IoCs", category),
			date, strs,
		))
	}

	if commands := stringValues(iocs["malicious_commands"]); len(commands) > 0 {
		strs := make([]string, 0, len(commands))
		for i, cmd := range commands {
			strs = append(strs, fmt.Sprintf("$cmd_%d = \"%s\"", i, escape(cmd)))
		}
		rules = append(rules, buildRule(
			"Suspicious_Command_Detection",
			"Detects malicious command usage",
			date, strs,
		))
	}

	return strings.Join(rules, "\n\n")
}

func buildRule(name, description, date string, strs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule %s\n{\n", name)
	b.WriteString("    meta:\n")
	fmt.Fprintf(&b, "        description = \"%s\"\n", description)
	b.WriteString("        author = \"PERSEPTOR\"\n")
	fmt.Fprintf(&b, "        date = \"%s\"\n", date)
	b.WriteString("        reference = \"Generated from AI-based IoC Analysis\"\n\n")
	b.WriteString("    strings:\n")
	for _, s := range strs {
		b.WriteString("        " + s + "\n")
	}
	b.WriteString("\n    condition:\n        any of them\n}")
	return b.String()
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// titleCase upper-cases each underscore-separated segment, so
// "file_hashes" becomes "File_Hashes".
func titleCase(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "_")
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
