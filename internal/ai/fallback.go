package ai

import (
	"encoding/json"
	"strings"
)

// FallbackSIEMQueries derives minimal per-platform queries from the rule
// text when the model's SIEM conversion cannot be parsed. The result keeps
// the same shape as a validated conversion.
func FallbackSIEMQueries(sigmaRules string) map[string]any {
	rulesText := strings.ToLower(sigmaRules)
	hasProcess := strings.Contains(rulesText, "process")
	hasCommand := strings.Contains(rulesText, "command")
	hasFile := strings.Contains(rulesText, "file")

	splunk := "index=* "
	if hasProcess {
		splunk += "| search ProcessName=* "
	}
	if hasCommand {
		splunk += "| search CommandLine=* "
	}
	if hasFile {
		splunk += "| search FileName=* "
	}

	var qradarConditions []string
	if hasProcess {
		qradarConditions = append(qradarConditions, "processname IS NOT NULL")
	}
	if hasCommand {
		qradarConditions = append(qradarConditions, "commandline IS NOT NULL")
	}
	qradar := "SELECT * FROM events WHERE "
	if len(qradarConditions) > 0 {
		qradar += strings.Join(qradarConditions, " AND ")
	} else {
		qradar += "1=1"
	}

	must := []any{}
	if hasProcess {
		must = append(must, map[string]any{"exists": map[string]any{"field": "process.name"}})
	}
	if hasCommand {
		must = append(must, map[string]any{"exists": map[string]any{"field": "process.command_line"}})
	}
	elasticDoc := map[string]any{"query": map[string]any{"bool": map[string]any{"must": must}}}
	elasticJSON, _ := json.Marshal(elasticDoc)

	var sentinelConditions []string
	if hasProcess {
		sentinelConditions = append(sentinelConditions, `ProcessName contains ""`)
	}
	if hasCommand {
		sentinelConditions = append(sentinelConditions, `CommandLine contains ""`)
	}
	sentinel := "SecurityEvent | where "
	if len(sentinelConditions) > 0 {
		sentinel += strings.Join(sentinelConditions, " and ")
	} else {
		sentinel += "1=1"
	}

	const note = "Basic fallback query. Please customize for your environment."
	return map[string]any{
		"splunk":   map[string]any{"description": "Splunk SPL (fallback)", "query": splunk, "notes": note},
		"qradar":   map[string]any{"description": "QRadar AQL (fallback)", "query": qradar, "notes": note},
		"elastic":  map[string]any{"description": "Elasticsearch (fallback)", "query": string(elasticJSON), "notes": note},
		"sentinel": map[string]any{"description": "Sentinel KQL (fallback)", "query": sentinel, "notes": note},
	}
}
