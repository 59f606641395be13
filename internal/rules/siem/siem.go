// Package siem converts extracted indicators into hunting queries for
// Splunk SPL, QRadar AQL, Elasticsearch DSL and Microsoft Sentinel KQL.
package siem

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Query is one platform query generated for a single indicator bucket.
type Query struct {
	IOCType     string `json:"ioc_type"`
	Description string `json:"description"`
	Query       string `json:"query"`
	Severity    string `json:"severity"`
}

// FlatQuery is the per-platform combined form used in the final package.
type FlatQuery struct {
	Description string `json:"description"`
	Query       string `json:"query"`
	Notes       string `json:"notes"`
}

// Platforms lists the supported SIEM targets in output order.
var Platforms = []string{"splunk", "qradar", "elastic", "sentinel"}

const maxIndicatorsPerQuery = 30

var fieldMap = map[string]map[string]string{
	"splunk": {
		"process_name":   "Image",
		"command_line":   "CommandLine",
		"parent_process": "ParentImage",
		"source_ip":      "src_ip",
		"dest_ip":        "dest_ip",
		"dest_port":      "dest_port",
		"domain":         "query",
		"url":            "url",
		"filename":       "file_name",
		"registry_key":   "registry_key_name",
		"hash":           "file_hash",
		"user":           "user",
	},
	"qradar": {
		"process_name":   "Process Name",
		"command_line":   "Process CommandLine",
		"parent_process": "Parent Process Name",
		"source_ip":      "sourceip",
		"dest_ip":        "destinationip",
		"dest_port":      "destinationport",
		"domain":         "DNS Query",
		"url":            "URL",
		"filename":       "Filename",
		"registry_key":   "Registry Key",
		"hash":           "File Hash",
		"user":           "username",
	},
	"elastic": {
		"process_name":   "process.name",
		"command_line":   "process.command_line",
		"parent_process": "process.parent.name",
		"source_ip":      "source.ip",
		"dest_ip":        "destination.ip",
		"dest_port":      "destination.port",
		"domain":         "dns.question.name",
		"url":            "url.full",
		"filename":       "file.name",
		"registry_key":   "registry.path",
		"hash":           "file.hash.sha256",
		"user":           "user.name",
	},
	"sentinel": {
		"process_name":   "ProcessName",
		"command_line":   "CommandLine",
		"parent_process": "ParentProcessName",
		"source_ip":      "SourceIP",
		"dest_ip":        "DestinationIP",
		"dest_port":      "DestinationPort",
		"domain":         "DnsQuery",
		"url":            "RequestURL",
		"filename":       "FileName",
		"registry_key":   "RegistryKey",
		"hash":           "FileHash",
		"user":           "AccountName",
	},
}

// email_addresses has no standard field on any platform and is skipped.
var iocToField = map[string]string{
	"ips":                "dest_ip",
	"domains":            "domain",
	"urls":               "url",
	"filenames":          "filename",
	"file_hashes":        "hash",
	"registry_keys":      "registry_key",
	"process_names":      "process_name",
	"malicious_commands": "command_line",
}

var siemSources = map[string]map[string]string{
	"splunk": {
		"process":  "index=wineventlog sourcetype=WinEventLog:Sysmon EventCode=1",
		"network":  "index=wineventlog sourcetype=WinEventLog:Sysmon EventCode=3",
		"dns":      "index=wineventlog sourcetype=WinEventLog:Sysmon EventCode=22",
		"file":     "index=wineventlog sourcetype=WinEventLog:Sysmon EventCode=11",
		"registry": "index=wineventlog sourcetype=WinEventLog:Sysmon EventCode=13",
	},
	"qradar": {
		"process":  "SELECT * FROM events WHERE LOGSOURCETYPENAME(logsourceid)='Microsoft Windows Security Event Log' AND EventID IN (4688, 1)",
		"network":  "SELECT * FROM flows WHERE",
		"dns":      "SELECT * FROM events WHERE EventID=22",
		"file":     "SELECT * FROM events WHERE EventID IN (11, 23, 26)",
		"registry": "SELECT * FROM events WHERE EventID IN (12, 13, 14)",
	},
	"sentinel": {
		"process":  "SecurityEvent\n| where EventID == 4688",
		"network":  "CommonSecurityLog\n| where DeviceEventClassID == 3",
		"dns":      "DnsEvents",
		"file":     "DeviceFileEvents",
		"registry": "DeviceRegistryEvents",
	},
}

// substring matching for buckets whose values appear inside larger fields
var substringTypes = map[string]bool{
	"malicious_commands": true,
	"process_names":      true,
	"filenames":          true,
}

// Generate builds queries for all four platforms from the analysis payload.
// Buckets without a standard field mapping are skipped on every platform.
func Generate(analysis map[string]any) map[string][]Query {
	results := map[string][]Query{
		"splunk":   {},
		"qradar":   {},
		"elastic":  {},
		"sentinel": {},
	}

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
		field, ok := iocToField[iocType]
		if !ok {
			continue
		}
		if len(indicators) > maxIndicatorsPerQuery {
			indicators = indicators[:maxIndicatorsPerQuery]
		}

		description := fmt.Sprintf("Detection query for %s (%d indicators)",
			strings.ReplaceAll(iocType, "_", " "), len(indicators))
		severity := "medium"
		if iocType == "malicious_commands" || iocType == "file_hashes" {
			severity = "high"
		}

		queries := map[string]string{
			"splunk":   splunkQuery(iocType, indicators, field),
			"qradar":   qradarQuery(iocType, indicators, field),
			"elastic":  elasticQuery(iocType, indicators, field),
			"sentinel": sentinelQuery(iocType, indicators, field),
		}
		for _, platform := range Platforms {
			results[platform] = append(results[platform], Query{
				IOCType:     iocType,
				Description: description,
				Query:       queries[platform],
				Severity:    severity,
			})
		}
	}

	total := 0
	for _, queries := range results {
		total += len(queries)
	}
	log.Info().Int("queries", total).Msg("Generated SIEM queries across 4 platforms")

	return results
}

// Flatten combines each platform's queries into a single entry. Platforms
// without queries get an explicit N/A placeholder so the response schema
// stays complete.
func Flatten(results map[string][]Query) map[string]FlatQuery {
	flat := make(map[string]FlatQuery, len(Platforms))
	for _, platform := range Platforms {
		queries := results[platform]
		if len(queries) == 0 {
			flat[platform] = FlatQuery{
				Description: "No IoC indicators available",
				Query:       "N/A",
				Notes:       "No relevant indicators found for this platform",
			}
			continue
		}
		parts := make([]string, 0, len(queries))
		descriptions := make([]string, 0, len(queries))
		for _, q := range queries {
			parts = append(parts, q.Query)
			descriptions = append(descriptions, q.Description)
		}
		flat[platform] = FlatQuery{
			Description: strings.Join(descriptions, ", "),
			Query:       strings.Join(parts, "\n\n/* --- */\n\n"),
			Notes:       fmt.Sprintf("%d detection queries generated by PERSEPTOR", len(queries)),
		}
	}
	return flat
}

func eventCategory(iocType string) string {
	switch iocType {
	case "malicious_commands", "process_names":
		return "process"
	case "ips":
		return "network"
	case "domains":
		return "dns"
	case "filenames", "file_hashes":
		return "file"
	case "registry_keys":
		return "registry"
	default:
		return ""
	}
}

func splunkQuery(iocType string, indicators []string, field string) string {
	platformField := fieldMap["splunk"][field]

	source, ok := siemSources["splunk"][eventCategory(iocType)]
	if !ok {
		source = "index=* sourcetype=*"
	}

	terms := make([]string, 0, len(indicators))
	for _, ioc := range indicators {
		safe := strings.ReplaceAll(ioc, `"`, `\"`)
		if substringTypes[iocType] {
			terms = append(terms, fmt.Sprintf(`%s="*%s*"`, platformField, safe))
		} else {
			terms = append(terms, fmt.Sprintf(`%s="%s"`, platformField, safe))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n| where (%s)", source, strings.Join(terms, " OR "))
	fmt.Fprintf(&b, "\n| stats count by %s, ComputerName, User", platformField)
	b.WriteString("\n| sort - count")
	return b.String()
}

func qradarQuery(iocType string, indicators []string, field string) string {
	platformField := fieldMap["qradar"][field]

	base, ok := siemSources["qradar"][eventCategory(iocType)]
	if !ok {
		base = "SELECT * FROM events WHERE"
	}

	conditions := make([]string, 0, len(indicators))
	for _, ioc := range indicators {
		safe := strings.ReplaceAll(ioc, "'", "''")
		if substringTypes[iocType] {
			conditions = append(conditions, fmt.Sprintf("UTF8(payload) LIKE '%%%s%%'", safe))
		} else {
			conditions = append(conditions, fmt.Sprintf(`"%s" = '%s'`, platformField, safe))
		}
	}
	whereClause := strings.Join(conditions, " OR ")

	var query string
	if strings.Contains(base, "WHERE") {
		query = fmt.Sprintf("%s AND (%s)", base, whereClause)
	} else {
		query = fmt.Sprintf("%s (%s)", base, whereClause)
	}
	return query + " ORDER BY starttime DESC LAST 24 HOURS"
}

// elasticDoc mirrors the Elasticsearch search body. Structs keep the key
// order stable in the serialized JSON.
type elasticDoc struct {
	Query elasticBoolWrap  `json:"query"`
	Sort  []map[string]any `json:"sort"`
	Size  int              `json:"size"`
}

type elasticBoolWrap struct {
	Bool elasticBool `json:"bool"`
}

type elasticBool struct {
	Should             []map[string]any `json:"should"`
	MinimumShouldMatch int              `json:"minimum_should_match"`
}

func elasticQuery(iocType string, indicators []string, field string) string {
	platformField := fieldMap["elastic"][field]

	should := make([]map[string]any, 0, len(indicators))
	for _, ioc := range indicators {
		if substringTypes[iocType] {
			should = append(should, map[string]any{
				"wildcard": map[string]any{platformField: "*" + ioc + "*"},
			})
		} else {
			should = append(should, map[string]any{
				"term": map[string]any{platformField: ioc},
			})
		}
	}

	doc := elasticDoc{
		Query: elasticBoolWrap{Bool: elasticBool{Should: should, MinimumShouldMatch: 1}},
		Sort:  []map[string]any{{"@timestamp": map[string]any{"order": "desc"}}},
		Size:  100,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Error().Err(err).Str("ioc_type", iocType).Msg("Failed to serialize Elastic query")
		return ""
	}
	return string(out)
}

func sentinelQuery(iocType string, indicators []string, field string) string {
	platformField := fieldMap["sentinel"][field]

	source, ok := siemSources["sentinel"][eventCategory(iocType)]
	if !ok {
		source = "SecurityEvent"
	}

	var whereClause string
	if substringTypes[iocType] {
		conditions := make([]string, 0, len(indicators))
		for _, ioc := range indicators {
			conditions = append(conditions, fmt.Sprintf(`%s contains "%s"`, platformField, ioc))
		}
		whereClause = strings.Join(conditions, " or ")
	} else {
		quoted := make([]string, 0, len(indicators))
		for _, ioc := range indicators {
			quoted = append(quoted, `"`+ioc+`"`)
		}
		whereClause = fmt.Sprintf("%s in (%s)", platformField, strings.Join(quoted, ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n| where %s", source, whereClause)
	fmt.Fprintf(&b, "\n| project TimeGenerated, %s, Computer, Account", platformField)
	b.WriteString("\n| sort by TimeGenerated desc")
	return b.String()
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
