package siem

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analysisWith(iocs map[string]any) map[string]any {
	return map[string]any{"indicators_of_compromise": iocs}
}

func TestGenerate_AllFourPlatforms(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"ips": []any{"185.220.101.45"},
	}))

	for _, platform := range Platforms {
		require.Len(t, results[platform], 1, platform)
		q := results[platform][0]
		assert.Equal(t, "ips", q.IOCType)
		assert.Equal(t, "medium", q.Severity)
		assert.Equal(t, "Detection query for ips (1 indicators)", q.Description)
	}
}

func TestGenerate_SplunkWildcardVsExact(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"malicious_commands": []any{"vssadmin delete shadows"},
		"ips":                []any{"10.0.0.5"},
	}))

	var byType = map[string]Query{}
	for _, q := range results["splunk"] {
		byType[q.IOCType] = q
	}

	assert.Contains(t, byType["malicious_commands"].Query, `CommandLine="*vssadmin delete shadows*"`)
	assert.Contains(t, byType["malicious_commands"].Query, "EventCode=1")
	assert.Contains(t, byType["ips"].Query, `dest_ip="10.0.0.5"`)
	assert.Contains(t, byType["ips"].Query, "EventCode=3")
	assert.Contains(t, byType["ips"].Query, "| sort - count")
}

func TestGenerate_QRadarPayloadSearchAndEscaping(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"malicious_commands": []any{"echo 'pwned'"},
		"domains":            []any{"evil.example"},
	}))

	var byType = map[string]Query{}
	for _, q := range results["qradar"] {
		byType[q.IOCType] = q
	}

	assert.Contains(t, byType["malicious_commands"].Query, "UTF8(payload) LIKE '%echo ''pwned''%'")
	assert.Contains(t, byType["malicious_commands"].Query, "AND (")
	assert.Contains(t, byType["domains"].Query, `"DNS Query" = 'evil.example'`)
	assert.Contains(t, byType["domains"].Query, "ORDER BY starttime DESC LAST 24 HOURS")
}

func TestGenerate_ElasticDSLShape(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"filenames":   []any{"dropper.exe", "loader.dll"},
		"file_hashes": []any{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}))

	var byType = map[string]Query{}
	for _, q := range results["elastic"] {
		byType[q.IOCType] = q
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(byType["filenames"].Query), &doc))

	boolQuery := doc["query"].(map[string]any)["bool"].(map[string]any)
	should := boolQuery["should"].([]any)
	require.Len(t, should, 2)
	wildcard := should[0].(map[string]any)["wildcard"].(map[string]any)
	assert.Equal(t, "*dropper.exe*", wildcard["file.name"])
	assert.Equal(t, float64(1), boolQuery["minimum_should_match"])
	assert.Equal(t, float64(100), doc["size"])

	require.NoError(t, json.Unmarshal([]byte(byType["file_hashes"].Query), &doc))
	term := doc["query"].(map[string]any)["bool"].(map[string]any)["should"].([]any)[0].(map[string]any)["term"].(map[string]any)
	assert.Contains(t, term, "file.hash.sha256")
}

func TestGenerate_SentinelContainsVsIn(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"process_names": []any{"mimikatz.exe", "procdump.exe"},
		"registry_keys": []any{`HKCU\Software\Run\Updater`},
	}))

	var byType = map[string]Query{}
	for _, q := range results["sentinel"] {
		byType[q.IOCType] = q
	}

	assert.Contains(t, byType["process_names"].Query, `ProcessName contains "mimikatz.exe" or ProcessName contains "procdump.exe"`)
	assert.Contains(t, byType["process_names"].Query, "| where EventID == 4688")
	assert.Contains(t, byType["registry_keys"].Query, `RegistryKey in ("HKCU\Software\Run\Updater")`)
	assert.Contains(t, byType["registry_keys"].Query, "DeviceRegistryEvents")
	assert.Contains(t, byType["registry_keys"].Query, "| project TimeGenerated, RegistryKey, Computer, Account")
}

func TestGenerate_SkipsUnmappedAndEmptyBuckets(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"email_addresses": []any{"phish@evil.example"},
		"domains":         []any{},
		"unknown_bucket":  []any{"x"},
	}))

	for _, platform := range Platforms {
		assert.Empty(t, results[platform])
	}
}

func TestGenerate_CapsIndicatorsAtThirty(t *testing.T) {
	many := make([]any, 40)
	for i := range many {
		many[i] = "host" + strings.Repeat("x", i+1) + ".example"
	}
	results := Generate(analysisWith(map[string]any{"domains": many}))

	q := results["splunk"][0]
	assert.Equal(t, 30, strings.Count(q.Query, "query="))
	assert.Contains(t, q.Description, "(30 indicators)")
}

func TestFlatten_CombinesAndPlaceholders(t *testing.T) {
	results := Generate(analysisWith(map[string]any{
		"ips":     []any{"10.0.0.5"},
		"domains": []any{"evil.example"},
	}))
	flat := Flatten(results)

	splunk := flat["splunk"]
	assert.Equal(t, 1, strings.Count(splunk.Query, "\n\n/* --- */\n\n"))
	assert.Contains(t, splunk.Description, "Detection query for domains")
	assert.Contains(t, splunk.Description, "Detection query for ips")
	assert.Equal(t, "2 detection queries generated by PERSEPTOR", splunk.Notes)
}

func TestFlatten_EmptyPlatform(t *testing.T) {
	flat := Flatten(Generate(map[string]any{}))

	for _, platform := range Platforms {
		assert.Equal(t, "N/A", flat[platform].Query)
		assert.Equal(t, "No IoC indicators available", flat[platform].Description)
		assert.Equal(t, "No relevant indicators found for this platform", flat[platform].Notes)
	}
}
