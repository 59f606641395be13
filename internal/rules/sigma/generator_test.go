package sigma

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func analysisWith(iocs map[string]any) map[string]any {
	return map[string]any{"indicators_of_compromise": iocs}
}

func TestGenerate_OneRulePerBucket(t *testing.T) {
	rules := Generate(analysisWith(map[string]any{
		"malicious_commands": []any{"vssadmin delete shadows /all"},
		"domains":            []any{"evil.example"},
		"registry_keys":      []any{`HKCU\Software\Run\Updater`},
	}), "", "", "")

	require.Len(t, rules, 3)

	byType := map[string]Rule{}
	for _, r := range rules {
		byType[r.IOCType] = r
	}

	assert.Equal(t, "process", byType["malicious_commands"].Category)
	assert.Equal(t, "dns", byType["domains"].Category)
	assert.Equal(t, "registry", byType["registry_keys"].Category)
}

func TestGenerate_RuleDocShape(t *testing.T) {
	rules := Generate(analysisWith(map[string]any{
		"malicious_commands": []any{"powershell -enc SQBFAFgA"},
	}), "https://example.com/report", "Custom Title", "Custom description")

	require.Len(t, rules, 1)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rules[0].RuleYAML), &doc))

	assert.Equal(t, "Custom Title", doc["title"])
	assert.Equal(t, "experimental", doc["status"])
	assert.Equal(t, "Custom description", doc["description"])
	assert.Equal(t, []any{"https://example.com/report"}, doc["references"])
	assert.NotEmpty(t, doc["id"])
	assert.Equal(t, "high", doc["level"])

	logsource := doc["logsource"].(map[string]any)
	assert.Equal(t, "process_creation", logsource["category"])
	assert.Equal(t, "windows", logsource["product"])

	detection := doc["detection"].(map[string]any)
	selection := detection["selection"].(map[string]any)
	assert.Equal(t, "powershell -enc SQBFAFgA", selection["CommandLine|contains"])
	assert.Equal(t, "selection", detection["condition"])
}

func TestGenerate_ContainsOnlyForSubstringBuckets(t *testing.T) {
	rules := Generate(analysisWith(map[string]any{
		"ips":       []any{"185.220.101.45"},
		"filenames": []any{"dropper.exe"},
	}), "", "", "")

	byType := map[string]Rule{}
	for _, r := range rules {
		byType[r.IOCType] = r
	}

	assert.Contains(t, byType["filenames"].RuleYAML, "TargetFilename|contains")
	assert.Contains(t, byType["ips"].RuleYAML, "DestinationIp")
	assert.NotContains(t, byType["ips"].RuleYAML, "DestinationIp|contains")
}

func TestGenerate_LevelByTypeAndCount(t *testing.T) {
	many := make([]any, 6)
	for i := range many {
		many[i] = "cmd" + strings.Repeat("x", i+1)
	}

	rules := Generate(analysisWith(map[string]any{"malicious_commands": many}), "", "", "")
	require.Len(t, rules, 1)
	assert.Equal(t, "critical", rules[0].Level)

	rules = Generate(analysisWith(map[string]any{"process_names": []any{"evil.exe"}}), "", "", "")
	assert.Equal(t, "medium", rules[0].Level)

	rules = Generate(analysisWith(map[string]any{"domains": []any{"evil.example"}}), "", "", "")
	assert.Equal(t, "low", rules[0].Level)
}

func TestGenerate_TacticTags(t *testing.T) {
	rules := Generate(analysisWith(map[string]any{
		"malicious_commands": []any{"powershell -enc payload", "mimikatz sekurlsa"},
	}), "", "", "")
	require.Len(t, rules, 1)

	assert.Contains(t, rules[0].Tags, "attack.execution")
	assert.Contains(t, rules[0].Tags, "attack.defense_evasion")
	assert.Contains(t, rules[0].Tags, "attack.credential_access")
	assert.True(t, sortedStrings(rules[0].Tags))
}

func TestGenerate_CapsIndicatorsAtFifty(t *testing.T) {
	many := make([]any, 60)
	for i := range many {
		many[i] = strings.Repeat("d", 4) + string(rune('a'+i%26)) + ".example"
	}
	rules := Generate(analysisWith(map[string]any{"domains": many}), "", "", "")
	require.Len(t, rules, 1)
	assert.Equal(t, 50, rules[0].IOCCount)
}

func TestGenerate_PlaceholderWhenEmpty(t *testing.T) {
	rules := Generate(map[string]any{}, "", "", "")
	require.Len(t, rules, 1)

	assert.Equal(t, "PERSEPTOR - No IoC Detected", rules[0].Title)
	assert.Equal(t, "none", rules[0].IOCType)
	assert.Equal(t, "low", rules[0].Level)
	assert.Contains(t, rules[0].RuleYAML, "CommandLine|contains: placeholder")
}

func TestGenerate_TitleSanitized(t *testing.T) {
	rules := Generate(analysisWith(map[string]any{
		"domains": []any{"evil.example"},
	}), "", "Emotet <Loader> // Campaign! {2026}", "")
	require.Len(t, rules, 1)
	assert.Equal(t, "Emotet Loader  Campaign 2026", rules[0].Title)
}

func TestToYAML_MultiDocument(t *testing.T) {
	rules := Generate(analysisWith(map[string]any{
		"domains": []any{"a.example"},
		"ips":     []any{"1.2.3.4"},
	}), "", "", "")
	require.Len(t, rules, 2)

	combined := ToYAML(rules)
	assert.Equal(t, 1, strings.Count(combined, "\n---\n"))

	decoder := yaml.NewDecoder(strings.NewReader(combined))
	count := 0
	for {
		var doc map[string]any
		if err := decoder.Decode(&doc); err != nil {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}

func sortedStrings(values []string) bool {
	for i := 1; i < len(values); i++ {
		if values[i-1] > values[i] {
			return false
		}
	}
	return true
}
