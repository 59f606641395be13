package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aytekaytemur/perseptor/internal/sigmamatch"
)

type stubEngine struct {
	summary    string
	summaryErr error
	iocs       map[string]any
	iocErr     error
	sigmaText  string
	sigmaErr   error
	siemResp   map[string]any
	siemErr    error
	atomicResp []any
	atomicErr  error

	siemCalls   int
	atomicCalls int
}

func (s *stubEngine) Summarize(context.Context, string) (string, error) {
	return s.summary, s.summaryErr
}

func (s *stubEngine) ExtractIOCs(context.Context, string) (map[string]any, error) {
	return s.iocs, s.iocErr
}

func (s *stubEngine) GenerateSigma(context.Context, string, string) (string, error) {
	return s.sigmaText, s.sigmaErr
}

func (s *stubEngine) ConvertSIEM(context.Context, string) (map[string]any, error) {
	s.siemCalls++
	return s.siemResp, s.siemErr
}

func (s *stubEngine) AtomicTests(context.Context, string, string) ([]any, error) {
	s.atomicCalls++
	return s.atomicResp, s.atomicErr
}

type memStore struct {
	reports []Report
}

func (m *memStore) SaveReport(_ context.Context, report Report) error {
	m.reports = append(m.reports, report)
	return nil
}

func collectEvents(events *[]ProgressEvent) Emitter {
	return func(e ProgressEvent) {
		*events = append(*events, e)
	}
}

func stages(events []ProgressEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}

func TestRun_FullFlow(t *testing.T) {
	engine := &stubEngine{
		summary: "Emotet campaign delivering Cobalt Strike.",
		iocs: map[string]any{
			"indicators_of_compromise": map[string]any{
				"malicious_commands": []any{"mimikatz sekurlsa::logonpasswords"},
				"ips":                []any{"185.220.101.45"},
			},
			"ttps": []any{
				map[string]any{"mitre_id": "T1059.001", "technique_name": "PowerShell"},
			},
			"tools_or_malware":  []any{"Cobalt Strike"},
			"sigma_title":       "Emotet Loader Activity",
			"sigma_description": "Detects Emotet loader behavior",
		},
		sigmaText: "title: AI Encoded Command Rule\ndetection:\n    condition: selection\nThis rule detects encoded commands in process creation logs.",
		siemResp: map[string]any{
			"splunk": map[string]any{"description": "d", "query": "index=win EventCode=1", "notes": "n"},
			"qradar": map[string]any{"description": "d", "query": "N/A", "notes": "n"},
		},
		atomicResp: []any{map[string]any{"test_name": "Encoded PowerShell"}},
	}
	store := &memStore{}
	p := New(engine, nil, store)

	var events []ProgressEvent
	input := Input{
		ArticleText:  "article body",
		CombinedText: "the actor ran mimikatz sekurlsa::logonpasswords",
		SourceURL:    "https://example.com/report",
		Provider:     "openai",
		Model:        "gpt-4o",
	}
	result, err := p.Run(context.Background(), input, collectEvents(&events))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "Emotet campaign delivering Cobalt Strike.", result.ThreatSummary)
	assert.Contains(t, result.AnalysisData.IndicatorsOfCompromise, "malicious_commands")
	assert.Len(t, result.AnalysisData.TTPs, 1)
	assert.Equal(t, []any{"Cobalt Strike"}, result.AnalysisData.ToolsOrMalware)

	assert.Contains(t, result.YARARules, "rule ")
	require.Len(t, result.IOCSigmaRules, 2)
	assert.Equal(t, "malicious_commands", result.IOCSigmaRules[0].IOCType)
	assert.Equal(t, "ips", result.IOCSigmaRules[1].IOCType)

	// AI-written rules are appended after a document separator, prose removed
	assert.Contains(t, result.GeneratedSigmaRules, "\n---\n")
	assert.Contains(t, result.GeneratedSigmaRules, "title: AI Encoded Command Rule")
	assert.NotContains(t, result.GeneratedSigmaRules, "This rule detects")

	splunk := result.SIEMQueries["splunk"].(map[string]any)
	assert.Contains(t, splunk["query"], "/* AI-Refined */")
	assert.Contains(t, splunk["query"], "index=win EventCode=1")
	assert.Equal(t, "Includes both IoC-based and AI-refined queries", splunk["notes"])

	// an "N/A" AI query is not merged
	qradar := result.SIEMQueries["qradar"].(map[string]any)
	assert.NotContains(t, qradar["query"], "/* AI-Refined */")
	assert.Equal(t, "2 detection queries generated by PERSEPTOR", qradar["notes"])

	require.Len(t, result.AtomicTests, 1)
	assert.Equal(t, 1, engine.atomicCalls)
	assert.Equal(t, 1, engine.siemCalls)
	assert.Empty(t, result.SigmaMatches)

	require.Len(t, store.reports, 1)
	saved := store.reports[0]
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "https://example.com/report", saved.URL)
	assert.Equal(t, "openai", saved.Provider)
	assert.Equal(t, "gpt-4o", saved.Model)
	assert.Same(t, result, saved.Result)

	assert.Equal(t, []string{
		"ai_parallel",
		"threat_summary", "ioc_extraction", "ai_sigma",
		"threat_summary_done", "ioc_done",
		"rules", "yara_done", "mitre_done", "sigma_done",
		"sigma_match", "sigma_match_done",
		"siem", "siem_structured_done", "siem_ai_done",
		"atomic_tests", "atomic_tests_done",
		"finalizing", "complete",
	}, stages(events))

	last := 0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
	final := events[len(events)-1]
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, result.ThreatSummary, final.Data["threat_summary"])
}

func TestRun_AllTasksFailDegrade(t *testing.T) {
	boom := errors.New("provider unavailable")
	engine := &stubEngine{
		summaryErr: boom,
		iocErr:     boom,
		sigmaErr:   boom,
		atomicErr:  boom,
	}
	p := New(engine, nil, nil)

	var events []ProgressEvent
	result, err := p.Run(context.Background(), Input{CombinedText: "report"}, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, "Could not generate threat summary", result.ThreatSummary)
	assert.Empty(t, result.AnalysisData.IndicatorsOfCompromise)
	assert.Empty(t, result.AnalysisData.TTPs)

	// placeholder rule keeps downstream stages fed
	require.Len(t, result.IOCSigmaRules, 1)
	assert.Equal(t, "none", result.IOCSigmaRules[0].IOCType)
	assert.NotContains(t, result.GeneratedSigmaRules, "\n---\n")

	// no AI Sigma means no SIEM conversion call
	assert.Equal(t, 0, engine.siemCalls)
	splunk := result.SIEMQueries["splunk"].(map[string]any)
	assert.Equal(t, "N/A", splunk["query"])
	assert.Equal(t, "No IoC indicators available", splunk["description"])

	// the placeholder YAML still gates atomic tests open; the failure degrades
	assert.Equal(t, 1, engine.atomicCalls)
	assert.Empty(t, result.AtomicTests)

	assert.Contains(t, stages(events), "atomic_tests_done")
	assert.Equal(t, "complete", events[len(events)-1].Stage)
}

func TestRun_SigmaMatchWithCatalog(t *testing.T) {
	dir := t.TempDir()
	rulePath := filepath.Join(dir, "windows", "process_creation", "proc_creation_win_encoded_ps.yml")
	require.NoError(t, os.MkdirAll(filepath.Dir(rulePath), 0o755))
	require.NoError(t, os.WriteFile(rulePath, []byte(`title: Encoded PowerShell With Credential Dumping Module
id: 11111111-1111-1111-1111-111111111111
status: stable
description: Detects encoded PowerShell launching credential dumping modules
tags:
    - attack.execution
    - attack.t1059.001
logsource:
    category: process_creation
    product: windows
detection:
    selection:
        CommandLine|contains:
            - '-EncodedCommand'
            - 'mimikatz sekurlsa::logonpasswords'
    condition: selection
level: high
`), 0o644))

	catalog, err := sigmamatch.NewCatalog(dir)
	require.NoError(t, err)

	engine := &stubEngine{
		summary: "summary",
		iocs: map[string]any{
			"indicators_of_compromise": map[string]any{
				"malicious_commands": []any{
					"powershell.exe -EncodedCommand JABzAGUAYwB",
					"mimikatz sekurlsa::logonpasswords",
				},
			},
			"ttps": []any{
				map[string]any{"mitre_id": "T1059.001", "technique_name": "PowerShell"},
			},
		},
	}
	p := New(engine, catalog, nil)

	input := Input{
		CombinedText: "The actor ran mimikatz sekurlsa::logonpasswords after dropping an encoded loader.",
	}
	result, err := p.Run(context.Background(), input, nil)
	require.NoError(t, err)

	require.Len(t, result.SigmaMatches, 1)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", result.SigmaMatches[0].ID)
	assert.Equal(t, "Direct Hit", result.SigmaMatches[0].Confidence)
}

func TestCleanAISigma(t *testing.T) {
	raw := `Below are two Sigma rules for the described activity.
title: First Rule
detection:
    condition: selection
This rule detects suspicious activity in event logs.
title: Second Rule
detection:
    condition: selection
These rules can be further tuned for your environment.`

	cleaned := cleanAISigma(raw)
	assert.Contains(t, cleaned, "title: First Rule\ndetection:\n    condition: selection")
	assert.Contains(t, cleaned, "\n\ntitle: Second Rule")
	assert.NotContains(t, cleaned, "Below are two Sigma rules")
	assert.NotContains(t, cleaned, "further tuned")

	assert.Empty(t, cleanAISigma(""))
	assert.Empty(t, cleanAISigma("Error: model refused"))
}

func TestCleanAISigma_LeadingProseWithoutMarkers(t *testing.T) {
	raw := `Sure! I analyzed the report and prepared a detection for you.
title: Encoded Command Execution
logsource:
    category: process_creation
detection:
    condition: selection
level: high`

	cleaned := cleanAISigma(raw)
	assert.True(t, strings.HasPrefix(cleaned, "title: Encoded Command Execution"))
	assert.NotContains(t, cleaned, "analyzed the report")
}
