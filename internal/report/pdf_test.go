package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aytekaytemur/perseptor/internal/pipeline"
	"github.com/aytekaytemur/perseptor/internal/sigmamatch"
	"github.com/aytekaytemur/perseptor/internal/store"
)

func sampleRecord() *store.StoredReport {
	return &store.StoredReport{
		ID:        "r-1",
		URL:       "https://example.com/apt29",
		Timestamp: "2026-08-25T10:00:00Z",
		Provider:  "openai",
		Model:     "gpt-4o",
		Result: pipeline.Result{
			ThreatSummary: "APT29 compromised a software supply chain and staged Cobalt Strike.",
			AnalysisData: pipeline.AnalysisData{
				IndicatorsOfCompromise: map[string]any{
					"domains":     []any{"avsvmcloud.com", "deftsecurity.com"},
					"file_hashes": []any{"32519b85c0b422e4656de6e6c41878e95fd95026267daab4215ee59c107d6c77"},
				},
				TTPs: []any{
					map[string]any{
						"mitre_id":       "T1195.002",
						"technique_name": "Compromise Software Supply Chain",
						"description":    "Trojanized vendor update",
					},
				},
			},
			MITREMapping: pipeline.MITREMapping{
				TacticSummary: map[string]int{"initial-access": 1, "command-and-control": 2},
			},
			YARARules:           "rule sunburst_loader {\n    strings:\n        $a = \"avsvmcloud\"\n    condition:\n        $a\n}",
			GeneratedSigmaRules: "title: SUNBURST DNS Beacon\nlogsource:\n    category: dns_query",
			SIEMQueries: map[string]any{
				"splunk":   map[string]any{"query": "index=dns avsvmcloud.com"},
				"sentinel": map[string]any{"query": "N/A"},
			},
			SigmaMatches: []sigmamatch.Match{
				{Title: "Encoded PowerShell", CombinedScore: 92.5, Confidence: "Direct Hit", Level: "high"},
			},
		},
	}
}

func TestRenderPDF(t *testing.T) {
	data, err := RenderPDF(sampleRecord())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
	assert.Greater(t, len(data), 2000)
}

func TestRenderPDF_EmptyResult(t *testing.T) {
	record := &store.StoredReport{
		ID:        "r-empty",
		URL:       "https://example.com/empty",
		Timestamp: "2026-08-25T10:00:00Z",
		Provider:  "openai",
	}
	data, err := RenderPDF(record)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
}
