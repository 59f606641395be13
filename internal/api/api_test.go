package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aytekaytemur/perseptor/internal/ai"
	"github.com/aytekaytemur/perseptor/internal/config"
	"github.com/aytekaytemur/perseptor/internal/fetch"
	"github.com/aytekaytemur/perseptor/internal/pipeline"
	"github.com/aytekaytemur/perseptor/internal/session"
	"github.com/aytekaytemur/perseptor/internal/store"
)

const (
	testKey     = "sk-test-12345678901234567890"
	articleBody = "The Emotet campaign delivered Cobalt Strike beacons via malicious macro documents targeting finance teams."
)

type stubEngine struct {
	summary string
	iocs    map[string]any
}

func (s *stubEngine) Summarize(context.Context, string) (string, error) {
	return s.summary, nil
}

func (s *stubEngine) ExtractIOCs(context.Context, string) (map[string]any, error) {
	return s.iocs, nil
}

func (s *stubEngine) GenerateSigma(context.Context, string, string) (string, error) {
	return "title: AI Encoded Command Rule\ndetection:\n    condition: selection", nil
}

func (s *stubEngine) ConvertSIEM(context.Context, string) (map[string]any, error) {
	return map[string]any{
		"splunk": map[string]any{"description": "d", "query": "index=win EventCode=1", "notes": "n"},
	}, nil
}

func (s *stubEngine) AtomicTests(context.Context, string, string) ([]any, error) {
	return []any{map[string]any{"test_name": "Encoded PowerShell"}}, nil
}

type stubRuleEngine struct {
	doc     map[string]any
	ruleErr error
	refined string
}

func (s *stubRuleEngine) GenerateRule(context.Context, string) (map[string]any, error) {
	if s.ruleErr != nil {
		return nil, s.ruleErr
	}
	return s.doc, nil
}

func (s *stubRuleEngine) RefineQueries(context.Context, string, []string, []string) (string, error) {
	return s.refined, nil
}

func defaultStubRuleEngine() *stubRuleEngine {
	return &stubRuleEngine{
		doc: map[string]any{
			"rule": map[string]any{
				"title":       "Encoded PowerShell Execution",
				"description": "Detects encoded PowerShell command lines",
				"level":       "high",
			},
			"explanation":      "Encoded commands are a common obfuscation step.",
			"confidence_score": 0.85,
			"component_scores": map[string]any{"detection_quality": 0.9},
			"mitre_techniques": []any{"T1059.001"},
			"test_cases":       []any{map[string]any{"test_name": "Encoded PowerShell"}},
			"recommendations":  []any{"Tune for admin scripts"},
		},
		refined: "index=win EventCode=1 CommandLine=*-EncodedCommand*",
	}
}

func defaultStubEngine() *stubEngine {
	return &stubEngine{
		summary: "Emotet campaign delivering Cobalt Strike.",
		iocs: map[string]any{
			"indicators_of_compromise": map[string]any{
				"ips": []any{"185.220.101.45"},
			},
			"ttps": []any{
				map[string]any{"mitre_id": "T1059.001", "technique_name": "PowerShell"},
			},
		},
	}
}

type stubFetcher struct {
	page     *fetch.Page
	fetchErr error
	ocrText  string
	pdfText  string
	pdfErr   error
}

func (f *stubFetcher) FetchArticle(context.Context, string) (*fetch.Page, error) {
	return f.page, f.fetchErr
}

func (f *stubFetcher) ExtractImageText(context.Context, []string) string {
	return f.ocrText
}

func (f *stubFetcher) ExtractPDFText(context.Context, []byte) (string, error) {
	return f.pdfText, f.pdfErr
}

type testServer struct {
	*Server
	store      *store.Store
	fetcher    *stubFetcher
	ruleEngine *stubRuleEngine
	params     *providerParams // last resolved provider selection
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	// keep URL validation off the real resolver
	originalLookup := session.LookupIP
	session.LookupIP = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	t.Cleanup(func() { session.LookupIP = originalLookup })

	cfg := &config.Config{
		DefaultProvider:    "openai",
		DefaultModel:       "gpt-4o",
		Providers:          map[string]config.ProviderConfig{"openai": {Provider: "openai"}},
		GenerationTimeout:  5 * time.Second,
		SmallTaskTimeout:   5 * time.Second,
		CORSOrigins:        []string{"http://localhost:3000"},
		RateLimitPerMinute: 60,
		MaxUploadSizeMB:    20,
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "perseptor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions, err := session.New("test-secret", time.Hour, st)
	require.NoError(t, err)

	srv := NewServer(cfg, st, sessions, nil, nil)
	ts := &testServer{
		Server: srv,
		store:  st,
		fetcher: &stubFetcher{
			page:    &fetch.Page{Text: articleBody, URL: "https://example.com/report"},
			pdfText: articleBody,
		},
		ruleEngine: defaultStubRuleEngine(),
	}
	srv.fetcher = ts.fetcher
	srv.buildEngine = func(p providerParams) (pipeline.TaskEngine, error) {
		ts.params = &p
		return defaultStubEngine(), nil
	}
	srv.buildRuleEngine = func(p providerParams) (ruleEngine, error) {
		ts.params = &p
		return ts.ruleEngine, nil
	}
	return ts
}

func postJSON(t *testing.T, srv http.Handler, path string, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func parseSSE(t *testing.T, body string) []pipeline.ProgressEvent {
	t.Helper()

	var events []pipeline.ProgressEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		payload, ok := strings.CutPrefix(frame, "data: ")
		require.True(t, ok, "malformed SSE frame: %q", frame)

		var event pipeline.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &event))
		events = append(events, event)
	}
	return events
}

func TestAnalyze_Sync(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/analyze", map[string]any{
		"url":     "https://example.com/report",
		"api_key": testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Emotet campaign delivering Cobalt Strike.", result.ThreatSummary)
	assert.Contains(t, result.AnalysisData.IndicatorsOfCompromise, "ips")
	assert.Contains(t, result.GeneratedSigmaRules, "title: AI Encoded Command Rule")

	// provider detected from the key shape
	require.NotNil(t, ts.params)
	assert.Equal(t, "openai", ts.params.Provider)

	count, err := ts.store.CountReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/analyze", map[string]any{"api_key": testKey}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "URL is required")

	rec = postJSON(t, ts, "/api/analyze", map[string]any{"url": "https://example.com/report"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "API key is required")

	rec = postJSON(t, ts, "/api/analyze", map[string]any{
		"url":     "http://10.0.0.5/internal",
		"api_key": testKey,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_InsufficientText(t *testing.T) {
	ts := newTestServer(t)
	ts.fetcher.page = &fetch.Page{Text: "too short"}

	rec := postJSON(t, ts, "/api/analyze", map[string]any{
		"url":     "https://example.com/report",
		"api_key": testKey,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not extract sufficient text from URL")
}

func TestAnalyzeStream_FullSequence(t *testing.T) {
	ts := newTestServer(t)
	ts.fetcher.ocrText = "C2 panel screenshot text"

	rec := postJSON(t, ts, "/api/analyze/stream", map[string]any{
		"url":     "https://example.com/report",
		"api_key": testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	var stages []string
	for _, e := range events {
		stages = append(stages, e.Stage)
	}

	assert.Equal(t, []string{"fetching", "fetched", "ocr", "ocr_done"}, stages[:4])
	assert.Contains(t, stages, "ai_parallel")
	assert.Contains(t, stages, "sigma_match_done")
	assert.Contains(t, stages, "atomic_tests_done")

	final := events[len(events)-1]
	assert.Equal(t, "complete", final.Stage)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Data)
	assert.Equal(t, "Emotet campaign delivering Cobalt Strike.", final.Data["threat_summary"])

	last := 0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
}

func TestAnalyzeStream_FetchError(t *testing.T) {
	ts := newTestServer(t)
	ts.fetcher.page = nil
	ts.fetcher.fetchErr = errors.New("connection refused")

	rec := postJSON(t, ts, "/api/analyze/stream", map[string]any{
		"url":     "https://example.com/report",
		"api_key": testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	final := events[len(events)-1]
	assert.Equal(t, "error", final.Stage)
	assert.Equal(t, 0, final.Progress)
	assert.Contains(t, final.Message, "Error fetching URL")
}

func TestAnalyzePDFStream(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("pdf", "incident-report.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("api_key", testKey))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/pdf/stream", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	events := parseSSE(t, rec.Body.String())
	var stages []string
	for _, e := range events {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{"fetching", "fetched", "ocr_done"}, stages[:3])

	final := events[len(events)-1]
	require.Equal(t, "complete", final.Stage)
	assert.Equal(t, "Emotet campaign delivering Cobalt Strike.", final.Data["threat_summary"])

	// the persisted record carries the pdf pseudo-URL as its source
	reports, err := ts.store.ListReports(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "pdf://incident-report.pdf", reports[0].URL)
}

func TestAnalyzePDFStream_RejectsNonPDF(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("pdf", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/pdf/stream", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only PDF files are accepted")
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/session", map[string]any{
		"api_key": "sk-ant-REDACTED",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		Token     string `json:"session_token"`
		SessionID string `json:"session_id"`
		Provider  string `json:"provider"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, "anthropic", created.Provider)

	// the session token substitutes for an explicit key
	rec = postJSON(t, ts, "/api/analyze", map[string]any{
		"url": "https://example.com/report",
	}, map[string]string{"X-Session-Token": created.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, ts.params)
	assert.Equal(t, "anthropic", ts.params.Provider)
	assert.Equal(t, created.SessionID, ts.params.SessionID)
	assert.Equal(t, "sk-ant-REDACTED", ts.params.APIKey)

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set("X-Session-Token", created.Token)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// destroyed token no longer resolves
	rec = postJSON(t, ts, "/api/analyze", map[string]any{
		"url": "https://example.com/report",
	}, map[string]string{"X-Session-Token": created.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, ts.store.RecordUsage(context.Background(), ai.UsageRecord{
		Provider: "openai", Model: "gpt-4o", Endpoint: "summarize_threat_report",
		PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500, LatencyMS: 800,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session/usage", nil)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, float64(1000), usage["total_prompt_tokens"])
	assert.Equal(t, float64(500), usage["total_completion_tokens"])
	assert.Equal(t, 0.006, usage["total_cost"])
	assert.Equal(t, float64(1), usage["request_count"])

	byProvider, ok := usage["by_provider"].([]any)
	require.True(t, ok)
	require.Len(t, byProvider, 1)
}

func TestReportEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/analyze", map[string]any{
		"url":     "https://example.com/report",
		"api_key": testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Reports []store.ReportMeta `json:"reports"`
		Count   int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	reportID := listing.Reports[0].ID

	req = httptest.NewRequest(http.MethodGet, "/api/reports/"+reportID+"/pdf", nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))

	req = httptest.NewRequest(http.MethodDelete, "/api/reports/"+reportID, nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/reports/"+reportID, nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateRuleEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/generate_rule", map[string]any{
		"prompt":  "Detect encoded PowerShell command execution",
		"api_key": testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "success", doc["status"])
	assert.NotEmpty(t, doc["rule_id"])

	rule := doc["rule"].(map[string]any)
	assert.Equal(t, "Encoded PowerShell Execution", rule["title"])
	assert.Equal(t, "PERSEPTOR", rule["author"])
	assert.Equal(t, time.Now().Format("2006/01/02"), rule["date"])

	// the rule is persisted with its metadata columns filled
	saved, err := ts.store.GetRule(context.Background(), doc["rule_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Encoded PowerShell Execution", saved.Title)
	assert.Equal(t, "PERSEPTOR", saved.Author)
	assert.Equal(t, 0.85, saved.ConfidenceScore)
	assert.Equal(t, []any{"T1059.001"}, saved.MITRETechniques)
}

func TestGenerateRule_MissingParams(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/generate_rule", map[string]any{"api_key": testKey}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required parameters (prompt + api_key/openai_api_key)")

	rec = postJSON(t, ts, "/api/generate_rule", map[string]any{
		"prompt": "Detect encoded PowerShell",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required parameters (prompt + api_key/openai_api_key)")
}

func TestGenerateRule_UnparseableModelOutput(t *testing.T) {
	ts := newTestServer(t)
	ts.ruleEngine.ruleErr = ai.ErrUnparseableOutput

	rec := postJSON(t, ts, "/api/generate_rule", map[string]any{
		"prompt":  "Detect encoded PowerShell",
		"api_key": testKey,
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to generate rule")
}

func TestRuleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/generate_rule", map[string]any{
		"prompt":  "Detect encoded PowerShell command execution",
		"api_key": testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Rules []store.StoredRule `json:"rules"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	ruleID := listing.Rules[0].ID

	req = httptest.NewRequest(http.MethodGet, "/api/rules/"+ruleID+"/download", nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Encoded_PowerShell_Execution.yml")
	assert.Contains(t, rec.Body.String(), "title: Encoded PowerShell Execution")

	req = httptest.NewRequest(http.MethodDelete, "/api/rules/"+ruleID, nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rule deleted successfully")

	req = httptest.NewRequest(http.MethodDelete, "/api/rules/"+ruleID, nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rule not found")
}

func TestRefineQueriesEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := postJSON(t, ts, "/api/refine_queries", map[string]any{
		"sigma_rule":     "title: Encoded PowerShell Execution",
		"splunk_queries": []string{"index=win CommandLine=*enc*"},
		"api_key":        testKey,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Contains(t, resp["refined_queries"], "-EncodedCommand")

	rec = postJSON(t, ts, "/api/refine_queries", map[string]any{"api_key": testKey}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sigma_rule is required")
}

func TestHealthAndModels(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(0), health["sigma_rules_loaded"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req = httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var models struct {
		Providers       []any  `json:"providers"`
		DefaultProvider string `json:"default_provider"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Len(t, models.Providers, 3)
	assert.Equal(t, "openai", models.DefaultProvider)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	// unknown origins get no CORS grant
	req = httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.limiter = newRateLimiter(2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
