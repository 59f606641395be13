package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"
)

// GeminiClient implements the Provider interface for Google's Gemini API
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(apiKey, model, baseURL string) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiAPIBase
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// Name returns the provider name
func (c *GeminiClient) Name() string {
	return "google"
}

// SetDefaultModel changes the model used when a request does not name one.
func (c *GeminiClient) SetDefaultModel(model string) {
	if model != "" {
		c.model = model
	}
}

// geminiRequest is the request body for the Gemini generateContent API
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is the response from the Gemini API
type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Error geminiErrorDetail `json:"error"`
}

type geminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// buildRequest converts a ChatRequest into the Gemini wire format.
//
// Gemini speaks in user/model turns with the system prompt carried separately
// as systemInstruction. Assistant messages map to the "model" role. When the
// request holds only system text, that text becomes the single user turn.
func (c *GeminiClient) buildRequest(req ChatRequest) (geminiRequest, string) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	systemParts := make([]string, 0, 2)
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	geminiReq := geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if len(systemParts) > 0 {
		geminiReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(systemParts, "\n")}},
		}
	}
	if len(contents) == 0 {
		geminiReq.Contents = []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: strings.Join(systemParts, "\n")}}},
		}
		geminiReq.SystemInstruction = nil
	}
	return geminiReq, model
}

// Chat sends a chat request to the Gemini API.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	geminiReq, model := c.buildRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("google", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp geminiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, classifyHTTPError("google", resp, errResp.Error.Message)
		}
		return nil, classifyHTTPError("google", resp, string(respBody))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("no response candidates returned")
	}

	var content strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	chatResp := &ChatResponse{
		Content:    content.String(),
		Model:      model,
		StopReason: geminiResp.Candidates[0].FinishReason,
	}
	if geminiResp.UsageMetadata != nil {
		chatResp.InputTokens = geminiResp.UsageMetadata.PromptTokenCount
		chatResp.OutputTokens = geminiResp.UsageMetadata.CandidatesTokenCount
	}

	log.Debug().
		Str("model", model).
		Int("tokens", chatResp.InputTokens+chatResp.OutputTokens).
		Msg("Gemini generation complete")

	return chatResp, nil
}

// ChatStream sends a streaming chat request against the
// streamGenerateContent endpoint, invoking callback per content delta.
// Each SSE data frame is a regular generateContent response fragment;
// usage metadata arrives with the final fragment.
func (c *GeminiClient) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	geminiReq, model := c.buildRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:streamGenerateContent?key=%s&alt=sse", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("google", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp geminiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, classifyHTTPError("google", resp, errResp.Error.Message)
		}
		return nil, classifyHTTPError("google", resp, string(respBody))
	}

	final := &ChatResponse{Model: model}
	var content strings.Builder

	err = readSSE(resp.Body, func(data string) error {
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug().Err(err).Msg("Failed to parse stream chunk")
			return nil
		}
		if chunk.UsageMetadata != nil {
			final.InputTokens = chunk.UsageMetadata.PromptTokenCount
			final.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		if len(chunk.Candidates) == 0 {
			return nil
		}
		candidate := chunk.Candidates[0]
		if candidate.FinishReason != "" {
			final.StopReason = candidate.FinishReason
		}
		for _, part := range candidate.Content.Parts {
			if part.Text == "" {
				continue
			}
			content.WriteString(part.Text)
			if callback != nil {
				callback(part.Text)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	final.Content = content.String()
	log.Debug().Str("model", model).Int("content_length", len(final.Content)).
		Msg("Gemini stream complete")
	return final, nil
}

// TestConnection validates the API key by making a minimal request
func (c *GeminiClient) TestConnection(ctx context.Context) error {
	_, err := c.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "Hi"},
		},
		MaxTokens: 10,
	})
	return err
}
