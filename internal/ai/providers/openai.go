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
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
)

// OpenAIClient implements the Provider interface for OpenAI's API
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = openaiAPIURL
	}
	if model == "" {
		model = "gpt-4.1-2025-04-14"
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai"
}

// SetDefaultModel changes the model used when a request does not name one.
func (c *OpenAIClient) SetDefaultModel(model string) {
	if model != "" {
		c.model = model
	}
}

// openaiRequest is the request body for the OpenAI API
type openaiRequest struct {
	Model               string               `json:"model"`
	Messages            []openaiMessage      `json:"messages"`
	MaxTokens           int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiResponse is the response from the OpenAI API
type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int                 `json:"index"`
	Message      openaiChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openaiChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Refusal string `json:"refusal,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Error openaiErrorDetail `json:"error"`
}

type openaiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// buildRequest converts a ChatRequest into the OpenAI wire format,
// applying the o-series role and token-parameter quirks.
func (c *OpenAIClient) buildRequest(req ChatRequest) (openaiRequest, string) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	oSeries := IsOSeriesModel(model)

	// O-series reasoning models reject "system" roles and assistant prefill
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		role := "system"
		if oSeries {
			role = "developer"
		}
		messages = append(messages, openaiMessage{Role: role, Content: req.System})
	}
	for _, m := range req.Messages {
		role := m.Role
		if oSeries {
			switch role {
			case "system":
				role = "developer"
			case "assistant":
				// no assistant prefill on o-series; skip few-shot exemplars
				continue
			}
		}
		messages = append(messages, openaiMessage{Role: role, Content: m.Content})
	}

	openaiReq := openaiRequest{
		Model:    model,
		Messages: messages,
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if oSeries {
		// o-series wants max_completion_tokens and no temperature at all
		openaiReq.MaxCompletionTokens = maxTokens
	} else {
		openaiReq.MaxTokens = maxTokens
		temp := req.Temperature
		openaiReq.Temperature = &temp
	}
	return openaiReq, model
}

// Chat sends a chat request to the OpenAI API
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	openaiReq, model := c.buildRequest(req)

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("openai", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, classifyHTTPError("openai", resp, errResp.Error.Message)
		}
		return nil, classifyHTTPError("openai", resp, string(respBody))
	}

	var openaiResp openaiResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := openaiResp.Choices[0]
	content := choice.Message.Content
	if content == "" && choice.Message.Refusal != "" {
		content = choice.Message.Refusal
		log.Warn().Str("model", model).Str("refusal", truncate(content, 200)).Msg("Model refused request")
	}

	log.Debug().
		Str("model", model).
		Int("tokens", openaiResp.Usage.TotalTokens).
		Int("content_length", len(content)).
		Msg("OpenAI generation complete")

	return &ChatResponse{
		Content:      content,
		Model:        openaiResp.Model,
		StopReason:   choice.FinishReason,
		InputTokens:  openaiResp.Usage.PromptTokens,
		OutputTokens: openaiResp.Usage.CompletionTokens,
	}, nil
}

// openaiStreamChunk is one SSE data frame from the streaming API.
type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
}

// ChatStream sends a streaming chat request, invoking callback per content
// delta. Usage arrives in the final chunk via stream_options.
func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	openaiReq, model := c.buildRequest(req)
	openaiReq.Stream = true
	openaiReq.StreamOptions = &openaiStreamOptions{IncludeUsage: true}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp openaiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, classifyHTTPError("openai", resp, errResp.Error.Message)
		}
		return nil, classifyHTTPError("openai", resp, string(respBody))
	}

	final := &ChatResponse{Model: model}
	var content strings.Builder

	err = readSSE(resp.Body, func(data string) error {
		if data == "[DONE]" {
			return errStreamDone
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug().Err(err).Str("data", truncate(data, 200)).Msg("Failed to parse stream chunk")
			return nil
		}
		if chunk.Model != "" {
			final.Model = chunk.Model
		}
		if chunk.Usage != nil {
			final.InputTokens = chunk.Usage.PromptTokens
			final.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			final.StopReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if callback != nil {
				callback(choice.Delta.Content)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	final.Content = content.String()
	log.Debug().Str("model", final.Model).Int("content_length", len(final.Content)).
		Msg("OpenAI stream complete")
	return final, nil
}

// TestConnection validates the API key by making a minimal request
func (c *OpenAIClient) TestConnection(ctx context.Context) error {
	_, err := c.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "Hi"},
		},
		MaxTokens: 10,
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
