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
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient implements the Provider interface for Anthropic's API
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicClient creates a new Anthropic API client
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// Name returns the provider name
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// SetDefaultModel changes the model used when a request does not name one.
func (c *AnthropicClient) SetDefaultModel(model string) {
	if model != "" {
		c.model = model
	}
}

// anthropicRequest is the request body for the Anthropic messages API
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the response from the Anthropic API
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Error anthropicErrorDetail `json:"error"`
}

type anthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// buildRequest converts a ChatRequest into the Anthropic wire format.
//
// Anthropic keeps the system prompt outside the message list: all system
// messages are concatenated into the system field. When the request carries
// no user messages at all, the collected system text becomes the sole user
// message instead.
func (c *AnthropicClient) buildRequest(req ChatRequest) (anthropicRequest, string) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var systemBuilder strings.Builder
	if req.System != "" {
		systemBuilder.WriteString(req.System)
		systemBuilder.WriteString("\n")
	}
	userMessages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemBuilder.WriteString(m.Content)
			systemBuilder.WriteString("\n")
			continue
		}
		userMessages = append(userMessages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	system := strings.TrimSpace(systemBuilder.String())
	if len(userMessages) == 0 {
		userMessages = []anthropicMessage{{Role: "user", Content: system}}
		system = ""
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      system,
		Messages:    userMessages,
	}, model
}

// Chat sends a chat request to the Anthropic API.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	anthropicReq, model := c.buildRequest(req)

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("anthropic", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, classifyHTTPError("anthropic", resp, errResp.Error.Message)
		}
		return nil, classifyHTTPError("anthropic", resp, string(respBody))
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var content strings.Builder
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	log.Debug().
		Str("model", model).
		Int("tokens", anthropicResp.Usage.InputTokens+anthropicResp.Usage.OutputTokens).
		Msg("Anthropic generation complete")

	return &ChatResponse{
		Content:      content.String(),
		Model:        anthropicResp.Model,
		StopReason:   anthropicResp.StopReason,
		InputTokens:  anthropicResp.Usage.InputTokens,
		OutputTokens: anthropicResp.Usage.OutputTokens,
	}, nil
}

// anthropicStreamEvent is one SSE data frame from the streaming API.
// Only the event types carrying text or usage are decoded.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage       `json:"usage,omitempty"`
	Error *anthropicErrorDetail `json:"error,omitempty"`
}

// ChatStream sends a streaming chat request, invoking callback for each
// text delta. Input tokens arrive in message_start, output tokens in
// message_delta; message_stop ends the stream.
func (c *AnthropicClient) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	anthropicReq, model := c.buildRequest(req)
	anthropicReq.Stream = true

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError("anthropic", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp anthropicError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, classifyHTTPError("anthropic", resp, errResp.Error.Message)
		}
		return nil, classifyHTTPError("anthropic", resp, string(respBody))
	}

	final := &ChatResponse{Model: model}
	var content strings.Builder
	var streamErr error

	err = readSSE(resp.Body, func(data string) error {
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			log.Debug().Err(err).Msg("Failed to parse stream event")
			return nil
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				final.InputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				content.WriteString(event.Delta.Text)
				if callback != nil {
					callback(event.Delta.Text)
				}
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				final.StopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				final.OutputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			return errStreamDone
		case "error":
			message := "stream error"
			if event.Error != nil {
				message = event.Error.Message
			}
			streamErr = fmt.Errorf("anthropic stream error: %s", message)
			return streamErr
		}
		return nil
	})
	if streamErr != nil {
		return nil, streamErr
	}
	if err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	final.Content = content.String()
	log.Debug().Str("model", model).Int("content_length", len(final.Content)).
		Msg("Anthropic stream complete")
	return final, nil
}

// TestConnection validates the API key by making a minimal request
func (c *AnthropicClient) TestConnection(ctx context.Context) error {
	_, err := c.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "Hi"},
		},
		MaxTokens: 10,
	})
	return err
}
