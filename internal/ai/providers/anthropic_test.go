package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Chat_SystemConcatenation(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(anthropicResponse{
			Model:      "claude-sonnet-4-20250514",
			Content:    []anthropicContentBlock{{Type: "text", Text: "summary text"}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 200, OutputTokens: 50},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient("sk-ant-test", "claude-sonnet-4-20250514", server.URL)

	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "first instruction"},
			{Role: "system", Content: "second instruction"},
			{Role: "user", Content: "analyze"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "summary text", resp.Content)
	assert.Equal(t, 200, resp.InputTokens)
	assert.Equal(t, 50, resp.OutputTokens)

	// system messages collapse into the dedicated system field
	assert.Equal(t, "first instruction\nsecond instruction", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestAnthropicClient_Chat_SystemOnlyPromoted(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: "ok"}},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient("sk-ant-test", "", server.URL)

	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "system", Content: "only instructions"}},
	})
	require.NoError(t, err)

	// without any user turn the system text becomes the single user message
	assert.Empty(t, captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "only instructions", captured.Messages[0].Content)
}

func TestAnthropicClient_Chat_MaxTokensDefault(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: "ok"}},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient("sk-ant-test", "", server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	// max_tokens is mandatory on this API
	assert.Equal(t, 4096, captured.MaxTokens)
}

func TestAnthropicClient_Chat_Overloaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(anthropicError{Error: anthropicErrorDetail{
			Type: "overloaded_error", Message: "Overloaded",
		}})
	}))
	defer server.Close()

	client := NewAnthropicClient("sk-ant-test", "", server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrKindTransient, apiErr.Kind)
	assert.True(t, apiErr.Retryable())
}
