package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiClient_Chat_RoleMapping(t *testing.T) {
	var captured geminiRequest
	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path + "?" + r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "result"}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 80, CandidatesTokenCount: 20},
		})
	}))
	defer server.Close()

	client := NewGeminiClient("AIza-test", "gemini-2.5-flash", server.URL)

	resp, err := client.Chat(context.Background(), ChatRequest{
		System: "you are an analyst",
		Messages: []Message{
			{Role: "user", Content: "input"},
			{Role: "assistant", Content: "exemplar"},
			{Role: "user", Content: "real input"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "result", resp.Content)
	assert.Equal(t, 80, resp.InputTokens)
	assert.Equal(t, 20, resp.OutputTokens)

	assert.True(t, strings.Contains(capturedPath, "gemini-2.5-flash:generateContent"))
	assert.True(t, strings.Contains(capturedPath, "key=AIza-test"))

	require.NotNil(t, captured.SystemInstruction)
	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, "user", captured.Contents[2].Role)
}

func TestGeminiClient_Chat_SystemOnlyBecomesUserTurn(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "ok"}}},
			}},
		})
	}))
	defer server.Close()

	client := NewGeminiClient("AIza-test", "", server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "system", Content: "instructions only"}},
	})
	require.NoError(t, err)

	assert.Nil(t, captured.SystemInstruction)
	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "instructions only", captured.Contents[0].Parts[0].Text)
}

func TestGeminiClient_Chat_InvalidKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(geminiError{Error: geminiErrorDetail{
			Code: 400, Message: "API key not valid. Please pass a valid API key.", Status: "INVALID_ARGUMENT",
		}})
	}))
	defer server.Close()

	client := NewGeminiClient("AIza-bad", "", server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrKindAuth, apiErr.Kind)
}
