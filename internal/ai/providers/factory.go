package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// defaultModeler is satisfied by clients whose fallback model can change
// between requests.
type defaultModeler interface {
	SetDefaultModel(model string)
}

// Factory creates and caches provider clients per (provider, api key) pair.
type Factory struct {
	mu    sync.Mutex
	cache map[string]Provider

	// base URL overrides, used by tests to point clients at a mock server
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string
}

// NewFactory creates an empty provider factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[string]Provider)}
}

// DetectProvider guesses the vendor from the API key shape.
func DetectProvider(apiKey string) string {
	switch {
	case strings.HasPrefix(apiKey, "sk-ant-"):
		return "anthropic"
	case strings.HasPrefix(apiKey, "AIza"):
		return "google"
	default:
		return "openai"
	}
}

// Get returns a cached or freshly built client for the provider. The key
// hash in the cache key keeps full keys out of map internals and logs. When
// a model is named on a cache hit it becomes the client's new default.
func (f *Factory) Get(providerName, apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for provider %q", providerName)
	}

	providerName = strings.ToLower(strings.TrimSpace(providerName))
	cacheKey := providerName + ":" + hashKey(apiKey)

	f.mu.Lock()
	defer f.mu.Unlock()

	if provider, ok := f.cache[cacheKey]; ok {
		if model != "" {
			if dm, ok := provider.(defaultModeler); ok {
				dm.SetDefaultModel(model)
			}
		}
		return provider, nil
	}

	var provider Provider
	switch providerName {
	case "openai":
		provider = NewOpenAIClient(apiKey, model, f.OpenAIBaseURL)
	case "anthropic":
		provider = NewAnthropicClient(apiKey, model, f.AnthropicBaseURL)
	case "google":
		provider = NewGeminiClient(apiKey, model, f.GeminiBaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %q (supported: openai, anthropic, google)", providerName)
	}

	f.cache[cacheKey] = provider
	log.Info().Str("provider", providerName).Msg("Created new AI provider client")
	return provider, nil
}

// ClearCache drops all cached clients.
func (f *Factory) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]Provider)
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}
