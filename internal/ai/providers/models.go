package providers

// ModelInfo describes a selectable model for a provider.
type ModelInfo struct {
	Provider           string  `json:"provider"`
	ModelID            string  `json:"model_id"`
	DisplayName        string  `json:"display_name"`
	Tier               string  `json:"tier"` // "flagship", "efficient", "reasoning"
	MaxTokens          int     `json:"max_tokens"`
	SupportsStreaming  bool    `json:"supports_streaming"`
	SupportsTemp       bool    `json:"supports_temperature"`
	CostPer1KInput     float64 `json:"cost_per_1k_input"`
	CostPer1KOutput    float64 `json:"cost_per_1k_output"`
}

// ProviderInfo describes a vendor and its model catalog.
type ProviderInfo struct {
	Provider    string      `json:"provider"`
	DisplayName string      `json:"display_name"`
	Models      []ModelInfo `json:"models"`
	KeyPrefix   string      `json:"key_prefix"`
}

// oSeriesModels are OpenAI reasoning models with different request rules:
// no temperature, max_completion_tokens instead of max_tokens, "developer"
// instead of "system", and no assistant prefill.
var oSeriesModels = map[string]bool{
	"o1": true, "o1-mini": true, "o1-preview": true, "o1-preview-2024-09-12": true,
	"o3": true, "o3-mini": true, "o3-mini-2024-09-12": true,
	"o4": true, "o4-mini": true, "o4-mini-2025-04-16": true,
}

// IsOSeriesModel reports whether an OpenAI model id is a reasoning model.
func IsOSeriesModel(model string) bool {
	return oSeriesModels[model]
}

// OpenAIModels is the static OpenAI catalog.
var OpenAIModels = []ModelInfo{
	{Provider: "openai", ModelID: "gpt-4.1-2025-04-14", DisplayName: "GPT-4.1", Tier: "flagship",
		MaxTokens: 128000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.002, CostPer1KOutput: 0.008},
	{Provider: "openai", ModelID: "gpt-4.1-mini-2025-04-14", DisplayName: "GPT-4.1 Mini", Tier: "efficient",
		MaxTokens: 128000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.0004, CostPer1KOutput: 0.0016},
	{Provider: "openai", ModelID: "gpt-4o", DisplayName: "GPT-4o", Tier: "flagship",
		MaxTokens: 128000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.0025, CostPer1KOutput: 0.01},
	{Provider: "openai", ModelID: "gpt-4o-mini", DisplayName: "GPT-4o Mini", Tier: "efficient",
		MaxTokens: 128000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.00015, CostPer1KOutput: 0.0006},
	{Provider: "openai", ModelID: "o4-mini-2025-04-16", DisplayName: "O4 Mini (Reasoning)", Tier: "reasoning",
		MaxTokens: 128000, SupportsStreaming: true, SupportsTemp: false,
		CostPer1KInput: 0.0011, CostPer1KOutput: 0.0044},
	{Provider: "openai", ModelID: "o3-mini", DisplayName: "O3 Mini (Reasoning)", Tier: "reasoning",
		MaxTokens: 128000, SupportsStreaming: true, SupportsTemp: false,
		CostPer1KInput: 0.0011, CostPer1KOutput: 0.0044},
}

// AnthropicModels is the static Anthropic catalog.
var AnthropicModels = []ModelInfo{
	{Provider: "anthropic", ModelID: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4", Tier: "flagship",
		MaxTokens: 200000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.003, CostPer1KOutput: 0.015},
	{Provider: "anthropic", ModelID: "claude-opus-4-6", DisplayName: "Claude Opus 4.6", Tier: "flagship",
		MaxTokens: 200000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.015, CostPer1KOutput: 0.075},
	{Provider: "anthropic", ModelID: "claude-haiku-4-5-20251001", DisplayName: "Claude Haiku 4.5", Tier: "efficient",
		MaxTokens: 200000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.0008, CostPer1KOutput: 0.004},
}

// GoogleModels is the static Google Gemini catalog.
var GoogleModels = []ModelInfo{
	{Provider: "google", ModelID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Tier: "flagship",
		MaxTokens: 1000000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.00125, CostPer1KOutput: 0.005},
	{Provider: "google", ModelID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Tier: "efficient",
		MaxTokens: 1000000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.00015, CostPer1KOutput: 0.0006},
	{Provider: "google", ModelID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", Tier: "efficient",
		MaxTokens: 1000000, SupportsStreaming: true, SupportsTemp: true,
		CostPer1KInput: 0.0001, CostPer1KOutput: 0.0004},
}

// AvailableProviders returns the full provider/model catalog for the UI.
func AvailableProviders() []ProviderInfo {
	return []ProviderInfo{
		{Provider: "openai", DisplayName: "OpenAI", Models: OpenAIModels, KeyPrefix: "sk-"},
		{Provider: "anthropic", DisplayName: "Anthropic", Models: AnthropicModels, KeyPrefix: "sk-ant-"},
		{Provider: "google", DisplayName: "Google Gemini", Models: GoogleModels, KeyPrefix: "AIza"},
	}
}
