package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	assert.Equal(t, "anthropic", DetectProvider("sk-ant-api03-xyz"))
	assert.Equal(t, "google", DetectProvider("AIzaSyExample"))
	assert.Equal(t, "openai", DetectProvider("sk-proj-abc"))
	assert.Equal(t, "openai", DetectProvider("unknown-key"))
}

func TestFactory_Get_CachesPerKey(t *testing.T) {
	f := NewFactory()

	p1, err := f.Get("openai", "sk-key-one", "gpt-4o")
	require.NoError(t, err)
	p2, err := f.Get("openai", "sk-key-one", "")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := f.Get("openai", "sk-key-two", "")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
}

func TestFactory_Get_UpdatesDefaultModelOnHit(t *testing.T) {
	f := NewFactory()

	p, err := f.Get("openai", "sk-key", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.(*OpenAIClient).model)

	_, err = f.Get("openai", "sk-key", "gpt-4.1-2025-04-14")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-2025-04-14", p.(*OpenAIClient).model)
}

func TestFactory_Get_RequiresKey(t *testing.T) {
	f := NewFactory()
	_, err := f.Get("openai", "", "")
	assert.Error(t, err)
}

func TestFactory_Get_UnsupportedProvider(t *testing.T) {
	f := NewFactory()
	_, err := f.Get("mistral", "some-key", "")
	assert.Error(t, err)
}

func TestAvailableProviders_Catalog(t *testing.T) {
	providers := AvailableProviders()
	require.Len(t, providers, 3)

	assert.Equal(t, "openai", providers[0].Provider)
	assert.Equal(t, "sk-", providers[0].KeyPrefix)
	assert.NotEmpty(t, providers[0].Models)

	assert.Equal(t, "anthropic", providers[1].Provider)
	assert.Equal(t, "sk-ant-", providers[1].KeyPrefix)

	assert.Equal(t, "google", providers[2].Provider)
	assert.Equal(t, "AIza", providers[2].KeyPrefix)
}

func TestIsOSeriesModel(t *testing.T) {
	assert.True(t, IsOSeriesModel("o3-mini"))
	assert.True(t, IsOSeriesModel("o4-mini-2025-04-16"))
	assert.False(t, IsOSeriesModel("gpt-4o"))
	assert.False(t, IsOSeriesModel("gpt-4.1-2025-04-14"))
}
