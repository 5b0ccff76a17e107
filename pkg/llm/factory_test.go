package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/config"
)

func TestClientFactory_CreateChatClient_OpenAI(t *testing.T) {
	factory := NewClientFactory(&config.AIConfig{
		Provider: ProviderOpenAI,
		LLMModel: "gpt-4o-mini",
	}, zap.NewNop())

	client, err := factory.CreateChatClient()
	require.NoError(t, err)
	assert.IsType(t, &Client{}, client)
	assert.Equal(t, "gpt-4o-mini", client.GetModel())
	assert.Equal(t, "https://api.openai.com/v1", client.GetEndpoint())
}

func TestClientFactory_CreateChatClient_DefaultsToOpenAI(t *testing.T) {
	factory := NewClientFactory(&config.AIConfig{
		LLMModel: "gpt-4o-mini",
	}, zap.NewNop())

	client, err := factory.CreateChatClient()
	require.NoError(t, err)
	assert.IsType(t, &Client{}, client)
}

func TestClientFactory_CreateChatClient_Anthropic(t *testing.T) {
	factory := NewClientFactory(&config.AIConfig{
		Provider:  ProviderAnthropic,
		LLMModel:  "claude-sonnet-4-5",
		LLMAPIKey: "test-key",
	}, zap.NewNop())

	client, err := factory.CreateChatClient()
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)
	assert.Equal(t, "claude-sonnet-4-5", client.GetModel())
}

func TestClientFactory_CreateChatClient_AnthropicRequiresKey(t *testing.T) {
	factory := NewClientFactory(&config.AIConfig{
		Provider: ProviderAnthropic,
		LLMModel: "claude-sonnet-4-5",
	}, zap.NewNop())

	_, err := factory.CreateChatClient()
	assert.Error(t, err)
}

func TestClientFactory_CreateChatClient_UnknownProvider(t *testing.T) {
	factory := NewClientFactory(&config.AIConfig{
		Provider: "cohere",
		LLMModel: "command",
	}, zap.NewNop())

	_, err := factory.CreateChatClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ai provider")
}

func TestClientFactory_CreateEmbeddingClient_AlwaysOpenAICompatible(t *testing.T) {
	// Even with the anthropic chat provider, embeddings use the
	// OpenAI-compatible endpoint.
	factory := NewClientFactory(&config.AIConfig{
		Provider:         ProviderAnthropic,
		LLMModel:         "claude-sonnet-4-5",
		LLMAPIKey:        "chat-key",
		EmbeddingBaseURL: "http://localhost:8081/v1",
		EmbeddingModel:   "text-embedding-3-small",
	}, zap.NewNop())

	client, err := factory.CreateEmbeddingClient()
	require.NoError(t, err)
	assert.IsType(t, &Client{}, client)
	assert.Equal(t, "http://localhost:8081/v1", client.GetEndpoint())
}

func TestClientFactory_CreateEmbeddingClient_FallsBackToLLMKey(t *testing.T) {
	cfg := &config.AIConfig{
		LLMAPIKey:      "shared-key",
		EmbeddingModel: "text-embedding-3-small",
	}
	assert.Equal(t, "shared-key", cfg.EffectiveEmbeddingAPIKey())

	factory := NewClientFactory(cfg, zap.NewNop())
	client, err := factory.CreateEmbeddingClient()
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", client.GetModel())
}

func TestAnthropicClient_EmbeddingsUnsupported(t *testing.T) {
	client, err := NewAnthropicClient(&Config{
		Model:  "claude-sonnet-4-5",
		APIKey: "test-key",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.CreateEmbedding(context.Background(), "text", "")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeModel, GetErrorType(err))
	assert.False(t, IsRetryable(err))
}
