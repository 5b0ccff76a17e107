package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/config"
)

// Chat providers selectable through config.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMClientFactory is the interface for creating LLM clients.
// Use this interface for dependency injection and testing.
type LLMClientFactory interface {
	CreateChatClient() (LLMClient, error)
	CreateEmbeddingClient() (LLMClient, error)
}

// ClientFactory creates LLM clients from the service AI configuration.
// The chat client follows the configured provider; the embedding client is
// always OpenAI-compatible (Anthropic serves no embeddings endpoint).
type ClientFactory struct {
	cfg    *config.AIConfig
	logger *zap.Logger
}

// NewClientFactory creates a new factory.
func NewClientFactory(cfg *config.AIConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateChatClient creates the generation client for the configured provider.
// Returns LLMClient interface to enable dependency injection of mocks.
func (f *ClientFactory) CreateChatClient() (LLMClient, error) {
	switch f.cfg.Provider {
	case ProviderAnthropic:
		client, err := NewAnthropicClient(&Config{
			Endpoint: f.cfg.LLMBaseURL,
			Model:    f.cfg.LLMModel,
			APIKey:   f.cfg.LLMAPIKey,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil

	case "", ProviderOpenAI:
		endpoint := f.cfg.LLMBaseURL
		if endpoint == "" {
			endpoint = "https://api.openai.com/v1"
		}
		client, err := NewClient(&Config{
			Endpoint: endpoint,
			Model:    f.cfg.LLMModel,
			APIKey:   f.cfg.LLMAPIKey,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown ai provider %q (want %s or %s)",
			f.cfg.Provider, ProviderOpenAI, ProviderAnthropic)
	}
}

// CreateEmbeddingClient creates a client specifically for embeddings.
// Uses embedding-specific config if available, falls back to LLM config.
// Returns LLMClient interface to enable dependency injection of mocks.
func (f *ClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	endpoint := f.cfg.EmbeddingBaseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	client, err := NewClient(&Config{
		Endpoint: endpoint,
		Model:    f.cfg.EmbeddingModel,
		APIKey:   f.cfg.EffectiveEmbeddingAPIKey(),
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	return client, nil
}

// Ensure ClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*ClientFactory)(nil)

// splitClient routes generation to the chat client and embeddings to the
// embedding client. Consumers that need both capabilities on one LLMClient
// use this when the chat provider serves no embeddings.
type splitClient struct {
	chat      LLMClient
	embedding LLMClient
}

// NewSplitClient combines a chat client and an embedding client into a
// single LLMClient.
func NewSplitClient(chat, embedding LLMClient) LLMClient {
	return &splitClient{chat: chat, embedding: embedding}
}

func (c *splitClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	return c.chat.GenerateResponse(ctx, prompt, systemMessage, temperature, thinking)
}

func (c *splitClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	return c.embedding.CreateEmbedding(ctx, input, model)
}

func (c *splitClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	return c.embedding.CreateEmbeddings(ctx, inputs, model)
}

func (c *splitClient) GetModel() string { return c.chat.GetModel() }

func (c *splitClient) GetEndpoint() string { return c.chat.GetEndpoint() }

var _ LLMClient = (*splitClient)(nil)
