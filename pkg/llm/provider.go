package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator is the part of llms.Model the engines call.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ProviderConfig selects and addresses a model backend.
type ProviderConfig struct {
	Provider       string // ollama or openai
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
}

// NewModel returns the text-generation client for config.Provider.
func NewModel(config ProviderConfig) (llms.Model, error) {
	switch config.Provider {
	case "", "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	case "openai":
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", config.Provider)
	}
}

// NewEmbeddingClient returns the embedding backend for config.Provider.
// Both clients implement embeddings.EmbedderClient.
func NewEmbeddingClient(config ProviderConfig) (embeddings.EmbedderClient, error) {
	switch config.Provider {
	case "", "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		if config.EmbeddingModel == "" {
			config.EmbeddingModel = "nomic-embed-text:latest"
		}
		emb, err := ollama.New(ollama.WithModel(config.EmbeddingModel), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return emb, nil
	case "openai":
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.EmbeddingModel)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", config.Provider)
	}
}
