package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		} else if !isHTTPURL(c.LLM.BaseURL) {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "openai":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "API key is required for the openai provider",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %q", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedding.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	// Validate Broker config
	if c.Broker.URL != "" {
		if u, err := url.Parse(c.Broker.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "broker.url",
				Message: "invalid broker URL",
			})
		}
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must not be negative",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if r := c.Scraper.Retries; r != nil && *r < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.retries",
			Message: "retries must not be negative",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if o := c.Processor.ChunkOverlap; o != nil && (*o < 0 || *o >= c.Processor.ChunkSize) {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if r := c.Retrieval.GenerationRetries; r != nil && *r < 0 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.generation_retries",
			Message: "generation_retries must not be negative",
		})
	}

	if c.Worker.Count < 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.count",
			Message: "count must not be negative",
		})
	}

	if c.Worker.Buffer < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.buffer",
			Message: "buffer must be positive",
		})
	}

	return errors
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
