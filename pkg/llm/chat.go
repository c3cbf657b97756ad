package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/retry"
)

const defaultSystemTemplate = `Your job is to extract job detail information from text. Text was extracted from an HTML page, and may contain irrelevant information from the page.
Respond only with the information you can extract from page contents. Do not use any other sources of information.

<page contents>
{{.Context}}
</page contents>

Respond with just the answer to the question. Do not include the question in your response.`

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Temperature    float64
	MaxTokens      int
	TopK           int
	Retries        int
	RetryWait      time.Duration
	SystemTemplate string // text/template over {{.Context}}
	Logger         *slog.Logger
}

// Retriever returns the chunks nearest to a query vector, best first.
type Retriever interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.Chunk, error)
}

// ChatEngine answers questions from retrieved context and runs the
// pirate-speak translation.
type ChatEngine struct {
	config   ChatConfig
	llm      Generator
	embedder types.Embedder
	system   *template.Template
	log      *slog.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig, llm Generator, embedder types.Embedder) (*ChatEngine, error) {
	if llm == nil {
		return nil, errors.New("chat engine requires a model")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.TopK <= 0 {
		config.TopK = 4
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryWait == 0 {
		config.RetryWait = time.Second
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	system, err := template.New("system").Option("missingkey=error").Parse(config.SystemTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid system template: %w", err)
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &ChatEngine{
		config:   config,
		llm:      llm,
		embedder: embedder,
		system:   system,
		log:      log,
	}, nil
}

// Answer embeds question, retrieves the TopK nearest chunks from index and
// asks the model to answer from that context alone.
func (ce *ChatEngine) Answer(ctx context.Context, index Retriever, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", &models.ValidationError{Field: "question", Message: "must not be empty"}
	}
	if ce.embedder == nil {
		return "", &models.EmbeddingError{Op: "query", Err: errors.New("no embedder configured")}
	}

	vector, err := ce.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return "", err
	}
	chunks, err := index.Search(ctx, vector, ce.config.TopK)
	if err != nil {
		return "", &models.EmbeddingError{Op: "search", Err: err}
	}

	messages, err := ce.BuildMessages(chunks, question)
	if err != nil {
		return "", &models.GenerationError{Err: err}
	}
	return ce.generate(ctx, messages)
}

// BuildMessages renders the system instruction over the chunks' text, in the
// order given, followed by the question as the human turn.
func (ce *ChatEngine) BuildMessages(chunks []models.Chunk, question string) ([]llms.MessageContent, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var system strings.Builder
	if err := ce.system.Execute(&system, map[string]string{"Context": strings.Join(texts, "\n\n")}); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system.String()),
		llms.TextParts(llms.ChatMessageTypeHuman, question),
	}, nil
}

func (ce *ChatEngine) callOptions(extra ...llms.CallOption) []llms.CallOption {
	return append([]llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}, extra...)
}

func (ce *ChatEngine) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	policy := retry.Once(ce.config.RetryWait)
	policy.MaxAttempts = ce.config.Retries + 1
	policy.Retryable = func(err error) bool { return ctx.Err() == nil }
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		ce.log.Warn("retrying generation", "attempt", attempt, "delay", wait, "error", err)
	}

	answer, err := retry.DoValue(ctx, policy, func(ctx context.Context) (string, error) {
		resp, err := ce.llm.GenerateContent(ctx, messages, ce.callOptions()...)
		if err != nil {
			return "", err
		}
		return firstChoice(resp)
	})
	if err != nil {
		return "", &models.GenerationError{Err: err}
	}
	return answer, nil
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", errors.New("no response from LLM")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
