package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/pkg/retry"
)

var errMalformedVector = errors.New("malformed vector")

type EmbedderConfig struct {
	BatchSize   int
	MaxAttempts int
	InitialWait time.Duration
	Logger      *slog.Logger
}

// Embedder batches text through an embedding backend, retrying transient
// failures and rejecting empty or ragged vectors.
type Embedder struct {
	config EmbedderConfig
	embed  embeddings.Embedder
	log    *slog.Logger
}

func NewEmbedderWithConfig(config EmbedderConfig, client embeddings.EmbedderClient) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialWait == 0 {
		config.InitialWait = 500 * time.Millisecond
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		config: config,
		embed:  emb,
		log:    log,
	}, nil
}

func (e *Embedder) policy(op string) retry.Policy {
	return retry.Policy{
		MaxAttempts: e.config.MaxAttempts,
		InitialWait: e.config.InitialWait,
		MaxWait:     10 * time.Second,
		Jitter:      true,
		Retryable: func(err error) bool {
			return !errors.Is(err, errMalformedVector) && !errors.Is(err, context.Canceled)
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			e.log.Warn("retrying embedding", "op", op, "attempt", attempt, "delay", wait, "error", err)
		},
	}
}

// EmbedDocuments returns one vector per text, all of the same dimension.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := retry.DoValue(ctx, e.policy("documents"), func(ctx context.Context) ([][]float32, error) {
		vectors, err := e.embed.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, err
		}
		return vectors, checkVectors(vectors, len(texts))
	})
	if err != nil {
		return nil, &models.EmbeddingError{Op: "documents", Err: err}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := retry.DoValue(ctx, e.policy("query"), func(ctx context.Context) ([]float32, error) {
		vector, err := e.embed.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return vector, checkVectors([][]float32{vector}, 1)
	})
	if err != nil {
		return nil, &models.EmbeddingError{Op: "query", Err: err}
	}
	return vector, nil
}

func checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d inputs", errMalformedVector, len(vectors), want)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: vector %d is empty", errMalformedVector, i)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", errMalformedVector, i, len(v), dim)
		}
	}
	return nil
}
