package types

import (
	"context"

	"github.com/xhad/jobimport/internal/models"
)

// Core interfaces

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]models.SourceDocument, error)
}

type Splitter interface {
	Split(docs []models.SourceDocument) ([]models.Chunk, error)
}

// Embedder turns text into vectors. Implementations wrap EmbeddingError.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// JobStore keeps caller-visible job state.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	FindActiveByURL(ctx context.Context, url string) (*models.Job, error)
	StatusSink
}

// StatusSink receives status transitions from workers.
type StatusSink interface {
	Update(ctx context.Context, u models.JobUpdate) error
}

// Queue hands import tasks to workers.
type Queue interface {
	Enqueue(ctx context.Context, task models.ImportTask) error
}
