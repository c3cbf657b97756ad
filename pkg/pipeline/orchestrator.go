package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/llm"
	"github.com/xhad/jobimport/pkg/store"
)

type Indexer interface {
	Build(ctx context.Context, chunks []models.Chunk) (*store.Index, error)
}

type Answerer interface {
	Answer(ctx context.Context, index llm.Retriever, question string) (string, error)
}

// Progress is told when each stage starts. Phase names the question while
// answering, e.g. "answering:title".
type Progress func(ctx context.Context, status models.JobStatus, phase string)

// Orchestrator runs Fetching, Splitting, Indexing and one Answering stage
// per extraction question, strictly in that order. The first failing stage
// ends the run and no partial result is returned.
type Orchestrator struct {
	fetcher  types.Fetcher
	splitter types.Splitter
	indexer  Indexer
	answerer Answerer
	log      *slog.Logger
}

func New(fetcher types.Fetcher, splitter types.Splitter, indexer Indexer, answerer Answerer, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		fetcher:  fetcher,
		splitter: splitter,
		indexer:  indexer,
		answerer: answerer,
		log:      log,
	}
}

type fetched struct {
	url  string
	docs []models.SourceDocument
}

type split struct {
	url    string
	chunks []models.Chunk
}

type indexed struct {
	url   string
	index *store.Index
}

func (o *Orchestrator) Extract(ctx context.Context, url string) (*models.ExtractionResult, error) {
	return o.ExtractWithProgress(ctx, url, nil)
}

func (o *Orchestrator) ExtractWithProgress(ctx context.Context, url string, progress Progress) (*models.ExtractionResult, error) {
	if progress == nil {
		progress = func(context.Context, models.JobStatus, string) {}
	}

	run := Then(Then(Then(
		Traced("fetch", o.fetchStage(progress)),
		Traced("split", o.splitStage(progress))),
		Traced("index", o.indexStage(progress))),
		Traced("answer", o.answerStage(progress)))

	start := time.Now()
	result, err := Traced("extract", run)(ctx, url)
	if err != nil {
		o.log.Warn("extraction failed", "url", url, "duration", time.Since(start), "error", err)
		return nil, err
	}
	o.log.Info("extraction finished", "url", url, "duration", time.Since(start))
	return result, nil
}

func (o *Orchestrator) fetchStage(progress Progress) Stage[string, fetched] {
	return func(ctx context.Context, url string) (fetched, error) {
		progress(ctx, models.StatusFetching, "fetching")
		docs, err := o.fetcher.Fetch(ctx, url)
		if err != nil {
			return fetched{}, err
		}
		o.log.Debug("fetched", "url", url, "documents", len(docs))
		return fetched{url: url, docs: docs}, nil
	}
}

func (o *Orchestrator) splitStage(progress Progress) Stage[fetched, split] {
	return func(ctx context.Context, in fetched) (split, error) {
		progress(ctx, models.StatusSplitting, "splitting")
		chunks, err := o.splitter.Split(in.docs)
		if err != nil {
			return split{}, err
		}
		if len(chunks) == 0 {
			return split{}, &models.SplitError{Reason: "page has no text content"}
		}
		o.log.Debug("split", "url", in.url, "chunks", len(chunks))
		return split{url: in.url, chunks: chunks}, nil
	}
}

func (o *Orchestrator) indexStage(progress Progress) Stage[split, indexed] {
	return func(ctx context.Context, in split) (indexed, error) {
		progress(ctx, models.StatusIndexing, "indexing")
		index, err := o.indexer.Build(ctx, in.chunks)
		if err != nil {
			return indexed{}, err
		}
		return indexed{url: in.url, index: index}, nil
	}
}

func (o *Orchestrator) answerStage(progress Progress) Stage[indexed, *models.ExtractionResult] {
	return func(ctx context.Context, in indexed) (*models.ExtractionResult, error) {
		result := &models.ExtractionResult{URL: in.url}
		for _, q := range models.ExtractionQuestions {
			progress(ctx, models.StatusAnswering, "answering:"+q.Field)
			answer, err := Traced[string, string]("answer."+q.Field, func(ctx context.Context, question string) (string, error) {
				return o.answerer.Answer(ctx, in.index, question)
			})(ctx, q.Question)
			if err != nil {
				return nil, err
			}
			result.Set(q.Field, answer)
		}
		result.ExtractedAt = time.Now()
		return result, nil
	}
}
