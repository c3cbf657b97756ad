package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/config"
	"github.com/xhad/jobimport/pkg/llm"
	"github.com/xhad/jobimport/pkg/pipeline"
	"github.com/xhad/jobimport/pkg/processor"
	"github.com/xhad/jobimport/pkg/scraper"
	"github.com/xhad/jobimport/pkg/store"
)

// app holds the components shared by every command. It is built once per
// process from the loaded config.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	embedder     *llm.Embedder
	chat         *llm.ChatEngine
	orchestrator *pipeline.Orchestrator
}

func newApp(cfg *config.Config, log *slog.Logger, onFetch func(url string)) (*app, error) {
	provider := llm.ProviderConfig{
		Provider:       cfg.LLM.Provider,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.Embedding.Model,
	}

	client, err := llm.NewEmbeddingClient(provider)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		InitialWait: cfg.Embedding.InitialWait,
		Logger:      log,
	}, client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	model, err := llm.NewModel(provider)
	if err != nil {
		return nil, err
	}
	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Temperature: *cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		TopK:        cfg.Retrieval.TopK,
		Retries:     *cfg.Retrieval.GenerationRetries,
		Logger:      log,
	}, model, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	fetcher := scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:       cfg.Scraper.MaxDepth,
		RateLimit:      cfg.Scraper.RateLimit,
		Timeout:        cfg.Scraper.Timeout,
		Retries:        *cfg.Scraper.Retries,
		UserAgent:      cfg.Scraper.UserAgent,
		IgnorePatterns: cfg.Scraper.IgnorePatterns,
		OnProgress:     onFetch,
		Logger:         log,
	})
	splitter := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: *cfg.Processor.ChunkOverlap,
	})

	return &app{
		cfg:          cfg,
		log:          log,
		embedder:     embedder,
		chat:         chat,
		orchestrator: pipeline.New(fetcher, splitter, store.NewIndexer(embedder), chat, log),
	}, nil
}

// openJobStore returns the Postgres store when a database is configured and
// the in-memory store otherwise. The returned func releases it.
func (a *app) openJobStore(ctx context.Context) (types.JobStore, func(), error) {
	if a.cfg.Database.URL == "" {
		jobs := store.NewMemoryJobStore(a.cfg.Dispatcher.JobTTL)
		janitorCtx, cancel := context.WithCancel(ctx)
		go jobs.Run(janitorCtx, cleanupInterval(a.cfg.Dispatcher.JobTTL))
		a.log.Info("using in-memory job store", "ttl", a.cfg.Dispatcher.JobTTL)
		return jobs, cancel, nil
	}

	jobs, err := store.NewPostgresWithConfig(ctx, store.PostgresConfig{
		ConnString: a.cfg.Database.URL,
		TableName:  a.cfg.Database.TableName,
		VectorDim:  a.cfg.Database.VectorDim,
		Embedder:   a.embedder,
		Logger:     a.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}
	a.log.Info("using postgres job store", "table", a.cfg.Database.TableName)
	return jobs, jobs.Close, nil
}

func cleanupInterval(ttl time.Duration) time.Duration {
	interval := ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
