package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/pipeline"
)

// Extractor runs one extraction, reporting each stage through progress.
type Extractor interface {
	ExtractWithProgress(ctx context.Context, url string, progress pipeline.Progress) (*models.ExtractionResult, error)
}

type RunnerConfig struct {
	Workers    int
	JobTimeout time.Duration
	Logger     *slog.Logger
}

// Runner is a fixed pool of workers that extract tasks and record their
// status in a StatusSink.
type Runner struct {
	config    RunnerConfig
	extractor Extractor
	sink      types.StatusSink
	log       *slog.Logger
}

func NewRunner(config RunnerConfig, extractor Extractor, sink types.StatusSink) *Runner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		config:    config,
		extractor: extractor,
		sink:      sink,
		log:       log,
	}
}

// Run drains tasks with the configured number of workers until ctx is done
// or tasks is closed. It returns once every worker has stopped.
func (r *Runner) Run(ctx context.Context, tasks <-chan models.ImportTask) {
	var wg sync.WaitGroup
	for i := 0; i < r.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id, tasks)
		}(i)
	}
	r.log.Info("workers started", "count", r.config.Workers)
	wg.Wait()
	r.log.Info("workers stopped")
}

func (r *Runner) worker(ctx context.Context, id int, tasks <-chan models.ImportTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			r.Process(ctx, task)
		}
	}
}

// Process runs one task to a terminal status.
func (r *Runner) Process(ctx context.Context, task models.ImportTask) {
	ctx, span := otel.Tracer("pkg/queue").Start(ctx, "import_job",
		trace.WithAttributes(attribute.String("job.id", task.JobID), attribute.String("job.url", task.URL)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	log := r.log.With("job_id", task.JobID, "url", task.URL)
	log.Info("processing import job")

	progress := func(ctx context.Context, status models.JobStatus, phase string) {
		r.report(ctx, log, models.JobUpdate{JobID: task.JobID, URL: task.URL, Status: status, Phase: phase})
	}

	result, err := r.extractor.ExtractWithProgress(ctx, task.URL, progress)

	// The job context may have expired; the terminal update must still go out.
	reportCtx := context.WithoutCancel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("import job failed", "error", err)
		r.report(reportCtx, log, models.JobUpdate{
			JobID:  task.JobID,
			URL:    task.URL,
			Status: models.StatusFailed,
			Phase:  "failed",
			Error:  err.Error(),
		})
		return
	}

	log.Info("import job succeeded", "title", result.Title, "company", result.CompanyName)
	r.report(reportCtx, log, models.JobUpdate{
		JobID:  task.JobID,
		URL:    task.URL,
		Status: models.StatusSucceeded,
		Phase:  "done",
		Result: result,
	})
}

func (r *Runner) report(ctx context.Context, log *slog.Logger, u models.JobUpdate) {
	u.UpdatedAt = time.Now()
	if err := r.sink.Update(ctx, u); err != nil {
		log.Warn("failed to record job status", "status", u.Status, "error", err)
	}
}
