package queue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/pkg/pipeline"
	"github.com/xhad/jobimport/pkg/store"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

// fakeExtractor walks the pipeline phases and returns a fixed result,
// or fails for URLs listed in fail.
type fakeExtractor struct {
	mu    sync.Mutex
	fail  map[string]error
	block bool
	urls  []string
}

func (f *fakeExtractor) ExtractWithProgress(ctx context.Context, url string, progress pipeline.Progress) (*models.ExtractionResult, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	err := f.fail[url]
	f.mu.Unlock()

	progress(ctx, models.StatusFetching, "fetching")
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	progress(ctx, models.StatusSplitting, "splitting")
	progress(ctx, models.StatusIndexing, "indexing")
	progress(ctx, models.StatusAnswering, "answering:title")
	return &models.ExtractionResult{URL: url, Title: "Senior Engineer", CompanyName: "Acme Corp"}, nil
}

func newStoredJob(t *testing.T, s *store.MemoryJobStore, id, url string) models.ImportTask {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.Create(context.Background(), &models.Job{ID: id, URL: url, Status: models.StatusQueued, CreatedAt: now, UpdatedAt: now}))
	return models.ImportTask{JobID: id, URL: url}
}

func waitForStatus(t *testing.T, s *store.MemoryJobStore, id string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestLocalQueueFull(t *testing.T) {
	q := NewLocalQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.ImportTask{JobID: "1"}))
	require.NoError(t, q.Enqueue(ctx, models.ImportTask{JobID: "2"}))
	assert.ErrorIs(t, q.Enqueue(ctx, models.ImportTask{JobID: "3"}), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, "1", (<-q.Tasks()).JobID)
	require.NoError(t, q.Enqueue(ctx, models.ImportTask{JobID: "3"}))
}

func TestLocalQueueCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLocalQueue(1).Enqueue(ctx, models.ImportTask{}), context.Canceled)
}

func TestRunnerRecordsSuccessAndFailure(t *testing.T) {
	jobs := store.NewMemoryJobStore(time.Hour)
	extractor := &fakeExtractor{fail: map[string]error{
		"https://jobs.example.com/gone": &models.FetchError{URL: "https://jobs.example.com/gone", StatusCode: 404},
	}}
	runner := NewRunner(RunnerConfig{Workers: 2, JobTimeout: time.Second}, extractor, jobs)

	q := NewLocalQueue(8)
	ok := newStoredJob(t, jobs, "ok", "https://jobs.example.com/1")
	gone := newStoredJob(t, jobs, "gone", "https://jobs.example.com/gone")
	require.NoError(t, q.Enqueue(context.Background(), ok))
	require.NoError(t, q.Enqueue(context.Background(), gone))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx, q.Tasks())
		close(done)
	}()

	job := waitForStatus(t, jobs, "ok", models.StatusSucceeded)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Acme Corp", job.Result.CompanyName)
	assert.Equal(t, "done", job.Phase)

	job = waitForStatus(t, jobs, "gone", models.StatusFailed)
	assert.Contains(t, job.Error, "status 404")
	assert.Nil(t, job.Result)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerJobTimeout(t *testing.T) {
	jobs := store.NewMemoryJobStore(time.Hour)
	runner := NewRunner(RunnerConfig{Workers: 1, JobTimeout: 20 * time.Millisecond}, &fakeExtractor{block: true}, jobs)

	task := newStoredJob(t, jobs, "slow", "https://jobs.example.com/slow")
	runner.Process(context.Background(), task)

	job, err := jobs.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, job.Error, context.DeadlineExceeded.Error())
}

type failingSink struct{ calls int }

func (s *failingSink) Update(context.Context, models.JobUpdate) error {
	s.calls++
	return errors.New("store down")
}

func TestRunnerSurvivesSinkErrors(t *testing.T) {
	sink := &failingSink{}
	runner := NewRunner(RunnerConfig{}, &fakeExtractor{}, sink)

	runner.Process(context.Background(), models.ImportTask{JobID: "x", URL: "https://jobs.example.com/x"})
	// four progress updates and the terminal one
	assert.Equal(t, 5, sink.calls)
}

func TestNATSQueueDeliversToOneWorker(t *testing.T) {
	nc := startTestNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewNATSQueue(nc, "jobs.import", nil)
	a, err := q.Consume(ctx, "import-workers")
	require.NoError(t, err)
	b, err := q.Consume(ctx, "import-workers")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, q.Enqueue(context.Background(), models.ImportTask{JobID: "j1", URL: "https://jobs.example.com/1"}))

	var got models.ImportTask
	select {
	case got = <-a:
	case got = <-b:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for task")
	}
	assert.Equal(t, "j1", got.JobID)

	select {
	case extra := <-a:
		t.Fatalf("task delivered twice: %+v", extra)
	case extra := <-b:
		t.Fatalf("task delivered twice: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSQueueDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, err := NewNATSQueue(nc, "jobs.import", nil).Consume(ctx, "")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.Publish("jobs.import", []byte("{bad")))
	select {
	case task := <-tasks:
		t.Fatalf("malformed message delivered: %+v", task)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSQueueLogsTaskDroppedOnShutdown(t *testing.T) {
	var logs bytes.Buffer
	q := NewNATSQueue(nil, "jobs.import", slog.New(slog.NewTextHandler(&logs, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	delivered := q.deliver(ctx, make(chan models.ImportTask), models.ImportTask{JobID: "lost-1", URL: "https://jobs.example.com/lost"})
	assert.False(t, delivered)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "job_id=lost-1")

	tasks := make(chan models.ImportTask, 1)
	assert.True(t, q.deliver(context.Background(), tasks, models.ImportTask{JobID: "kept"}))
	assert.Equal(t, "kept", (<-tasks).JobID)
}

func TestSplitProcessFlow(t *testing.T) {
	nc := startTestNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// server side: job store fed by status events
	jobs := store.NewMemoryJobStore(time.Hour)
	sub, err := SubscribeStatus(nc, "jobs.import.status", jobs, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// worker side: consumes tasks, publishes status
	q := NewNATSQueue(nc, "jobs.import", nil)
	tasks, err := q.Consume(ctx, "import-workers")
	require.NoError(t, err)
	runner := NewRunner(RunnerConfig{Workers: 1}, &fakeExtractor{}, NewStatusPublisher(nc, "jobs.import.status"))
	go runner.Run(ctx, tasks)
	require.NoError(t, nc.Flush())

	task := newStoredJob(t, jobs, "remote", "https://jobs.example.com/remote")
	require.NoError(t, q.Enqueue(context.Background(), task))

	job := waitForStatus(t, jobs, "remote", models.StatusSucceeded)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Senior Engineer", job.Result.Title)
}
