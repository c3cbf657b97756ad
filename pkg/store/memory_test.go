package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/pkg/store"
)

func newJob(id, url string, created time.Time) *models.Job {
	return &models.Job{ID: id, URL: url, Status: models.StatusQueued, CreatedAt: created, UpdatedAt: created}
}

func TestMemoryJobStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryJobStore(time.Hour)

	require.NoError(t, s.Create(ctx, newJob("j1", "https://jobs.example.com/1", time.Now())))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "https://jobs.example.com/1", job.URL)
	assert.Equal(t, models.StatusQueued, job.Status)

	// Get returns a copy
	job.Status = models.StatusFailed
	again, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, again.Status)
}

func TestMemoryJobStore_GetMissing(t *testing.T) {
	_, err := store.NewMemoryJobStore(time.Hour).Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestMemoryJobStore_Update(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryJobStore(time.Hour)
	require.NoError(t, s.Create(ctx, newJob("j1", "https://jobs.example.com/1", time.Now())))

	require.NoError(t, s.Update(ctx, models.JobUpdate{JobID: "j1", Status: models.StatusAnswering, Phase: "answering:title"}))
	job, _ := s.Get(ctx, "j1")
	assert.Equal(t, models.StatusAnswering, job.Status)
	assert.Equal(t, "answering:title", job.Phase)

	result := &models.ExtractionResult{Title: "Senior Engineer", CompanyName: "Acme Corp"}
	require.NoError(t, s.Update(ctx, models.JobUpdate{JobID: "j1", Status: models.StatusSucceeded, Result: result}))

	// a late progress event does not reopen a finished job
	require.NoError(t, s.Update(ctx, models.JobUpdate{JobID: "j1", Status: models.StatusAnswering}))

	job, _ = s.Get(ctx, "j1")
	assert.Equal(t, models.StatusSucceeded, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Acme Corp", job.Result.CompanyName)

	assert.ErrorIs(t, s.Update(ctx, models.JobUpdate{JobID: "missing", Status: models.StatusFailed}), store.ErrJobNotFound)
}

func TestMemoryJobStore_FindActiveByURL(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryJobStore(time.Hour)
	url := "https://jobs.example.com/1"
	now := time.Now()

	_, err := s.FindActiveByURL(ctx, url)
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	require.NoError(t, s.Create(ctx, newJob("old", url, now.Add(-time.Minute))))
	require.NoError(t, s.Create(ctx, newJob("new", url, now)))
	require.NoError(t, s.Create(ctx, newJob("other", "https://jobs.example.com/2", now)))

	job, err := s.FindActiveByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "new", job.ID)

	require.NoError(t, s.Update(ctx, models.JobUpdate{JobID: "new", Status: models.StatusFailed, Error: "fetch failed"}))
	job, err = s.FindActiveByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "old", job.ID)
}

func TestMemoryJobStore_TTLCleanup(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryJobStore(50 * time.Millisecond)

	require.NoError(t, s.Create(ctx, newJob("old", "u", time.Now())))

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.Create(ctx, newJob("new", "u", time.Now())))

	s.Cleanup()

	_, err := s.Get(ctx, "old")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestMemoryJobStore_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := store.NewMemoryJobStore(time.Millisecond)
	require.NoError(t, s.Create(ctx, newJob("old", "u", time.Now().Add(-time.Second))))

	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := s.Get(context.Background(), "old")
		return err != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
