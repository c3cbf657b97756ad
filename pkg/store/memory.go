package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xhad/jobimport/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// MemoryJobStore is a thread-safe in-memory job registry with TTL eviction.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	ttl  time.Duration
}

func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryJobStore{
		jobs: make(map[string]*models.Job),
		ttl:  ttl,
	}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	s.jobs[job.ID] = &j
	return nil
}

// Get returns a copy of the job.
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j := *job
	return &j, nil
}

// FindActiveByURL returns the newest job for url that has not failed.
func (s *MemoryJobStore) FindActiveByURL(ctx context.Context, url string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Job
	for _, job := range s.jobs {
		if job.URL != url || job.Status == models.StatusFailed {
			continue
		}
		if found == nil || job.CreatedAt.After(found.CreatedAt) {
			found = job
		}
	}
	if found == nil {
		return nil, ErrJobNotFound
	}
	j := *found
	return &j, nil
}

// Update applies a status transition. Non-terminal updates arriving after
// the job has finished are dropped.
func (s *MemoryJobStore) Update(ctx context.Context, u models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[u.JobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() && !u.Status.Terminal() {
		return nil
	}
	job.Apply(u)
	return nil
}

// Cleanup removes expired jobs.
func (s *MemoryJobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (s *MemoryJobStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

func (s *MemoryJobStore) Close() {}
