package models

import "time"

// JobStatus represents the state of an import job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusFetching  JobStatus = "fetching"
	StatusSplitting JobStatus = "splitting"
	StatusIndexing  JobStatus = "indexing"
	StatusAnswering JobStatus = "answering"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further updates are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is the caller-visible record of one import request.
type Job struct {
	ID        string            `json:"job_id"`
	URL       string            `json:"url"`
	Status    JobStatus         `json:"status"`
	Phase     string            `json:"phase,omitempty"`
	Result    *ExtractionResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// JobUpdate is a status transition reported by a worker.
type JobUpdate struct {
	JobID     string            `json:"job_id"`
	URL       string            `json:"url"`
	Status    JobStatus         `json:"status"`
	Phase     string            `json:"phase,omitempty"`
	Result    *ExtractionResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Apply copies the update onto the job.
func (j *Job) Apply(u JobUpdate) {
	j.Status = u.Status
	j.Phase = u.Phase
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != "" {
		j.Error = u.Error
	}
	j.UpdatedAt = u.UpdatedAt
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = time.Now()
	}
}

// ImportTask is the unit of work placed on the queue.
type ImportTask struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
}
