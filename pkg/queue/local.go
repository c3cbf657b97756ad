// Package queue moves import tasks from the dispatcher to a bounded pool of
// workers, either in process or over NATS.
package queue

import (
	"context"
	"errors"

	"github.com/xhad/jobimport/internal/models"
)

// ErrQueueFull is returned when a task cannot be accepted without blocking.
var ErrQueueFull = errors.New("queue is full")

// LocalQueue is a bounded in-process queue.
type LocalQueue struct {
	tasks chan models.ImportTask
}

func NewLocalQueue(buffer int) *LocalQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalQueue{tasks: make(chan models.ImportTask, buffer)}
}

// Enqueue never blocks; a full buffer yields ErrQueueFull.
func (q *LocalQueue) Enqueue(ctx context.Context, task models.ImportTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Tasks is the channel workers drain.
func (q *LocalQueue) Tasks() <-chan models.ImportTask {
	return q.tasks
}

// Len reports the number of buffered tasks.
func (q *LocalQueue) Len() int {
	return len(q.tasks)
}
