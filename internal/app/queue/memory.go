package queue

import "context"

// MemoryQueue is a channel-backed TaskQueue for tests and single-process
// deployments.
type MemoryQueue struct {
	tasks chan Task
}

var _ TaskQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue with the given capacity (default 1024).
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{tasks: make(chan Task, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	return int64(len(q.tasks)), nil
}
