// Package queue provides the durable submission queue. Cloud Tasks backs
// production: at-least-once delivery with queue-level retry, and task names
// derived from the intent ID give idempotent enqueue. Local development uses
// the in-memory queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Job is the unit of work handed to submission workers. Consumers must be
// idempotent: delivery is at-least-once.
type Job struct {
	IntentID     string            `json:"intent_id"`
	TenantID     string            `json:"tenant_id"`
	Priority     int               `json:"priority"`
	TraceCarrier map[string]string `json:"trace_carrier,omitempty"`
}

// Queue enqueues submission jobs under a routing namespace.
type Queue interface {
	Enqueue(ctx context.Context, namespace string, job Job) error
}

// MemoryQueue buffers jobs per namespace in memory. Local development and
// tests only; nothing survives a restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string][]Job
	seen map[string]bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs: make(map[string][]Job),
		seen: make(map[string]bool),
	}
}

// Enqueue appends the job to its namespace. Duplicate intent IDs within a
// namespace are dropped, mirroring Cloud Tasks task-name deduplication.
func (q *MemoryQueue) Enqueue(ctx context.Context, namespace string, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := json.Marshal(job); err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := namespace + "/" + job.IntentID
	if q.seen[key] {
		return nil
	}
	q.seen[key] = true
	q.jobs[namespace] = append(q.jobs[namespace], job)
	return nil
}

// Drain removes and returns all buffered jobs for a namespace.
func (q *MemoryQueue) Drain(namespace string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.jobs[namespace]
	q.jobs[namespace] = nil
	return jobs
}

// Len reports the number of buffered jobs in a namespace.
func (q *MemoryQueue) Len(namespace string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs[namespace])
}
