package out

import (
	"context"
	"time"
)

// Job queue names. Each name maps to one stream with its own consumer
// concurrency.
const (
	QueueEvents      = "events"      // inbound message processing
	QueueDigest      = "digest"      // scheduled digest sends
	QueueMaintenance = "maintenance" // watch renewal, pattern analysis
)

// Job is the unit of deferred work. ID doubles as the caller-supplied
// deduplication key; delivery is at-least-once so handlers must tolerate
// duplicates.
type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	Delay time.Duration
}

// JobQueue is the durable, retryable delivery contract.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, job *Job, opts *EnqueueOptions) (string, error)
	BulkEnqueue(ctx context.Context, queue string, jobs []*Job) ([]string, error)
}
