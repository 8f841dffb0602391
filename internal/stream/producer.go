package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// Producer publishes jobs onto Redis streams. Job IDs deduplicate
// within a 24h window so webhook retries and overlapping schedulers
// collapse to one delivery.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

// StreamFor maps a queue name to its Redis stream key.
func StreamFor(queue string) string {
	switch queue {
	case out.QueueEvents:
		return StreamEvents
	case out.QueueDigest:
		return StreamDigest
	case out.QueueMaintenance:
		return StreamMaintenance
	default:
		return ""
	}
}

// Enqueue publishes a single job. Returns the stream entry ID, or the
// job ID when the enqueue was deduplicated or delayed.
func (p *Producer) Enqueue(ctx context.Context, queue string, job *out.Job, opts *out.EnqueueOptions) (string, error) {
	streamKey := StreamFor(queue)
	if streamKey == "" {
		return "", apperr.InvalidInput("unknown queue: " + queue)
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	fresh, err := p.stream.Dedup(ctx, streamKey, job.ID)
	if err != nil {
		return "", apperr.QueueError(err)
	}
	if !fresh {
		logger.Debug("duplicate job suppressed: queue=%s id=%s", queue, job.ID)
		return job.ID, nil
	}

	if opts != nil && opts.Delay > 0 {
		if err := p.stream.PublishDelayed(ctx, streamKey, job, job.CreatedAt.Add(opts.Delay)); err != nil {
			return "", apperr.QueueError(err)
		}
		return job.ID, nil
	}

	id, err := p.stream.Publish(ctx, streamKey, job)
	if err != nil {
		return "", apperr.QueueError(err)
	}
	return id, nil
}

// BulkEnqueue publishes many jobs, stopping at the first failure.
func (p *Producer) BulkEnqueue(ctx context.Context, queue string, jobs []*out.Job) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		id, err := p.Enqueue(ctx, queue, job, nil)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ out.JobQueue = (*Producer)(nil)
