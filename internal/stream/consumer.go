package stream

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/elie222/inbox-zero-sub011/adapter/in/worker"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

const (
	// submitRetryDelay paces re-submission while the pool's rate
	// limiter is exhausted. The stream entry stays unacked meanwhile.
	submitRetryDelay = 250 * time.Millisecond

	// Pending entries idle past reclaimMinIdle belonged to a consumer
	// that died mid-job. They are swept back on every reclaimInterval.
	reclaimInterval = 30 * time.Second
	reclaimMinIdle  = 5 * time.Minute
)

// Consumer drains the job streams into the worker pool. Delayed jobs
// parked by the producer are promoted on a ticker, and pending entries
// abandoned by dead consumers are periodically reclaimed.
type Consumer struct {
	stream *RedisStream
	pool   *worker.Pool
	name   string
}

func NewConsumer(stream *RedisStream, pool *worker.Pool, name string) *Consumer {
	return &Consumer{
		stream: stream,
		pool:   pool,
		name:   name,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	streams := []string{StreamEvents, StreamDigest, StreamMaintenance}
	for _, s := range streams {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			logger.Warn("failed to create group for %s: %v", s, err)
		}
	}

	for _, s := range streams {
		go c.consume(ctx, s)
	}
	go c.promoteDelayed(ctx, streams)
	go c.reclaimLoop(ctx, streams)
}

func (c *Consumer) consume(ctx context.Context, stream string) {
	c.stream.Consume(ctx, stream, c.name, func(id string, data []byte) error {
		return c.handleEntry(ctx, data)
	})
}

// handleEntry decodes one stream entry and hands it to the pool. A full
// pool blocks rather than fails: returning an error would leave the
// entry pending until reclaim, so waiting out the rate limiter here is
// both simpler and faster.
func (c *Consumer) handleEntry(ctx context.Context, data []byte) error {
	var job out.Job
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Warn("failed to unmarshal job: %v", err)
		return nil // poison entry, ack and move on
	}

	msg := &worker.Message{
		ID:        job.ID,
		Type:      job.Type,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
	}

	for {
		if c.pool.Submit(msg) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(submitRetryDelay):
		}
	}
}

func (c *Consumer) promoteDelayed(ctx context.Context, streams []string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range streams {
				if _, err := c.stream.PromoteDue(ctx, s, now); err != nil && ctx.Err() == nil {
					logger.Warn("failed to promote delayed jobs: stream=%s err=%v", s, err)
				}
			}
		}
	}
}

func (c *Consumer) reclaimLoop(ctx context.Context, streams []string) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range streams {
				n, err := c.stream.ReclaimStale(ctx, s, c.name, reclaimMinIdle, func(id string, data []byte) error {
					return c.handleEntry(ctx, data)
				})
				if err != nil && ctx.Err() == nil {
					logger.Warn("failed to reclaim stale jobs: stream=%s err=%v", s, err)
				}
				if n > 0 {
					logger.Info("reclaimed stale jobs: stream=%s count=%d", s, n)
				}
			}
		}
	}
}
