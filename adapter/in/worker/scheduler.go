package worker

import (
	"context"
	"sync"
	"time"

	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

const watchRenewInterval = 1 * time.Hour

// Scheduler enqueues the recurring maintenance jobs: watch renewal
// sweeps and digest scheduling. Jobs go through the queue rather than
// running inline so a multi-instance deployment executes each sweep
// once, deduplicated by the time-bucketed job ID.
type Scheduler struct {
	queue       out.JobQueue
	digestEvery time.Duration
	log         *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(queue out.JobQueue, digestEvery time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		queue:       queue,
		digestEvery: digestEvery,
		log:         log,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.loop(ctx, watchRenewInterval, func(ctx context.Context, bucket string) error {
		_, err := s.queue.Enqueue(ctx, out.QueueMaintenance, &out.Job{
			ID:      "watch_renew:" + bucket,
			Type:    string(JobWatchRenew),
			Payload: map[string]any{"renew_all": true},
		}, nil)
		return err
	})
	go s.loop(ctx, s.digestEvery, func(ctx context.Context, bucket string) error {
		_, err := s.queue.Enqueue(ctx, out.QueueMaintenance, &out.Job{
			ID:   "digest_schedule:" + bucket,
			Type: string(JobDigestSchedule),
		}, nil)
		return err
	})
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, enqueue func(context.Context, string) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			// Truncating to the interval gives every instance the same
			// job ID for the same tick, so dedup drops the copies.
			bucket := t.UTC().Truncate(every).Format(time.RFC3339)
			if err := enqueue(ctx, bucket); err != nil {
				s.log.WithError(err).Warn("failed to enqueue scheduled job")
			}
		}
	}
}
