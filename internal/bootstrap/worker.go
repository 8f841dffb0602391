package bootstrap

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/elie222/inbox-zero-sub011/adapter/in/worker"
	"github.com/elie222/inbox-zero-sub011/config"
	"github.com/elie222/inbox-zero-sub011/internal/stream"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// Worker runs the job side of the engine: the pool, the stream
// consumer feeding it, and the maintenance scheduler.
type Worker struct {
	pool      *worker.Pool
	consumer  *stream.Consumer
	scheduler *worker.Scheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	log := logger.Default()
	eventProcessor := worker.NewEventProcessor(deps.Orchestrator)
	digestProcessor := worker.NewDigestProcessor(deps.DigestService)
	maintenanceProcessor := worker.NewMaintenanceProcessor(
		deps.Accounts,
		deps.Providers,
		deps.Learner,
		log,
	)

	handler := worker.NewHandler(
		eventProcessor,
		digestProcessor,
		maintenanceProcessor,
	)

	defaultConfig := worker.DefaultPoolConfig()
	poolConfig := &worker.PoolConfig{
		MinWorkers:       cfg.WorkerMin,
		MaxWorkers:       cfg.WorkerMax,
		QueueSize:        cfg.WorkerQueueSize,
		JobTimeout:       defaultConfig.JobTimeout,
		JobTimeoutByType: defaultConfig.JobTimeoutByType,
		BatchSize:        defaultConfig.BatchSize,
		WorkerChanSize:   defaultConfig.WorkerChanSize,
		RatePerSecond:    defaultConfig.RatePerSecond,
	}
	if poolConfig.MinWorkers == 0 {
		poolConfig.MinWorkers = defaultConfig.MinWorkers
	}
	if poolConfig.MaxWorkers == 0 {
		poolConfig.MaxWorkers = defaultConfig.MaxWorkers
	}
	if poolConfig.QueueSize == 0 {
		poolConfig.QueueSize = defaultConfig.QueueSize
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:      pool,
		consumer:  stream.NewConsumer(deps.Stream, pool, cfg.WorkerID),
		scheduler: worker.NewScheduler(deps.Queue, cfg.DigestSchedule, log),
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		zlog:      zlog,
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	w.zlog.Info().Msg("Starting stream consumer")
	w.consumer.Start(w.ctx)

	w.scheduler.Start()
	w.zlog.Info().Msg("Started maintenance scheduler")

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.scheduler.Stop()
	w.pool.Stop()
	w.wg.Wait()
}
