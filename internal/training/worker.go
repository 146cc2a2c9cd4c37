package training

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

// Runner executes one training job.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// JobQueue dispatches training jobs for background execution.
// Submission only enqueues and returns; execution happens on worker
// goroutines decoupled from the request path.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}

// WorkerConfig tunes the background worker.
type WorkerConfig struct {
	Workers    int
	QueueSize  int
	Retries    int           // whole-job attempts (default 3)
	RetryDelay time.Duration // fixed delay between attempts (default 5s)
}

// Worker consumes queued jobs on an ants pool and runs each through
// the pipeline with a bounded whole-job retry. When the final attempt
// fails, the job is marked failed with the error text.
type Worker struct {
	jobs     chan Job
	pool     *ants.Pool
	pipeline Runner
	store    Store
	cfg      WorkerConfig
	logger   logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

var _ JobQueue = (*Worker)(nil)

func NewWorker(pipeline Runner, store Store, cfg WorkerConfig, logger logging.Logger) (*Worker, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}

	return &Worker{
		jobs:     make(chan Job, cfg.QueueSize),
		pool:     pool,
		pipeline: pipeline,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "train-worker"),
		sleep:    sleepCtx,
	}, nil
}

// Start launches the dispatcher. It returns when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("worker shutting down")
				return
			case job := <-w.jobs:
				j := job
				if err := w.pool.Submit(func() { w.runWithRetry(ctx, j) }); err != nil {
					w.logger.Error("submit to pool failed", "job_id", j.ID, "error", err)
					w.markJobFailed(ctx, j, err)
				}
			}
		}
	}()
}

// Enqueue schedules a job. Blocks when the queue is full.
func (w *Worker) Enqueue(ctx context.Context, job Job) error {
	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the worker pool.
func (w *Worker) Close() {
	w.pool.Release()
}

// runWithRetry retries the whole job invocation with a fixed delay.
// This catches failures that escape per-source isolation, e.g. a
// database outage spanning the job.
func (w *Worker) runWithRetry(ctx context.Context, job Job) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.Retries; attempt++ {
		err := w.pipeline.Run(ctx, job)
		if err == nil {
			return
		}
		lastErr = err
		w.logger.Error("training job attempt failed", "job_id", job.ID, "attempt", attempt, "error", err)
		if attempt == w.cfg.Retries {
			break
		}
		if serr := w.sleep(ctx, w.cfg.RetryDelay); serr != nil {
			lastErr = serr
			break
		}
	}
	w.markJobFailed(ctx, job, lastErr)
}

func (w *Worker) markJobFailed(ctx context.Context, job Job, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := w.store.UpdateTrainingJobStatus(ctx, job.ID, models.JobStatusFailed, msg); err != nil {
		w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
