// Package worker runs the periodic task workers that push swap refund
// tasks through their state machine with bounded retries.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/db"
)

// Store is the subset of database operations the runner needs.
type Store interface {
	ListDueSwapTasks(ctx context.Context, status db.SwapStatus, now time.Time) ([]db.TaskSwap, error)
	UpdateSwapTask(ctx context.Context, task *db.TaskSwap) error
}

// Worker advances tasks out of one state. Proceed either moves the task
// forward (persisting the success path itself) or returns an error, in
// which case the runner applies the retry policy: below MaxRetries the
// task is rescheduled RetryInterval later, at MaxRetries it moves to
// FailStatus and is finished. MaxRetries of zero fails on the first
// error.
type Worker interface {
	Name() string
	StartStatus() db.SwapStatus
	FailStatus() db.SwapStatus
	MaxRetries() int
	RetryInterval() time.Duration
	Proceed(ctx context.Context, task *db.TaskSwap) error
}

// Runner drives a set of workers on a shared tick.
type Runner struct {
	store   Store
	workers []Worker
	alarm   alarm.Sink
	logger  *zap.Logger
	tick    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a runner for the given workers.
func NewRunner(store Store, sink alarm.Sink, logger *zap.Logger, tick time.Duration, workers ...Worker) *Runner {
	return &Runner{
		store:   store,
		workers: workers,
		alarm:   sink,
		logger:  logger.Named("worker"),
		tick:    tick,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the tick loop.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting task workers", zap.Int("workers", len(r.workers)), zap.Duration("tick", r.tick))
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the tick loop and waits for the current pass to finish.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("Task workers stopped")
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tickOnce(ctx)
		}
	}
}

// tickOnce runs every worker over its due tasks.
func (r *Runner) tickOnce(ctx context.Context) {
	for _, w := range r.workers {
		tasks, err := r.store.ListDueSwapTasks(ctx, w.StartStatus(), time.Now().UTC())
		if err != nil {
			r.logger.Error("Failed to list due tasks",
				zap.String("worker", w.Name()), zap.Error(err))
			continue
		}
		for i := range tasks {
			select {
			case <-r.stopCh:
				return
			default:
			}
			task := &tasks[i]
			if err := w.Proceed(ctx, task); err != nil {
				r.retryOrFail(ctx, w, task, err)
			}
		}
	}
}

// retryOrFail applies the bounded retry policy after a failed attempt.
func (r *Runner) retryOrFail(ctx context.Context, w Worker, task *db.TaskSwap, cause error) {
	if task.DeancRetryCount < w.MaxRetries() {
		task.DeancRetryCount++
		task.Status = w.StartStatus()
		sched := time.Now().UTC().Add(w.RetryInterval())
		task.ScheduleTimestamp = &sched
		metrics.WorkerRetriesTotal.WithLabelValues(w.Name()).Inc()
		r.logger.Warn("Task attempt failed, retrying",
			zap.String("worker", w.Name()),
			zap.String("task", task.TaskID),
			zap.Int("retry", task.DeancRetryCount),
			zap.Error(cause))
	} else {
		task.Status = w.FailStatus()
		task.FinishFlag = true
		task.ScheduleTimestamp = nil
		msg := cause.Error()
		pos := w.Name()
		task.ErrorPosition = &pos
		task.ErrorMessage = &msg
		metrics.WorkerTasksTotal.WithLabelValues(w.Name(), "failure").Inc()
		r.alarm.Error(w.Name(), cause, zap.String("task", task.TaskID))
	}
	if err := r.store.UpdateSwapTask(ctx, task); err != nil {
		r.logger.Error("Failed to persist task state",
			zap.String("worker", w.Name()),
			zap.String("task", task.TaskID),
			zap.Error(err))
	}
}
