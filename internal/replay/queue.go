package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"textreplacer/internal/logging"
	"textreplacer/internal/metrics"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("replay: queue closed")

// ErrQueueFull is returned by Enqueue when the queue has no free slot.
var ErrQueueFull = errors.New("replay: queue full")

// DefaultQueueSize is the number of replays that may wait.
const DefaultQueueSize = 16

// Job is one pending replacement.
type Job struct {
	TriggerLength int
	Replacement   string
}

// Runner performs a job; *Replayer satisfies it.
type Runner interface {
	Replay(ctx context.Context, triggerLength int, replacement string) error
}

// Queue runs replays one at a time, in submission order, on a single
// worker goroutine.
type Queue struct {
	runner  Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	crash   *logging.CrashHandler

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Size    int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Crash   *logging.CrashHandler
}

// NewQueue starts the worker.
func NewQueue(runner Runner, opts QueueOptions) *Queue {
	if opts.Size <= 0 {
		opts.Size = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	q := &Queue{
		runner:  runner,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		crash:   opts.Crash,
		jobs:    make(chan Job, opts.Size),
		done:    make(chan struct{}),
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.worker()
	return q
}

// Enqueue submits a job without blocking. It is called from the keyboard
// hook, so a full queue drops the job instead of stalling input.
func (q *Queue) Enqueue(triggerLength int, replacement string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- Job{TriggerLength: triggerLength, Replacement: replacement}:
		q.metrics.QueueDepth.Set(int64(len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) worker() {
	defer close(q.done)
	for job := range q.jobs {
		q.metrics.QueueDepth.Set(int64(len(q.jobs)))
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	if q.crash != nil {
		defer q.crash.RecoverGoroutine("replay")
	}
	if err := q.runner.Replay(q.ctx, job.TriggerLength, job.Replacement); err != nil {
		if !errors.Is(err, context.Canceled) {
			q.metrics.ReplayErrorsTotal.Inc()
			q.logger.Error("replay failed", "error", err, "trigger_length", job.TriggerLength)
		}
	}
}

// Close stops accepting jobs. Waiting jobs are dropped unless drain is set;
// the job in progress always completes. Close blocks until the worker exits.
func (q *Queue) Close(drain bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	if !drain {
		q.cancel()
	}
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
	q.cancel()
	q.metrics.QueueDepth.Set(0)
}
