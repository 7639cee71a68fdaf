package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"go-receipt-capture/internal/logger"
)

// ExecutorStats is a snapshot of executor counters
type ExecutorStats struct {
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	RejectedJobs  int64 `json:"rejected_jobs"`
	ActiveWorkers int64 `json:"active_workers"`
}

// Executor runs capture jobs off the consumption loop.
// Submit never blocks: a full queue or a closed executor rejects the job.
type Executor struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup // running workers
	jobs     sync.WaitGroup // accepted, unfinished jobs
	once     sync.Once
	mu       sync.RWMutex
	closed   bool

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	rejectedJobs  atomic.Int64
	activeWorkers atomic.Int64
}

// NewExecutor creates an executor; workers <= 0 means one worker
func NewExecutor(workers, queueSize int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &Executor{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
	}
}

// Start launches the workers once
func (e *Executor) Start() {
	e.once.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	})
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for job := range e.jobQueue {
		e.run(job)
	}
}

func (e *Executor) run(job func()) {
	e.activeWorkers.Add(1)
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("executor").WithField("panic", r).Error("Capture job panicked")
		}
		e.activeWorkers.Add(-1)
		e.completedJobs.Add(1)
		e.jobs.Done()
	}()
	job()
}

// Submit queues job and reports whether it was accepted
func (e *Executor) Submit(job func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.rejectedJobs.Add(1)
		return false
	}

	e.jobs.Add(1)
	select {
	case e.jobQueue <- job:
		e.totalJobs.Add(1)
		return true
	default:
		e.jobs.Done()
		e.rejectedJobs.Add(1)
		return false
	}
}

// Wait blocks until every accepted job has finished
func (e *Executor) Wait() {
	e.jobs.Wait()
}

// Busy reports whether a job is queued or running
func (e *Executor) Busy() bool {
	return e.activeWorkers.Load() > 0 || len(e.jobQueue) > 0
}

// Close stops accepting jobs and waits for queued ones until ctx ends
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobQueue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		TotalJobs:     e.totalJobs.Load(),
		CompletedJobs: e.completedJobs.Load(),
		RejectedJobs:  e.rejectedJobs.Load(),
		ActiveWorkers: e.activeWorkers.Load(),
	}
}
