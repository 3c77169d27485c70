package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjperalta/opcost-api/pkg/logger"
)

// Job represents a background task
type Job func(ctx context.Context) error

type namedJob struct {
	name string
	run  Job
}

// Worker runs named jobs on a fixed pool of goroutines. Jobs queued before
// Shutdown still run; jobs enqueued afterwards are dropped.
type Worker struct {
	ctx    context.Context
	cancel context.CancelFunc
	size   int
	queue  chan namedJob

	wg      sync.WaitGroup // pool goroutines
	sched   sync.WaitGroup // scheduler goroutines
	pending sync.WaitGroup // queued and running jobs
	stop    chan struct{}

	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	stats   WorkerStats
	statsMu sync.RWMutex
}

// WorkerStats holds statistics about the worker
type WorkerStats struct {
	ActiveJobs    int   `json:"active_jobs"`
	CompletedJobs int64 `json:"completed_jobs"` // every finished job
	FailedJobs    int64 `json:"failed_jobs"`    // failed subset of CompletedJobs
	QueueLength   int   `json:"queue_length"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// NewWorker starts a pool of numWorkers goroutines
func NewWorker(numWorkers int) *Worker {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ctx:    ctx,
		cancel: cancel,
		size:   numWorkers,
		queue:  make(chan namedJob, max(100, numWorkers*20)),
		stop:   make(chan struct{}),
	}

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.process(i)
	}
	return w
}

// EnqueueNamed queues a job; the name shows up in logs. It blocks while
// the queue is full.
func (w *Worker) EnqueueNamed(name string, job Job) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		logger.Warn("[Worker] Dropping job after shutdown", slog.String("job", name))
		return
	}
	w.pending.Add(1)
	w.queue <- namedJob{name: name, run: job}
}

// Wait blocks until every queued job has finished
func (w *Worker) Wait() {
	w.pending.Wait()
}

func (w *Worker) process(workerID int) {
	defer w.wg.Done()
	for job := range w.queue {
		w.run(workerID, job)
	}
}

func (w *Worker) run(workerID int, job namedJob) {
	defer w.pending.Done()

	w.trackJobStart()
	start := time.Now()
	err := w.safeRun(job.run)
	w.trackJobEnd(err != nil)

	if err != nil {
		logger.Error("[Worker] Job error",
			slog.Int("worker", workerID),
			slog.String("job", job.name),
			slog.String("error", err.Error()))
		return
	}
	logger.Debug("[Worker] Job completed",
		slog.Int("worker", workerID),
		slog.String("job", job.name),
		slog.Duration("elapsed", time.Since(start)))
}

func (w *Worker) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job(w.ctx)
}

// ScheduleEvery queues the job at fixed intervals. The first run happens
// after the interval, not at startup.
func (w *Worker) ScheduleEvery(name string, interval time.Duration, job Job) {
	w.sched.Add(1)
	go func() {
		defer w.sched.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.EnqueueNamed(name, job)
			}
		}
	}()
}

// Shutdown stops the schedulers, lets queued jobs finish and then stops the pool
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	w.sched.Wait()
	close(w.queue)
	w.wg.Wait()
	w.cancel()
}

// GetStats returns the current worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	stats := w.stats
	stats.QueueLength = len(w.queue)
	stats.MaxConcurrent = w.size
	return stats
}

func (w *Worker) trackJobStart() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs++
}

func (w *Worker) trackJobEnd(failed bool) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs--
	w.stats.CompletedJobs++
	if failed {
		w.stats.FailedJobs++
	}
}
