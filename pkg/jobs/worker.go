package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xelpkg/registry/pkg/indexer"
)

// ErrQueueClosed is returned by Enqueue after the queue has shut down.
var ErrQueueClosed = errors.New("submission queue is closed")

// Processor runs one submission. It is satisfied by *indexer.Processor.
type Processor interface {
	Process(ctx context.Context, sub indexer.Submission) *indexer.Outcome
}

// EventType names a queue observability event.
type EventType string

const (
	EventAccepted EventType = "job-accepted"
	EventStarted  EventType = "job-started"
	EventFinished EventType = "job-finished"
	EventIdle     EventType = "queue-idle"
)

// Event is delivered to the queue's EventFunc. JobID is empty for
// EventIdle; Err is only set on EventFinished.
type Event struct {
	Type    EventType
	JobID   string
	Pending int
	Active  int
	Err     error
}

// EventFunc observes queue events. It is called without queue locks held
// and must not block for long.
type EventFunc func(Event)

// JobHandle tracks one accepted submission.
type JobHandle struct {
	ID string

	done    chan struct{}
	outcome *indexer.Outcome
}

func newHandle(id string) *JobHandle {
	return &JobHandle{ID: id, done: make(chan struct{})}
}

// Done is closed when the submission has finished.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the submission finishes or ctx is done.
func (h *JobHandle) Wait(ctx context.Context) (*indexer.Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *JobHandle) finish(out *indexer.Outcome) {
	h.outcome = out
	close(h.done)
}

type queuedJob struct {
	id     string
	sub    indexer.Submission
	handle *JobHandle
}

// Queue accepts submissions and runs at most cfg.Concurrency of them at a
// time, in arrival order. Accepted jobs are persisted so that jobs still
// waiting when the process stops are picked up again by the next Run.
type Queue struct {
	store   *JobStore
	proc    Processor
	cfg     *JobConfig
	logger  *slog.Logger
	onEvent EventFunc

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*queuedJob
	known   map[string]bool
	active  int
	closed  bool

	wg sync.WaitGroup
}

// NewQueue creates a queue. store may be nil, in which case jobs live only
// in memory.
func NewQueue(store *JobStore, proc Processor, cfg *JobConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	q := &Queue{
		store:  store,
		proc:   proc,
		cfg:    cfg,
		logger: logger,
		known:  make(map[string]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// OnEvent registers the event observer. It must be called before Run.
func (q *Queue) OnEvent(fn EventFunc) {
	q.onEvent = fn
}

// Stats returns the number of waiting and running jobs.
func (q *Queue) Stats() (pending, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.active
}

// Enqueue accepts a submission and returns immediately. The submission is
// never dropped: it runs once a worker is free.
func (q *Queue) Enqueue(ctx context.Context, repositoryURL, notifyAddress string) (*JobHandle, error) {
	repositoryURL = strings.TrimSpace(repositoryURL)
	if repositoryURL == "" {
		return nil, errors.New("repository URL is required")
	}

	job := &SubmissionJob{
		ID:            uuid.New().String(),
		RepositoryURL: repositoryURL,
		NotifyAddress: strings.TrimSpace(notifyAddress),
		RequestedAt:   time.Now(),
		State:         JobStateQueued,
	}

	// Reserve the id first so a concurrent recovery pass does not push the
	// freshly stored job a second time.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.known[job.ID] = true
	q.mu.Unlock()

	if q.store != nil {
		if err := q.store.Create(ctx, job); err != nil {
			q.mu.Lock()
			delete(q.known, job.ID)
			q.mu.Unlock()
			return nil, err
		}
	}
	return q.push(job), nil
}

func (q *Queue) push(job *SubmissionJob) *JobHandle {
	qj := &queuedJob{
		id:     job.ID,
		sub:    indexer.Submission{RepositoryURL: job.RepositoryURL, NotifyAddress: job.NotifyAddress},
		handle: newHandle(job.ID),
	}

	// Accepted is emitted before the job is visible to workers so that it
	// always precedes the job's started event.
	q.mu.Lock()
	q.known[job.ID] = true
	ev := Event{Type: EventAccepted, JobID: job.ID, Pending: len(q.pending) + 1, Active: q.active}
	q.mu.Unlock()
	q.emit(ev)

	q.mu.Lock()
	q.pending = append(q.pending, qj)
	q.mu.Unlock()
	q.cond.Signal()
	return qj.handle
}

func (q *Queue) emit(ev Event) {
	attrs := []any{"jobID", ev.JobID, "pending", ev.Pending, "active", ev.Active}
	switch ev.Type {
	case EventIdle:
		q.logger.Info("all submissions processed")
	case EventFinished:
		if ev.Err != nil {
			q.logger.Warn("submission finished", append(attrs, "error", ev.Err)...)
		} else {
			q.logger.Info("submission finished", attrs...)
		}
	default:
		q.logger.Info(string(ev.Type), attrs...)
	}
	if q.onEvent != nil {
		q.onEvent(ev)
	}
}

// Run recovers jobs left over by a previous process, starts the workers
// and the retention loop, and blocks until ctx is cancelled. Running
// submissions are allowed to finish; jobs still waiting stay queued in the
// store for the next Run.
func (q *Queue) Run(ctx context.Context) {
	if !q.cfg.Enabled {
		q.logger.Info("submission queue disabled")
		return
	}

	q.logger.Info("submission queue starting", "concurrency", q.cfg.Concurrency)
	if err := q.recoverJobs(ctx); err != nil {
		q.logger.Error("failed to recover queued jobs", "error", err)
	}

	if q.store != nil && q.cfg.RetentionDays > 0 {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.cleanupLoop(ctx)
		}()
	}

	concurrency := q.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			q.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	q.logger.Info("submission queue shutting down, waiting for running submissions")
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
	q.logger.Info("submission queue stopped")
}

// recoverJobs fails jobs interrupted mid-run and re-enqueues the ones that
// never started, oldest first.
func (q *Queue) recoverJobs(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	failed, err := q.store.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if failed > 0 {
		q.logger.Warn("marked interrupted submissions as failed", "count", failed)
	}

	queued, err := q.store.Queued(ctx)
	if err != nil {
		return err
	}
	recovered := 0
	for i := range queued {
		q.mu.Lock()
		seen := q.known[queued[i].ID]
		q.mu.Unlock()
		if seen {
			continue
		}
		q.push(&queued[i])
		recovered++
	}
	if recovered > 0 {
		q.logger.Info("recovered queued submissions", "count", recovered)
	}
	return nil
}

// workerLoop is the main loop for a single worker goroutine.
func (q *Queue) workerLoop(ctx context.Context, workerID int) {
	// Submissions run to completion even when the queue is stopping.
	jobCtx := context.WithoutCancel(ctx)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		qj := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.active++
		ev := Event{Type: EventStarted, JobID: qj.id, Pending: len(q.pending), Active: q.active}
		q.mu.Unlock()

		q.emit(ev)
		out := q.processOne(jobCtx, workerID, qj)

		q.mu.Lock()
		q.active--
		delete(q.known, qj.id)
		finished := Event{Type: EventFinished, JobID: qj.id, Pending: len(q.pending), Active: q.active, Err: out.Err}
		idle := len(q.pending) == 0 && q.active == 0
		q.mu.Unlock()

		qj.handle.finish(out)
		q.emit(finished)
		if idle {
			q.emit(Event{Type: EventIdle})
		}
	}
}

// processOne runs a single submission and records its result. A panic is
// confined to the job that raised it.
func (q *Queue) processOne(ctx context.Context, workerID int, qj *queuedJob) (out *indexer.Outcome) {
	start := time.Now()
	q.logger.Info("processing submission", "workerID", workerID, "jobID", qj.id, "url", qj.sub.RepositoryURL)

	if q.store != nil {
		if err := q.store.MarkRunning(ctx, qj.id); err != nil {
			q.logger.Error("failed to mark job as running", "jobID", qj.id, "error", err)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = &indexer.Outcome{
				Submission: qj.sub,
				State:      indexer.StateFailed,
				Err:        fmt.Errorf("submission panicked: %v", rec),
			}
		}
		q.record(ctx, qj.id, out, time.Since(start))
	}()

	out = q.proc.Process(ctx, qj.sub)
	if out == nil {
		out = &indexer.Outcome{Submission: qj.sub, State: indexer.StateFailed, Err: errors.New("processor returned no outcome")}
	}
	return out
}

func (q *Queue) record(ctx context.Context, jobID string, out *indexer.Outcome, elapsed time.Duration) {
	if q.store == nil {
		return
	}
	if out.Err != nil {
		if err := q.store.Fail(ctx, jobID, string(out.FailedIn), out.Err.Error(), elapsed.Milliseconds()); err != nil {
			q.logger.Error("failed to mark job as failed", "jobID", jobID, "error", err)
		}
		return
	}
	var name string
	if out.Package != nil {
		name = out.Package.Name
	}
	if err := q.store.Complete(ctx, jobID, name, out.Versions, elapsed.Milliseconds()); err != nil {
		q.logger.Error("failed to mark job as complete", "jobID", jobID, "error", err)
	}
}

// cleanupLoop periodically deletes old finished jobs.
func (q *Queue) cleanupLoop(ctx context.Context) {
	interval := q.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.purge(ctx)
		}
	}
}

func (q *Queue) purge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -q.cfg.RetentionDays)
	deleted, err := q.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		q.logger.Error("failed to delete old jobs", "error", err)
	} else if deleted > 0 {
		q.logger.Info("deleted old jobs", "count", deleted)
	}
}
