package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/jobqueue/internal/backoff"
	"github.com/nextlevelbuilder/jobqueue/internal/telemetry/otelspan"
)

// Handler processes one claimed job. Returning a non-nil error marks the
// job Failed with the error's text; returning nil marks it Done.
type Handler func(ctx context.Context, job *Job) error

const workerPollBase = 10 * time.Millisecond

// Worker binds one job Type to a Handler and repeatedly claims and
// processes jobs of that type until Stop is called or the Queue closes.
// At most one handler invocation is ever in flight per Worker instance;
// running several Workers for the same type is safe, since the claim
// protocol serializes dispatch.
type Worker struct {
	queue   *Queue
	typ     string
	handler Handler
	hooks   Hooks

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorker creates a Worker bound to typ. hooks.OnProcessing/OnCompleted/
// OnFailed are invoked synchronously around each handler call; the other
// Hooks fields are ignored here (they belong to Queue's maintenance loop).
func NewWorker(q *Queue, typ string, handler Handler, hooks Hooks) *Worker {
	return &Worker{
		queue:   q,
		typ:     typ,
		handler: handler,
		hooks:   hooks,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the worker's background claim loop. Safe to call once; later
// calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop cooperatively cancels the worker loop and blocks until any in-flight
// handler invocation returns.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)

	attempt := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.queue.stopCh:
			return
		default:
		}

		job, err := w.queue.Claim(context.Background(), w.typ)
		if err != nil {
			slog.Warn("jobqueue: worker claim failed", "type", w.typ, "error", err)
			attempt++
			if !w.sleep(attempt) {
				return
			}
			continue
		}
		if job == nil {
			attempt++
			if !w.sleep(attempt) {
				return
			}
			continue
		}

		attempt = 0
		w.process(job)
	}
}

// sleep waits out an idle-poll backoff, returning false if Stop fired or the
// Queue closed during the wait.
func (w *Worker) sleep(attempt int) bool {
	delay := backoff.Idle(workerPollBase, attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stopCh:
		return false
	case <-w.queue.stopCh:
		return false
	}
}

func (w *Worker) process(job *Job) {
	start := time.Now()
	w.safeOnProcessing(job)

	err := w.invokeHandler(job)

	if err != nil {
		if markErr := w.queue.MarkFailed(context.Background(), job.ID, err); markErr != nil {
			slog.Warn("jobqueue: worker mark failed errored", "job_id", job.ID, "error", markErr)
		}
		w.safeOnFailed(job, err)
		w.queue.exportTrace(otelspan.JobEvent{
			JobID:     job.ID,
			Type:      job.Type,
			Status:    "failed",
			Attempts:  job.Attempts,
			StartTime: start,
			EndTime:   time.Now(),
			Err:       err.Error(),
		})
		return
	}

	if markErr := w.queue.MarkDone(context.Background(), job.ID); markErr != nil {
		slog.Warn("jobqueue: worker mark done errored", "job_id", job.ID, "error", markErr)
	}
	w.safeOnCompleted(job)
	w.queue.exportTrace(otelspan.JobEvent{
		JobID:     job.ID,
		Type:      job.Type,
		Status:    "done",
		Attempts:  job.Attempts,
		StartTime: start,
		EndTime:   time.Now(),
	})
}

func (w *Worker) invokeHandler(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(context.Background(), job)
}

// safeOnProcessing, safeOnCompleted, and safeOnFailed recover from hook
// panics: a hook failing must never change the job's already-recorded
// outcome.
func (w *Worker) safeOnProcessing(job *Job) {
	if w.hooks.OnProcessing == nil {
		return
	}
	defer func() { recover() }()
	w.hooks.OnProcessing(job)
}

func (w *Worker) safeOnCompleted(job *Job) {
	if w.hooks.OnCompleted == nil {
		return
	}
	defer func() { recover() }()
	w.hooks.OnCompleted(job)
}

func (w *Worker) safeOnFailed(job *Job, err error) {
	if w.hooks.OnFailed == nil {
		return
	}
	defer func() { recover() }()
	w.hooks.OnFailed(job, err)
}
