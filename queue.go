// Package jobqueue is a durable, embedded job queue backed by a local
// relational store (SQLite by default, Postgres for shared deployments). It
// lets an application enqueue named work items and schedule recurring work
// via cron expressions, then reliably dispatches that work to in-process
// Workers. See Queue for the core engine and Worker for job dispatch.
package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/jobqueue/internal/cronexpr"
	"github.com/nextlevelbuilder/jobqueue/internal/store"
	"github.com/nextlevelbuilder/jobqueue/internal/telemetry/otelspan"
)

const defaultTimeout = 60 * time.Second

// Config configures a Queue.
type Config struct {
	// Store is the backing store (sqlite.Open or postgres.Open). Required.
	Store store.Store

	// Serializer converts payloads to and from text. Defaults to JSONSerializer.
	Serializer Serializer

	// Timeout is how long a job may sit in Processing before the
	// maintenance loop requeues it. Defaults to 60s.
	Timeout time.Duration

	// MaintenanceInterval is the period between maintenance ticks.
	// Defaults to Timeout.
	MaintenanceInterval time.Duration

	// RemoveDoneJobsOlderThan and RemoveFailedJobsOlderThan, when non-zero,
	// enable automatic reaping of terminal jobs on every maintenance tick.
	RemoveDoneJobsOlderThan   time.Duration
	RemoveFailedJobsOlderThan time.Duration

	// Hooks are optional observational callbacks; nil slots are no-ops.
	Hooks Hooks

	// TraceExporter, if set, receives one JobEvent span per Worker-processed
	// job (see otelspan.Exporter). A nil exporter disables tracing.
	TraceExporter *otelspan.Exporter
}

// Queue is the job queue engine: the public API surface for enqueueing,
// claiming, scheduling, and reaping jobs. A Queue owns a background
// maintenance loop started at construction and stopped by Close.
type Queue struct {
	store      store.Store
	serializer Serializer

	timeout               time.Duration
	interval              time.Duration
	removeDoneOlderThan   time.Duration
	removeFailedOlderThan time.Duration
	hooks                 Hooks
	traceExporter         *otelspan.Exporter

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs a Queue over cfg.Store and starts its maintenance loop.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("jobqueue: Config.Store is required")
	}

	serializer := cfg.Serializer
	if serializer == nil {
		serializer = JSONSerializer{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	interval := cfg.MaintenanceInterval
	if interval <= 0 {
		interval = timeout
	}

	q := &Queue{
		store:                 cfg.Store,
		serializer:            serializer,
		timeout:               timeout,
		interval:              interval,
		removeDoneOlderThan:   cfg.RemoveDoneJobsOlderThan,
		removeFailedOlderThan: cfg.RemoveFailedJobsOlderThan,
		hooks:                 cfg.Hooks,
		traceExporter:         cfg.TraceExporter,
		stopCh:                make(chan struct{}),
	}

	q.wg.Add(1)
	go q.maintenanceLoop()

	return q, nil
}

// Add serializes payload and inserts one Pending job of typ. Never fails
// except on serialization or store I/O.
func (q *Queue) Add(ctx context.Context, typ string, payload any) (uuid.UUID, error) {
	data, err := q.serializer.Serialize(payload)
	if err != nil {
		return uuid.Nil, &SerializationError{Err: err}
	}
	id, err := q.store.Insert(ctx, typ, data)
	if err != nil {
		return uuid.Nil, &StoreError{Op: "Insert", Err: err}
	}
	return id, nil
}

// AddMany serializes each payload and inserts them as one atomic batch.
// Returned ids are in input order.
func (q *Queue) AddMany(ctx context.Context, typ string, payloads []any) ([]uuid.UUID, error) {
	datas := make([]string, len(payloads))
	for i, p := range payloads {
		d, err := q.serializer.Serialize(p)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		datas[i] = d
	}
	ids, err := q.store.InsertMany(ctx, typ, datas)
	if err != nil {
		return nil, &StoreError{Op: "InsertMany", Err: err}
	}
	return ids, nil
}

// Claim atomically selects the oldest Pending job of typ, flips it to
// Processing, and returns it. Returns (nil, nil) if none is available.
func (q *Queue) Claim(ctx context.Context, typ string) (*Job, error) {
	j, err := q.store.Claim(ctx, typ)
	if err != nil {
		return nil, &StoreError{Op: "Claim", Err: err}
	}
	return fromStoreJob(j), nil
}

// MarkDone transitions a Processing job to Done. The row must currently be
// Processing; violation is a recoverable, non-fatal error.
func (q *Queue) MarkDone(ctx context.Context, id uuid.UUID) error {
	if err := q.store.MarkDone(ctx, id); err != nil {
		return &StoreError{Op: "MarkDone", Err: err}
	}
	return nil
}

// MarkFailed transitions a Processing job to Failed, recording cause's text
// on the row. The row must currently be Processing.
func (q *Queue) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if err := q.store.MarkFailed(ctx, id, errText); err != nil {
		return &StoreError{Op: "MarkFailed", Err: err}
	}
	return nil
}

// GetJob returns the job with the given id, or (nil, nil) if it doesn't exist.
func (q *Queue) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "GetJob", Err: err}
	}
	return fromStoreJob(j), nil
}

// CountJobs counts jobs matching filter; either field may be left zero to
// match any value for that dimension.
func (q *Queue) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	n, err := q.store.CountJobs(ctx, store.JobFilter{Type: filter.Type, Status: store.JobStatus(filter.Status)})
	if err != nil {
		return 0, &StoreError{Op: "CountJobs", Err: err}
	}
	return n, nil
}

// JobTypes returns the distinct job types seen across all jobs rows.
func (q *Queue) JobTypes(ctx context.Context) ([]string, error) {
	types, err := q.store.JobTypes(ctx)
	if err != nil {
		return nil, &StoreError{Op: "JobTypes", Err: err}
	}
	return types, nil
}

// Schedule validates expr and creates or updates the ScheduledJob for typ.
// Re-scheduling an existing type updates its cron expression and recomputes
// next_run, returning the original id.
func (q *Queue) Schedule(ctx context.Context, typ, expr string) (*ScheduledJob, error) {
	if err := cronexpr.Validate(expr); err != nil {
		return nil, &InvalidCronError{Expr: expr, Err: err}
	}
	next, err := cronexpr.Next(expr, time.Now())
	if err != nil {
		return nil, &InvalidCronError{Expr: expr, Err: err}
	}
	sj, err := q.store.UpsertSchedule(ctx, typ, expr, next)
	if err != nil {
		return nil, &StoreError{Op: "UpsertSchedule", Err: err}
	}
	return fromStoreScheduledJob(sj), nil
}

// ScheduledJobs returns all scheduled jobs in insertion order.
func (q *Queue) ScheduledJobs(ctx context.Context) ([]*ScheduledJob, error) {
	rows, err := q.store.ScheduledJobs(ctx)
	if err != nil {
		return nil, &StoreError{Op: "ScheduledJobs", Err: err}
	}
	out := make([]*ScheduledJob, len(rows))
	for i, r := range rows {
		out[i] = fromStoreScheduledJob(r)
	}
	return out, nil
}

// GetScheduledJob returns the scheduled job with the given id.
func (q *Queue) GetScheduledJob(ctx context.Context, id uuid.UUID) (*ScheduledJob, error) {
	sj, err := q.store.GetScheduledJob(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "GetScheduledJob", Err: err}
	}
	return fromStoreScheduledJob(sj), nil
}

// ClaimScheduled atomically selects an Idle scheduled job with a due
// next_run, ordered by ascending next_run, and flips it to Processing.
func (q *Queue) ClaimScheduled(ctx context.Context) (*ScheduledJob, error) {
	sj, err := q.store.ClaimScheduled(ctx)
	if err != nil {
		return nil, &StoreError{Op: "ClaimScheduled", Err: err}
	}
	return fromStoreScheduledJob(sj), nil
}

// MarkScheduledIdle returns a scheduled job to Idle with the given next_run.
func (q *Queue) MarkScheduledIdle(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	if err := q.store.MarkScheduledIdle(ctx, id, nextRun); err != nil {
		return &StoreError{Op: "MarkScheduledIdle", Err: err}
	}
	return nil
}

// RemoveDoneJobs deletes Done jobs whose done_at is older than olderThan
// and invokes OnDoneJobsRemoved if configured.
func (q *Queue) RemoveDoneJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.store.RemoveDoneJobs(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, &StoreError{Op: "RemoveDoneJobs", Err: err}
	}
	if q.hooks.OnDoneJobsRemoved != nil {
		q.hooks.OnDoneJobsRemoved(n)
	}
	return n, nil
}

// RemoveFailedJobs deletes Failed jobs whose failed_at is older than
// olderThan and invokes OnFailedJobsRemoved if configured.
func (q *Queue) RemoveFailedJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.store.RemoveFailedJobs(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, &StoreError{Op: "RemoveFailedJobs", Err: err}
	}
	if q.hooks.OnFailedJobsRemoved != nil {
		q.hooks.OnFailedJobsRemoved(n)
	}
	return n, nil
}

// RequeueTimedOut returns Processing jobs older than olderThan to Pending
// and invokes OnProcessingJobsRequeued if configured and at least one job
// was requeued.
func (q *Queue) RequeueTimedOut(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.store.RequeueTimedOut(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, &StoreError{Op: "RequeueTimedOut", Err: err}
	}
	if n > 0 && q.hooks.OnProcessingJobsRequeued != nil {
		q.hooks.OnProcessingJobsRequeued(n)
	}
	return n, nil
}

// Close stops the maintenance loop and closes the underlying store. Idempotent.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
	return q.store.Close()
}

// exportTrace emits a job lifecycle span via traceExporter; a nil exporter
// is a no-op (see otelspan.Exporter.ExportJobEvents).
func (q *Queue) exportTrace(ev otelspan.JobEvent) {
	q.traceExporter.ExportJobEvents(context.Background(), []otelspan.JobEvent{ev})
}

func (q *Queue) hasDueSchedule(ctx context.Context, typ string) (bool, error) {
	rows, err := q.store.ScheduledJobs(ctx)
	if err != nil {
		return false, &StoreError{Op: "ScheduledJobs", Err: err}
	}
	now := time.Now()
	for _, sj := range rows {
		if sj.Type == typ && sj.Status == store.ScheduleIdle && !sj.NextRun.After(now) {
			return true, nil
		}
	}
	return false, nil
}
