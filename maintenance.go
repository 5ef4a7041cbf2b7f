package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/jobqueue/internal/cronexpr"
)

func (q *Queue) maintenanceLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.tick()
		case <-q.stopCh:
			return
		}
	}
}

// tick performs one maintenance pass: scheduler fire, then requeue
// timed-out jobs, then reap. A failing tick is logged, never propagated —
// the next tick runs normally regardless.
func (q *Queue) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), q.interval)
	defer cancel()

	if err := q.fireSchedules(ctx); err != nil {
		slog.Warn("jobqueue: maintenance: schedule fire failed", "error", err)
	}

	if n, err := q.store.RequeueTimedOut(ctx, time.Now().Add(-q.timeout)); err != nil {
		slog.Warn("jobqueue: maintenance: requeue failed", "error", err)
	} else if n > 0 && q.hooks.OnProcessingJobsRequeued != nil {
		q.hooks.OnProcessingJobsRequeued(n)
	}

	if q.removeDoneOlderThan > 0 {
		if n, err := q.store.RemoveDoneJobs(ctx, time.Now().Add(-q.removeDoneOlderThan)); err != nil {
			slog.Warn("jobqueue: maintenance: reap done jobs failed", "error", err)
		} else if n > 0 && q.hooks.OnDoneJobsRemoved != nil {
			q.hooks.OnDoneJobsRemoved(n)
		}
	}
	if q.removeFailedOlderThan > 0 {
		if n, err := q.store.RemoveFailedJobs(ctx, time.Now().Add(-q.removeFailedOlderThan)); err != nil {
			slog.Warn("jobqueue: maintenance: reap failed jobs failed", "error", err)
		} else if n > 0 && q.hooks.OnFailedJobsRemoved != nil {
			q.hooks.OnFailedJobsRemoved(n)
		}
	}
}

// fireSchedules materializes every due ScheduledJob into a fresh Pending
// job, regardless of how many fire instants it missed while idle — one
// materialization per scheduled job per tick.
func (q *Queue) fireSchedules(ctx context.Context) error {
	for {
		sj, err := q.store.ClaimScheduled(ctx)
		if err != nil {
			return err
		}
		if sj == nil {
			return nil
		}

		if _, err := q.store.Insert(ctx, sj.Type, emptyScheduledPayload(q.serializer)); err != nil {
			slog.Warn("jobqueue: maintenance: failed to materialize scheduled job", "type", sj.Type, "error", err)
		}

		next, err := cronexpr.Next(sj.CronExpression, time.Now())
		if err != nil {
			slog.Warn("jobqueue: maintenance: failed to compute next run, retrying next interval", "type", sj.Type, "error", err)
			next = time.Now().Add(q.interval)
		}
		if err := q.store.MarkScheduledIdle(ctx, sj.ID, next); err != nil {
			slog.Warn("jobqueue: maintenance: failed to mark schedule idle", "type", sj.Type, "error", err)
		}
	}
}

// emptyScheduledPayload returns the empty-object form serializer produces
// for {}, per the at-least-once materialization contract.
func emptyScheduledPayload(serializer Serializer) string {
	data, err := serializer.Serialize(map[string]any{})
	if err != nil {
		return "{}"
	}
	return data
}
