// Package store defines the persistence contract used by the queue engine.
// Concrete backends (internal/store/sqlite, internal/store/postgres) implement
// the Store interface; the engine itself never depends on a specific driver.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GenNewID generates a new UUID v7 (time-ordered), giving jobs and scheduled
// jobs monotone, sortable identifiers even across backends.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// ScheduleStatus is the lifecycle state of a ScheduledJob.
type ScheduleStatus string

const (
	ScheduleIdle       ScheduleStatus = "idle"
	ScheduleProcessing ScheduleStatus = "processing"
)

// Job is a single unit of work accepted by the queue.
type Job struct {
	ID           uuid.UUID
	Type         string
	Data         string
	Status       JobStatus
	Attempts     int
	CreatedAt    time.Time
	ProcessingAt *time.Time
	DoneAt       *time.Time
	FailedAt     *time.Time
	Error        string
}

// ScheduledJob is a cron-driven template that periodically materialises a Job.
type ScheduledJob struct {
	ID              uuid.UUID
	Type            string
	CronExpression  string
	Status          ScheduleStatus
	NextRun         time.Time
	CreatedAt       time.Time
}

// JobFilter narrows CountJobs by optional type and status.
type JobFilter struct {
	Type   string
	Status JobStatus
}

// Store is the persistence contract backing the queue engine. Every method
// may block on I/O; callers pass a context to bound that wait. Implementations
// must make Claim and ClaimScheduled atomic: concurrent callers must never
// observe the same row claimed twice.
type Store interface {
	Insert(ctx context.Context, typ, data string) (uuid.UUID, error)
	InsertMany(ctx context.Context, typ string, datas []string) ([]uuid.UUID, error)
	Claim(ctx context.Context, typ string) (*Job, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	CountJobs(ctx context.Context, filter JobFilter) (int, error)
	JobTypes(ctx context.Context) ([]string, error)
	RemoveDoneJobs(ctx context.Context, olderThan time.Time) (int, error)
	RemoveFailedJobs(ctx context.Context, olderThan time.Time) (int, error)
	RequeueTimedOut(ctx context.Context, olderThan time.Time) (int, error)

	UpsertSchedule(ctx context.Context, typ, cronExpr string, nextRun time.Time) (*ScheduledJob, error)
	ScheduledJobs(ctx context.Context) ([]*ScheduledJob, error)
	GetScheduledJob(ctx context.Context, id uuid.UUID) (*ScheduledJob, error)
	ClaimScheduled(ctx context.Context) (*ScheduledJob, error)
	MarkScheduledIdle(ctx context.Context, id uuid.UUID, nextRun time.Time) error

	Close() error
}
