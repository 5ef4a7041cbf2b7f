package jobqueue

import (
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/jobqueue/internal/store"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	Pending    JobStatus = JobStatus(store.JobPending)
	Processing JobStatus = JobStatus(store.JobProcessing)
	Done       JobStatus = JobStatus(store.JobDone)
	Failed     JobStatus = JobStatus(store.JobFailed)
)

// ScheduleStatus is the lifecycle state of a ScheduledJob.
type ScheduleStatus string

const (
	Idle              ScheduleStatus = ScheduleStatus(store.ScheduleIdle)
	ScheduleProcessing ScheduleStatus = ScheduleStatus(store.ScheduleProcessing)
)

// Job is a single unit of work as exposed to library callers.
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

// ScheduledJob is a cron-driven job template as exposed to library callers.
type ScheduledJob struct {
	ID             uuid.UUID
	Type           string
	CronExpression string
	Status         ScheduleStatus
	NextRun        time.Time
	CreatedAt      time.Time
}

// JobFilter narrows CountJobs. Either field may be left zero to match any
// value for that dimension.
type JobFilter struct {
	Type   string
	Status JobStatus
}

func fromStoreJob(j *store.Job) *Job {
	if j == nil {
		return nil
	}
	return &Job{
		ID:           j.ID,
		Type:         j.Type,
		Data:         j.Data,
		Status:       JobStatus(j.Status),
		Attempts:     j.Attempts,
		CreatedAt:    j.CreatedAt,
		ProcessingAt: j.ProcessingAt,
		DoneAt:       j.DoneAt,
		FailedAt:     j.FailedAt,
		Error:        j.Error,
	}
}

func fromStoreScheduledJob(s *store.ScheduledJob) *ScheduledJob {
	if s == nil {
		return nil
	}
	return &ScheduledJob{
		ID:             s.ID,
		Type:           s.Type,
		CronExpression: s.CronExpression,
		Status:         ScheduleStatus(s.Status),
		NextRun:        s.NextRun,
		CreatedAt:      s.CreatedAt,
	}
}
