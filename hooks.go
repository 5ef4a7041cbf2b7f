package jobqueue

// Hooks are optional observational callbacks. Every field may be left nil,
// in which case it is a no-op. Hooks are invoked synchronously and
// best-effort. A panic in OnProcessing, OnCompleted or OnFailed is
// recovered by the Worker and never affects the job's recorded outcome.
// OnDoneJobsRemoved, OnFailedJobsRemoved and OnProcessingJobsRequeued are
// called directly, without panic recovery, after the rows have already
// been changed.
//
// OnProcessing, OnCompleted and OnFailed are invoked by a Worker around
// each handler call. OnDoneJobsRemoved, OnFailedJobsRemoved and
// OnProcessingJobsRequeued are invoked by the Queue's maintenance loop (and
// by the corresponding manual Remove*/Requeue* calls).
type Hooks struct {
	OnProcessing func(job *Job)
	OnCompleted  func(job *Job)
	OnFailed     func(job *Job, err error)

	OnDoneJobsRemoved        func(n int)
	OnFailedJobsRemoved      func(n int)
	OnProcessingJobsRequeued func(n int)
}
