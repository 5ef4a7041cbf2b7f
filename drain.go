package jobqueue

import "context"

// DriveToEmpty runs one maintenance tick, then repeatedly claims and
// processes jobs of w's type until both the pending queue and any due
// scheduled job of that type are empty. Intended for tests and graceful
// drains, not production dispatch — it runs the claim loop synchronously on
// the calling goroutine rather than starting w's background loop.
func DriveToEmpty(ctx context.Context, q *Queue, w *Worker) error {
	q.tick()

	for {
		pending, err := q.CountJobs(ctx, JobFilter{Type: w.typ, Status: Pending})
		if err != nil {
			return err
		}

		due, err := q.hasDueSchedule(ctx, w.typ)
		if err != nil {
			return err
		}

		if pending == 0 && !due {
			return nil
		}

		job, err := q.Claim(ctx, w.typ)
		if err != nil {
			return err
		}
		if job == nil {
			// A schedule is due but its materialized job isn't claimable
			// yet (rare race); give maintenance another pass.
			q.tick()
			continue
		}
		w.process(job)
	}
}
