package jobqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/jobqueue/internal/store/sqlite"
)

var errBoom = errors.New("boom")

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg.Store = s
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestAddAndClaimRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	if _, err := q.Add(ctx, "paint", map[string]string{"color": "red"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	job, err := q.Claim(ctx, "paint")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.Status != Processing {
		t.Fatalf("status = %s, want processing", job.Status)
	}

	var payload map[string]string
	if err := (JSONSerializer{}).Deserialize(job.Data, &payload); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if payload["color"] != "red" {
		t.Fatalf("payload = %v, want color=red", payload)
	}
}

func TestCustomSerializerSortsEntries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{Serializer: SortedPairsSerializer{}})

	if _, err := q.Add(ctx, "x", map[string]int{"b": 2, "a": 1, "c": 3}); err != nil {
		t.Fatalf("add: %v", err)
	}

	job, err := q.Claim(ctx, "x")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	want := `[["a",1],["b",2],["c",3]]`
	if job.Data != want {
		t.Fatalf("data = %q, want %q", job.Data, want)
	}
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	_, err := q.Schedule(ctx, "s", "invalid cron expression")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid cron expression") {
		t.Fatalf("error = %q, want it to contain %q", err.Error(), "invalid cron expression")
	}
}

func TestRequeueTimedOutAfterTimeout(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{Timeout: 25 * time.Millisecond, MaintenanceInterval: 20 * time.Millisecond})

	id, err := q.Add(ctx, "t", map[string]int{"v": 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "t"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	job, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != Pending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
}

func TestRemoveDoneJobsInvokesCallbackWithCount(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var calls []int
	q := newTestQueue(t, Config{
		RemoveDoneJobsOlderThan: 20 * time.Millisecond,
		Hooks: Hooks{
			OnDoneJobsRemoved: func(n int) {
				mu.Lock()
				calls = append(calls, n)
				mu.Unlock()
			},
		},
	})

	oldID, err := q.Add(ctx, "old", map[string]int{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "old"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.MarkDone(ctx, oldID); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	newID, err := q.Add(ctx, "new", map[string]int{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "new"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.MarkDone(ctx, newID); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	n, err := q.RemoveDoneJobs(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("remove done: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d jobs, want 1", n)
	}

	got, err := q.GetJob(ctx, oldID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got != nil {
		t.Fatal("expected old job to be reaped")
	}

	got, err = q.GetJob(ctx, newID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got == nil {
		t.Fatal("expected new job to remain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 || calls[len(calls)-1] != 1 {
		t.Fatalf("OnDoneJobsRemoved calls = %v, want it to end with 1", calls)
	}
}

func TestScheduleIsUniquePerTypeAndPreservesID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	first, err := q.Schedule(ctx, "u", "0 * * * *")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	second, err := q.Schedule(ctx, "u", "*/30 * * * *")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second schedule id = %s, want %s", second.ID, first.ID)
	}
	if second.CronExpression != "*/30 * * * *" {
		t.Fatalf("cron expression = %q, want */30 * * * *", second.CronExpression)
	}

	all, err := q.ScheduledJobs(ctx)
	if err != nil {
		t.Fatalf("scheduled jobs: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("scheduled job count = %d, want 1", len(all))
	}
}

func TestSingleDispatchUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	const n = 30
	payloads := make([]any, n)
	for i := range payloads {
		payloads[i] = map[string]int{"i": i}
	}
	if _, err := q.AddMany(ctx, "fanout", payloads); err != nil {
		t.Fatalf("add many: %v", err)
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Claim(ctx, "fanout")
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if seen[job.ID.String()] {
					t.Errorf("job %s claimed twice", job.ID)
				}
				seen[job.ID.String()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), n)
	}
}

func TestMarkFailedRecordsErrorText(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	id, err := q.Add(ctx, "t", map[string]int{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "t"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.MarkFailed(ctx, id, errBoom); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != Failed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error != errBoom.Error() {
		t.Fatalf("error = %q, want %q", job.Error, errBoom.Error())
	}
}
