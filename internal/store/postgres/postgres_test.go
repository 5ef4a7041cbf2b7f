package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nextlevelbuilder/jobqueue/internal/store"
)

// openTestStore connects to a real Postgres instance named by
// JOBQUEUE_TEST_POSTGRES_DSN. These tests are skipped when it's unset since
// they require an actual database, unlike the sqlite backend's in-memory
// tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("JOBQUEUE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JOBQUEUE_TEST_POSTGRES_DSN not set, skipping postgres store tests")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		s.db.Exec("TRUNCATE jobs, scheduled_jobs")
		s.Close()
	})
	return s
}

func TestPostgresInsertAndClaimRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, "send_email", `{"to":"a@example.com"}`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	job, err := s.Claim(ctx, "send_email")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("claim returned %+v, want job %s", job, id)
	}

	if err := s.MarkDone(ctx, id); err != nil {
		t.Fatalf("mark done: %v", err)
	}
}

func TestPostgresUpsertScheduleIsUniquePerType(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.UpsertSchedule(ctx, "nightly_report", "0 0 * * *", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := s.UpsertSchedule(ctx, "nightly_report", "0 1 * * *", time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert by type created a new row: %s != %s", first.ID, second.ID)
	}
}

func TestPostgresRequeueTimedOut(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, "stuck", "d")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Claim(ctx, "stuck"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := s.RequeueTimedOut(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d jobs, want 1", n)
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
}
