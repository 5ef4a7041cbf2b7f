// Package sqlite implements the job queue's store.Store contract on top of
// an embedded SQLite database via the pure-Go modernc.org/sqlite driver,
// the same driver internal/memory/sqlite.go in the teacher repo uses for
// its own embedded store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/jobqueue/internal/migrate"
	"github.com/nextlevelbuilder/jobqueue/internal/store"
)

// Store is a store.Store backed by an embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and applies pending
// schema migrations. path may be ":memory:" for a private in-memory
// database, which is convenient in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection is
	// sufficient and avoids "database is locked" churn under contention.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate.Apply(db, migrate.DialectSQLite, migrationsFS); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("jobqueue: sqlite store opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func (s *Store) Insert(ctx context.Context, typ, data string) (uuid.UUID, error) {
	if err := store.ValidateType(typ); err != nil {
		return uuid.Nil, err
	}
	id := store.GenNewID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, data, status, attempts, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		id.String(), typ, data, store.JobPending, millis(time.Now()))
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (s *Store) InsertMany(ctx context.Context, typ string, datas []string) ([]uuid.UUID, error) {
	if err := store.ValidateType(typ); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := millis(time.Now())
	ids := make([]uuid.UUID, 0, len(datas))
	for _, data := range datas {
		id := store.GenNewID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, type, data, status, attempts, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
			id.String(), typ, data, store.JobPending, now); err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Claim implements the atomic claim protocol: select the oldest pending job
// of typ, conditionally flip it to processing, and return the updated row.
// The "status = 'pending'" guard on the UPDATE is what prevents two
// concurrent callers from claiming the same row.
func (s *Store) Claim(ctx context.Context, typ string) (*store.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var idStr string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE type = ? AND status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		typ, store.JobPending).Scan(&idStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}

	now := millis(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, processing_at = ?, attempts = attempts + 1 WHERE id = ? AND status = ?`,
		store.JobProcessing, now, idStr, store.JobPending)
	if err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if n == 0 {
		// Lost the race to another claimant; caller retries next tick.
		return nil, nil
	}

	job, err := scanJobByID(ctx, tx, idStr)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

func scanJobByID(ctx context.Context, q queryer, idStr string) (*store.Job, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, type, data, status, attempts, created_at, processing_at, done_at, failed_at, error
		 FROM jobs WHERE id = ?`, idStr)
	return scanJob(row)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanJob(row *sql.Row) (*store.Job, error) {
	var idStr, typ, data, status string
	var attempts int
	var createdAt int64
	var processingAt, doneAt, failedAt sql.NullInt64
	var errText sql.NullString

	if err := row.Scan(&idStr, &typ, &data, &status, &attempts, &createdAt, &processingAt, &doneAt, &failedAt, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	return &store.Job{
		ID:           id,
		Type:         typ,
		Data:         data,
		Status:       store.JobStatus(status),
		Attempts:     attempts,
		CreatedAt:    time.UnixMilli(createdAt),
		ProcessingAt: fromMillis(processingAt),
		DoneAt:       fromMillis(doneAt),
		FailedAt:     fromMillis(failedAt),
		Error:        errText.String,
	}, nil
}

func (s *Store) MarkDone(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, done_at = ? WHERE id = ? AND status = ?`,
		store.JobDone, millis(time.Now()), id.String(), store.JobProcessing)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return requireOneRow(res, "job not in processing state")
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, failed_at = ?, error = ? WHERE id = ? AND status = ?`,
		store.JobFailed, millis(time.Now()), errText, id.String(), store.JobProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireOneRow(res, "job not in processing state")
}

func requireOneRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, data, status, attempts, created_at, processing_at, done_at, failed_at, error
		 FROM jobs WHERE id = ?`, id.String())
	return scanJob(row)
}

func (s *Store) CountJobs(ctx context.Context, filter store.JobFilter) (int, error) {
	where := "1=1"
	var args []interface{}
	if filter.Type != "" {
		where += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) JobTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT type FROM jobs ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("job types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *Store) RemoveDoneJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = ? AND done_at < ?`, store.JobDone, millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("remove done jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RemoveFailedJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = ? AND failed_at < ?`, store.JobFailed, millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("remove failed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RequeueTimedOut(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, processing_at = NULL WHERE status = ? AND processing_at < ?`,
		store.JobPending, store.JobProcessing, millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue timed out: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) UpsertSchedule(ctx context.Context, typ, cronExpr string, nextRun time.Time) (*store.ScheduledJob, error) {
	if err := store.ValidateType(typ); err != nil {
		return nil, err
	}
	id := store.GenNewID()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, type, cron_expression, status, next_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (type) DO UPDATE SET cron_expression = excluded.cron_expression, next_run = excluded.next_run`,
		id.String(), typ, cronExpr, store.ScheduleIdle, millis(nextRun), millis(now))
	if err != nil {
		return nil, fmt.Errorf("upsert schedule: %w", err)
	}

	return s.scheduledJobByType(ctx, typ)
}

func (s *Store) scheduledJobByType(ctx context.Context, typ string) (*store.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, cron_expression, status, next_run, created_at FROM scheduled_jobs WHERE type = ?`, typ)
	return scanScheduledJob(row)
}

func scanScheduledJob(row *sql.Row) (*store.ScheduledJob, error) {
	var idStr, typ, cronExpr, status string
	var nextRun, createdAt int64

	if err := row.Scan(&idStr, &typ, &cronExpr, &status, &nextRun, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan scheduled job: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse scheduled job id: %w", err)
	}

	return &store.ScheduledJob{
		ID:             id,
		Type:           typ,
		CronExpression: cronExpr,
		Status:         store.ScheduleStatus(status),
		NextRun:        time.UnixMilli(nextRun),
		CreatedAt:      time.UnixMilli(createdAt),
	}, nil
}

func (s *Store) ScheduledJobs(ctx context.Context) ([]*store.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, cron_expression, status, next_run, created_at FROM scheduled_jobs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []*store.ScheduledJob
	for rows.Next() {
		var idStr, typ, cronExpr, status string
		var nextRun, createdAt int64
		if err := rows.Scan(&idStr, &typ, &cronExpr, &status, &nextRun, &createdAt); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &store.ScheduledJob{
			ID:             id,
			Type:           typ,
			CronExpression: cronExpr,
			Status:         store.ScheduleStatus(status),
			NextRun:        time.UnixMilli(nextRun),
			CreatedAt:      time.UnixMilli(createdAt),
		})
	}
	return out, rows.Err()
}

func (s *Store) GetScheduledJob(ctx context.Context, id uuid.UUID) (*store.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, cron_expression, status, next_run, created_at FROM scheduled_jobs WHERE id = ?`, id.String())
	return scanScheduledJob(row)
}

func (s *Store) ClaimScheduled(ctx context.Context) (*store.ScheduledJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := millis(time.Now())
	var idStr string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM scheduled_jobs WHERE status = ? AND next_run <= ? ORDER BY next_run ASC LIMIT 1`,
		store.ScheduleIdle, now).Scan(&idStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select due schedule: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ? WHERE id = ? AND status = ?`,
		store.ScheduleProcessing, idStr, store.ScheduleIdle)
	if err != nil {
		return nil, fmt.Errorf("claim schedule update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, type, cron_expression, status, next_run, created_at FROM scheduled_jobs WHERE id = ?`, idStr)
	job, err := scanScheduledJob(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

func (s *Store) MarkScheduledIdle(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ?, next_run = ? WHERE id = ?`,
		store.ScheduleIdle, millis(nextRun), id.String())
	if err != nil {
		return fmt.Errorf("mark scheduled idle: %w", err)
	}
	return requireOneRow(res, "scheduled job not found")
}
