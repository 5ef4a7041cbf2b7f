// Package postgres implements the job queue's store.Store contract on top
// of a shared PostgreSQL database via the pgx stdlib adapter, adapted from
// the teacher's internal/store/pg connection and query patterns for use as
// an optional managed backend alongside the default embedded SQLite store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/jobqueue/internal/migrate"
	"github.com/nextlevelbuilder/jobqueue/internal/store"
)

// Store is a store.Store backed by a shared PostgreSQL database.
type Store struct {
	db *sql.DB
}

// Open connects to the Postgres instance at dsn and applies pending schema
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate.Apply(db, migrate.DialectPostgres, migrationsFS); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("jobqueue: postgres store connected")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(ctx context.Context, typ, data string) (uuid.UUID, error) {
	if err := store.ValidateType(typ); err != nil {
		return uuid.Nil, err
	}
	id := store.GenNewID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, data, status, attempts, created_at) VALUES ($1, $2, $3, $4, 0, $5)`,
		id, typ, data, store.JobPending, time.Now())
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

	now := time.Now()
	ids := make([]uuid.UUID, 0, len(datas))
	for _, data := range datas {
		id := store.GenNewID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, type, data, status, attempts, created_at) VALUES ($1, $2, $3, $4, 0, $5)`,
			id, typ, data, store.JobPending, now); err != nil {
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

	var id uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE type = $1 AND status = $2 ORDER BY created_at ASC, id ASC LIMIT 1`,
		typ, store.JobPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = $1, processing_at = $2, attempts = attempts + 1 WHERE id = $3 AND status = $4`,
		store.JobProcessing, time.Now(), id, store.JobPending)
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

	job, err := scanJobByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanJobByID(ctx context.Context, q queryer, id uuid.UUID) (*store.Job, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, type, data, status, attempts, created_at, processing_at, done_at, failed_at, error
		 FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*store.Job, error) {
	var id uuid.UUID
	var typ, data, status string
	var attempts int
	var createdAt time.Time
	var processingAt, doneAt, failedAt sql.NullTime
	var errText sql.NullString

	if err := row.Scan(&id, &typ, &data, &status, &attempts, &createdAt, &processingAt, &doneAt, &failedAt, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	return &store.Job{
		ID:           id,
		Type:         typ,
		Data:         data,
		Status:       store.JobStatus(status),
		Attempts:     attempts,
		CreatedAt:    createdAt,
		ProcessingAt: nullTimePtr(processingAt),
		DoneAt:       nullTimePtr(doneAt),
		FailedAt:     nullTimePtr(failedAt),
		Error:        errText.String,
	}, nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func (s *Store) MarkDone(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, done_at = $2 WHERE id = $3 AND status = $4`,
		store.JobDone, time.Now(), id, store.JobProcessing)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return requireOneRow(res, "job not in processing state")
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, failed_at = $2, error = $3 WHERE id = $4 AND status = $5`,
		store.JobFailed, time.Now(), errText, id, store.JobProcessing)
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
		 FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *Store) CountJobs(ctx context.Context, filter store.JobFilter) (int, error) {
	where := "1=1"
	var args []interface{}
	i := 1
	if filter.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", i)
		args = append(args, filter.Type)
		i++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, filter.Status)
		i++
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
		`DELETE FROM jobs WHERE status = $1 AND done_at < $2`, store.JobDone, olderThan)
	if err != nil {
		return 0, fmt.Errorf("remove done jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RemoveFailedJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = $1 AND failed_at < $2`, store.JobFailed, olderThan)
	if err != nil {
		return 0, fmt.Errorf("remove failed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RequeueTimedOut(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, processing_at = NULL WHERE status = $2 AND processing_at < $3`,
		store.JobPending, store.JobProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue timed out: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpsertSchedule creates or updates a schedule by type, using the
// ON CONFLICT ... DO UPDATE idiom the teacher's pg stores use for
// upsert-by-unique-key writes.
func (s *Store) UpsertSchedule(ctx context.Context, typ, cronExpr string, nextRun time.Time) (*store.ScheduledJob, error) {
	if err := store.ValidateType(typ); err != nil {
		return nil, err
	}
	id := store.GenNewID()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO scheduled_jobs (id, type, cron_expression, status, next_run, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (type) DO UPDATE SET cron_expression = excluded.cron_expression, next_run = excluded.next_run
		 RETURNING id, type, cron_expression, status, next_run, created_at`,
		id, typ, cronExpr, store.ScheduleIdle, nextRun, time.Now())
	return scanScheduledJob(row)
}

func scanScheduledJob(row *sql.Row) (*store.ScheduledJob, error) {
	var id uuid.UUID
	var typ, cronExpr, status string
	var nextRun, createdAt time.Time

	if err := row.Scan(&id, &typ, &cronExpr, &status, &nextRun, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan scheduled job: %w", err)
	}

	return &store.ScheduledJob{
		ID:             id,
		Type:           typ,
		CronExpression: cronExpr,
		Status:         store.ScheduleStatus(status),
		NextRun:        nextRun,
		CreatedAt:      createdAt,
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
		var id uuid.UUID
		var typ, cronExpr, status string
		var nextRun, createdAt time.Time
		if err := rows.Scan(&id, &typ, &cronExpr, &status, &nextRun, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, &store.ScheduledJob{
			ID:             id,
			Type:           typ,
			CronExpression: cronExpr,
			Status:         store.ScheduleStatus(status),
			NextRun:        nextRun,
			CreatedAt:      createdAt,
		})
	}
	return out, rows.Err()
}

func (s *Store) GetScheduledJob(ctx context.Context, id uuid.UUID) (*store.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, cron_expression, status, next_run, created_at FROM scheduled_jobs WHERE id = $1`, id)
	return scanScheduledJob(row)
}

func (s *Store) ClaimScheduled(ctx context.Context) (*store.ScheduledJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM scheduled_jobs WHERE status = $1 AND next_run <= $2 ORDER BY next_run ASC LIMIT 1`,
		store.ScheduleIdle, time.Now()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select due schedule: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = $1 WHERE id = $2 AND status = $3`,
		store.ScheduleProcessing, id, store.ScheduleIdle)
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
		`SELECT id, type, cron_expression, status, next_run, created_at FROM scheduled_jobs WHERE id = $1`, id)
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
		`UPDATE scheduled_jobs SET status = $1, next_run = $2 WHERE id = $3`,
		store.ScheduleIdle, nextRun, id)
	if err != nil {
		return fmt.Errorf("mark scheduled idle: %w", err)
	}
	return requireOneRow(res, "scheduled job not found")
}
