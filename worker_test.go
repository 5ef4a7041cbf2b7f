package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkerProcessesJobsToDone(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	id, err := q.Add(ctx, "greet", map[string]string{"name": "ada"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var mu sync.Mutex
	var completed []string
	w := NewWorker(q, "greet", func(ctx context.Context, job *Job) error {
		return nil
	}, Hooks{
		OnCompleted: func(job *Job) {
			mu.Lock()
			completed = append(completed, job.ID.String())
			mu.Unlock()
		},
	})

	w.Start()
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == Done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, last status %s", job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 1 || completed[0] != id.String() {
		t.Fatalf("OnCompleted calls = %v, want [%s]", completed, id)
	}
}

func TestWorkerMarksHandlerErrorAsFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	id, err := q.Add(ctx, "explode", map[string]int{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var mu sync.Mutex
	var failedErr error
	w := NewWorker(q, "explode", func(ctx context.Context, job *Job) error {
		return errors.New("kaboom")
	}, Hooks{
		OnFailed: func(job *Job, err error) {
			mu.Lock()
			failedErr = err
			mu.Unlock()
		},
	})

	w.Start()
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == Failed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never failed, last status %s", job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Error != "kaboom" {
		t.Fatalf("job.Error = %q, want kaboom", job.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if failedErr == nil || failedErr.Error() != "kaboom" {
		t.Fatalf("OnFailed err = %v, want kaboom", failedErr)
	}
}

func TestWorkerHandlerPanicIsRecoveredAndMarksFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	id, err := q.Add(ctx, "panics", map[string]int{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	w := NewWorker(q, "panics", func(ctx context.Context, job *Job) error {
		panic("nope")
	}, Hooks{})

	w.Start()
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == Failed {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never failed, last status %s", job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorkerStopWaitsForInFlightHandler(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Config{})

	if _, err := q.Add(ctx, "slow", map[string]int{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	w := NewWorker(q, "slow", func(ctx context.Context, job *Job) error {
		close(started)
		<-release
		return nil
	}, Hooks{})

	w.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
}
