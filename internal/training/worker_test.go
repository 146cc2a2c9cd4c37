package training

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

type fakeRunner struct {
	failures int
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, job Job) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient outage")
	}
	return nil
}

func newTestWorker(t *testing.T, runner Runner, store Store) (*Worker, *[]time.Duration) {
	t.Helper()
	w, err := NewWorker(runner, store, WorkerConfig{
		Workers:    1,
		Retries:    3,
		RetryDelay: 5 * time.Second,
	}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(w.Close)

	var delays []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return w, &delays
}

func TestRunWithRetryRecoversOnSecondAttempt(t *testing.T) {
	runner := &fakeRunner{failures: 1}
	store := newFakeStore()
	w, delays := newTestWorker(t, runner, store)

	w.runWithRetry(context.Background(), Job{ID: "job-1"})

	assert.Equal(t, 2, runner.calls)
	require.Len(t, *delays, 1)
	assert.Equal(t, 5*time.Second, (*delays)[0])
	assert.Empty(t, store.jobStatuses)
}

func TestRunWithRetryExhaustsAndMarksFailed(t *testing.T) {
	runner := &fakeRunner{failures: 10}
	store := newFakeStore()
	w, delays := newTestWorker(t, runner, store)

	w.runWithRetry(context.Background(), Job{ID: "job-1"})

	assert.Equal(t, 3, runner.calls)
	assert.Len(t, *delays, 2)

	require.Len(t, store.jobStatuses, 1)
	assert.Equal(t, models.JobStatusFailed, store.jobStatuses[0].status)
	assert.Contains(t, store.jobStatuses[0].errMsg, "transient outage")
}

func TestRunWithRetryUsesFixedDelay(t *testing.T) {
	runner := &fakeRunner{failures: 2}
	store := newFakeStore()
	w, delays := newTestWorker(t, runner, store)

	w.runWithRetry(context.Background(), Job{ID: "job-1"})

	require.Len(t, *delays, 2)
	assert.Equal(t, (*delays)[0], (*delays)[1])
}

func TestEnqueueRespectsContext(t *testing.T) {
	w, _ := newTestWorker(t, &fakeRunner{}, newFakeStore())
	// Fill the queue without a running dispatcher.
	w.jobs = make(chan Job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Enqueue(ctx, Job{ID: "job-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartProcessesEnqueuedJobs(t *testing.T) {
	done := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, job Job) error {
		close(done)
		return nil
	})
	w, _ := newTestWorker(t, runner, newFakeStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, w.Enqueue(ctx, Job{ID: "job-1"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never executed")
	}
}

type runnerFunc func(ctx context.Context, job Job) error

func (f runnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }
