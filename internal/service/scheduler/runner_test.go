package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs  atomic.Int64
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) RunOnce(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
		}
	}
	return j.err
}

func TestRunner_RunsUntilContextCancelled(t *testing.T) {
	job := &countingJob{}
	runner := NewRunner(job, true, WithDelay(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
}

func TestRunner_DisabledDoesNothing(t *testing.T) {
	job := &countingJob{}
	runner := NewRunner(job, false, WithDelay(time.Millisecond))
	require.False(t, runner.Enabled())

	runner.Run(context.Background())
	require.Zero(t, job.runs.Load())
}

func TestRunner_RunOnceDoesNotOverlap(t *testing.T) {
	job := &countingJob{block: make(chan struct{})}
	runner := NewRunner(job, true)

	first := make(chan error, 1)
	go func() { first <- runner.RunOnce(context.Background()) }()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, runner.RunOnce(context.Background()))
	require.EqualValues(t, 1, job.runs.Load())

	close(job.block)
	require.NoError(t, <-first)
}

func TestRunner_RunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("select failed")
	runner := NewRunner(&countingJob{err: boom}, true)

	require.ErrorIs(t, runner.RunOnce(context.Background()), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, runner.RunOnce(ctx), context.Canceled)
}
