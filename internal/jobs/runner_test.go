package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type runnerFixture struct {
	runner  *Runner
	ec      *fakeContext
	store   *memStore
	fetcher *fakeFetcher
	sink    *fakeSink
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	f := &runnerFixture{
		ec:      newFakeContext(),
		store:   newMemStore(),
		fetcher: &fakeFetcher{},
		sink:    &fakeSink{},
	}
	sinks := func(string) (OutputSink, error) { return f.sink, nil }

	runner, err := NewRunner(f.ec, f.store, newFakeResolver("planner-x", "coder-x"), f.fetcher, sinks, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(runner.Close)
	f.runner = runner
	return f
}

func planSpec(taskInput string) JobSpec {
	return JobSpec{TaskInput: taskInput, PlannerModel: "planner-x"}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
		return nil
	}
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution context is required")
}

func TestRunAsync_CompletesPlanJob(t *testing.T) {
	f := newRunnerFixture(t)

	done, err := f.runner.RunAsync("job-1", planSpec("a\nb\nc"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []string{"a", "b", "c"}, f.ec.executedTasks())

	status := f.store.status("job-1")
	require.NotNil(t, status)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 100, status.Progress)
	assert.Empty(t, status.Error)
	assert.Contains(t, status.Metadata, MetadataLastSeq)

	// Sink restored and slot free.
	assert.Nil(t, f.ec.currentSink())
	assert.Empty(t, f.runner.slot.active())
}

func TestRunAsync_RejectsDifferentJobWhileActive(t *testing.T) {
	f := newRunnerFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.ec.onExecute = func(TaskItem) error {
		close(started)
		<-release
		return nil
	}

	done, err := f.runner.RunAsync("job-1", planSpec("a"))
	require.NoError(t, err)
	<-started

	_, err = f.runner.RunAsync("job-2", planSpec("x"))
	require.ErrorIs(t, err, ErrJobActive)
	assert.Nil(t, f.store.status("job-2"), "rejected submission must not mutate state")

	close(release)
	require.NoError(t, waitDone(t, done))

	// After the terminal state the slot is free and a new job runs.
	f.ec.onExecute = nil
	done2, err := f.runner.RunAsync("job-2", planSpec("y"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done2))
	assert.Equal(t, StateCompleted, f.store.status("job-2").State)
}

func TestRunAsync_RejectsResubmissionOfActiveJob(t *testing.T) {
	f := newRunnerFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.ec.onExecute = func(TaskItem) error {
		close(started)
		<-release
		return nil
	}

	done, err := f.runner.RunAsync("job-1", planSpec("a"))
	require.NoError(t, err)
	<-started

	// A cancel is pending; re-acquiring the slot for the same id would
	// clear the flag and swap the sink out from under the running body.
	f.runner.Cancel("job-1")
	_, err = f.runner.RunAsync("job-1", planSpec("b"))
	require.ErrorIs(t, err, ErrJobActive)
	assert.True(t, f.runner.slot.cancelRequested(), "resubmission must not clear a pending cancel")

	close(release)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StateCancelled, f.store.status("job-1").State)
}

func TestRunAsync_UnresolvableCodeModelAbortsBeforeFirstTask(t *testing.T) {
	f := newRunnerFixture(t)

	spec := planSpec("a\nb")
	spec.CodeModel = "missing-model"

	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	jobErr := waitDone(t, done)
	require.Error(t, jobErr)

	assert.Empty(t, f.ec.executedTasks(), "no task may run after a configuration error")

	status := f.store.status("job-1")
	require.NotNil(t, status)
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Error, "configuration error")
	assert.Contains(t, status.Error, "missing-model")
	assert.Empty(t, f.runner.slot.active())
}

func TestRunAsync_UnknownModeIsConfigurationError(t *testing.T) {
	f := newRunnerFixture(t)

	spec := planSpec("a")
	spec.Tags = map[string]string{TagMode: "TURBO"}

	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	require.Error(t, waitDone(t, done))

	status := f.store.status("job-1")
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Error, "unknown execution mode")
}

func TestRunAsync_TaskFailureAbortsRemainingTasks(t *testing.T) {
	f := newRunnerFixture(t)

	boom := errors.New("boom")
	f.ec.onExecute = func(task TaskItem) error {
		if task.Text == "b" {
			return boom
		}
		return nil
	}

	done, err := f.runner.RunAsync("job-1", planSpec("a\nb\nc"))
	require.NoError(t, err)
	jobErr := waitDone(t, done)
	require.ErrorIs(t, jobErr, boom)

	assert.Equal(t, []string{"a"}, f.ec.executedTasks())

	status := f.store.status("job-1")
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Error, "execution error: boom")
	assert.Equal(t, 33, status.Progress, "progress reflects the one completed task")
	assert.Empty(t, f.runner.slot.active())
	assert.Nil(t, f.ec.currentSink())
}

func TestRunAsync_CancelBeforeFirstTask(t *testing.T) {
	f := newRunnerFixture(t)

	// Occupy the serial worker so the job body cannot start until the
	// cancellation has been requested.
	gate := make(chan struct{})
	f.runner.exec <- func() { <-gate }

	done, err := f.runner.RunAsync("job-1", planSpec("a\nb"))
	require.NoError(t, err)

	f.runner.Cancel("job-1")
	close(gate)
	require.NoError(t, waitDone(t, done))

	assert.Empty(t, f.ec.executedTasks())

	status := f.store.status("job-1")
	require.NotNil(t, status)
	assert.Equal(t, StateCancelled, status.State)
	assert.Equal(t, 0, status.Progress)
	assert.Equal(t, 1, f.store.writeCount(StateCancelled), "terminal state written exactly once")
}

func TestCancel_IsIdempotent(t *testing.T) {
	f := newRunnerFixture(t)

	gate := make(chan struct{})
	f.runner.exec <- func() { <-gate }

	done, err := f.runner.RunAsync("job-1", planSpec("a"))
	require.NoError(t, err)

	f.runner.Cancel("job-1")
	f.runner.Cancel("job-1")
	assert.Equal(t, 1, f.store.writeCount(StateCancelled), "second cancel must not rewrite a terminal status")

	close(gate)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StateCancelled, f.store.status("job-1").State)
}

func TestCancel_IgnoresInactiveJob(t *testing.T) {
	f := newRunnerFixture(t)
	f.runner.Cancel("nobody")
	assert.Zero(t, f.ec.interrupts)
	assert.Nil(t, f.store.status("nobody"))
}

func TestRunAsync_DiscoverZeroSubtasksStillCompletes(t *testing.T) {
	f := newRunnerFixture(t)

	spec := planSpec("find and fix flaky tests")
	spec.Tags = map[string]string{TagMode: "DISCOVER"}

	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))

	status := f.store.status("job-1")
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 100, status.Progress)

	notes := f.sink.notifications()
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[len(notes)-1], "no sub-tasks")
}

func TestRunAsync_DiscoverExecutesIncompleteSubtasks(t *testing.T) {
	f := newRunnerFixture(t)
	f.ec.generated = []TaskItem{
		{Text: "sub-1"},
		{Text: "sub-2", Done: true},
		{Text: "sub-3"},
	}

	spec := planSpec("outer")
	spec.Tags = map[string]string{TagMode: "DISCOVER"}

	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []string{"sub-1", "sub-3"}, f.ec.executedTasks())
	assert.Equal(t, StateCompleted, f.store.status("job-1").State)
}

func TestRunAsync_DiscoverCancelDuringSubtasksSkipsOuterProgress(t *testing.T) {
	f := newRunnerFixture(t)
	f.ec.generated = []TaskItem{{Text: "sub-1"}, {Text: "sub-2"}}
	f.ec.onExecute = func(TaskItem) error {
		// Request cancellation from inside the first sub-task; the check
		// before the second sub-task observes it.
		f.runner.Cancel("job-1")
		return nil
	}

	spec := planSpec("outer")
	spec.Tags = map[string]string{TagMode: "DISCOVER"}

	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, []string{"sub-1"}, f.ec.executedTasks())

	status := f.store.status("job-1")
	assert.Equal(t, StateCancelled, status.State)
	assert.Equal(t, 0, status.Progress, "interrupted sub-task stream must not report outer progress")
}

func TestRunAsync_AutoCompressSkippedForPlanMode(t *testing.T) {
	f := newRunnerFixture(t)

	spec := planSpec("a")
	spec.AutoCompress = true
	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))
	assert.Zero(t, f.ec.compressions, "PLAN compresses per task, not at job end")
}

func TestRunAsync_AutoCompressRunsForCodeMode(t *testing.T) {
	f := newRunnerFixture(t)

	spec := JobSpec{
		TaskInput:    "a",
		AutoCompress: true,
		Tags:         map[string]string{TagMode: "code"},
	}
	done, err := f.runner.RunAsync("job-1", spec)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, f.ec.compressions)
}

func TestRunAsync_StoreFailuresDoNotFailTheJob(t *testing.T) {
	f := newRunnerFixture(t)
	f.store.failUpdates = true

	done, err := f.runner.RunAsync("job-1", planSpec("a"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done), "status persistence is best-effort")
	assert.Equal(t, []string{"a"}, f.ec.executedTasks())
}

func TestRunAsync_EmitsStartNotification(t *testing.T) {
	f := newRunnerFixture(t)

	done, err := f.runner.RunAsync("job-1", planSpec("a"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))

	notes := f.sink.notifications()
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0], "Job started: job-1")
}

func TestRunAsync_SinkFailuresAreSwallowed(t *testing.T) {
	f := newRunnerFixture(t)
	f.sink.failWrites = true

	done, err := f.runner.RunAsync("job-1", planSpec("a"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StateCompleted, f.store.status("job-1").State)
}
