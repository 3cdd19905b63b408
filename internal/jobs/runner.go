package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/execd/internal/jobs"

// Runner executes jobs one at a time against a shared ExecutionContext.
//
// Each Runner owns a dedicated serial worker, so job bodies submitted to the
// same instance never run concurrently. Callers should use one Runner per
// session or workspace; nothing stops two Runner instances from driving the
// same workspace, and that discipline belongs to the caller.
type Runner struct {
	ec     ExecutionContext
	store  StatusStore
	models ModelResolver
	pulls  PullRequestFetcher
	sinks  SinkFactory
	logger *zap.Logger
	tracer trace.Tracer

	slot slot

	exec      chan func()
	closeOnce sync.Once
}

// NewRunner creates a Runner and starts its serial worker.
func NewRunner(
	ec ExecutionContext,
	store StatusStore,
	models ModelResolver,
	pulls PullRequestFetcher,
	sinks SinkFactory,
	logger *zap.Logger,
) (*Runner, error) {
	if ec == nil {
		return nil, errors.New("execution context is required")
	}
	if store == nil {
		return nil, errors.New("status store is required")
	}
	if models == nil {
		return nil, errors.New("model resolver is required")
	}
	if pulls == nil {
		return nil, errors.New("pull request fetcher is required")
	}
	if sinks == nil {
		return nil, errors.New("sink factory is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	r := &Runner{
		ec:     ec,
		store:  store,
		models: models,
		pulls:  pulls,
		sinks:  sinks,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		exec:   make(chan func(), 1),
	}
	go r.worker()
	return r, nil
}

func (r *Runner) worker() {
	for fn := range r.exec {
		fn()
	}
}

// Close stops the serial worker. It must not be called while a job is
// still being submitted.
func (r *Runner) Close() {
	r.closeOnce.Do(func() { close(r.exec) })
}

// Active returns the job id currently holding the exclusivity slot, or ""
// when the engine is idle.
func (r *Runner) Active() string {
	return r.slot.active()
}

// RunAsync submits a job for execution. It returns immediately with a
// channel that delivers the job's terminal error (closed without a value on
// success). While any job holds the exclusivity slot, resubmissions of the
// same id included, the submission fails at once with ErrJobActive and no
// state is mutated.
func (r *Runner) RunAsync(jobID string, spec JobSpec) (<-chan error, error) {
	if active := r.slot.active(); active != "" {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, active)
	}

	sink, err := r.sinks(jobID)
	if err != nil {
		return nil, fmt.Errorf("create output sink: %w", err)
	}
	if err := r.slot.acquire(jobID, sink); err != nil {
		return nil, err
	}

	log := r.logger.With(zap.String("job_id", jobID))
	prev := r.ec.SetOutput(sink)
	log.Info("attached streaming output sink")

	ctx := context.Background()
	status, err := r.store.LoadStatus(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrStatusNotFound) {
			log.Warn("failed to load job status", zap.Error(err))
		}
		status = QueuedStatus(jobID)
	}
	status.MarkRunning()
	if err := r.store.UpdateStatus(ctx, jobID, status); err != nil {
		log.Warn("failed to transition job to RUNNING", zap.Error(err))
	} else {
		log.Info("job transitioned to RUNNING")
	}

	if err := sink.Notify("Job started: " + jobID); err != nil {
		log.Debug("start notification failed", zap.Error(err))
	}

	done := make(chan error, 1)
	r.exec <- func() { r.execute(jobID, spec, sink, prev, done, log) }
	return done, nil
}

// execute is the job body, run on the serial worker. The deferred block is
// the engine's single most important correctness property: the previous
// sink is restored and the exclusivity slot released on every exit path.
func (r *Runner) execute(jobID string, spec JobSpec, sink, prev OutputSink, done chan<- error, log *zap.Logger) {
	defer close(done)
	defer func() {
		r.ec.SetOutput(prev)
		r.slot.release(jobID)
		log.Info("job execution ended")
	}()

	ctx, span := r.tracer.Start(context.Background(), "jobs.execute",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	result, err := r.runJob(ctx, jobID, spec, sink, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		r.reportFailure(ctx, jobID, err, sink, log)
		done <- rootCause(err)
		return
	}
	span.SetStatus(codes.Ok, "")
	r.writeTerminal(ctx, jobID, result, sink, log)
}

func (r *Runner) runJob(ctx context.Context, jobID string, spec JobSpec, sink OutputSink, log *zap.Logger) (any, error) {
	mode, err := ParseMode(spec.Tags)
	if err != nil {
		return nil, err
	}

	var tasks []TaskItem
	if mode == ModeReview {
		tasks = []TaskItem{{Text: "Review"}}
	} else {
		tasks = ParseTasks(spec.TaskInput)
	}
	total := len(tasks)
	log.Info("job parsed", zap.String("mode", string(mode)), zap.Int("tasks", total))

	// Every required model is resolved before the first task so that an
	// unresolvable name aborts with a configuration error up front.
	models, err := r.resolveModels(mode, spec)
	if err != nil {
		return nil, err
	}
	log.Info("models resolved",
		zap.String("planner", modelName(models.planner)),
		zap.String("coder", modelName(models.coder)))

	var result any
	completed := 0
	for _, task := range tasks {
		if r.slot.cancelRequested() {
			log.Info("job execution cancelled")
			break
		}

		log.Info("executing task", zap.String("task", task.Text))
		stop, err := r.runTask(ctx, task, mode, models, spec, &result, sink, log)
		if err != nil {
			return nil, fmt.Errorf("task execution failed: %w", err)
		}
		if stop {
			// Cancellation observed inside a sub-task stream; the outer
			// item must not count as progress.
			break
		}

		completed++
		progress := 100
		if total > 0 {
			progress = completed * 100 / total
		}
		r.persistProgress(ctx, jobID, progress, log)
	}

	// PLAN and DISCOVER honor auto-compress per task; for the rest it runs
	// once after all tasks.
	if spec.AutoCompress && mode != ModePlan && mode != ModeDiscover {
		log.Info("auto-compressing history")
		if err := r.ec.CompressHistory(ctx); err != nil {
			return nil, fmt.Errorf("compress history: %w", err)
		}
	}

	return result, nil
}

func (r *Runner) writeTerminal(ctx context.Context, jobID string, result any, sink OutputSink, log *zap.Logger) {
	status, err := r.store.LoadStatus(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrStatusNotFound) {
			log.Warn("failed to load status for terminal write", zap.Error(err))
		}
		status = QueuedStatus(jobID)
	}
	if status.State.Terminal() {
		log.Info("job already terminal, skipping final write", zap.String("state", string(status.State)))
		return
	}

	if r.slot.cancelRequested() {
		status.MarkCancelled()
		log.Info("job marked as CANCELLED")
	} else {
		status.Complete(result)
		log.Info("job completed")
	}
	status.SetMetadata(MetadataLastSeq, strconv.FormatInt(sink.LastSeq(), 10))
	if err := r.store.UpdateStatus(ctx, jobID, status); err != nil {
		log.Warn("failed to persist terminal status", zap.Error(err))
	}
}

func (r *Runner) reportFailure(ctx context.Context, jobID string, jobErr error, sink OutputSink, log *zap.Logger) {
	message := formatFailure(jobErr)
	log.Error("job execution failed", zap.Error(rootCause(jobErr)))

	if err := sink.ToolError(message, "Job error"); err != nil {
		log.Debug("error event emission failed", zap.Error(err))
	}

	status, err := r.store.LoadStatus(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrStatusNotFound) {
			log.Warn("failed to load status for failure write", zap.Error(err))
		}
		status = QueuedStatus(jobID)
	}
	if status.State.Terminal() {
		log.Warn("job already terminal, not overwriting with FAILED", zap.String("state", string(status.State)))
		return
	}
	status.Fail(message)
	status.SetMetadata(MetadataLastSeq, strconv.FormatInt(sink.LastSeq(), 10))
	if err := r.store.UpdateStatus(ctx, jobID, status); err != nil {
		log.Warn("failed to persist FAILED status", zap.Error(err))
	}
}

// persistProgress writes the progress percentage best-effort: a persistence
// failure is logged and ignored.
func (r *Runner) persistProgress(ctx context.Context, jobID string, progress int, log *zap.Logger) {
	status, err := r.store.LoadStatus(ctx, jobID)
	if err != nil {
		log.Debug("unable to load status for progress update", zap.Error(err))
		return
	}
	status.Progress = progress
	if err := r.store.UpdateStatus(ctx, jobID, status); err != nil {
		log.Debug("unable to update job progress", zap.Int("progress", progress), zap.Error(err))
		return
	}
	log.Debug("job progress updated", zap.Int("progress", progress))
}

// Cancel requests cooperative cancellation of the active job. It is a
// no-op unless jobID matches the active job. The cancellation flag is
// checked at loop boundaries only; an in-flight agent call always completes
// or fails before cancellation takes effect.
func (r *Runner) Cancel(jobID string) {
	sink, ok := r.slot.requestCancel(jobID)
	if !ok {
		r.logger.Info("cancel requested for inactive job", zap.String("job_id", jobID))
		return
	}
	log := r.logger.With(zap.String("job_id", jobID))
	log.Info("cancelling job")

	r.ec.InterruptCurrentAction()

	ctx := context.Background()
	status, err := r.store.LoadStatus(ctx, jobID)
	if err != nil {
		log.Warn("failed to load status during cancel", zap.Error(err))
		return
	}
	if status.State.Terminal() {
		log.Info("cancel after terminal state ignored", zap.String("state", string(status.State)))
		return
	}
	status.MarkCancelled()
	if sink != nil {
		status.SetMetadata(MetadataLastSeq, strconv.FormatInt(sink.LastSeq(), 10))
	}
	if err := r.store.UpdateStatus(ctx, jobID, status); err != nil {
		log.Warn("failed to persist CANCELLED status", zap.Error(err))
		return
	}
	log.Info("job status updated to CANCELLED")
}

type resolvedModels struct {
	planner Model
	coder   Model
}

// resolveModels resolves every model the mode requires. A code-model
// override is validated whenever present, even for modes that do not use
// it, so misconfiguration never survives to a later resubmission.
func (r *Runner) resolveModels(mode Mode, spec JobSpec) (resolvedModels, error) {
	var m resolvedModels

	if mode.needsPlanner() {
		name := strings.TrimSpace(spec.PlannerModel)
		if name == "" {
			return m, &ConfigError{Reason: "planner model not specified"}
		}
		model, err := r.models.Resolve(name)
		if err != nil {
			return m, &ConfigError{Reason: fmt.Sprintf("model unavailable: %s", name)}
		}
		m.planner = model
	}

	if override := strings.TrimSpace(spec.CodeModel); override != "" {
		model, err := r.models.Resolve(override)
		if err != nil {
			return m, &ConfigError{Reason: fmt.Sprintf("model unavailable: %s", override)}
		}
		m.coder = model
	} else if mode.needsCoder() {
		m.coder = r.models.DefaultCodeModel()
		if m.coder == nil {
			return m, &ConfigError{Reason: "no default code model available"}
		}
	}

	return m, nil
}

func modelName(m Model) string {
	if m == nil {
		return "(unused)"
	}
	return m.Name()
}
