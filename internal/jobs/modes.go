package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// runTask dispatches one task item to its mode-specific execution. The
// stop result is true only when cancellation was observed inside a
// DISCOVER sub-task stream, in which case the outer item must not be
// counted as completed progress.
func (r *Runner) runTask(
	ctx context.Context,
	task TaskItem,
	mode Mode,
	models resolvedModels,
	spec JobSpec,
	result *any,
	sink OutputSink,
	log *zap.Logger,
) (stop bool, err error) {
	switch mode {
	case ModePlan:
		return false, r.ec.ExecuteTask(ctx, task, models.planner, models.coder)
	case ModeCode:
		return false, r.runCodeTask(ctx, task, models.coder)
	case ModeAsk:
		return false, r.runAskTask(ctx, task, models.planner)
	case ModeDiscover:
		return r.runDiscoverTask(ctx, task, models, sink, log)
	case ModeReview:
		verdict, err := r.runReview(ctx, spec, models, log)
		if err != nil {
			return false, err
		}
		if verdict != nil {
			*result = verdict
		}
		return false, nil
	default:
		return false, fmt.Errorf("unhandled mode %s", mode)
	}
}

// runCodeTask executes one code-editing agent call inside a unit of work so
// the result is appended to history atomically with the call.
func (r *Runner) runCodeTask(ctx context.Context, task TaskItem, coder Model) error {
	scope, err := r.ec.BeginUnitOfWork(task.Text)
	if err != nil {
		return err
	}
	res, err := r.ec.RunCodeAgent(ctx, task.Text, coder)
	if err != nil {
		_ = scope.Close()
		return err
	}
	scope.Append(res)
	return scope.Close()
}

// runAskTask executes a read-only discovery agent configured for
// answer-only, so the workspace is never modified.
func (r *Runner) runAskTask(ctx context.Context, task TaskItem, planner Model) error {
	scope, err := r.ec.BeginUnitOfWork(task.Text)
	if err != nil {
		return err
	}
	res, err := r.ec.RunSearchAgent(ctx, task.Text, planner, ObjectiveAnswerOnly)
	if err != nil {
		_ = scope.Close()
		return err
	}
	scope.Append(res)
	return scope.Close()
}

// runDiscoverTask runs the three DISCOVER phases for one outer task:
// generate a sub-task list, notify when it is empty, and otherwise execute
// each incomplete sub-task sequentially with a cancellation check before
// every sub-task.
func (r *Runner) runDiscoverTask(
	ctx context.Context,
	task TaskItem,
	models resolvedModels,
	sink OutputSink,
	log *zap.Logger,
) (stop bool, err error) {
	// Phase 1: generate a sub-task list from the original task.
	scope, err := r.ec.BeginUnitOfWork(task.Text)
	if err != nil {
		return false, err
	}
	res, err := r.ec.RunSearchAgent(ctx, task.Text, models.planner, ObjectiveTasksOnly)
	if err != nil {
		_ = scope.Close()
		return false, err
	}
	scope.Append(res)
	if err := scope.Close(); err != nil {
		return false, err
	}
	log.Debug("discover phase 1 complete: sub-task list generated")

	// Phase 2: an empty list is informational, not an error; the outer
	// item still counts as completed.
	generated := r.ec.GeneratedTasks()
	if len(generated) == 0 {
		msg := "discovery generated no sub-tasks for: " + task.Text
		log.Info(msg)
		if nerr := sink.Notify(msg); nerr != nil {
			log.Debug("notification failed", zap.Error(nerr))
		}
		return false, nil
	}

	// Phase 3: execute incomplete sub-tasks sequentially.
	incomplete := generated[:0:0]
	for _, sub := range generated {
		if !sub.Done {
			incomplete = append(incomplete, sub)
		}
	}
	log.Debug("discover phase 2 complete",
		zap.Int("generated", len(generated)),
		zap.Int("incomplete", len(incomplete)))

	for _, sub := range incomplete {
		if r.slot.cancelRequested() {
			log.Info("cancelled during sub-task execution")
			return true, nil
		}
		log.Info("executing generated sub-task", zap.String("task", sub.Text))
		if err := r.ec.ExecuteTask(ctx, sub, models.planner, models.coder); err != nil {
			return false, fmt.Errorf("generated sub-task %q: %w", sub.Text, err)
		}
	}

	log.Debug("discover phase 3 complete: all generated sub-tasks executed")
	return false, nil
}
