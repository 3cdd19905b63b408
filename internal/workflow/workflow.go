// Package workflow orchestrates the automated issue-fix pipeline: isolated
// worktree creation, session setup, job execution, and result-dependent
// pull-request creation, with partial-failure reporting.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/jobs"
)

const instrumentationName = "github.com/fyrsmithlabs/execd/internal/workflow"

// Config wires an Orchestrator.
type Config struct {
	Store       jobs.StatusStore
	Runner      JobRunner
	Workspaces  Workspaces
	Sessions    Sessions
	Pulls       PullRequests
	Token       string
	WorktreeDir string
	Logger      *zap.Logger
}

// Orchestrator runs the issue-fix workflow. Execute is fire-and-forget
// with respect to its caller; outcomes surface only through job-status
// writes.
type Orchestrator struct {
	store       jobs.StatusStore
	runner      JobRunner
	workspaces  Workspaces
	sessions    Sessions
	pulls       PullRequests
	token       string
	worktreeDir string
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewOrchestrator validates the wiring and creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("status store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("job runner is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("workspace manager is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session factory is required")
	}
	if cfg.Pulls == nil {
		return nil, errors.New("pull request client is required")
	}
	if cfg.WorktreeDir == "" {
		return nil, errors.New("worktree storage dir is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Orchestrator{
		store:       cfg.Store,
		runner:      cfg.Runner,
		workspaces:  cfg.Workspaces,
		sessions:    cfg.Sessions,
		pulls:       cfg.Pulls,
		token:       cfg.Token,
		worktreeDir: cfg.WorktreeDir,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
	}, nil
}

// Execute launches the workflow asynchronously. The reservation is
// released exactly once, whatever branch the workflow exits on.
func (o *Orchestrator) Execute(jobID string, spec jobs.JobSpec, req IssueFixRequest, branch string, reservation Reservation) {
	go o.run(jobID, spec, req, branch, reservation)
}

func (o *Orchestrator) run(jobID string, spec jobs.JobSpec, req IssueFixRequest, branch string, reservation Reservation) {
	log := o.logger.With(
		zap.String("job_id", jobID),
		zap.String("issue", fmt.Sprintf("%s/%s#%d", req.Owner, req.Repo, req.Number)),
		zap.String("branch", branch))
	log.Info("executing issue-fix workflow")

	ctx, span := o.tracer.Start(context.Background(), "workflow.issue_fix",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.Int("issue.number", req.Number)))
	defer span.End()
	defer reservation.ReleaseIfOwner(jobID)

	// Step 1: the project must be a version-controlled on-disk repository;
	// otherwise fail fast without attempting workspace creation.
	if err := o.workspaces.Validate(); err != nil {
		o.reportFailed(ctx, jobID, fmt.Sprintf("project is not a git repository: %s", err), log)
		return
	}

	// Step 2: materialize an isolated worktree on the target branch.
	worktreePath, err := o.workspaces.NextWorktreePath(o.worktreeDir)
	if err != nil {
		o.reportFailed(ctx, jobID, fmt.Sprintf("failed to compute worktree path: %s", err), log)
		return
	}
	log.Info("creating worktree", zap.String("path", worktreePath))
	if err := o.workspaces.AddWorktree(ctx, branch, worktreePath); err != nil {
		o.reportFailed(ctx, jobID, fmt.Sprintf("failed to create worktree: %s", err), log)
		return
	}

	// Step 3: snapshot the shared context into a dedicated session.
	sessionName := fmt.Sprintf("Issue #%d: %s", req.Number, req.Title)
	if err := o.sessions.CreateSession(sessionName); err != nil {
		o.reportFailed(ctx, jobID, fmt.Sprintf("failed to create session: %s", err), log)
		return
	}
	log.Info("session created for worktree", zap.String("session", sessionName))

	// Step 4: run the fix job and, on success, open a pull request.
	done, err := o.runner.RunAsync(jobID, spec)
	if err != nil {
		o.reportFailed(ctx, jobID, fmt.Sprintf("failed to submit job: %s", err), log)
		return
	}
	if jobErr := <-done; jobErr != nil {
		o.reportFailed(ctx, jobID, fmt.Sprintf("job execution failed: %s", jobErr), log)
		return
	}
	log.Info("fix job finished, creating pull request")

	base, err := o.workspaces.DefaultBranch()
	if err != nil {
		o.reportPartial(ctx, jobID, fmt.Sprintf("fix generated, but failed to resolve default branch: %s", err), log)
		return
	}
	prTitle := fmt.Sprintf("Fixes #%d: %s", req.Number, req.Title)
	prBody := fmt.Sprintf("Automated fix for issue #%d.", req.Number)
	prURL, err := o.pulls.CreatePullRequest(ctx, o.token, req.Owner, req.Repo, branch, base, prTitle, prBody)
	if err != nil {
		// Partial success: the fix landed on the branch, only the PR step
		// failed. Reported distinctly so callers can retry just that step.
		o.reportPartial(ctx, jobID, fmt.Sprintf("fix generated, but failed to create pull request: %s", err), log)
		return
	}
	log.Info("pull request created", zap.String("url", prURL))
	o.reportCompleted(ctx, jobID, map[string]string{"pull_request_url": prURL}, log)
}

func (o *Orchestrator) reportFailed(ctx context.Context, jobID, message string, log *zap.Logger) {
	log.Error("issue-fix workflow failed", zap.String("reason", message))
	o.writeStatus(ctx, jobID, log, func(status *jobs.JobStatus) {
		status.Fail(message)
	})
}

// reportPartial marks the job FAILED with a message that distinguishes
// "fix succeeded, PR creation failed" from full failure.
func (o *Orchestrator) reportPartial(ctx context.Context, jobID, message string, log *zap.Logger) {
	log.Warn("issue-fix workflow partially succeeded", zap.String("reason", message))
	o.writeStatus(ctx, jobID, log, func(status *jobs.JobStatus) {
		status.Fail(message)
	})
}

func (o *Orchestrator) reportCompleted(ctx context.Context, jobID string, result any, log *zap.Logger) {
	o.writeStatus(ctx, jobID, log, func(status *jobs.JobStatus) {
		status.Complete(result)
	})
}

func (o *Orchestrator) writeStatus(ctx context.Context, jobID string, log *zap.Logger, mutate func(*jobs.JobStatus)) {
	status, err := o.store.LoadStatus(ctx, jobID)
	if err != nil {
		if !errors.Is(err, jobs.ErrStatusNotFound) {
			log.Warn("failed to load status", zap.Error(err))
		}
		status = jobs.QueuedStatus(jobID)
	}
	mutate(status)
	if err := o.store.UpdateStatus(ctx, jobID, status); err != nil {
		log.Error("failed to update job status", zap.Error(err))
	}
}
