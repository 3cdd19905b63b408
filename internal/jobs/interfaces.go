package jobs

import (
	"context"

	"github.com/google/uuid"
)

// Model is an opaque handle to a resolved language model.
type Model interface {
	Name() string
}

// ModelResolver resolves model names to handles. Resolution happens before
// any task runs so configuration errors abort the job early.
type ModelResolver interface {
	// Resolve returns the model registered under name, or an error when
	// no such model is available.
	Resolve(name string) (Model, error)

	// DefaultCodeModel returns the context-supplied default code model,
	// used when a spec carries no code-model override.
	DefaultCodeModel() Model
}

// SearchObjective selects the behavior of the discovery agent.
type SearchObjective string

const (
	// ObjectiveTasksOnly asks the discovery agent to produce a task list.
	ObjectiveTasksOnly SearchObjective = "tasks_only"

	// ObjectiveAnswerOnly asks for an answer with no workspace side
	// effects.
	ObjectiveAnswerOnly SearchObjective = "answer_only"
)

// AgentResult is the outcome of one agent invocation. Explanation carries
// the agent's free-text stop explanation; REVIEW jobs parse their verdict
// out of it.
type AgentResult struct {
	Explanation string
}

// UnitOfWork brackets a bounded execution region whose result is appended
// to shared history atomically with the call. Close commits the region.
type UnitOfWork interface {
	Append(result *AgentResult)
	Close() error
}

// ExecutionContext is the shared mutable workspace the engine drives. All
// methods that reach a model are potentially long-running.
type ExecutionContext interface {
	// SetOutput installs sink as the event target and returns the
	// previously installed sink for restoration.
	SetOutput(sink OutputSink) (previous OutputSink)

	// ExecuteTask runs one task through the dual-model plan-and-edit
	// pipeline.
	ExecuteTask(ctx context.Context, task TaskItem, planner, coder Model) error

	// BeginUnitOfWork opens a history scope named after the task.
	BeginUnitOfWork(name string) (UnitOfWork, error)

	// RunCodeAgent runs the code-editing agent against prompt.
	RunCodeAgent(ctx context.Context, prompt string, model Model) (*AgentResult, error)

	// RunSearchAgent runs the discovery agent against query.
	RunSearchAgent(ctx context.Context, query string, model Model, objective SearchObjective) (*AgentResult, error)

	// GeneratedTasks returns the task list produced by the most recent
	// discovery run.
	GeneratedTasks() []TaskItem

	// CompressHistory compacts the shared conversation history.
	CompressHistory(ctx context.Context) error

	// InterruptCurrentAction interrupts any in-flight model call.
	// Best-effort: an already-finished call is not an error.
	InterruptCurrentAction()

	// SwitchSession makes sessionID the active session.
	SwitchSession(ctx context.Context, sessionID uuid.UUID) error

	// AttachDiff attaches a diff blob to the workspace as a reviewable
	// artifact.
	AttachDiff(description, diff string) error

	// ReviewGuide returns the project's review guidelines.
	ReviewGuide() string
}

// OutputSink receives progress and diagnostic events during a job. Sinks
// are durable: every write is sequenced, and LastSeq exposes the highest
// sequence emitted so far for replay resumption.
type OutputSink interface {
	Notify(message string) error
	ToolError(message, title string) error
	LastSeq() int64
}

// SinkFactory builds the durable output sink for one job.
type SinkFactory func(jobID string) (OutputSink, error)

// StatusStore is the durable status contract the engine consumes. LoadStatus
// returns ErrStatusNotFound when no status exists for jobID.
type StatusStore interface {
	LoadStatus(ctx context.Context, jobID string) (*JobStatus, error)
	UpdateStatus(ctx context.Context, jobID string, status *JobStatus) error
}

// PullRequestFetcher retrieves pull-request context for REVIEW jobs.
type PullRequestFetcher interface {
	FetchPullRequest(ctx context.Context, token, owner, repo string, number int) (*PullRequestDetails, error)
}
