package jobs

import (
	"time"
)

// State is the lifecycle state of a job. COMPLETED, FAILED and CANCELLED
// are terminal: once a job reaches one of them the engine makes no further
// status writes for it.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobSpec is the immutable request payload for a job. It is created once at
// submission, persisted verbatim for audit and replay, and never mutated.
//
// REVIEW jobs repurpose TaskInput as a JSON object
// {"pr_number": int, "repo_url": string} and carry the session id and
// GitHub token in Tags (keys "session_id" and "github_token").
type JobSpec struct {
	// TaskInput holds newline-delimited task directives.
	TaskInput string `json:"task_input"`

	AutoCommit   bool `json:"auto_commit"`
	AutoCompress bool `json:"auto_compress"`
	PreScan      bool `json:"pre_scan"`

	// PlannerModel names the planning model for modes that need one.
	PlannerModel string `json:"planner_model"`

	// ScanModel names the model used for pre-scan, when enabled.
	ScanModel string `json:"scan_model,omitempty"`

	// CodeModel optionally overrides the context-supplied default code
	// model. Blank means use the default.
	CodeModel string `json:"code_model,omitempty"`

	// Tags carries side-channel parameters such as "mode", "session_id"
	// and "github_token".
	Tags map[string]string `json:"tags,omitempty"`
}

// Tag returns the named tag, or "" when absent.
func (s JobSpec) Tag(key string) string {
	if s.Tags == nil {
		return ""
	}
	return s.Tags[key]
}

// MetadataLastSeq is the JobStatus metadata key carrying the last emitted
// event sequence number, used by replay consumers to resume a stream.
const MetadataLastSeq = "lastSeq"

// JobStatus is the durable, mutable-by-replacement view of a job.
type JobStatus struct {
	ID       string            `json:"id"`
	State    State             `json:"state"`
	Progress int               `json:"progress"`
	Result   any               `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueuedStatus returns a fresh QUEUED status for jobID.
func QueuedStatus(jobID string) *JobStatus {
	now := time.Now().UTC()
	return &JobStatus{
		ID:        jobID,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkRunning transitions the status to RUNNING.
func (s *JobStatus) MarkRunning() {
	s.State = StateRunning
	s.UpdatedAt = time.Now().UTC()
}

// Complete transitions the status to COMPLETED with an optional
// mode-specific result payload.
func (s *JobStatus) Complete(result any) {
	s.State = StateCompleted
	s.Result = result
	s.UpdatedAt = time.Now().UTC()
}

// Fail transitions the status to FAILED with the given message.
func (s *JobStatus) Fail(message string) {
	s.State = StateFailed
	s.Error = message
	s.UpdatedAt = time.Now().UTC()
}

// MarkCancelled transitions the status to CANCELLED.
func (s *JobStatus) MarkCancelled() {
	s.State = StateCancelled
	s.UpdatedAt = time.Now().UTC()
}

// SetMetadata records a metadata key, allocating the map on first use.
func (s *JobStatus) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, 1)
	}
	s.Metadata[key] = value
}

// TaskItem is one ordered directive for the workspace, with a completion
// flag maintained by the execution context for generated task lists.
type TaskItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// ReviewVerdict is the structured result of a REVIEW job, parsed from the
// review agent's output against the schema demanded by the review prompt.
type ReviewVerdict struct {
	Action   string          `json:"action"`
	Comments []ReviewComment `json:"comments"`
	Summary  string          `json:"summary"`
}

// ReviewComment is a single file/line finding within a review verdict.
type ReviewComment struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Comment string `json:"comment"`
}

// Review actions accepted in a verdict.
const (
	ReviewActionApprove        = "APPROVE"
	ReviewActionRequestChanges = "REQUEST_CHANGES"
	ReviewActionComment        = "COMMENT"
)

// PullRequestDetails is the fetched context for a REVIEW job: the pull
// request description plus a unified diff blob assembled from its files.
type PullRequestDetails struct {
	Number int
	Title  string
	Body   string
	Diff   string
}
