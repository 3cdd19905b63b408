package http

import (
	"github.com/fyrsmithlabs/execd/internal/jobs"
	"github.com/fyrsmithlabs/execd/internal/workflow"
)

// Runner is the engine surface the API exposes.
type Runner interface {
	RunAsync(jobID string, spec jobs.JobSpec) (<-chan error, error)
	Cancel(jobID string)
	// Active returns the currently running job id, or "" when idle.
	Active() string
}

// Orchestrator launches the issue-fix workflow.
type Orchestrator interface {
	Execute(jobID string, spec jobs.JobSpec, req workflow.IssueFixRequest, branch string, reservation workflow.Reservation)
}

// submitJobRequest is the POST /api/v1/jobs payload. IdempotencyKey is
// optional; resubmitting the same key returns the originally assigned job
// id instead of minting a new job.
type submitJobRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	TaskInput      string            `json:"task_input"`
	AutoCommit     bool              `json:"auto_commit"`
	AutoCompress   bool              `json:"auto_compress"`
	PreScan        bool              `json:"pre_scan"`
	PlannerModel   string            `json:"planner_model"`
	ScanModel      string            `json:"scan_model"`
	CodeModel      string            `json:"code_model"`
	Tags           map[string]string `json:"tags"`
}

func (r submitJobRequest) spec() jobs.JobSpec {
	return jobs.JobSpec{
		TaskInput:    r.TaskInput,
		AutoCommit:   r.AutoCommit,
		AutoCompress: r.AutoCompress,
		PreScan:      r.PreScan,
		PlannerModel: r.PlannerModel,
		ScanModel:    r.ScanModel,
		CodeModel:    r.CodeModel,
		Tags:         r.Tags,
	}
}

// submitJobResponse acknowledges an accepted submission.
type submitJobResponse struct {
	JobID string `json:"job_id"`
}

// fixIssueRequest is the POST /api/v1/issues/fix payload.
type fixIssueRequest struct {
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	TaskInput    string `json:"task_input"`
	PlannerModel string `json:"planner_model"`
	CodeModel    string `json:"code_model"`
	AutoCommit   bool   `json:"auto_commit"`
	AutoCompress bool   `json:"auto_compress"`
}

// fixIssueResponse acknowledges an accepted issue-fix workflow.
type fixIssueResponse struct {
	JobID  string `json:"job_id"`
	Branch string `json:"branch"`
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Error string `json:"error"`
}
