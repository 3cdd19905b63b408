package workflow

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/execd/internal/jobs"
)

// IssueFixRequest describes the issue an automated fix targets.
type IssueFixRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// JobRunner is the engine contract the orchestrator delegates to.
type JobRunner interface {
	RunAsync(jobID string, spec jobs.JobSpec) (<-chan error, error)
}

// Workspaces is the git layer the orchestrator drives.
type Workspaces interface {
	Validate() error
	DefaultBranch() (string, error)
	NextWorktreePath(storageDir string) (string, error)
	AddWorktree(ctx context.Context, branch, path string) error
}

// PullRequests opens pull requests on the code host.
type PullRequests interface {
	CreatePullRequest(ctx context.Context, token, owner, repo, head, base, title, body string) (string, error)
}

// Sessions snapshots the shared context into a dedicated named session.
type Sessions interface {
	CreateSession(name string) error
}

// Reservation is the submission-side exclusivity hold the orchestrator
// releases exactly once when the workflow ends, on every branch.
type Reservation interface {
	ReleaseIfOwner(jobID string)
}

// JobReservation is a mutex-protected single-owner reservation.
type JobReservation struct {
	mu    sync.Mutex
	owner string
}

// TryAcquire claims the reservation for jobID, failing when a different
// job holds it.
func (r *JobReservation) TryAcquire(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != "" && r.owner != jobID {
		return false
	}
	r.owner = jobID
	return true
}

// ReleaseIfOwner frees the reservation if jobID holds it.
func (r *JobReservation) ReleaseIfOwner(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == jobID {
		r.owner = ""
	}
}

// Owner returns the current holder, or "".
func (r *JobReservation) Owner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}
