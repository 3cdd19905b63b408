package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Spec tags consumed by REVIEW jobs.
const (
	TagSessionID   = "session_id"
	TagGitHubToken = "github_token"
)

// reviewTarget is the REVIEW-mode interpretation of JobSpec.TaskInput.
type reviewTarget struct {
	PRNumber int    `json:"pr_number"`
	RepoURL  string `json:"repo_url"`
}

// runReview executes a pull-request review: switch to the session carried
// in the spec tags, fetch the PR diff and description, attach the diff as a
// workspace artifact, and run one agent call against a prompt that demands
// a strict JSON verdict. A verdict that cannot be parsed fails the job;
// silently dropping a review result is unacceptable.
func (r *Runner) runReview(ctx context.Context, spec JobSpec, models resolvedModels, log *zap.Logger) (*ReviewVerdict, error) {
	var target reviewTarget
	if err := json.Unmarshal([]byte(spec.TaskInput), &target); err != nil {
		return nil, fmt.Errorf("parse review target: %w", err)
	}
	owner, repo, err := parseOwnerRepo(target.RepoURL)
	if err != nil {
		return nil, err
	}

	// Missing session id or token is a configuration error, raised before
	// any external call.
	rawSession := strings.TrimSpace(spec.Tag(TagSessionID))
	if rawSession == "" {
		return nil, &ConfigError{Reason: "session id missing from job spec"}
	}
	token := strings.TrimSpace(spec.Tag(TagGitHubToken))
	if token == "" {
		return nil, &ConfigError{Reason: "github token missing from job spec"}
	}
	sessionID, err := uuid.Parse(rawSession)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid session id %q", rawSession)}
	}

	if err := r.ec.SwitchSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("switch session for review: %w", err)
	}
	log.Info("switched session for pull-request review", zap.String("session_id", rawSession))

	pr, err := r.pulls.FetchPullRequest(ctx, token, owner, repo, target.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch pull request #%d: %w", target.PRNumber, err)
	}

	if err := r.ec.AttachDiff(pr.Body, pr.Diff); err != nil {
		return nil, fmt.Errorf("attach review diff: %w", err)
	}

	prompt := reviewPrompt(target.PRNumber, pr.Title, pr.Body, r.ec.ReviewGuide())

	scope, err := r.ec.BeginUnitOfWork("Review")
	if err != nil {
		return nil, err
	}
	res, err := r.ec.RunCodeAgent(ctx, prompt, models.planner)
	if err != nil {
		_ = scope.Close()
		return nil, err
	}
	scope.Append(res)
	if err := scope.Close(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(res.Explanation) == "" {
		log.Warn("review agent produced no explanation, no verdict recorded")
		return nil, nil
	}
	verdict, err := ParseReviewVerdict(res.Explanation)
	if err != nil {
		return nil, fmt.Errorf("parse review verdict: %w", err)
	}
	return verdict, nil
}

// reviewPrompt builds the review instruction embedding the project review
// guidelines and the strict output schema the verdict parser expects.
func reviewPrompt(prNumber int, title, description, guide string) string {
	return fmt.Sprintf(`Please review the following Pull Request:
PR #%d: %s
%s
Review Guidelines:
%s

Please provide a thorough code review based on the diff and files in context.
IMPORTANT: You must output ONLY valid JSON with this exact schema (no markdown fences, no extra text):
{
  "action": "REQUEST_CHANGES" | "APPROVE" | "COMMENT",
  "comments": [
    {
      "file": "relative/path/to/file",
      "line": 123,
      "comment": "Specific issue description"
    }
  ],
  "summary": "Overall review summary"
}

For each issue you find, create a comment entry with the exact file path from the changed files, line number, and a concise description.
Use action=REQUEST_CHANGES for blocking issues, APPROVE if no issues, COMMENT for minor suggestions.
`, prNumber, title, description, guide)
}

// ParseReviewVerdict extracts and validates the JSON verdict from the
// agent's free-text output. Surrounding prose and code fences are
// tolerated by taking the outermost JSON object.
func ParseReviewVerdict(text string) (*ReviewVerdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in review output")
	}

	var verdict ReviewVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return nil, fmt.Errorf("malformed review verdict: %w", err)
	}

	switch verdict.Action {
	case ReviewActionApprove, ReviewActionRequestChanges, ReviewActionComment:
	default:
		return nil, fmt.Errorf("invalid review action %q", verdict.Action)
	}
	return &verdict, nil
}

// parseOwnerRepo extracts the owner and repository name from an HTTPS or
// SSH GitHub remote URL.
func parseOwnerRepo(raw string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), ".git")
	if trimmed == "" {
		return "", "", fmt.Errorf("empty repository url")
	}

	if rest, ok := strings.CutPrefix(trimmed, "git@"); ok {
		_, path, found := strings.Cut(rest, ":")
		if !found {
			return "", "", fmt.Errorf("invalid repository url %q", raw)
		}
		return splitOwnerRepo(path, raw)
	}

	u, perr := url.Parse(trimmed)
	if perr != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid repository url %q", raw)
	}
	return splitOwnerRepo(strings.Trim(u.Path, "/"), raw)
}

func splitOwnerRepo(path, raw string) (string, string, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q does not name owner/repo", raw)
	}
	return parts[0], parts[1], nil
}
