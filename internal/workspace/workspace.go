// Package workspace manages the on-disk git repository the engine works
// in: repository validation, default-branch lookup, and isolated worktree
// materialization for the issue-fix workflow.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// Manager operates on one project repository.
type Manager struct {
	root   string
	logger *zap.Logger
}

// NewManager creates a Manager rooted at the project directory.
func NewManager(root string, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Manager{root: root, logger: logger}, nil
}

// Root returns the project root path.
func (m *Manager) Root() string {
	return m.root
}

// Validate checks that the project root is a version-controlled on-disk
// repository.
func (m *Manager) Validate() error {
	if _, err := git.PlainOpen(m.root); err != nil {
		return fmt.Errorf("project at %s is not a git repository: %w", m.root, err)
	}
	return nil
}

// DefaultBranch returns the repository's default branch: the branch
// origin/HEAD points at when the remote is known, otherwise the currently
// checked-out branch.
func (m *Manager) DefaultBranch() (string, error) {
	repo, err := git.PlainOpen(m.root)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	if ref, err := repo.Reference(plumbing.NewRemoteHEADReferenceName("origin"), true); err == nil {
		name := ref.Name().Short()
		if branch, ok := strings.CutPrefix(name, "origin/"); ok {
			return branch, nil
		}
		return name, nil
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached, cannot determine default branch")
	}
	return head.Name().Short(), nil
}

// NextWorktreePath returns the first unused wt-N path under storageDir.
// The result is deterministic for a given directory state.
func (m *Manager) NextWorktreePath(storageDir string) (string, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktree storage dir: %w", err)
	}
	for i := 1; ; i++ {
		candidate := filepath.Join(storageDir, fmt.Sprintf("wt-%d", i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("probe worktree path %s: %w", candidate, err)
		}
	}
}

// AddWorktree materializes a new linked worktree at path on a new branch.
// go-git has no linked-worktree support, so this shells out to git.
func (m *Manager) AddWorktree(ctx context.Context, branch, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path)
	cmd.Dir = m.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	m.logger.Info("worktree created",
		zap.String("path", path),
		zap.String("branch", branch))
	return nil
}
