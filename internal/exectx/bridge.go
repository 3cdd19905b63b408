// Package exectx bridges the engine's execution-context contract to an
// external agent CLI. Each agent invocation runs the configured command
// with the prompt on stdin; results are appended to an in-memory session
// history.
package exectx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/jobs"
)

// Compile-time interface satisfaction check.
var _ jobs.ExecutionContext = (*Bridge)(nil)

// Config wires a Bridge.
type Config struct {
	// Workdir is the repository the agent operates in.
	Workdir string

	// AgentCommand is the argv of the agent CLI; the model name and
	// objective are appended as flags, the prompt arrives on stdin.
	AgentCommand []string

	Logger *zap.Logger
}

// Bridge is a shared mutable workspace driven by one engine instance at a
// time. It is not safe for two Runner instances to drive the same Bridge.
type Bridge struct {
	workdir  string
	agentCmd []string
	logger   *zap.Logger

	mu        sync.Mutex
	sink      jobs.OutputSink
	history   []historyEntry
	generated []jobs.TaskItem
	sessionID uuid.UUID
	running   *exec.Cmd
}

type historyEntry struct {
	name   string
	result *jobs.AgentResult
}

// NewBridge creates a Bridge.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Workdir == "" {
		return nil, fmt.Errorf("workdir is required")
	}
	if len(cfg.AgentCommand) == 0 {
		return nil, fmt.Errorf("agent command is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Bridge{
		workdir:  cfg.Workdir,
		agentCmd: cfg.AgentCommand,
		logger:   cfg.Logger,
	}, nil
}

// SetOutput installs sink and returns the previously installed one.
func (b *Bridge) SetOutput(sink jobs.OutputSink) jobs.OutputSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.sink
	b.sink = sink
	return prev
}

// ExecuteTask runs one task through the agent with the planner and code
// models, appending the result to history.
func (b *Bridge) ExecuteTask(ctx context.Context, task jobs.TaskItem, planner, coder jobs.Model) error {
	args := []string{"--planner-model", planner.Name(), "--model", coder.Name()}
	out, err := b.runAgent(ctx, task.Text, args)
	if err != nil {
		return err
	}
	b.appendHistory(task.Text, &jobs.AgentResult{Explanation: out})
	return nil
}

// BeginUnitOfWork opens a history scope. Close commits appended results.
func (b *Bridge) BeginUnitOfWork(name string) (jobs.UnitOfWork, error) {
	return &scope{bridge: b, name: name}, nil
}

type scope struct {
	bridge  *Bridge
	name    string
	results []*jobs.AgentResult
}

func (s *scope) Append(result *jobs.AgentResult) {
	s.results = append(s.results, result)
}

func (s *scope) Close() error {
	for _, res := range s.results {
		s.bridge.appendHistory(s.name, res)
	}
	s.results = nil
	return nil
}

// RunCodeAgent runs the code-editing agent against prompt.
func (b *Bridge) RunCodeAgent(ctx context.Context, prompt string, model jobs.Model) (*jobs.AgentResult, error) {
	out, err := b.runAgent(ctx, prompt, []string{"--model", model.Name()})
	if err != nil {
		return nil, err
	}
	return &jobs.AgentResult{Explanation: out}, nil
}

// RunSearchAgent runs the discovery agent. With ObjectiveTasksOnly the
// agent's output lines become the generated task list.
func (b *Bridge) RunSearchAgent(ctx context.Context, query string, model jobs.Model, objective jobs.SearchObjective) (*jobs.AgentResult, error) {
	args := []string{"--model", model.Name(), "--objective", string(objective), "--read-only"}
	out, err := b.runAgent(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if objective == jobs.ObjectiveTasksOnly {
		b.mu.Lock()
		b.generated = jobs.ParseTasks(out)
		b.mu.Unlock()
	}
	return &jobs.AgentResult{Explanation: out}, nil
}

// GeneratedTasks returns the most recent discovery task list.
func (b *Bridge) GeneratedTasks() []jobs.TaskItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]jobs.TaskItem, len(b.generated))
	copy(out, b.generated)
	return out
}

// CompressHistory drops all but the most recent history entries.
func (b *Bridge) CompressHistory(ctx context.Context) error {
	const keep = 4
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) > keep {
		b.history = append([]historyEntry(nil), b.history[len(b.history)-keep:]...)
	}
	b.logger.Debug("history compressed", zap.Int("entries", len(b.history)))
	return nil
}

// InterruptCurrentAction kills any in-flight agent process. Best-effort:
// a process that already exited is not an error.
func (b *Bridge) InterruptCurrentAction() {
	b.mu.Lock()
	cmd := b.running
	b.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		b.logger.Debug("failed to interrupt agent process", zap.Error(err))
	}
}

// SwitchSession makes sessionID the active session and clears per-session
// state.
func (b *Bridge) SwitchSession(ctx context.Context, sessionID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionID = sessionID
	b.history = nil
	b.generated = nil
	b.logger.Info("switched active session", zap.String("session_id", sessionID.String()))
	return nil
}

// AttachDiff writes the diff under the workspace so the agent can read it.
func (b *Bridge) AttachDiff(description, diff string) error {
	dir := filepath.Join(b.workdir, ".execd")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(dir, "review.diff")
	if err := os.WriteFile(path, []byte(diff), 0o644); err != nil {
		return fmt.Errorf("write diff artifact: %w", err)
	}
	b.logger.Info("diff attached", zap.String("path", path), zap.Int("bytes", len(diff)))
	return nil
}

// ReviewGuide returns the project's review guidelines, falling back to a
// generic instruction when the project ships none.
func (b *Bridge) ReviewGuide() string {
	for _, name := range []string{"REVIEW.md", filepath.Join(".execd", "review-guide.md")} {
		raw, err := os.ReadFile(filepath.Join(b.workdir, name))
		if err == nil && len(bytes.TrimSpace(raw)) > 0 {
			return string(raw)
		}
	}
	return "Follow the project's existing conventions. Flag correctness bugs, missing error handling, and untested behavior changes."
}

// CreateSession snapshots the current context into a named session.
func (b *Bridge) CreateSession(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionID = uuid.New()
	b.logger.Info("session created",
		zap.String("session", name),
		zap.String("session_id", b.sessionID.String()))
	return nil
}

func (b *Bridge) runAgent(ctx context.Context, prompt string, extraArgs []string) (string, error) {
	argv := append(append([]string{}, b.agentCmd...), extraArgs...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = b.workdir
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.mu.Lock()
	b.running = cmd
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = nil
		b.mu.Unlock()
	}()

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agent invocation failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (b *Bridge) appendHistory(name string, result *jobs.AgentResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, historyEntry{name: name, result: result})
}
