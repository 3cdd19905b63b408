package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type fakeModel string

func (m fakeModel) Name() string { return string(m) }

type fakeResolver struct {
	available   map[string]struct{}
	defaultCode Model
}

func newFakeResolver(names ...string) *fakeResolver {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &fakeResolver{available: set, defaultCode: fakeModel("default-code")}
}

func (r *fakeResolver) Resolve(name string) (Model, error) {
	if _, ok := r.available[name]; !ok {
		return nil, fmt.Errorf("model %q is not available", name)
	}
	return fakeModel(name), nil
}

func (r *fakeResolver) DefaultCodeModel() Model { return r.defaultCode }

type memStore struct {
	mu          sync.Mutex
	statuses    map[string]*JobStatus
	failUpdates bool
	writes      []State
}

func newMemStore() *memStore {
	return &memStore{statuses: map[string]*JobStatus{}}
}

func (s *memStore) LoadStatus(_ context.Context, jobID string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[jobID]
	if !ok {
		return nil, ErrStatusNotFound
	}
	clone := *status
	if status.Metadata != nil {
		clone.Metadata = make(map[string]string, len(status.Metadata))
		for k, v := range status.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone, nil
}

func (s *memStore) UpdateStatus(_ context.Context, jobID string, status *JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates {
		return errors.New("store unavailable")
	}
	clone := *status
	s.statuses[jobID] = &clone
	s.writes = append(s.writes, status.State)
	return nil
}

func (s *memStore) status(jobID string) *JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[jobID]
}

func (s *memStore) writeCount(state State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		if w == state {
			n++
		}
	}
	return n
}

type fakeSink struct {
	mu         sync.Mutex
	notes      []string
	toolErrors []string
	seq        int64
	failWrites bool
}

func (s *fakeSink) Notify(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("sink unavailable")
	}
	s.seq++
	s.notes = append(s.notes, message)
	return nil
}

func (s *fakeSink) ToolError(message, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("sink unavailable")
	}
	s.seq++
	s.toolErrors = append(s.toolErrors, message)
	return nil
}

func (s *fakeSink) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *fakeSink) notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes...)
}

// fakeContext is an in-memory ExecutionContext. onExecute, when set, runs
// before each ExecuteTask and may fail or block the call.
type fakeContext struct {
	mu           sync.Mutex
	sink         OutputSink
	executed     []string
	codePrompts  []string
	searchRuns   []string
	generated    []TaskItem
	interrupts   int
	sessions     []uuid.UUID
	attachedDiff string
	compressions int

	codeResult   *AgentResult
	searchResult *AgentResult
	onExecute    func(task TaskItem) error
	codeErr      error
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		codeResult:   &AgentResult{Explanation: "done"},
		searchResult: &AgentResult{Explanation: "searched"},
	}
}

func (c *fakeContext) SetOutput(sink OutputSink) OutputSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.sink
	c.sink = sink
	return prev
}

func (c *fakeContext) currentSink() OutputSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

func (c *fakeContext) ExecuteTask(_ context.Context, task TaskItem, _, _ Model) error {
	if c.onExecute != nil {
		if err := c.onExecute(task); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, task.Text)
	return nil
}

func (c *fakeContext) BeginUnitOfWork(name string) (UnitOfWork, error) {
	return &fakeScope{}, nil
}

func (c *fakeContext) RunCodeAgent(_ context.Context, prompt string, _ Model) (*AgentResult, error) {
	if c.codeErr != nil {
		return nil, c.codeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codePrompts = append(c.codePrompts, prompt)
	return c.codeResult, nil
}

func (c *fakeContext) RunSearchAgent(_ context.Context, query string, _ Model, objective SearchObjective) (*AgentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchRuns = append(c.searchRuns, query+"/"+string(objective))
	return c.searchResult, nil
}

func (c *fakeContext) GeneratedTasks() []TaskItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TaskItem(nil), c.generated...)
}

func (c *fakeContext) CompressHistory(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compressions++
	return nil
}

func (c *fakeContext) InterruptCurrentAction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
}

func (c *fakeContext) SwitchSession(_ context.Context, sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, sessionID)
	return nil
}

func (c *fakeContext) AttachDiff(_, diff string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachedDiff = diff
	return nil
}

func (c *fakeContext) ReviewGuide() string { return "follow the style guide" }

func (c *fakeContext) executedTasks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

type fakeScope struct {
	results []*AgentResult
}

func (s *fakeScope) Append(result *AgentResult) { s.results = append(s.results, result) }
func (s *fakeScope) Close() error               { return nil }

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	details *PullRequestDetails
	err     error
}

func (f *fakeFetcher) FetchPullRequest(_ context.Context, _, _, _ string, number int) (*PullRequestDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.details != nil {
		return f.details, nil
	}
	return &PullRequestDetails{Number: number, Title: "t", Body: "b", Diff: "d"}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
