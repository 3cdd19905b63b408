package jobs

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// slot is the per-instance exclusivity guard: at most one active job id,
// its cancellation flag, and the output sink attached for that job. All
// transitions happen under the mutex; the cancellation flag is atomic so
// the worker can poll it at loop boundaries without locking.
type slot struct {
	mu        sync.Mutex
	jobID     string
	sink      OutputSink
	cancelled atomic.Bool
}

// acquire claims the slot for jobID, resetting the cancellation flag and
// recording the job's sink. It fails without touching the slot while any
// job is active, including jobID itself: letting a resubmission re-acquire
// would clear an in-flight cancel flag and replace the attached sink.
func (s *slot) acquire(jobID string, sink OutputSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobID != "" {
		return fmt.Errorf("%w: %s", ErrJobActive, s.jobID)
	}
	s.jobID = jobID
	s.sink = sink
	s.cancelled.Store(false)
	return nil
}

// release frees the slot if jobID still owns it.
func (s *slot) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobID == jobID {
		s.jobID = ""
		s.sink = nil
	}
}

// active returns the currently held job id, or "".
func (s *slot) active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// requestCancel sets the cancellation flag if jobID owns the slot,
// returning the attached sink and whether the request matched.
func (s *slot) requestCancel(jobID string) (OutputSink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobID == "" || s.jobID != jobID {
		return nil, false
	}
	s.cancelled.Store(true)
	return s.sink, true
}

// cancelRequested reports whether cancellation has been requested for the
// active job. Checked only at loop boundaries; an in-flight call always
// completes or fails before cancellation takes effect.
func (s *slot) cancelRequested() bool {
	return s.cancelled.Load()
}
