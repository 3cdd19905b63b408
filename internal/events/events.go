// Package events provides the durable per-job output sink. Every
// notification or error emitted during a job is persisted with a
// monotonically increasing sequence number so consumers can replay the
// stream from any point.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event kinds.
const (
	KindNotification = "notification"
	KindError        = "error"
)

// Event is one durable output event.
type Event struct {
	JobID     string    `json:"job_id"`
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is the persistence contract the sink writes through.
type Log interface {
	AppendEvent(ctx context.Context, event Event) error
	LastEventSeq(ctx context.Context, jobID string) (int64, error)
}

// Sink is a durable output sink for one job. It implements the engine's
// OutputSink contract.
type Sink struct {
	jobID  string
	log    Log
	logger *zap.Logger

	mu  sync.Mutex
	seq int64
}

// NewSink creates a sink for jobID, resuming the sequence counter from the
// highest previously persisted event so replay offsets stay monotonic
// across engine restarts.
func NewSink(ctx context.Context, log Log, jobID string, logger *zap.Logger) (*Sink, error) {
	if log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	last, err := log.LastEventSeq(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load last event seq: %w", err)
	}
	return &Sink{jobID: jobID, log: log, logger: logger, seq: last}, nil
}

// Notify persists an informational event.
func (s *Sink) Notify(message string) error {
	return s.append(KindNotification, "", message)
}

// ToolError persists an error event.
func (s *Sink) ToolError(message, title string) error {
	return s.append(KindError, title, message)
}

// LastSeq returns the highest sequence number emitted so far.
func (s *Sink) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Sink) append(kind, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	event := Event{
		JobID:     s.jobID,
		Seq:       next,
		Kind:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.log.AppendEvent(context.Background(), event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	s.seq = next
	s.logger.Debug("event persisted",
		zap.String("job_id", s.jobID),
		zap.Int64("seq", next),
		zap.String("kind", kind))
	return nil
}
