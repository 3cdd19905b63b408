// Package store persists job specs, status records and output events on
// SQLite. It implements the read/update status contract the engine
// consumes and the append-only event log behind the durable output sink.
package store

import (
	"context"

	"github.com/fyrsmithlabs/execd/internal/events"
	"github.com/fyrsmithlabs/execd/internal/jobs"
)

// Store is the full persistence surface.
type Store interface {
	// SaveSpec records a job spec verbatim at submission for audit and
	// replay. Specs are immutable: saving the same job id twice is an
	// error.
	SaveSpec(ctx context.Context, jobID string, spec jobs.JobSpec) error

	// CreateOrGetJob records a spec keyed by a client idempotency key.
	// The first call for a key inserts the spec as jobID and returns
	// (jobID, true); replays return the original job id with
	// created=false and leave the stored spec untouched.
	CreateOrGetJob(ctx context.Context, idempotencyKey, jobID string, spec jobs.JobSpec) (string, bool, error)

	// LoadSpec returns the persisted spec, or jobs.ErrStatusNotFound when
	// the job is unknown.
	LoadSpec(ctx context.Context, jobID string) (jobs.JobSpec, error)

	// LoadStatus returns the status for jobID, or jobs.ErrStatusNotFound.
	LoadStatus(ctx context.Context, jobID string) (*jobs.JobStatus, error)

	// UpdateStatus replaces the status record for jobID.
	UpdateStatus(ctx context.Context, jobID string, status *jobs.JobStatus) error

	// AppendEvent persists one output event.
	AppendEvent(ctx context.Context, event events.Event) error

	// LastEventSeq returns the highest persisted event sequence for
	// jobID, or 0 when none exist.
	LastEventSeq(ctx context.Context, jobID string) (int64, error)

	// ListEvents returns events for jobID with seq > since, in sequence
	// order.
	ListEvents(ctx context.Context, jobID string, since int64) ([]events.Event, error)

	// Close releases the underlying database.
	Close() error
}
