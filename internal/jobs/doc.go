// Package jobs implements the job-execution engine for long-running,
// AI-assisted coding workflows.
//
// A Runner drives one job at a time against a shared ExecutionContext.
// Exclusivity is enforced per Runner instance: submissions for a different
// job while one is active fail immediately, and the active slot is released
// on every exit path. Jobs execute on a dedicated serial worker, so no two
// job bodies ever run concurrently on the same instance.
//
// Each job selects one of five modes (PLAN, CODE, ASK, REVIEW, DISCOVER)
// from its spec tags. Task items run strictly sequentially inside a
// cancellable unit of work; cancellation is cooperative and checked at loop
// boundaries only. Durable status and progress are written through a
// StatusStore, and all user-visible events flow through a per-job
// OutputSink that is swapped in for the duration of the job.
package jobs
