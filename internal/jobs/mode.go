package jobs

import (
	"fmt"
	"strings"
)

// Mode is the workflow shape selected for a job.
type Mode string

const (
	// ModePlan runs each task through a dual-model plan-and-edit call.
	ModePlan Mode = "PLAN"

	// ModeCode runs each task through a code-editing agent using only the
	// code model.
	ModeCode Mode = "CODE"

	// ModeAsk runs a read-only discovery agent with no workspace side
	// effects.
	ModeAsk Mode = "ASK"

	// ModeReview reviews a pull request and produces a structured verdict.
	ModeReview Mode = "REVIEW"

	// ModeDiscover first generates a sub-task list from each task, then
	// executes the generated sub-tasks sequentially.
	ModeDiscover Mode = "DISCOVER"
)

// TagMode is the spec tag naming the execution mode.
const TagMode = "mode"

// ParseMode resolves the execution mode from spec tags. A blank or absent
// tag selects PLAN. An unrecognized value is a configuration error,
// surfaced before any task runs rather than silently defaulted.
func ParseMode(tags map[string]string) (Mode, error) {
	raw := strings.TrimSpace(tags[TagMode])
	if raw == "" {
		return ModePlan, nil
	}
	switch Mode(strings.ToUpper(raw)) {
	case ModePlan:
		return ModePlan, nil
	case ModeCode:
		return ModeCode, nil
	case ModeAsk:
		return ModeAsk, nil
	case ModeReview:
		return ModeReview, nil
	case ModeDiscover:
		return ModeDiscover, nil
	default:
		return "", &ConfigError{Reason: fmt.Sprintf("unknown execution mode %q", raw)}
	}
}

// needsPlanner reports whether the mode requires a resolved planner model.
func (m Mode) needsPlanner() bool {
	return m == ModePlan || m == ModeDiscover || m == ModeAsk || m == ModeReview
}

// needsCoder reports whether the mode requires a code model (override or
// context default).
func (m Mode) needsCoder() bool {
	return m == ModePlan || m == ModeDiscover || m == ModeCode || m == ModeReview
}
