package jobs

import (
	"errors"
	"fmt"
)

// ErrJobActive is returned by RunAsync when a different job already holds
// the exclusivity slot.
var ErrJobActive = errors.New("another job is already running")

// ErrStatusNotFound is returned by StatusStore implementations when no
// status exists for a job id.
var ErrStatusNotFound = errors.New("job status not found")

// ConfigError is a fatal configuration problem detected before any task
// runs: an unresolvable model name, an unknown mode, or a REVIEW job
// missing its session id or token.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// rootCause unwraps nested wrapper layers to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// formatFailure renders an escaped failure as "<kind>: <message>" for
// status records and error events.
func formatFailure(err error) string {
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return fmt.Sprintf("configuration error: %s", cfg.Reason)
	}
	return fmt.Sprintf("execution error: %s", rootCause(err).Error())
}
