package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCause(t *testing.T) {
	base := errors.New("disk full")
	wrapped := fmt.Errorf("persist result: %w", fmt.Errorf("write status: %w", base))

	assert.Equal(t, base, rootCause(wrapped))
	assert.Equal(t, base, rootCause(base))
}

func TestFormatFailure(t *testing.T) {
	cfg := fmt.Errorf("resolve models: %w", &ConfigError{Reason: "model unavailable: gpt-x"})
	assert.Equal(t, "configuration error: model unavailable: gpt-x", formatFailure(cfg))

	exec := fmt.Errorf("task execution failed: %w", errors.New("agent crashed"))
	assert.Equal(t, "execution error: agent crashed", formatFailure(exec))
}
