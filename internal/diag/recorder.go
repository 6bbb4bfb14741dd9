// Package diag records the warning/fatal diagnostics the scheduler generator
// emits while parsing, planning and rendering a schedule.
package diag

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Recorder logs structured diagnostics and counts warnings so callers can
// summarize a run. It never aborts the process itself; the caller decides
// whether a fatal error should stop generation.
type Recorder struct {
	logger *zap.Logger

	mu       sync.Mutex
	warnings int
}

// NewRecorder wraps logger for diagnostic reporting. A nil logger is
// replaced with zap.NewNop so callers never need a nil check.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{logger: logger}
}

// Warn records an advisory diagnostic: generation continues.
func (r *Recorder) Warn(code, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	r.warnings++
	r.mu.Unlock()

	r.logger.Warn(msg, zap.String("code", code))
}

// WarningCount returns the number of warnings recorded so far.
func (r *Recorder) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.warnings
}

// Fatal records a fatal diagnostic and returns it as an error for the caller
// to propagate. It does not itself terminate anything.
func (r *Recorder) Fatal(code string, err error) error {
	r.logger.Error(err.Error(), zap.String("code", code))

	return err
}
