package taskqueue

import (
	"log/slog"
	"sync"
)

// Reporter is the single shared failure indicator. Only the most recent
// failure is visible; one success clears it. The host (CLI, editor UI)
// injects its own implementation.
type Reporter interface {
	DeliveryFailed(err error)
	DeliveryOK()
}

// LogReporter surfaces the indicator through slog, logging only state
// transitions so a sustained outage does not storm the log.
type LogReporter struct {
	mu     sync.Mutex
	failed bool
}

func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

func (r *LogReporter) DeliveryFailed(err error) {
	r.mu.Lock()
	first := !r.failed
	r.failed = true
	r.mu.Unlock()

	if first {
		slog.Warn("collector unreachable, retrying", "error", err)
	} else {
		slog.Debug("collector still unreachable", "error", err)
	}
}

func (r *LogReporter) DeliveryOK() {
	r.mu.Lock()
	restored := r.failed
	r.failed = false
	r.mu.Unlock()

	if restored {
		slog.Info("collector connection restored")
	}
}

// Failing reports whether the indicator is currently shown.
func (r *LogReporter) Failing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
