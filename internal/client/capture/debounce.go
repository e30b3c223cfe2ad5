package capture

import (
	"sync"
	"time"
)

// DefaultDebounce is how long a document must go untouched before its
// pending snapshot fires.
const DefaultDebounce = 500 * time.Millisecond

// PendingSnapshotScheduler collapses bursts of edits to the same document
// into a single snapshot. Every Touch restarts that document's timer; only
// a timer that elapses uninterrupted fires. Timers are the only cancelable
// unit in the whole pipeline.
type PendingSnapshotScheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*time.Timer
	stopped bool
	fire    func(path string)
}

// NewPendingSnapshotScheduler creates a scheduler that calls fire with the
// document path once its debounce window elapses.
func NewPendingSnapshotScheduler(delay time.Duration, fire func(path string)) *PendingSnapshotScheduler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &PendingSnapshotScheduler{
		delay:   delay,
		pending: make(map[string]*time.Timer),
		fire:    fire,
	}
}

// Touch (re)arms the timer for path. N touches within the window produce
// exactly one fire, for the document's state when the window finally
// elapses.
func (s *PendingSnapshotScheduler) Touch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if timer, ok := s.pending[path]; ok {
		timer.Stop()
	}
	s.pending[path] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.pending, path)
		s.mu.Unlock()
		s.fire(path)
	})
}

// Cancel drops the pending snapshot for path, if any. Used when the
// document is deleted before its window elapses.
func (s *PendingSnapshotScheduler) Cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[path]; ok {
		timer.Stop()
		delete(s.pending, path)
	}
}

// PendingCount returns the number of armed timers.
func (s *PendingSnapshotScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer. The scheduler is dead afterwards.
func (s *PendingSnapshotScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for path, timer := range s.pending {
		timer.Stop()
		delete(s.pending, path)
	}
}
