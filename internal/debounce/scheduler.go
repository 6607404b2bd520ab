// Package debounce coalesces bursts of change notifications per service
// into a single delayed signal.
//
// Each service owns at most one armed timer. A new change cancels and
// re-arms it (reset-on-activity). Expiry and cancellation are decided under
// one lock using a generation number, so a cancelled timer never delivers
// and a timer that has begun delivering can no longer be cancelled.
package debounce

import (
	"sync"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler owns one cancellable timer per service.
type Scheduler struct {
	window  time.Duration
	deliver func(name string)
	logger  logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
	stopped bool
}

// New creates a scheduler with quiescence window w. deliver is called from
// the timer goroutine once per expired timer and must not call back into
// the scheduler while blocking.
func New(w time.Duration, deliver func(name string), log logger.Logger) *Scheduler {
	if w < 0 {
		w = 0
	}
	return &Scheduler{
		window:  w,
		deliver: deliver,
		logger:  log,
		entries: make(map[string]*entry),
	}
}

// Window returns the configured quiescence window.
func (s *Scheduler) Window() time.Duration { return s.window }

// OnChange (re)arms the timer for name. It reports whether an armed timer
// absorbed the change (coalesced). After Stop it does nothing.
func (s *Scheduler) OnChange(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	if e, ok := s.entries[name]; ok {
		// With a zero window the armed timer fires at the next opportunity
		// anyway; keeping it coalesces changes of the same batch.
		if s.window == 0 {
			return true
		}
		e.timer.Stop()
		s.arm(name)
		return true
	}

	s.arm(name)
	return false
}

// OnChangeBatch applies OnChange to every name under a single lock hold, so
// the changes of one watcher batch coalesce even with a zero window. It
// returns how many changes were absorbed by an armed timer.
func (s *Scheduler) OnChangeBatch(names []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	coalesced := 0
	for _, name := range names {
		if e, ok := s.entries[name]; ok {
			coalesced++
			if s.window == 0 {
				continue
			}
			e.timer.Stop()
		}
		s.arm(name)
	}
	return coalesced
}

// arm must be called with mu held.
func (s *Scheduler) arm(name string) {
	s.nextGen++
	gen := s.nextGen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(s.window, func() { s.fire(name, gen) })
	s.entries[name] = e
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	// Claimed: from here on OnCancel reports false for this timer.
	delete(s.entries, name)
	s.mu.Unlock()

	s.logger.Debug("debounce window elapsed", logger.String("service", name))
	s.deliver(name)
}

// OnCancel disarms the timer for name without firing it. It returns false
// when no timer was armed or the timer already began firing.
func (s *Scheduler) OnCancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, name)
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Armed reports whether name has an armed timer.
func (s *Scheduler) Armed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Stop cancels every armed timer and rejects later OnChange calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.stopped = true
}
