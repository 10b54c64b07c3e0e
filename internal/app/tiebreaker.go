package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TiebreakerScheduler owns one-shot deadline timers, at most one per match.
// Firing is guarded by the callback re-checking match state, so a stale timer is a no-op;
// Cancel only releases the timer early.
type TiebreakerScheduler struct {
	clock clockwork.Clock
	fire  func(matchID string)

	mu      sync.Mutex
	tasks   map[string]*deadlineTask
	stopped bool
}

type deadlineTask struct {
	timer clockwork.Timer
	at    time.Time
}

func NewTiebreakerScheduler(clock clockwork.Clock, fire func(matchID string)) *TiebreakerScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TiebreakerScheduler{
		clock: clock,
		fire:  fire,
		tasks: make(map[string]*deadlineTask),
	}
}

// Schedule arms the timer for matchID to fire after delay, replacing any pending one.
// Negative delays fire immediately.
func (s *TiebreakerScheduler) Schedule(matchID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.tasks[matchID]; ok {
		old.timer.Stop()
	}
	task := &deadlineTask{at: s.clock.Now().Add(delay)}
	// The callback hops to its own goroutine so it never runs under s.mu.
	task.timer = s.clock.AfterFunc(delay, func() { go s.expire(matchID, task) })
	s.tasks[matchID] = task
}

func (s *TiebreakerScheduler) expire(matchID string, task *deadlineTask) {
	s.mu.Lock()
	current, ok := s.tasks[matchID]
	if !ok || current != task || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, matchID)
	s.mu.Unlock()

	s.fire(matchID)
}

// Cancel stops the pending timer for matchID and reports whether one existed.
func (s *TiebreakerScheduler) Cancel(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[matchID]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, matchID)
	return true
}

// Pending returns when the timer for matchID will fire.
func (s *TiebreakerScheduler) Pending(matchID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[matchID]
	if !ok {
		return time.Time{}, false
	}
	return task.at, true
}

// Stop cancels every pending timer; later Schedule calls are ignored.
func (s *TiebreakerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, id)
	}
}
