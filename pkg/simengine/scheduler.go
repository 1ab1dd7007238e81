package simengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sudorandom/noc-stream/internal/logging"
)

// LoopName identifies one logical timer slot owned by the Scheduler.
type LoopName string

const (
	LoopMain           LoopName = "main"
	LoopCableHighlight LoopName = "cable-highlight"
	LoopHighlightClear LoopName = "cable-highlight-clear"
)

var ErrInvalidInterval = errors.New("interval must be positive")

// Scheduler owns named timer slots and guarantees at most one live timer
// per slot. Callbacks belonging to a stopped or replaced timer are dropped
// even if the underlying clock has already fired them.
type Scheduler struct {
	clock Clock
	log   logging.Logger

	mu    sync.Mutex
	gen   uint64
	loops map[LoopName]*loopHandle
}

type loopHandle struct {
	gen      uint64
	interval time.Duration
	repeat   bool
	timer    Timer
}

func NewScheduler(clock Clock, log logging.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Scheduler{
		clock: clock,
		log:   log,
		loops: make(map[LoopName]*loopHandle),
	}
}

// Start runs fn every interval under name. If the slot already runs a
// repeating timer at the same interval the call is a no-op; otherwise the
// existing timer is stopped before the new one is armed.
func (s *Scheduler) Start(name LoopName, interval time.Duration, fn func()) error {
	return s.StartOwned(name, interval, func(uint64) { fn() })
}

// StartOwned is Start for callbacks that must re-check ownership with Owns
// once they hold their own locks. fn receives the generation of its timer.
func (s *Scheduler) StartOwned(name LoopName, interval time.Duration, fn func(gen uint64)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	if h, ok := s.loops[name]; ok && h.repeat && h.interval == interval {
		s.mu.Unlock()
		return nil
	}
	s.stopLocked(name)
	h := s.armLocked(name, interval, true)
	h.timer = s.clock.Every(interval, s.guard(name, h.gen, fn, false))
	s.mu.Unlock()

	s.log.Info(context.Background(), "loop started",
		logging.String("loop", string(name)),
		logging.Duration("interval", interval),
	)
	return nil
}

// Once runs fn a single time after delay, replacing any pending timer in
// the same slot. The slot is released before fn runs.
func (s *Scheduler) Once(name LoopName, delay time.Duration, fn func()) {
	s.once(name, delay, func(uint64) { fn() }, true)
}

// OnceOwned is Once for callbacks that re-check ownership under their own
// locks. The slot stays live until fn ends it with Release.
func (s *Scheduler) OnceOwned(name LoopName, delay time.Duration, fn func(gen uint64)) {
	s.once(name, delay, fn, false)
}

func (s *Scheduler) once(name LoopName, delay time.Duration, fn func(uint64), release bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
	h := s.armLocked(name, delay, false)
	h.timer = s.clock.AfterFunc(delay, s.guard(name, h.gen, fn, release))
}

// Owns reports whether gen is still the live timer in the named slot.
func (s *Scheduler) Owns(name LoopName, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.loops[name]
	return ok && h.gen == gen
}

// Release ends a fired one-shot slot armed with OnceOwned. It reports
// false if gen was stopped or replaced in the meantime.
func (s *Scheduler) Release(name LoopName, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.loops[name]
	if !ok || h.gen != gen || h.repeat {
		return false
	}
	delete(s.loops, name)
	return true
}

// Stop releases the timer in the named slot. It reports whether anything
// was running and is safe to call repeatedly.
func (s *Scheduler) Stop(name LoopName) bool {
	s.mu.Lock()
	stopped := s.stopLocked(name)
	s.mu.Unlock()
	if stopped {
		s.log.Info(context.Background(), "loop stopped", logging.String("loop", string(name)))
	}
	return stopped
}

// StopAll releases every slot.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.loops {
		s.stopLocked(name)
	}
}

func (s *Scheduler) Running(name LoopName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[name]
	return ok
}

// Interval returns the period of a running repeating slot.
func (s *Scheduler) Interval(name LoopName) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.loops[name]
	if !ok || !h.repeat {
		return 0, false
	}
	return h.interval, true
}

// Active reports the number of live slots.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

func (s *Scheduler) armLocked(name LoopName, interval time.Duration, repeat bool) *loopHandle {
	s.gen++
	h := &loopHandle{gen: s.gen, interval: interval, repeat: repeat}
	s.loops[name] = h
	return h
}

func (s *Scheduler) stopLocked(name LoopName) bool {
	h, ok := s.loops[name]
	if !ok {
		return false
	}
	delete(s.loops, name)
	if h.timer != nil {
		h.timer.Stop()
	}
	return true
}

// guard wraps fn so it only runs while gen still owns the slot. With
// release set, a one-shot slot is freed before fn runs so fn may re-arm it.
func (s *Scheduler) guard(name LoopName, gen uint64, fn func(uint64), release bool) func() {
	return func() {
		s.mu.Lock()
		h, ok := s.loops[name]
		live := ok && h.gen == gen
		if live && release && !h.repeat {
			delete(s.loops, name)
		}
		s.mu.Unlock()
		if live {
			fn(gen)
		}
	}
}
