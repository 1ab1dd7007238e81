package simengine

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a pending one-shot or repeating callback.
type Timer interface {
	// Stop prevents any further invocations. It is safe to call more than once.
	Stop()
}

// Clock abstracts wall time and timer creation so the scheduler can run
// against real time in production and a manually advanced clock in tests
// and headless replays.
type Clock interface {
	Now() time.Time
	// Every invokes fn every d until the returned Timer is stopped.
	Every(d time.Duration, fn func()) Timer
	// AfterFunc invokes fn once after d unless the returned Timer is stopped first.
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Every(d time.Duration, fn func()) Timer {
	t := &tickerTimer{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return afterTimer{t: time.AfterFunc(d, fn)}
}

type tickerTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) run(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// A stop that raced the tick wins.
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

type afterTimer struct {
	t *time.Timer
}

func (a afterTimer) Stop() { a.t.Stop() }

// ManualClock is a Clock whose time only moves when Advance is called.
// Due callbacks run synchronously on the caller's goroutine, in due-time
// order with ties broken by registration order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	clock  *ManualClock
	id     uint64
	at     time.Time
	period time.Duration // zero for one-shot timers
	fn     func()
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		panic("simengine: non-positive interval for ManualClock.Every")
	}
	return c.add(d, d, fn)
}

func (c *ManualClock) AfterFunc(d time.Duration, fn func()) Timer {
	return c.add(d, 0, fn)
}

func (c *ManualClock) add(d, period time.Duration, fn func()) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, id: c.seq, at: c.now.Add(d), period: period, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every callback that falls due
// along the way. Callbacks may create or stop timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.nextDueLocked(target)
		if t == nil {
			break
		}
		c.now = t.at
		if t.period > 0 {
			t.at = t.at.Add(t.period)
		} else {
			c.removeLocked(t)
		}
		fn := t.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// Pending reports how many timers are live.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) nextDueLocked(target time.Time) *manualTimer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].id < c.timers[j].id
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *ManualClock) removeLocked(t *manualTimer) {
	for i, existing := range c.timers {
		if existing == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.removeLocked(t)
}
