// Package clock is the tick source for countdowns and delayed callbacks.
// Sessions and rooms each own their clock handles; every stop/cancel function
// is invoked on terminal transitions so no timer outlives its owner.
package clock

import (
	"sync"
	"time"
)

// Clock schedules ticks and one-shot callbacks for a single owner.
type Clock interface {
	Now() time.Time
	// TickEvery invokes fn repeatedly at the given interval until the
	// returned stop function is called. Stop is safe to call twice.
	TickEvery(interval time.Duration, fn func()) (stop func())
	// After invokes fn once after d unless cancel is called first.
	After(d time.Duration, fn func()) (cancel func())
}

// Wall is the production clock backed by the time package.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

func (Wall) TickEvery(interval time.Duration, fn func()) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (Wall) After(d time.Duration, fn func()) (cancel func()) {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// Manual is a test clock driven by explicit Advance calls.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	afters  []*manualAfter
}

type manualTicker struct {
	interval time.Duration
	nextAt   time.Time
	fn       func()
	stopped  bool
}

type manualAfter struct {
	fireAt    time.Time
	fn        func()
	cancelled bool
	fired     bool
}

// NewManual starts a manual clock at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) TickEvery(interval time.Duration, fn func()) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{interval: interval, nextAt: m.now.Add(interval), fn: fn}
	m.tickers = append(m.tickers, t)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.stopped = true
	}
}

func (m *Manual) After(d time.Duration, fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &manualAfter{fireAt: m.now.Add(d), fn: fn}
	m.afters = append(m.afters, a)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		a.cancelled = true
	}
}

// Advance moves the clock forward, firing due tickers and one-shots in time
// order. Callbacks run without the clock lock held so they may re-arm timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		fn := m.popDue(target)
		if fn == nil {
			break
		}
		fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// popDue advances to the earliest due timer at or before target and returns
// its callback, or nil when nothing else is due.
func (m *Manual) popDue(target time.Time) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		bestAt time.Time
		fire   func()
		commit func()
	)
	for _, t := range m.tickers {
		t := t
		if t.stopped || t.nextAt.After(target) {
			continue
		}
		if fire == nil || t.nextAt.Before(bestAt) {
			bestAt = t.nextAt
			fire = t.fn
			commit = func() { t.nextAt = t.nextAt.Add(t.interval) }
		}
	}
	for _, a := range m.afters {
		a := a
		if a.cancelled || a.fired || a.fireAt.After(target) {
			continue
		}
		if fire == nil || a.fireAt.Before(bestAt) {
			bestAt = a.fireAt
			fire = a.fn
			commit = func() { a.fired = true }
		}
	}
	if fire == nil {
		return nil
	}
	commit()
	if bestAt.After(m.now) {
		m.now = bestAt
	}
	return fire
}
