/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "time"

// ManualScheduler is a Scheduler driven by explicit calls to Advance instead
// of the wall clock. Callbacks run synchronously on the goroutine calling
// Advance, in due order; timers due at the same instant fire in the order
// they were scheduled.
type ManualScheduler struct {
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	due    time.Duration
	period time.Duration
	seq    int
	f      func()
	active bool
}

func (t *manualTimer) Stop() bool {
	wasActive := t.active
	t.active = false

	return wasActive
}

// NewManualScheduler returns a scheduler whose clock starts at zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return m.add(d, 0, f)
}

func (m *ManualScheduler) Every(d time.Duration, f func()) Timer {
	if d <= 0 {
		panic("game: non-positive interval for ManualScheduler.Every")
	}

	return m.add(d, d, f)
}

func (m *ManualScheduler) add(d, period time.Duration, f func()) *manualTimer {
	m.seq++

	t := &manualTimer{
		due:    m.now + max(d, 0),
		period: period,
		seq:    m.seq,
		f:      f,
		active: true,
	}
	m.timers = append(m.timers, t)

	return t
}

// Now returns the time elapsed on the manual clock.
func (m *ManualScheduler) Now() time.Duration {
	return m.now
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *ManualScheduler) Pending() int {
	n := 0
	for _, t := range m.timers {
		if t.active {
			n++
		}
	}

	return n
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (m *ManualScheduler) Advance(d time.Duration) {
	target := m.now + d

	for {
		next := m.next(target)
		if next == nil {
			break
		}

		m.now = next.due
		if next.period > 0 {
			next.due += next.period
		} else {
			next.active = false
		}

		next.f()
	}

	m.now = target
	m.compact()
}

func (m *ManualScheduler) next(target time.Duration) *manualTimer {
	var next *manualTimer

	for _, t := range m.timers {
		if !t.active || t.due > target {
			continue
		}
		if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
			next = t
		}
	}

	return next
}

func (m *ManualScheduler) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if t.active {
			live = append(live, t)
		}
	}

	for i := len(live); i < len(m.timers); i++ {
		m.timers[i] = nil
	}
	m.timers = live
}
