/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer, reporting whether it was still active.
	Stop() bool
}

// Scheduler provides the timing services a Session depends on.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// LoopScheduler runs timers in real time, but never invokes a callback on a
// timer goroutine. Each callback is handed to post, which is expected to queue
// it on the owner's event loop so that session state is only ever touched
// from one goroutine.
type LoopScheduler struct {
	post func(f func())
}

// NewLoopScheduler returns a scheduler that delivers callbacks through post.
func NewLoopScheduler(post func(f func())) *LoopScheduler {
	return &LoopScheduler{post: post}
}

func (s *LoopScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		s.post(f)
	})
}

func (s *LoopScheduler) Every(d time.Duration, f func()) Timer {
	t := &loopTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				s.post(f)
			}
		}
	}()

	return t
}

type loopTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *loopTicker) Stop() bool {
	stopped := false

	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})

	return stopped
}
