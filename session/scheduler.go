package session

import (
	"sync/atomic"
	"time"
)

// Task is a pending one-shot callback.
type Task interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped the task before it ran.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Task
}

// RealScheduler is a Scheduler backed by time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Task {
	return time.AfterFunc(d, fn)
}

// loopTask wraps a scheduled task whose callback is posted to the loop.
// Stop also suppresses a callback that fired but has not been run yet.
type loopTask struct {
	inner   Task
	stopped atomic.Bool
}

func (t *loopTask) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	if t.inner != nil {
		t.inner.Stop()
	}
	return true
}

func (sc *Context) schedule(d time.Duration, fn func()) Task {
	t := &loopTask{}
	t.inner = sc.sched.AfterFunc(d, func() {
		sc.Post(func() {
			if t.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return t
}
