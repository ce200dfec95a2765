// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package wait implements a countdown latch used to signal the
// completion (or failure) of asynchronous loads.
package wait

import "sync/atomic"

// Group is a latch created with a known target count. Callers
// call Done as each unit of work completes and Wait to block
// until the count reaches zero or the group is failed.
//
// Unlike sync.WaitGroup, a Group's count is fixed at creation
// and it distinguishes success from failure, so a waiter can
// tell a completed load from an aborted one.
type Group struct {
	n    int32
	ch   chan struct{}
	fail atomic.Bool
}

// New creates a Group that becomes signaled once Done has been
// called n times. A non-positive n returns an already-signaled
// Group, matching the synchronous-allocation case where there is
// nothing to wait for.
func New(n int) *Group {
	g := &Group{n: int32(n), ch: make(chan struct{})}
	if n <= 0 {
		close(g.ch)
	}
	return g
}

// Done records the completion of one unit of work, signaling the
// group once the count reaches zero. Calling Done more times than
// the Group's initial count corrupts its bookkeeping.
func (g *Group) Done() {
	if atomic.AddInt32(&g.n, -1) == 0 {
		close(g.ch)
	}
}

// Fail marks the group as failed and signals it immediately,
// regardless of how many Done calls remain outstanding.
func (g *Group) Fail() {
	g.fail.Store(true)
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// Wait blocks until the group is signaled, either because every
// expected Done call happened or because Fail was called.
func (g *Group) Wait() { <-g.ch }

// Signaled reports whether the group is currently signaled,
// without blocking.
func (g *Group) Signaled() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Failed reports whether the group was signaled via Fail rather
// than by exhausting its count. It must only be called after
// Signaled reports true (or after Wait returns).
func (g *Group) Failed() bool { return g.fail.Load() }
