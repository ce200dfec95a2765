// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package job implements the scheduling contract the rest of the
// core depends on: schedule(job, affinity_mask), a completion
// WaitGroup, and a pool of worker goroutines standing in for the
// original engine's fiber pool (FeCore/Jobs/JobSystem.h). One
// affinity bit is reserved for a dedicated main-thread queue; every
// other bit is routed to the worker pool.
package job

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ferrum3d/core/internal/wait"
)

// Affinity is a bitmask selecting which queue a Func is scheduled
// on, mirroring FeJobType's bit-per-category scheme.
type Affinity uint32

// Affinity bits. MainThread identifies the dedicated main-thread
// fiber (spec.md §4.L); the rest select a worker-pool lane used as
// a scheduling hint only (all lanes share the same semaphore).
const (
	MainThread Affinity = 1 << iota
	HardDrive
	Heavy
	SingleFrame
	Light
)

// Func is a unit of work scheduled on the job system.
type Func func()

// System is a pool of worker goroutines plus a single dedicated
// main-thread queue, drained explicitly by the frame loop via
// RunMain. It is the Go-side stand-in for FeJobSystem.
type System struct {
	sem    *semaphore.Weighted
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mainCh chan Func
}

// NewSystem creates a System with workers concurrent worker slots.
// A non-positive workers count defaults to 1.
func NewSystem(workers int) *System {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	return &System{
		sem:    semaphore.NewWeighted(int64(workers)),
		eg:     eg,
		ctx:    ctx,
		cancel: cancel,
		// Buffered generously: RunMain is expected to drain this
		// once per frame, well before it could fill up.
		mainCh: make(chan Func, 4096),
	}
}

// Schedule enqueues f for execution according to aff and returns a
// WaitGroup that becomes signaled once f has run (or failed to run
// because the System was closed first).
func (s *System) Schedule(f Func, aff Affinity) *wait.Group {
	g := wait.New(1)
	run := func() {
		defer g.Done()
		f()
	}
	if aff&MainThread != 0 {
		select {
		case s.mainCh <- run:
		case <-s.ctx.Done():
			g.Fail()
		}
		return g
	}
	s.eg.Go(func() error {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			g.Fail()
			return nil
		}
		defer s.sem.Release(1)
		run()
		return nil
	})
	return g
}

// RunMain executes every Func currently queued on the main-thread
// lane, in FIFO order, without blocking on work scheduled after the
// call begins. It must be called only from the thread that owns the
// main-thread fiber (typically once per frame).
func (s *System) RunMain() {
	for {
		select {
		case f := <-s.mainCh:
			f()
		default:
			return
		}
	}
}

// Close stops accepting new main-thread work and waits for every
// outstanding worker-pool Func to finish.
func (s *System) Close() error {
	s.cancel()
	return s.eg.Wait()
}
