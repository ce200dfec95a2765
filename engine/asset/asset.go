// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package asset implements streaming texture and model loading
// (spec.md §4.H): Load returns immediately with a handle whose
// Status/Wait report progress while header parsing, block reads and
// GPU uploads happen in the background.
//
// Grounded on the original's TextureAssetManager.cpp/
// ModelAssetManager.cpp for the four-stage pipeline (header read,
// schedule body reads, body arrived, finalize) and on spec.md §3's
// asset load state: status only ever advances, except for a direct
// jump to Failed, and completion is always observed through a
// WaitGroup (here internal/wait.Group, the same type
// engine/job and engine/geometry already use).
//
// There is no real async file-IO subsystem in this port, so reads
// are simulated with engine/job.System workers: one job reads the
// whole file with os.ReadFile, and each mip chain or LOD body is
// then handed to its own job as a slice of that data; GPU uploads
// go through the actual engine/copyqueue.Queue, same as a real
// backend would use.
package asset

import (
	"sync"
	"sync/atomic"

	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/internal/wait"
)

const prefix = "asset: "

func init() {
	ctxt.RegisterShutdownHook(FailOutstanding)
}

// Status is the monotonic load state of a TextureAsset or
// ModelAsset (spec.md §3). It only ever advances, except that any
// state may transition directly to Failed.
type Status int32

const (
	Uninitialized Status = iota
	HeaderLoaded
	HasLoadedMips // HasLoadedLODs for a ModelAsset
	CompletelyLoaded
	Failed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case HeaderLoaded:
		return "HeaderLoaded"
	case HasLoadedMips:
		return "HasLoadedMips"
	case CompletelyLoaded:
		return "CompletelyLoaded"
	case Failed:
		return "Failed"
	default:
		return "!asset.Status"
	}
}

// statusBox is the atomic status cell embedded in both asset types.
type statusBox struct {
	v atomic.Int32
}

func (b *statusBox) store(s Status) { b.v.Store(int32(s)) }
func (b *statusBox) load() Status   { return Status(b.v.Load()) }

// maskLock guards a loaded-chunks bit mask plus its popcount,
// standing in for the original's spinlock-guarded
// loaded_mip_chains_mask (spec.md §5's "asset-request pools and
// counters" shared-resource policy). A sync.Mutex is the idiomatic
// Go equivalent of a spinlock guarding a few words of state.
type maskLock struct {
	mu   sync.Mutex
	mask uint64
	set  int
	n    int
}

// setBit marks bit i as loaded and reports whether every bit up to n
// is now set.
func (m *maskLock) setBit(i, n int) (complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bit := uint64(1) << uint(i)
	if m.mask&bit == 0 {
		m.mask |= bit
		m.set++
	}
	m.n = n
	return m.set == m.n
}

// outstanding tracks every request that has not yet reached a
// terminal status, keyed by its WaitGroup. TextureManager.Load and
// ModelManager.Load register here before scheduling any work; fail
// and markComplete remove the entry once the request is done. This
// is what FailOutstanding walks.
var (
	outstandingMu sync.Mutex
	outstanding   = map[*wait.Group]*statusBox{}
)

// track registers a request as outstanding.
func track(g *wait.Group, status *statusBox) {
	outstandingMu.Lock()
	outstanding[g] = status
	outstandingMu.Unlock()
}

// untrack removes a request from the outstanding set, idempotently.
func untrack(g *wait.Group) {
	outstandingMu.Lock()
	delete(outstanding, g)
	outstandingMu.Unlock()
}

// fail signals g as failed exactly once; it is safe to call
// concurrently with other stages racing to finalize the same
// request (only the first caller's Fail takes effect on g, and
// wait.Group.Fail is itself idempotent).
func fail(g *wait.Group, status *statusBox) {
	status.store(Failed)
	g.Fail()
	untrack(g)
}

// markComplete signals g as successfully finished with the given
// terminal status, mirroring fail's bookkeeping for the success path.
func markComplete(g *wait.Group, status *statusBox, final Status) {
	status.store(final)
	g.Done()
	untrack(g)
}

// FailOutstanding fails every asset request that has not yet
// reached CompletelyLoaded or Failed. It is registered as a ctxt
// shutdown hook and runs from ctxt.WaitIdle, resolving spec.md §9's
// open question on Device.WaitIdle mid-load: requests that are still
// in flight when the driver is forced idle will never see their
// pending reads or uploads complete against resources that may be
// destroyed out from under them, so they are explicitly failed
// instead of left dangling in a non-terminal status forever.
func FailOutstanding() {
	outstandingMu.Lock()
	reqs := make(map[*wait.Group]*statusBox, len(outstanding))
	for g, s := range outstanding {
		reqs[g] = s
	}
	outstandingMu.Unlock()
	for g, s := range reqs {
		fail(g, s)
	}
}
