// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package idpool implements a monotonic resource identifier
// allocator backed by a bitmap free list.
package idpool

import (
	"sync"

	"github.com/ferrum3d/core/internal/bitm"
)

// nbit is the bitm granularity used by Pool: 32 bits per
// word, matching the 32-bit resource_id values handed out.
const nbit = 32

// Pool hands out 32-bit identifiers and recycles them once
// released. It never returns the zero value, so callers may
// use 0 as a sentinel for "no resource".
type Pool struct {
	mu sync.Mutex
	bm bitm.Bitm[uint32]
}

// New creates an empty Pool.
func New() *Pool { return &Pool{} }

// Next allocates and returns a new identifier.
func (p *Pool) Next() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bm.Len() == 0 {
		// Reserve index 0 so that the zero value of the
		// returned identifier type can serve as a sentinel.
		p.bm.Grow(1)
		p.bm.Set(0)
	}
	i, ok := p.bm.Search()
	if !ok {
		i = p.bm.Grow(1)
	}
	p.bm.Set(i)
	return uint32(i)
}

// Release returns id to the free list. Releasing an id that
// was not obtained from Next, or releasing it twice, corrupts
// the pool's bookkeeping.
func (p *Pool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bm.Unset(int(id))
}
