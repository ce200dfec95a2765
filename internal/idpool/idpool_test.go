// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package idpool

import "testing"

func TestNextNeverZero(t *testing.T) {
	p := New()
	for i := 0; i < 100; i++ {
		if id := p.Next(); id == 0 {
			t.Fatalf("Next returned the reserved zero value")
		}
	}
}

func TestReleaseReuse(t *testing.T) {
	p := New()
	a := p.Next()
	b := p.Next()
	p.Release(a)
	c := p.Next()
	if c != a {
		t.Fatalf("Release did not make id %d available again (got %d)", a, c)
	}
	if b == c {
		t.Fatalf("unexpected collision between live ids")
	}
}

func TestDistinctIDs(t *testing.T) {
	p := New()
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		id := p.Next()
		if seen[id] {
			t.Fatalf("duplicate id %d returned", id)
		}
		seen[id] = true
	}
}
