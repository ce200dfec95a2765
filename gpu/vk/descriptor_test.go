// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"testing"

	"github.com/ferrum3d/core/gpu"
)

// TestBindlessRegistrationAndRetirement covers spec.md §8 seed
// scenario 3: registering the same sampler/SRV repeatedly within a
// frame returns the same slot, and a set retired at the end of one
// frame is handed back out once its fence value has been reached.
func TestBindlessRegistrationAndRetirement(t *testing.T) {
	bm, err := tDrv.NewBindlessManager(8, 8)
	if err != nil {
		t.Fatalf("NewBindlessManager: %v", err)
	}
	defer bm.Destroy()

	splr, err := tDrv.NewSampler(&gpu.Sampling{})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	defer splr.Destroy()

	img, err := tDrv.NewImage(gpu.RGBA8un, gpu.Dim3D{Width: 4, Height: 4, Depth: 1}, 1, 1, 1, gpu.UShaderSample|gpu.UCopyDst)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	defer img.Destroy()
	view, err := img.NewView(gpu.IView2D, 0, 1, 0, 1)
	if err != nil {
		t.Fatalf("NewView: %v", err)
	}
	sub := gpu.Subresource{MostDetailedMip: 0, MipCount: 1, FirstArraySlice: 0, ArraySize: 1}

	// Frame 1.
	if err := bm.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame (frame 1): %v", err)
	}
	s1a := bm.RegisterSampler(splr)
	s1b := bm.RegisterSampler(splr)
	if s1a != s1b {
		t.Errorf("RegisterSampler twice in same frame\nhave %d, %d\nwant identical slots", s1a, s1b)
	}
	t1a := bm.RegisterSRV(view, img.ID(), sub)
	t1b := bm.RegisterSRV(view, img.ID(), sub)
	t1c := bm.RegisterSRV(view, img.ID(), sub)
	if t1a != t1b || t1b != t1c {
		t.Errorf("RegisterSRV three times in same frame\nhave %d, %d, %d\nwant identical slots", t1a, t1b, t1c)
	}
	sp1, err := bm.CloseFrame(1)
	if err != nil {
		t.Fatalf("CloseFrame (frame 1): %v", err)
	}
	set1 := bm.(*bindlessManager).retired[len(bm.(*bindlessManager).retired)-1].set

	// Frame 2: fence not yet reached, so frame 1's set must not be
	// recycled; a second physical set is allocated instead.
	if err := bm.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame (frame 2): %v", err)
	}
	s2 := bm.RegisterSampler(splr)
	if s2 != s1a {
		t.Errorf("RegisterSampler across frames\nhave %d\nwant %d (stable slot)", s2, s1a)
	}
	active2 := bm.(*bindlessManager).active
	if active2 == set1 {
		t.Error("BeginFrame (frame 2): reused frame 1's set before its fence was reached")
	}
	if _, err := bm.CloseFrame(2); err != nil {
		t.Fatalf("CloseFrame (frame 2): %v", err)
	}

	// Advance the fence past frame 1's sync point, then expect
	// frame 3 to recycle it.
	tDrv.destroy.advance(sp1.Value)
	if err := bm.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame (frame 3): %v", err)
	}
	active3 := bm.(*bindlessManager).active
	if active3 != set1 {
		t.Error("BeginFrame (frame 3): did not reuse frame 1's retired set after its fence advanced")
	}
	if _, err := bm.CloseFrame(3); err != nil {
		t.Fatalf("CloseFrame (frame 3): %v", err)
	}
}
