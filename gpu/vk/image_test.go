// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"testing"

	"github.com/ferrum3d/core/gpu"
)

// TestImageViewCache covers spec.md §8 seed scenario 2: a 2D
// texture with 4 mips and 2 array slices must return the same
// handle for a repeated (mip, array) request, a different handle
// for a different one, and the underlying cache must hold exactly
// the 2 non-default entries actually requested.
func TestImageViewCache(t *testing.T) {
	img, err := tDrv.NewImage(gpu.RGBA8un, gpu.Dim3D{Width: 64, Height: 64, Depth: 1}, 2, 4, 1, gpu.UShaderSample|gpu.UCopyDst)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	defer img.Destroy()
	im := img.(*image)

	v00a, err := im.NewView(gpu.IView2D, 0, 1, 0, 1)
	if err != nil {
		t.Fatalf("NewView(0,0): %v", err)
	}
	v31, err := im.NewView(gpu.IView2D, 1, 1, 3, 1)
	if err != nil {
		t.Fatalf("NewView(3,1): %v", err)
	}
	v00b, err := im.NewView(gpu.IView2D, 0, 1, 0, 1)
	if err != nil {
		t.Fatalf("NewView(0,0) again: %v", err)
	}

	if v00a != v00b {
		t.Errorf("view(0,0) != view(0,0 again)\nhave %v, %v\nwant identical handles", v00a, v00b)
	}
	if v00a == v31 {
		t.Errorf("view(0,0) == view(3,1)\nwant distinct handles")
	}

	im.viewMu.Lock()
	n := len(im.views)
	im.viewMu.Unlock()
	if n != 2 {
		t.Errorf("len(image.views)\nhave %d\nwant 2", n)
	}
}
