// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"testing"

	"github.com/ferrum3d/core/gpu"
)

// TestBarrierBatcherFlushesOnConflict covers spec.md §8 seed
// scenario 4: two image barriers against the same image with
// different hashes must not both sit in the batcher at once — the
// first is flushed (recorded as a single native barrier command)
// before the second is accepted.
func TestBarrierBatcherFlushesOnConflict(t *testing.T) {
	img, err := tDrv.NewImage(gpu.RGBA8un, gpu.Dim3D{Width: 4, Height: 4, Depth: 1}, 1, 1, 1, gpu.UShaderSample|gpu.UCopyDst|gpu.URenderTarget)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	defer img.Destroy()
	im := img.(*image)

	cbi, err := tDrv.NewCmdBuffer()
	if err != nil {
		t.Fatalf("NewCmdBuffer: %v", err)
	}
	defer cbi.Destroy()
	cb := cbi.(*cmdBuffer)
	if err := cb.Begin(); err != nil {
		t.Fatalf("cb.Begin: %v", err)
	}

	wCopy := gpu.ImageWriteTransferDst
	wColor := gpu.ImageWriteColorTarget
	sub := gpu.Subresource{MipCount: 1, ArraySize: 1}

	cb.batcher.AddImageBarrier(gpu.ImageBarrierDesc{Img: im, Sub: sub, Write: &wCopy})
	if n := len(cb.batcher.imgs); n != 1 {
		t.Fatalf("after first AddImageBarrier: len(imgs)\nhave %d\nwant 1", n)
	}

	cb.batcher.AddImageBarrier(gpu.ImageBarrierDesc{Img: im, Sub: sub, Write: &wColor})
	if n := len(cb.batcher.imgs); n != 1 {
		t.Fatalf("after conflicting AddImageBarrier: len(imgs)\nhave %d\nwant 1 (stale entry must have been flushed, not accumulated)", n)
	}
	desc := cb.batcher.imgs[cb.batcher.imgKeys[desc2Target(im, sub)]]
	if desc.Write == nil || *desc.Write != gpu.ImageWriteColorTarget {
		t.Fatal("after conflicting AddImageBarrier: the pending entry is not the second (most recent) descriptor")
	}

	cb.EndBlit() // flushes the remaining staged barrier
	if n := len(cb.batcher.imgs); n != 0 {
		t.Fatalf("after EndBlit: len(imgs)\nhave %d\nwant 0", n)
	}

	if err := cb.End(); err != nil {
		t.Fatalf("cb.End: %v", err)
	}
	ch := make(chan error, 1)
	tDrv.Commit([]gpu.CmdBuffer{cb}, ch)
	if err := <-ch; err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func desc2Target(img *image, sub gpu.Subresource) uint64 {
	d := gpu.ImageBarrierDesc{Img: img, Sub: sub}
	return d.Target()
}

// TestBarrierBatcherDedupesIdenticalHash checks that re-adding a
// barrier with an identical hash is a no-op rather than a second
// flush, the other half of the batcher's dedup contract.
func TestBarrierBatcherDedupesIdenticalHash(t *testing.T) {
	img, err := tDrv.NewImage(gpu.RGBA8un, gpu.Dim3D{Width: 4, Height: 4, Depth: 1}, 1, 1, 1, gpu.UShaderSample|gpu.UCopyDst)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	defer img.Destroy()
	im := img.(*image)

	bb := tDrv.NewBarrierBatcher().(*barrierBatcher)
	w := gpu.ImageWriteTransferDst
	sub := gpu.Subresource{MipCount: 1, ArraySize: 1}
	bb.AddImageBarrier(gpu.ImageBarrierDesc{Img: im, Sub: sub, Write: &w})
	bb.AddImageBarrier(gpu.ImageBarrierDesc{Img: im, Sub: sub, Write: &w})
	if n := len(bb.imgs); n != 1 {
		t.Fatalf("after two identical AddImageBarrier calls: len(imgs)\nhave %d\nwant 1", n)
	}
}
