// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package texture

import (
	"errors"
	"runtime"
	"sync"

	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/bitm"
)

var (
	// Global staging buffer(s).
	staging chan *stagingBuffer
	// Variables for Commit calls.
	commitMu    sync.Mutex
	commitCache []*stagingBuffer
)

func init() {
	n := runtime.GOMAXPROCS(-1)
	staging = make(chan *stagingBuffer, n)
	for i := 0; i < n; i++ {
		s, err := newStaging(blockSize * nbit)
		if err != nil {
			s = &stagingBuffer{}
		}
		staging <- s
	}
	commitCache = make([]*stagingBuffer, 0, n)
}

// Commit executes all pending Texture copies.
// It blocks until execution completes.
func Commit() (err error) {
	commitMu.Lock()
	defer commitMu.Unlock()

	n := cap(staging)
	commitCache = commitCache[:0]
	for i := 0; i < n; i++ {
		commitCache = append(commitCache, <-staging)
	}
	defer func() {
		for _, x := range commitCache {
			x.bm.Clear()
			x.drainPending(err != nil)
			staging <- x
		}
		commitCache = commitCache[:0]
	}()

	var cbs []gpu.CmdBuffer
	for i, x := range commitCache {
		slot := <-x.slot
		switch {
		case !slot.rec:
			if len(x.pend) != 0 {
				// This should never happen.
				panic("texture.Commit: pending copies while not recording")
			}
		default:
			if err = slot.cb.End(); err != nil {
				slot.rec = false
				x.slot <- slot
				for _, y := range commitCache[i+1:] {
					s2 := <-y.slot
					if s2.rec {
						s2.cb.Reset()
						s2.rec = false
					}
					y.slot <- s2
				}
				return
			}
			slot.rec = false
			cbs = append(cbs, slot.cb)
		}
		x.slot <- slot
	}

	if len(cbs) == 0 {
		return
	}
	ch := make(chan error, 1)
	ctxt.GPU().Commit(cbs, ch)
	err = <-ch
	return
}

// cmdSlot pairs a reusable command buffer with whether it
// currently has an unclosed Begin/End recording span. It
// replaces the response-channel handshake the driver used
// to expose for this purpose (there is no longer a way to
// query a gpu.CmdBuffer for its recording state).
type cmdSlot struct {
	cb  gpu.CmdBuffer
	rec bool
}

// stagingBuffer is used to copy image data
// between the CPU and the GPU.
type stagingBuffer struct {
	slot chan *cmdSlot
	buf  gpu.Buffer
	bm   bitm.Bitm[uint32]
	pend []pendingCopy
}

// pendingCopy is used to track Texture/view
// pairs that have a pending copy operation.
type pendingCopy struct {
	tex  *Texture
	view int
	// The layout that will be set
	// after the copy executes.
	layout gpu.Layout
}

// Use a large block size since textures usually
// need large allocations.
// 1024x1024 32-bit textures (no mip) will take
// one bitmap word with this configuration.
const (
	blockSize = 131072
	nbit      = 32
)

// newStaging creates a new stagingBuffer with the
// given size in bytes.
// n must be greater than 0; it will be rounded up
// to a multiple of blockSize * nbit.
func newStaging(n int) (*stagingBuffer, error) {
	if n <= 0 {
		panic("texture.newStaging: n <= 0")
	}
	cb, err := ctxt.GPU().NewCmdBuffer()
	if err != nil {
		return nil, err
	}
	slot := make(chan *cmdSlot, 1)
	slot <- &cmdSlot{cb: cb}
	n = (n + blockSize*nbit - 1) &^ (blockSize*nbit - 1)
	// No usage flags necessary; all buffers
	// support copying.
	buf, err := ctxt.GPU().NewBuffer(int64(n), true, 0)
	if err != nil {
		cb.Destroy()
		return nil, err
	}
	var bm bitm.Bitm[uint32]
	bm.Grow(n / blockSize / nbit)
	return &stagingBuffer{slot, buf, bm, nil}, nil
}

// begin ensures slot's command buffer is open for recording.
func (s *stagingBuffer) begin(slot *cmdSlot) error {
	if slot.rec {
		return nil
	}
	if err := slot.cb.Begin(); err != nil {
		s.bm.Clear()
		return err
	}
	slot.rec = true
	return nil
}

// copyToView records a copy command that copies
// data from s's buffer into view.
// off must have been returned by a previous call
// to s.reserve (i.e., it must be a multiple of
// blockSize).
// Only the first mip level must be provided.
// If t is arrayed and view is the last view, then
// the buffer must contain the first level of
// every layer, in order and tightly packed.
func (s *stagingBuffer) copyToView(t *Texture, view int, off int64) (err error) {
	if t.param.Samples != 1 {
		return errors.New(prefix + "cannot copy data to MS texture")
	}
	if view < 0 || view >= len(t.views) {
		return errors.New(prefix + "view index out of bounds")
	}

	il := view
	nl := 1
	if t.param.Layers > 1 {
		switch n := len(t.views); {
		case view == n-1:
			il = 0
			nl = t.param.Layers
		case n < t.param.Layers:
			// Cube texture.
			il = view * 6
			nl = 6
		}
	}
	n := t.param.PixelFmt.Size() * t.param.Dim3D.Width * t.param.Dim3D.Height
	if off+int64(n*nl) > s.buf.Cap() {
		return errors.New(prefix + "not enough buffer capacity for copying")
	}

	slot := <-s.slot
	if err = s.begin(slot); err != nil {
		s.slot <- slot
		return
	}

	slot.cb.BeginBlit(false)
	slot.cb.Transition([]gpu.Transition{
		{
			Barrier: gpu.Barrier{
				SyncBefore:   gpu.SNone,
				SyncAfter:    gpu.SCopy,
				AccessBefore: gpu.ANone,
				AccessAfter:  gpu.ACopyWrite,
			},
			LayoutBefore: gpu.LUndefined,
			LayoutAfter:  gpu.LCopyDst,
			IView:        t.views[view],
		},
	})

	for i := 0; i < nl; i++ {
		slot.cb.CopyBufToImg(&gpu.BufImgCopy{
			Buf:    s.buf,
			BufOff: off + int64(n*i),
			// TODO: Stride[0] must be 256-byte aligned.
			Stride: [2]int64{int64(t.param.Dim3D.Width)},
			Img:    t.img,
			ImgOff: gpu.Off3D{},
			Layer:  il + i,
			Level:  0,
			Size:   t.param.Dim3D,
			// TODO: Handle depth/stencil formats.
		})
		// The current layout is not relevant
		// because the whole layer is going to
		// be overwritten by this command.
		// TODO: Change this when adding support
		// for sub-view copying.
		_ = t.setPending(il + i)
		s.pend = append(s.pend, pendingCopy{t, il + i, gpu.LCopyDst})
	}
	slot.cb.EndBlit()
	if t.param.Levels > 1 {
		// TODO
		panic("stagingBuffer.copyToView: no mip gen yet")
	}

	s.slot <- slot
	return
}

// copyFromView records a copy command that copies
// data from view into s's buffer.
// off must have been returned by a previous call
// to s.reserve (i.e., it must be a multiple of
// blockSize).
func (s *stagingBuffer) copyFromView(t *Texture, view int, off int64) (err error) {
	if t.param.Samples != 1 {
		return errors.New(prefix + "cannot copy data from MS texture")
	}
	if view < 0 || view >= len(t.views) {
		return errors.New(prefix + "view index out of bounds")
	}

	il := view
	nl := 1
	if t.param.Layers > 1 {
		switch n := len(t.views); {
		case view == n-1:
			il = 0
			nl = t.param.Layers
		case n < t.param.Layers:
			// Cube texture.
			il = view * 6
			nl = 6
		}
	}
	// TODO: Consider the required space for
	// all mip levels.
	n := t.param.PixelFmt.Size() * t.param.Dim3D.Width * t.param.Dim3D.Height
	if off+int64(n*nl) > s.buf.Cap() {
		return errors.New(prefix + "not enough buffer capacity for copying")
	}
	// t.views[view] already spans every affected
	// layer, so a single Transition suffices; see
	// the note in Texture.Transition.
	before := t.setPending(il)
	for i := 1; i < nl; i++ {
		t.setPending(il + i)
	}

	slot := <-s.slot
	if err = s.begin(slot); err != nil {
		s.slot <- slot
		return
	}

	slot.cb.BeginBlit(false)
	slot.cb.Transition([]gpu.Transition{
		{
			Barrier: gpu.Barrier{
				SyncBefore:   gpu.SNone,
				SyncAfter:    gpu.SCopy,
				AccessBefore: gpu.ANone,
				AccessAfter:  gpu.ACopyRead,
			},
			LayoutBefore: before,
			LayoutAfter:  gpu.LCopySrc,
			IView:        t.views[view],
		},
	})

	for i := 0; i < nl; i++ {
		slot.cb.CopyImgToBuf(&gpu.BufImgCopy{
			Buf:    s.buf,
			BufOff: off + int64(n*i),
			// TODO: Stride[0] must be 256-byte aligned.
			Stride: [2]int64{int64(t.param.Dim3D.Width)},
			Img:    t.img,
			ImgOff: gpu.Off3D{},
			Layer:  il + i,
			Level:  0,
			Size:   t.param.Dim3D,
			// TODO: Handle depth/stencil formats.
		})
		s.pend = append(s.pend, pendingCopy{t, il + i, gpu.LCopySrc})
	}
	slot.cb.EndBlit()
	if t.param.Levels > 1 {
		// TODO
		panic("stagingBuffer.copyFromView: no mip copy yet")
	}

	s.slot <- slot
	return
}

// stage writes CPU data to s's buffer.
// It may need to commit pending copy commands to
// grow the buffer.
// It returns an offset from the start of s.buf
// identifying where data was copied to.
func (s *stagingBuffer) stage(data []byte) (off int64, err error) {
	if off, err = s.reserve(len(data)); err == nil {
		copy(s.buf.Bytes()[off:], data)
	}
	return
}

// unstage writes s.buf's data to dst.
// off must have been returned by a previous call
// to s.reserve (i.e., it must be a multiple of
// blockSize).
// It returns the number of bytes written.
//
// NOTE: Since stagingBuffer methods may flush
// the command buffer and/or clear the bitmap,
// unstage usually should be called right after a
// copy-back command is committed and before
// staging new copy commands.
func (s *stagingBuffer) unstage(off int64, dst []byte) (n int) {
	if off >= s.buf.Cap() {
		return
	}
	if off%blockSize != 0 {
		panic("stagingBuffer.unstage: misaligned off")
	}
	n = copy(dst, s.buf.Bytes()[off:])
	ib := int(off) / blockSize
	nb := (n + blockSize - 1) / blockSize
	for i := 0; i < nb; i++ {
		s.bm.Unset(ib + i)
	}
	return
}

// reserve reserves a contiguous range of n bytes
// within s.buf.
// It may need to commit pending copy commands to
// grow the buffer.
// It returns an offset from the start of s.buf
// identifying where the range starts.
func (s *stagingBuffer) reserve(n int) (off int64, err error) {
	if n <= 0 {
		panic("stagingBuffer.reserve: n <= 0")
	}
	n = (n + blockSize - 1) / blockSize
	idx, ok := s.bm.SearchRange(n)
	if !ok {
		if err = s.commit(); err != nil {
			return
		}
		// TODO: Consider using idx 0 instead.
		idx = s.bm.Len()
		n := (n + nbit - 1) / nbit
		s.bm.Grow(n)
		// TODO: Make buffer cap bounds configurable.
		n = n * blockSize * nbit
		if s.buf != nil {
			n += int(s.buf.Cap())
			s.buf.Destroy()
		}
		if s.buf, err = ctxt.GPU().NewBuffer(int64(n), true, 0); err != nil {
			// TODO: Try again ignoring previous
			// s.buf.Cap() value (if not 0).
			s.bm = bitm.Bitm[uint32]{}
			return
		}
	}
	for i := 0; i < n; i++ {
		s.bm.Set(idx + i)
	}
	off = int64(idx) * blockSize
	return
}

// commit commits the copy commands for execution.
// It blocks until execution completes.
func (s *stagingBuffer) commit() (err error) {
	slot := <-s.slot
	if !slot.rec {
		if len(s.pend) != 0 {
			// This should never happen.
			panic("stagingBuffer.commit: pending copies while not recording")
		}
		s.slot <- slot
		return
	}
	// TODO: May have to clear the
	// bitmap unconditionally.
	s.bm.Clear()
	if err = slot.cb.End(); err != nil {
		slot.rec = false
		s.drainPending(true)
		s.slot <- slot
		return
	}
	slot.rec = false
	ch := make(chan error, 1)
	ctxt.GPU().Commit([]gpu.CmdBuffer{slot.cb}, ch)
	err = <-ch
	s.drainPending(err != nil)
	s.slot <- slot
	return
}

// drainPending removes every element from s.pend
// and updates the textures accordingly.
// If failed is true, then the layouts are set to
// gpu.LUndefined instead.
func (s *stagingBuffer) drainPending(failed bool) {
	if failed {
		for _, x := range s.pend {
			x.tex.unsetPending(x.view, gpu.LUndefined)
		}
	} else {
		for _, x := range s.pend {
			x.tex.unsetPending(x.view, x.layout)
		}
	}
	s.pend = s.pend[:0]
}

// free invalidates s and destroys the driver
// resources.
func (s *stagingBuffer) free() {
	if s.slot != nil {
		slot := <-s.slot
		if slot.cb != nil {
			slot.cb.Destroy()
		}
	}
	if s.buf != nil {
		s.buf.Destroy()
	}
	s.drainPending(true)
	*s = stagingBuffer{}
}
