// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package copyqueue implements the asynchronous copy queue spec.md
// §4.G describes: a forward-only command log recorded by a Builder,
// executed on the driver's transfer queue, that dispatches invoke
// callbacks in list order once the backing command buffer has
// completed. It is the upload path every engine/asset request feeds
// its decoded bytes through.
//
// Grounded on the teacher's engine/texture/staging.go for the Go
// shape of a staging-buffer/command-batching subsystem (bitm-backed
// arena, channel-based single-flight submission), on the usage shown
// in original_source's TextureAssetManager.cpp/ModelAssetManager.cpp
// for the Builder's upload_buffer/upload_texture/invoke vocabulary,
// and on golang.org/x/sync/semaphore for bounding how many
// submissions may be pending or in flight at once.
package copyqueue

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/bitm"
	"github.com/ferrum3d/core/internal/wait"
)

const prefix = "copyqueue: "

// opKind identifies one entry of a CommandList.
type opKind int

const (
	opUploadBuffer opKind = iota
	opUploadTexture
	opInvoke
)

// op is one recorded command. Only the fields relevant to Kind are
// populated.
type op struct {
	kind opKind

	// upload_buffer / upload_texture.
	data   []byte
	dstBuf gpu.Buffer
	dstOff int64

	dstImg  gpu.Image
	dstView gpu.ImageView
	imgOff  gpu.Off3D
	layer   int
	level   int
	size    gpu.Dim3D

	// invoke.
	fn func()
}

// Builder records commands in the order AsyncCopyCommandListBuilder
// expects them to execute. A Builder is not safe for concurrent use;
// build one list per producing goroutine.
type Builder struct {
	ops []op
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// UploadBuffer appends a buffer upload. src is copied immediately,
// so the caller may reuse or discard it once this call returns.
func (b *Builder) UploadBuffer(dst gpu.Buffer, dstOff int64, src []byte) *Builder {
	cp := make([]byte, len(src))
	copy(cp, src)
	b.ops = append(b.ops, op{kind: opUploadBuffer, dstBuf: dst, dstOff: dstOff, data: cp})
	return b
}

// UploadTexture appends a texture upload targeting the subresource
// identified by view (which must have been created over exactly
// [layer, layer+1) x [level, level+1), the granularity the current
// gpu.Transition/CopyBufToImg API copies at). src is copied
// immediately.
func (b *Builder) UploadTexture(dst gpu.Image, view gpu.ImageView, layer, level int, off gpu.Off3D, size gpu.Dim3D, src []byte) *Builder {
	cp := make([]byte, len(src))
	copy(cp, src)
	b.ops = append(b.ops, op{
		kind:    opUploadTexture,
		dstImg:  dst,
		dstView: view,
		imgOff:  off,
		layer:   layer,
		level:   level,
		size:    size,
		data:    cp,
	})
	return b
}

// Invoke appends a callback to be run, on the copy queue's worker,
// once every command recorded before it (and every command list
// submitted before this one) has completed execution.
func (b *Builder) Invoke(fn func()) *Builder {
	b.ops = append(b.ops, op{kind: opInvoke, fn: fn})
	return b
}

// CommandList is the built, immutable result of a Builder. It is
// submitted to a Queue exactly once.
type CommandList struct {
	ops []op
}

// Build finalizes b into a CommandList. b must not be reused
// afterwards.
func (b *Builder) Build() *CommandList {
	ops := b.ops
	b.ops = nil
	return &CommandList{ops: ops}
}

// Queue is the async copy queue: a staging arena plus a single
// dispatch goroutine that submits CommandLists strictly in
// submission order, satisfying spec.md §4.G's cross-list ordering
// guarantee (in-list order falls out of recording order, since each
// list runs against one command buffer).
type Queue struct {
	arena   chan *arena
	pending chan *pendingList
	done    chan struct{}

	// inflight bounds how many submitted lists may sit in pending (or
	// be mid-run) at once; Submit blocks past that point rather than
	// growing the channel without limit.
	inflight *semaphore.Weighted
}

type pendingList struct {
	list *CommandList
	wg   *wait.Group
}

// New creates a Queue backed by n staging arenas (the dispatch
// goroutine takes one per submitted list and returns it afterwards)
// and starts its dispatch goroutine. Call Close to stop it.
func New(arenas int) (*Queue, error) {
	if arenas < 1 {
		arenas = 1
	}
	q := &Queue{
		arena:    make(chan *arena, arenas),
		pending:  make(chan *pendingList, 64),
		done:     make(chan struct{}),
		inflight: semaphore.NewWeighted(64),
	}
	for i := 0; i < arenas; i++ {
		a, err := newArena(arenaBlock * arenaNBit)
		if err != nil {
			return nil, err
		}
		q.arena <- a
	}
	go q.dispatch()
	return q, nil
}

// Submit enqueues list for execution and returns a WaitGroup that
// becomes signaled once every op in list (including its invoke
// callbacks) has run, or failed. Submit blocks while the queue
// already has as many lists pending or in flight as it can hold.
func (q *Queue) Submit(list *CommandList) *wait.Group {
	g := wait.New(1)
	if err := q.inflight.Acquire(context.Background(), 1); err != nil {
		g.Fail()
		return g
	}
	select {
	case q.pending <- &pendingList{list, g}:
	case <-q.done:
		q.inflight.Release(1)
		g.Fail()
	}
	return g
}

// Close stops accepting new submissions, waits for already-queued
// lists to drain, then releases every staging arena.
func (q *Queue) Close() {
	close(q.pending)
	<-q.done
	for i := 0; i < cap(q.arena); i++ {
		select {
		case a := <-q.arena:
			a.free()
		default:
		}
	}
}

// dispatch is the queue's single worker: it pulls lists off the
// pending channel one at a time, so a list's record→submit→invoke
// cycle always completes before the next one starts, which is what
// gives cross-list submission ordering without needing to expose
// raw fence values through the gpu.GPU abstraction.
func (q *Queue) dispatch() {
	defer close(q.done)
	for p := range q.pending {
		err := q.run(p.list)
		q.inflight.Release(1)
		if err != nil {
			p.wg.Fail()
		} else {
			p.wg.Done()
		}
	}
}

func (q *Queue) run(list *CommandList) error {
	a := <-q.arena
	defer func() { q.arena <- a }()

	cb, err := ctxt.GPU().NewCmdBuffer()
	if err != nil {
		return err
	}
	defer cb.Destroy()
	if err = cb.Begin(); err != nil {
		return err
	}

	var invokes []func()
	var recorded bool
	for _, o := range list.ops {
		switch o.kind {
		case opUploadBuffer:
			off, err := a.stage(o.data)
			if err != nil {
				cb.Reset()
				return err
			}
			if !recorded {
				cb.BeginBlit(false)
				recorded = true
			}
			cb.CopyBuffer(&gpu.BufferCopy{
				From:    a.buf,
				FromOff: off,
				To:      o.dstBuf,
				ToOff:   o.dstOff,
				Size:    int64(len(o.data)),
			})
		case opUploadTexture:
			off, err := a.stage(o.data)
			if err != nil {
				cb.Reset()
				return err
			}
			if !recorded {
				cb.BeginBlit(false)
				recorded = true
			}
			cb.Transition([]gpu.Transition{
				{
					Barrier: gpu.Barrier{
						SyncBefore:   gpu.SNone,
						SyncAfter:    gpu.SCopy,
						AccessBefore: gpu.ANone,
						AccessAfter:  gpu.ACopyWrite,
					},
					LayoutBefore: gpu.LUndefined,
					LayoutAfter:  gpu.LCopyDst,
					IView:        o.dstView,
				},
			})
			cb.CopyBufToImg(&gpu.BufImgCopy{
				Buf:    a.buf,
				BufOff: off,
				Stride: [2]int64{int64(o.size.Width), int64(o.size.Height)},
				Img:    o.dstImg,
				ImgOff: o.imgOff,
				Layer:  o.layer,
				Level:  o.level,
				Size:   o.size,
			})
		case opInvoke:
			invokes = append(invokes, o.fn)
		default:
			panic("copyqueue: undefined op kind")
		}
	}
	if recorded {
		cb.EndBlit()
	}
	if err = cb.End(); err != nil {
		a.bm.Clear()
		return err
	}

	ch := make(chan error, 1)
	ctxt.GPU().Commit([]gpu.CmdBuffer{cb}, ch)
	err = <-ch
	a.bm.Clear()
	if err != nil {
		return err
	}

	// Dispatched only after the fence/channel reports completion,
	// in the order they were recorded.
	for _, fn := range invokes {
		fn()
	}
	return nil
}

// arena is the staging-buffer allocator the queue draws from. It is
// a trimmed-down variant of the teacher's texture.stagingBuffer: no
// command buffer of its own (the Queue owns one per submission), no
// pending-copy bookkeeping (a CommandList already owns that via its
// ops), just a growable bitmap-backed byte arena.
type arena struct {
	buf gpu.Buffer
	bm  bitm.Bitm[uint32]
}

const (
	arenaBlock = 65536
	arenaNBit  = 32
)

func newArena(n int) (*arena, error) {
	n = (n + arenaBlock*arenaNBit - 1) &^ (arenaBlock*arenaNBit - 1)
	buf, err := ctxt.GPU().NewBuffer(int64(n), true, gpu.UCopySrc)
	if err != nil {
		return nil, err
	}
	var bm bitm.Bitm[uint32]
	bm.Grow(n / arenaBlock / arenaNBit)
	return &arena{buf: buf, bm: bm}, nil
}

func (a *arena) stage(data []byte) (off int64, err error) {
	if len(data) == 0 {
		return 0, errors.New(prefix + "empty upload")
	}
	n := (len(data) + arenaBlock - 1) / arenaBlock
	idx, ok := a.bm.SearchRange(n)
	if !ok {
		if err = a.grow(n); err != nil {
			return
		}
		idx, ok = a.bm.SearchRange(n)
		if !ok {
			return 0, errors.New(prefix + "staging arena exhausted")
		}
	}
	for i := 0; i < n; i++ {
		a.bm.Set(idx + i)
	}
	off = int64(idx) * arenaBlock
	if off+int64(len(data)) > a.buf.Cap() {
		return 0, errors.New(prefix + "not enough buffer capacity for upload")
	}
	copy(a.buf.Bytes()[off:], data)
	return
}

// grow adds enough whole bitmap words to fit nblocks (at least one)
// and replaces the buffer with one of the grown size, in place.
// Any data already staged and not yet committed is lost; callers
// only call this between commits (a.bm is cleared after every
// Queue.run), so that is never the case in practice.
func (a *arena) grow(nblocks int) error {
	nb := (nblocks + arenaNBit - 1) / arenaNBit
	if nb < 1 {
		nb = 1
	}
	a.bm.Grow(nb)
	n := int64(a.bm.Len()) * arenaBlock
	buf, err := ctxt.GPU().NewBuffer(n, true, gpu.UCopySrc)
	if err != nil {
		return err
	}
	if a.buf != nil {
		a.buf.Destroy()
	}
	a.buf = buf
	return nil
}

func (a *arena) free() {
	if a.buf != nil {
		a.buf.Destroy()
	}
	*a = arena{}
}
