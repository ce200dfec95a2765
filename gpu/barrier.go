// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gpu

// ResourceID uniquely identifies a Buffer or Image for the
// lifetime of the resource. IDs are handed out by the GPU
// implementation (see internal/idpool) and are stable across
// recreation of views; they are the key used by bindless
// descriptor registration and barrier batching to recognize
// that two operations target the same underlying resource.
type ResourceID uint32

// Subresource identifies a mip/array range of an Image, rather
// than a single layer/level pair, so that barriers and bindless
// registrations can target whole mip chains or array slices in
// one transition instead of one per slice. Buffers have an
// implicit, single subresource and do not use this type.
type Subresource struct {
	// MostDetailedMip is the first mip level in the range.
	MostDetailedMip int
	// MipCount is the number of mip levels in the range.
	MipCount int
	// FirstArraySlice is the first array layer in the range.
	FirstArraySlice int
	// ArraySize is the number of array layers in the range.
	ArraySize int
}

// key packs id and sub into a single value suitable for use as a
// map key (bindless registration, barrier de-duplication). Two
// Subresources that describe the same range hash identically;
// this is a dedup key, not a bit-exact encoding of the range.
func key(id ResourceID, sub Subresource) uint64 {
	h := uint64(id)
	h = h*31 + uint64(uint16(sub.MostDetailedMip))
	h = h*31 + uint64(uint16(sub.MipCount))
	h = h*31 + uint64(uint16(sub.FirstArraySlice))
	h = h*31 + uint64(uint16(sub.ArraySize))
	return h
}

// BufferWriteType identifies the kind of write access being
// requested over a buffer range, used to look up the
// appropriate pipeline access flags in the backend.
type BufferWriteType int

// Buffer write types.
const (
	BufferWriteTransferDst BufferWriteType = iota
	BufferWriteUnorderedAccess
	BufferWriteHostWrite
)

// BufferReadType identifies the kind of read access being
// requested over a buffer range.
type BufferReadType int

// Buffer read types.
const (
	BufferReadTransferSrc BufferReadType = iota
	BufferReadVertex
	BufferReadIndex
	BufferReadIndirectArgument
	BufferReadShaderConstant
	BufferReadShaderStorage
)

// ImageWriteType identifies the kind of write access being
// requested over an image subresource range.
type ImageWriteType int

// Image write types.
const (
	ImageWriteTransferDst ImageWriteType = iota
	ImageWriteColorTarget
	ImageWriteDSTarget
	ImageWriteUnorderedAccess
)

// ImageReadType identifies the kind of read access being
// requested over an image subresource range.
type ImageReadType int

// Image read types.
const (
	ImageReadTransferSrc ImageReadType = iota
	ImageReadShaderResource
	ImageReadColorTarget
	ImageReadDepthRead
	ImageReadPresent
)

// BufferBarrierDesc describes a pending barrier over a
// buffer range. SourceQueue/DestQueue only need to be set
// for barriers that transfer ownership across queues.
type BufferBarrierDesc struct {
	Buf         Buffer
	Off, Size   int64
	Write       *BufferWriteType
	Read        *BufferReadType
	SourceQueue QueueKind
	DestQueue   QueueKind
}

// Hash returns a value that uniquely identifies the
// (Buf, Off, Size, access kind) tuple, independent of which
// specific field (Write or Read) is set. Two descriptors with
// the same hash describe the same logical transition and may
// be coalesced by a ResourceBarrierBatcher; two descriptors
// that hash differently but target the same buffer force a
// flush of whichever barrier was queued first.
func (d *BufferBarrierDesc) Hash() uint64 {
	h := uint64(d.Buf.(interface{ ID() ResourceID }).ID())
	h = h*31 + uint64(d.Off)
	h = h*31 + uint64(d.Size)
	if d.Write != nil {
		h = h*31 + 1 + uint64(*d.Write)<<8
	} else if d.Read != nil {
		h = h*31 + 2 + uint64(*d.Read)<<8
	}
	h = h*31 + uint64(d.SourceQueue)<<4 + uint64(d.DestQueue)
	return h
}

// Target returns the resource ID this barrier applies to, for
// same-target flush detection by the batcher.
func (d *BufferBarrierDesc) Target() ResourceID {
	return d.Buf.(interface{ ID() ResourceID }).ID()
}

// ImageBarrierDesc describes a pending barrier over an image
// subresource range.
type ImageBarrierDesc struct {
	Img         Image
	Sub         Subresource
	Write       *ImageWriteType
	Read        *ImageReadType
	SourceQueue QueueKind
	DestQueue   QueueKind
}

// Hash behaves like BufferBarrierDesc.Hash but for images.
func (d *ImageBarrierDesc) Hash() uint64 {
	h := key(d.Img.(interface{ ID() ResourceID }).ID(), d.Sub)
	if d.Write != nil {
		h = h*31 + 1 + uint64(*d.Write)<<8
	} else if d.Read != nil {
		h = h*31 + 2 + uint64(*d.Read)<<8
	}
	h = h*31 + uint64(d.SourceQueue)<<4 + uint64(d.DestQueue)
	return h
}

// Target returns the (ResourceID, Subresource) pair this
// barrier applies to.
func (d *ImageBarrierDesc) Target() uint64 {
	return key(d.Img.(interface{ ID() ResourceID }).ID(), d.Sub)
}

// QueueKind names a class of command queue.
type QueueKind int

// Queue kinds.
const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueTransfer
)

// ResourceBarrierBatcher accumulates buffer/image barriers and
// flushes them as a single backend barrier command, de-duplicating
// identical (same-hash) pending barriers and force-flushing
// whenever a second, differently-typed barrier targets a resource
// already queued. Implementations keep the access-flag/image-layout
// translation tables that depend on the graphics backend; the
// tables and the overall algorithm are deliberately conservative
// about pipeline stages (see the TODO in gpu/vk/barrier.go).
type ResourceBarrierBatcher interface {
	// AddBufferBarrier stages a buffer barrier, flushing any
	// conflicting barrier already queued for the same buffer.
	AddBufferBarrier(desc BufferBarrierDesc)

	// AddImageBarrier stages an image barrier, flushing any
	// conflicting barrier already queued for the same
	// subresource.
	AddImageBarrier(desc ImageBarrierDesc)

	// Flush records the accumulated barriers into cb as a
	// single pipeline barrier command and clears the batcher.
	Flush(cb CmdBuffer)
}
