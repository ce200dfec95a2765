// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package geometry implements the GPU-resident geometry pool: a
// dense, free-list-backed table of vertex/index (and, for
// meshlet geometry, primitive/meshlet) buffers, indexed by an
// opaque Handle.
//
// Allocate only reserves the buffers; it does not upload data.
// Callers fill them in through the copy queue (see
// engine/copyqueue) and use the WaitGroup returned by
// AvailabilityWaitGroup to know when a geometry is safe to draw.
package geometry

import (
	"errors"
	"sync"

	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/idpool"
	"github.com/ferrum3d/core/internal/wait"
)

const prefix = "geometry: "

// Handle identifies a geometry allocated from a Pool. The zero
// value never identifies a live geometry.
type Handle uint32

// Semantic specifies the intended use of a vertex stream.
type Semantic int

// Semantics.
const (
	Position Semantic = 1 << iota
	Normal
	Tangent
	TexCoord0
	TexCoord1
	Color0
	Joints0
	Weights0

	MaxSemantic int = iota
)

// I computes log₂(s), the index used for this Semantic in
// View.Streams and Desc.StreamMask bit tests.
func (s Semantic) I() (i int) {
	for s > 1 {
		s >>= 1
		i++
	}
	return
}

// String implements fmt.Stringer.
func (s Semantic) String() string {
	switch s {
	case Position:
		return "Position"
	case Normal:
		return "Normal"
	case Tangent:
		return "Tangent"
	case TexCoord0:
		return "TexCoord0"
	case TexCoord1:
		return "TexCoord1"
	case Color0:
		return "Color0"
	case Joints0:
		return "Joints0"
	case Weights0:
		return "Weights0"
	default:
		return "!geometry.Semantic"
	}
}

// format returns the gpu.VertexFmt used for a stream's on-device
// storage. Conversion from whatever format an asset's source
// data uses happens in the asset loader, before the bytes reach
// the copy queue; the pool only ever sees the canonical format.
func (s Semantic) format() gpu.VertexFmt {
	switch s {
	case Position, Normal:
		return gpu.Float32x3
	case Tangent, Color0, Weights0:
		return gpu.Float32x4
	case TexCoord0, TexCoord1:
		return gpu.Float32x2
	case Joints0:
		return gpu.UInt16x4
	default:
		panic("undefined Semantic constant")
	}
}

// Desc describes the buffers to allocate for one geometry.
//
// Setting MeshletCount greater than zero selects meshlet
// geometry: the pool allocates a meshlet header buffer and a
// packed-triangle buffer in addition to the vertex/index
// buffers, and VertexCount/IndexCount describe raw element
// counts for shader (storage buffer) access rather than
// fixed-function vertex input. PrimitiveCount must be set in
// that case; StreamMask is ignored.
type Desc struct {
	Name string

	VertexCount int
	StreamMask  Semantic

	IndexCount  int
	IndexFormat gpu.IndexFmt

	MeshletCount   int
	PrimitiveCount int
}

// BufferView describes a byte range of a gpu.Buffer.
type BufferView struct {
	Buffer     gpu.Buffer
	ByteOffset int64
	ByteSize   int64
}

// View describes the buffers backing a regular (non-meshlet)
// geometry.
type View struct {
	StreamMask  Semantic
	Streams     [MaxSemantic]BufferView
	VertexCount int

	// IndexCount is zero for unindexed geometry, in which
	// case Index is the zero BufferView.
	IndexCount  int
	IndexFormat gpu.IndexFmt
	Index       BufferView
}

// MeshletView describes the buffers backing a meshlet geometry.
type MeshletView struct {
	Vertex      BufferView
	Index       BufferView
	IndexFormat gpu.IndexFmt
	Primitive   BufferView
	Meshlet     BufferView

	MeshletCount   int
	PrimitiveCount int
}

// indexSize returns the byte size of a single index, or zero if
// format is not a valid gpu.IndexFmt.
func indexSize(format gpu.IndexFmt) int {
	switch format {
	case gpu.Index16:
		return 2
	case gpu.Index32:
		return 4
	default:
		return 0
	}
}

// geometry is a pool entry. Exactly one of regular/meshlet is
// meaningful, selected by isMeshlet.
type geometry struct {
	isMeshlet bool
	regular   regularGeometry
	meshlet   meshletGeometry
	avail     *wait.Group
}

type regularGeometry struct {
	streamMask  Semantic
	streams     [MaxSemantic]gpu.Buffer
	vertexCount int
	index       gpu.Buffer
	indexCount  int
	indexFormat gpu.IndexFmt
}

type meshletGeometry struct {
	vertex       gpu.Buffer
	index        gpu.Buffer
	indexFormat  gpu.IndexFmt
	primitive    gpu.Buffer
	meshlet      gpu.Buffer
	meshletCount int
	primCount    int
}

// Pool manages the lifetime of every geometry allocated through
// it. Pools are created with New; the zero value has a nil
// pre-signaled group, which its geometries and
// AvailabilityWaitGroup would then hand out.
type Pool struct {
	mu    sync.RWMutex
	slots idpool.Pool
	geoms []geometry
	dummy *wait.Group
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{dummy: wait.New(0)}
}

func (p *Pool) ensure(id uint32) *geometry {
	for uint32(len(p.geoms)) <= id {
		p.geoms = append(p.geoms, geometry{})
	}
	return &p.geoms[id]
}

// Allocate creates the buffers described by desc and returns a
// Handle identifying them. The caller owns filling the buffers
// in (see engine/copyqueue) before drawing or dispatching with
// this geometry.
func (p *Pool) Allocate(desc *Desc) (Handle, error) {
	if desc == nil {
		return 0, errors.New(prefix + "nil desc")
	}
	if desc.MeshletCount > 0 {
		return p.allocateMeshlet(desc)
	}
	return p.allocateRegular(desc)
}

func (p *Pool) allocateRegular(desc *Desc) (Handle, error) {
	if desc.StreamMask&Position == 0 {
		return 0, errors.New(prefix + "no position stream")
	}
	if desc.VertexCount <= 0 {
		return 0, errors.New(prefix + "invalid vertex count")
	}

	var g regularGeometry
	g.streamMask = desc.StreamMask
	g.vertexCount = desc.VertexCount

	for i := 0; i < MaxSemantic; i++ {
		sem := Semantic(1 << i)
		if desc.StreamMask&sem == 0 {
			continue
		}
		sz := int64(desc.VertexCount) * int64(sem.format().Size())
		buf, err := ctxt.GPU().NewBuffer(sz, false, gpu.UVertexData)
		if err != nil {
			freeBuffers(g.streams[:])
			freeBuffer(g.index)
			return 0, err
		}
		g.streams[i] = buf
	}

	if desc.IndexCount > 0 {
		isz := indexSize(desc.IndexFormat)
		if isz == 0 {
			freeBuffers(g.streams[:])
			return 0, errors.New(prefix + "undefined gpu.IndexFmt constant")
		}
		buf, err := ctxt.GPU().NewBuffer(int64(desc.IndexCount*isz), false, gpu.UIndexData)
		if err != nil {
			freeBuffers(g.streams[:])
			return 0, err
		}
		g.index = buf
		g.indexCount = desc.IndexCount
		g.indexFormat = desc.IndexFormat
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.slots.Next()
	e := p.ensure(id)
	*e = geometry{regular: g, avail: p.dummy}
	return Handle(id), nil
}

func (p *Pool) allocateMeshlet(desc *Desc) (Handle, error) {
	if desc.IndexCount <= 0 {
		return 0, errors.New(prefix + "meshlet geometry requires an index buffer")
	}
	if desc.PrimitiveCount <= 0 {
		return 0, errors.New(prefix + "meshlet geometry requires a primitive count")
	}
	isz := indexSize(desc.IndexFormat)
	if isz == 0 {
		return 0, errors.New(prefix + "undefined gpu.IndexFmt constant")
	}

	var g meshletGeometry
	usg := gpu.UShaderRead | gpu.UShaderWrite

	vbuf, err := ctxt.GPU().NewBuffer(int64(desc.VertexCount)*int64(Position.format().Size()), false, usg)
	if err != nil {
		return 0, err
	}
	g.vertex = vbuf

	ibuf, err := ctxt.GPU().NewBuffer(int64(desc.IndexCount*isz), false, usg)
	if err != nil {
		freeBuffer(vbuf)
		return 0, err
	}
	g.index = ibuf
	g.indexFormat = desc.IndexFormat

	// Packed triangle: three 8-bit vertex indices per
	// primitive (plus padding), matching the 32-bit packed
	// format the mesh shader stage expects.
	pbuf, err := ctxt.GPU().NewBuffer(int64(desc.PrimitiveCount)*4, false, usg)
	if err != nil {
		freeBuffer(vbuf)
		freeBuffer(ibuf)
		return 0, err
	}
	g.primitive = pbuf
	g.primCount = desc.PrimitiveCount

	// meshletHeaderSize mirrors a packed {vertexOffset,
	// primitiveOffset, vertexCount, primitiveCount} record.
	const meshletHeaderSize = 16
	mbuf, err := ctxt.GPU().NewBuffer(int64(desc.MeshletCount)*meshletHeaderSize, false, usg)
	if err != nil {
		freeBuffer(vbuf)
		freeBuffer(ibuf)
		freeBuffer(pbuf)
		return 0, err
	}
	g.meshlet = mbuf
	g.meshletCount = desc.MeshletCount

	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.slots.Next()
	e := p.ensure(id)
	*e = geometry{isMeshlet: true, meshlet: g, avail: p.dummy}
	return Handle(id), nil
}

// Free releases the geometry identified by handle. Buffer
// destruction is deferred by the GPU implementation until the
// backend has no outstanding references to it; Free only drops
// the pool's strong references and makes the slot available for
// reuse.
func (p *Pool) Free(h Handle) {
	if h == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uint32(h)
	if id >= uint32(len(p.geoms)) {
		return
	}
	g := &p.geoms[id]
	if g.isMeshlet {
		freeBuffer(g.meshlet.vertex)
		freeBuffer(g.meshlet.index)
		freeBuffer(g.meshlet.primitive)
		freeBuffer(g.meshlet.meshlet)
	} else {
		freeBuffers(g.regular.streams[:])
		freeBuffer(g.regular.index)
	}
	*g = geometry{}
	p.slots.Release(id)
}

func (p *Pool) get(h Handle) (*geometry, error) {
	id := uint32(h)
	if h == 0 || id >= uint32(len(p.geoms)) {
		return nil, errors.New(prefix + "invalid handle")
	}
	return &p.geoms[id], nil
}

// View returns the buffer view for a regular geometry. It
// returns an error if handle does not identify a live regular
// geometry.
func (p *Pool) View(h Handle) (View, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, err := p.get(h)
	if err != nil {
		return View{}, err
	}
	if g.isMeshlet {
		return View{}, errors.New(prefix + "handle identifies a meshlet geometry")
	}
	r := &g.regular
	var v View
	v.StreamMask = r.streamMask
	v.VertexCount = r.vertexCount
	for i := 0; i < MaxSemantic; i++ {
		if r.streamMask&(1<<i) == 0 {
			continue
		}
		v.Streams[i] = BufferView{r.streams[i], 0, r.streams[i].Cap()}
	}
	if r.indexCount > 0 {
		v.IndexCount = r.indexCount
		v.IndexFormat = r.indexFormat
		v.Index = BufferView{r.index, 0, r.index.Cap()}
	}
	return v, nil
}

// MeshletView returns the buffer view for a meshlet geometry. It
// returns an error if handle does not identify a live meshlet
// geometry.
func (p *Pool) MeshletView(h Handle) (MeshletView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, err := p.get(h)
	if err != nil {
		return MeshletView{}, err
	}
	if !g.isMeshlet {
		return MeshletView{}, errors.New(prefix + "handle identifies a regular geometry")
	}
	m := &g.meshlet
	return MeshletView{
		Vertex:         BufferView{m.vertex, 0, m.vertex.Cap()},
		Index:          BufferView{m.index, 0, m.index.Cap()},
		IndexFormat:    m.indexFormat,
		Primitive:      BufferView{m.primitive, 0, m.primitive.Cap()},
		Meshlet:        BufferView{m.meshlet, 0, m.meshlet.Cap()},
		MeshletCount:   m.meshletCount,
		PrimitiveCount: m.primCount,
	}, nil
}

// AvailabilityWaitGroup returns the wait.Group the caller can
// block on before first use of the geometry. Allocate always
// completes synchronously today, so this returns an already-
// signaled group; an asynchronous allocation path may replace it
// with a real one in the future.
func (p *Pool) AvailabilityWaitGroup(h Handle) *wait.Group {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, err := p.get(h); err == nil && g.avail != nil {
		return g.avail
	}
	return p.dummy
}

func freeBuffer(b gpu.Buffer) {
	if b != nil {
		b.Destroy()
	}
}

func freeBuffers(bs []gpu.Buffer) {
	for _, b := range bs {
		freeBuffer(b)
	}
}
