// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/ferrum3d/core/gpu"
)

// Magic values identifying the two asset file kinds, matching
// spec.md §6's kTextureMagic/kModelMagic constants.
var (
	textureMagic = [4]byte{'F', 'T', 'X', 0}
	modelMagic   = [4]byte{'F', 'M', 'D', 'L'}
)

// blockSize is the compression block size referenced throughout
// spec.md §6 (kBlockSize): the unit that both mip-chain and LOD
// payloads are measured and scheduled in.
const blockSize = 65536

// ceilDivBlocks returns ceil(n / blockSize), the number of blocks a
// payload of n bytes spans.
func ceilDivBlocks(n uint32) uint32 {
	return (n + blockSize - 1) / blockSize
}

// imageDesc is the on-disk counterpart of texture.TexParam: the
// fields a TextureHeader needs to recreate the gpu.Image the asset
// will stream mip data into.
type imageDesc struct {
	PixelFmt  int32
	Width     int32
	Height    int32
	Depth     int32
	ArraySize int32
	Levels    int32
	Samples   int32
}

// textureHeader is the file header of a texture asset (spec.md
// §6). ArraySize must be 1; multi-slice arrays are not implemented
// by this version, matching the original's FE_Assert.
type textureHeader struct {
	Magic [4]byte
	Desc  imageDesc
	// MipChainCount trails Desc in the file but is decoded
	// separately below since the number of mipChainInfo records
	// that follow depends on it.
	MipChainCount uint32
}

// mipChainInfo describes one mip chain's placement within a
// texture asset's block stream.
type mipChainInfo struct {
	MostDetailedMip uint32
	MipCount        uint32
	ArraySlice      uint32
	BlockCount      uint32
	Reserved        uint32
}

// decodeTextureHeader reads a textureHeader and its trailing
// mipChainInfo records from data. It returns an error if data is
// too short or the magic/array-size invariants don't hold.
func decodeTextureHeader(data []byte) (textureHeader, []mipChainInfo, error) {
	r := bytes.NewReader(data)
	var h textureHeader
	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return h, nil, err
	}
	if h.Magic != textureMagic {
		return h, nil, errors.New(prefix + "bad texture magic")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Desc); err != nil {
		return h, nil, err
	}
	if h.Desc.ArraySize != 1 {
		return h, nil, errors.New(prefix + "texture array size must be 1")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.MipChainCount); err != nil {
		return h, nil, err
	}
	chains := make([]mipChainInfo, h.MipChainCount)
	for i := range chains {
		if err := binary.Read(r, binary.LittleEndian, &chains[i]); err != nil {
			return h, nil, err
		}
	}
	return h, chains, nil
}

// pixelFmt converts the on-disk format code to a gpu.PixelFmt,
// rejecting internal formats (client assets must never select
// one).
func (d imageDesc) pixelFmt() (gpu.PixelFmt, error) {
	pf := gpu.PixelFmt(d.PixelFmt)
	if pf.IsInternal() {
		return 0, errors.New(prefix + "texture asset selects an internal PixelFmt")
	}
	return pf, nil
}

// modelHeader is the file header of a model asset (spec.md §6).
type modelHeader struct {
	Magic     [4]byte
	MeshCount uint32
	LodCount  uint32
}

// meshInfo describes one mesh's vertex layout, shared by every LOD
// of that mesh.
type meshInfo struct {
	StreamMask  uint32
	IndexFormat uint32
}

// meshLodInfo describes the element counts of one mesh at one LOD.
type meshLodInfo struct {
	VertexCount    uint32
	IndexCount     uint32
	MeshletCount   uint32
	PrimitiveCount uint32
}

const (
	meshletHeaderSize  = 16 // {vertexOffset, primitiveOffset, vertexCount, primitiveCount}, packed
	packedTriangleSize = 4  // three 8-bit vertex indices plus padding
)

// vertexStride mirrors geometry.Semantic.format().Size() without
// importing the geometry package for a single bit of arithmetic;
// the bit layout matches geometry.Semantic exactly (see
// engine/geometry/pool.go).
func vertexStride(streamMask uint32) int {
	const (
		position  = 1 << 0
		normal    = 1 << 1
		tangent   = 1 << 2
		texCoord0 = 1 << 3
		texCoord1 = 1 << 4
		color0    = 1 << 5
		joints0   = 1 << 6
		weights0  = 1 << 7
	)
	n := 0
	for bit, size := range map[uint32]int{
		position: 12, normal: 12, tangent: 16, texCoord0: 8,
		texCoord1: 8, color0: 16, joints0: 8, weights0: 16,
	} {
		if streamMask&bit != 0 {
			n += size
		}
	}
	return n
}

// decodeModelHeader reads a modelHeader, its per-mesh meshInfo/
// meshLodInfo records and LOD error floats from data.
func decodeModelHeader(data []byte) (modelHeader, []meshInfo, []meshLodInfo, []float32, error) {
	r := bytes.NewReader(data)
	var h modelHeader
	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return h, nil, nil, nil, err
	}
	if h.Magic != modelMagic {
		return h, nil, nil, nil, errors.New(prefix + "bad model magic")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.MeshCount); err != nil {
		return h, nil, nil, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.LodCount); err != nil {
		return h, nil, nil, nil, err
	}

	meshes := make([]meshInfo, h.MeshCount)
	lods := make([]meshLodInfo, h.MeshCount*h.LodCount)
	for m := uint32(0); m < h.MeshCount; m++ {
		if err := binary.Read(r, binary.LittleEndian, &meshes[m]); err != nil {
			return h, nil, nil, nil, err
		}
		for l := uint32(0); l < h.LodCount; l++ {
			if err := binary.Read(r, binary.LittleEndian, &lods[m*h.LodCount+l]); err != nil {
				return h, nil, nil, nil, err
			}
		}
	}

	var lodErrors []float32
	if h.LodCount > 1 {
		lodErrors = make([]float32, h.LodCount-1)
		if err := binary.Read(r, binary.LittleEndian, &lodErrors); err != nil {
			return h, nil, nil, nil, err
		}
	}
	return h, meshes, lods, lodErrors, nil
}

// lodByteSize sums the packed size of one LOD across every mesh,
// matching ModelAssetManager::OnHeadersLoaded's dataSize
// accumulation.
func lodByteSize(meshes []meshInfo, lods []meshLodInfo, lodCount, lodIndex uint32) uint32 {
	var n uint32
	for m := range meshes {
		lod := lods[uint32(m)*lodCount+lodIndex]
		n += uint32(vertexStride(meshes[m].StreamMask)) * lod.VertexCount
		n += 4 * lod.IndexCount
		n += meshletHeaderSize * lod.MeshletCount
		n += packedTriangleSize * lod.PrimitiveCount
	}
	return n
}

// blockHeader, pageHeader and blockFooter mirror the compression
// block container spec.md §6 describes. nextPageOffsetEnd is the
// UINT32_MAX sentinel marking a page as the block's last.
type blockHeader struct {
	UncompressedSize uint32
}

type pageHeader struct {
	NextPageOffset uint32
	CompressedSize uint32
}

type blockFooter struct {
	Checksum uint32
}

const nextPageOffsetEnd = 0xFFFFFFFF

// decodeBlock walks a compression block's page chain and
// concatenates every page's payload. The payload bytes themselves
// are passed through uncompressed: the retrieval pack carries no
// compression codec for this container (see DESIGN.md), so the
// block/page/footer framing is decoded for real but a page's
// CompressedSize field is trusted to equal its stored (uncompressed)
// length.
func decodeBlock(block []byte) ([]byte, error) {
	r := bytes.NewReader(block)
	var bh blockHeader
	if err := binary.Read(r, binary.LittleEndian, &bh); err != nil {
		return nil, err
	}
	out := make([]byte, 0, bh.UncompressedSize)
	for {
		var ph pageHeader
		if err := binary.Read(r, binary.LittleEndian, &ph); err != nil {
			return nil, err
		}
		payload := make([]byte, ph.CompressedSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		out = append(out, payload...)
		if ph.NextPageOffset == nextPageOffsetEnd {
			break
		}
		if _, err := r.Seek(int64(ph.NextPageOffset), io.SeekStart); err != nil {
			return nil, err
		}
	}
	var bf blockFooter
	binary.Read(r, binary.LittleEndian, &bf) // best-effort; absence of a footer is not fatal to decode
	return out, nil
}
