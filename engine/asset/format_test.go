// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeTextureHeader(t *testing.T, desc imageDesc, chains []mipChainInfo) []byte {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, textureMagic))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, desc))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(chains))))
	for _, c := range chains {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, c))
	}
	return buf.Bytes()
}

func TestDecodeTextureHeaderRoundTrip(t *testing.T) {
	desc := imageDesc{PixelFmt: 0, Width: 64, Height: 64, Depth: 0, ArraySize: 1, Levels: 7, Samples: 1}
	chains := []mipChainInfo{
		{MostDetailedMip: 4, MipCount: 3, ArraySlice: 0, BlockCount: 1},
		{MostDetailedMip: 0, MipCount: 4, ArraySlice: 0, BlockCount: 5},
	}
	data := encodeTextureHeader(t, desc, chains)

	h, gotChains, err := decodeTextureHeader(data)
	require.NoError(t, err)
	require.Equal(t, textureMagic, h.Magic)
	require.Equal(t, desc, h.Desc)
	require.Equal(t, chains, gotChains)
}

func TestDecodeTextureHeaderRejectsBadMagic(t *testing.T) {
	desc := imageDesc{ArraySize: 1, Levels: 1, Samples: 1}
	data := encodeTextureHeader(t, desc, nil)
	data[0] = 'X'
	_, _, err := decodeTextureHeader(data)
	require.Error(t, err)
}

func TestDecodeTextureHeaderRejectsArraySize(t *testing.T) {
	desc := imageDesc{ArraySize: 2, Levels: 1, Samples: 1}
	data := encodeTextureHeader(t, desc, nil)
	_, _, err := decodeTextureHeader(data)
	require.Error(t, err)
}

func TestPixelFmtRejectsInternal(t *testing.T) {
	d := imageDesc{PixelFmt: -1 << 31}
	_, err := d.pixelFmt()
	require.Error(t, err)
}

func encodeModelHeader(t *testing.T, meshCount, lodCount uint32, meshes []meshInfo, lods []meshLodInfo, lodErrors []float32) []byte {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, modelMagic))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, meshCount))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, lodCount))
	for m := uint32(0); m < meshCount; m++ {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, meshes[m]))
		for l := uint32(0); l < lodCount; l++ {
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, lods[m*lodCount+l]))
		}
	}
	if lodCount > 1 {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, lodErrors))
	}
	return buf.Bytes()
}

func TestDecodeModelHeaderRoundTrip(t *testing.T) {
	meshes := []meshInfo{{StreamMask: 1, IndexFormat: 2}, {StreamMask: 3, IndexFormat: 4}}
	lods := []meshLodInfo{
		{VertexCount: 100, IndexCount: 300, MeshletCount: 0, PrimitiveCount: 0},
		{VertexCount: 20, IndexCount: 60, MeshletCount: 0, PrimitiveCount: 0},
		{VertexCount: 200, IndexCount: 600, MeshletCount: 0, PrimitiveCount: 0},
		{VertexCount: 40, IndexCount: 120, MeshletCount: 0, PrimitiveCount: 0},
	}
	lodErrors := []float32{0.01, 0.05}
	data := encodeModelHeader(t, 2, 2, meshes, lods, lodErrors)

	h, gotMeshes, gotLods, gotErrors, err := decodeModelHeader(data)
	require.NoError(t, err)
	require.Equal(t, modelMagic, h.Magic)
	require.Equal(t, meshes, gotMeshes)
	require.Equal(t, lods, gotLods)
	require.Equal(t, lodErrors, gotErrors)
}

func TestLodByteSize(t *testing.T) {
	meshes := []meshInfo{{StreamMask: 1}} // Position only: 12 bytes/vertex
	lods := []meshLodInfo{{VertexCount: 10, IndexCount: 30, MeshletCount: 2, PrimitiveCount: 5}}
	got := lodByteSize(meshes, lods, 1, 0)
	want := uint32(12*10 + 4*30 + meshletHeaderSize*2 + packedTriangleSize*5)
	require.Equal(t, want, got)
}

func TestDecodeBlockSinglePage(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 10)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, blockHeader{UncompressedSize: uint32(len(payload))}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, pageHeader{NextPageOffset: nextPageOffsetEnd, CompressedSize: uint32(len(payload))}))
	buf.Write(payload)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, blockFooter{Checksum: 0}))

	got, err := decodeBlock(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestCeilDivBlocks(t *testing.T) {
	require.Equal(t, uint32(1), ceilDivBlocks(1))
	require.Equal(t, uint32(1), ceilDivBlocks(blockSize))
	require.Equal(t, uint32(2), ceilDivBlocks(blockSize+1))
}
