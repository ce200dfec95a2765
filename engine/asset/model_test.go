// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrum3d/core/engine/copyqueue"
	"github.com/ferrum3d/core/engine/job"
)

// writeModelAsset builds a minimal single-mesh, three-LOD model
// container on disk (position-only streams, no meshlets) and
// returns its path plus the expected byte size of each LOD body.
func writeModelAsset(t *testing.T, dir, name string) (path string, lodSizes []uint32) {
	const meshCount, lodCount = 1, 3
	mesh := meshInfo{StreamMask: 1 /* Position */, IndexFormat: uint32(2)}
	lods := []meshLodInfo{
		{VertexCount: 3, IndexCount: 3},
		{VertexCount: 3, IndexCount: 3},
		{VertexCount: 3, IndexCount: 3},
	}
	lodErrors := []float32{0.01, 0.03}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, modelMagic))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(meshCount)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(lodCount)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, mesh))
	for _, l := range lods {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, l))
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, lodErrors))

	meshes := []meshInfo{mesh}
	for lod := uint32(0); lod < lodCount; lod++ {
		sz := lodByteSize(meshes, lods, lodCount, lod)
		lodSizes = append(lodSizes, sz)
		buf.Write(make([]byte, sz))
	}

	path = filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path, lodSizes
}

func TestModelManagerLoad(t *testing.T) {
	dir := t.TempDir()
	_, lodSizes := writeModelAsset(t, dir, "mesh.bin")
	require.Len(t, lodSizes, 3)

	jobs := job.NewSystem(2)
	defer jobs.Close()
	queue, err := copyqueue.New(1)
	require.NoError(t, err)
	defer queue.Close()

	mgr := NewModelManager(dir, jobs, queue)
	asset := mgr.Load("mesh.bin")
	asset.Wait()

	require.Equal(t, CompletelyLoaded, asset.Status())
	require.Equal(t, 1, asset.MeshCount())
	require.Equal(t, 3, asset.LODCount())
	require.Len(t, asset.GeometryBuffers, 3)
	for _, b := range asset.GeometryBuffers {
		require.NotNil(t, b)
	}

	mean, stddev, ok := asset.LODErrorStats()
	require.True(t, ok)
	require.InDelta(t, 0.02, mean, 1e-9)
	require.Greater(t, stddev, 0.0)
}

func TestModelManagerLoadMissingFileFails(t *testing.T) {
	jobs := job.NewSystem(1)
	defer jobs.Close()
	queue, err := copyqueue.New(1)
	require.NoError(t, err)
	defer queue.Close()

	mgr := NewModelManager(t.TempDir(), jobs, queue)
	asset := mgr.Load("missing.bin")
	asset.Wait()
	require.Equal(t, Failed, asset.Status())
}
