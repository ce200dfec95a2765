// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"github.com/ferrum3d/core/engine/copyqueue"
	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/engine/job"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/wait"
)

// ModelAsset is the handle ModelManager.Load returns. GeometryBuffers
// holds one gpu.Buffer per LOD, packed mesh-by-mesh as
// [vertices][indices][meshlets][primitives], matching the layout
// ModelAssetManager::OnHeadersLoaded computes dataSize for.
type ModelAsset struct {
	name string

	status statusBox
	done   *wait.Group

	meshCount uint32
	lodCount  uint32
	meshes    []meshInfo
	lods      []meshLodInfo // meshCount*lodCount, indexed [mesh*lodCount+lod]
	lodErrors []float32

	GeometryBuffers []gpu.Buffer
}

// Name returns the asset name ModelManager.Load was called with.
func (a *ModelAsset) Name() string { return a.name }

// Status reports the asset's current load state.
func (a *ModelAsset) Status() Status { return a.status.load() }

// Wait blocks until loading completes or fails.
func (a *ModelAsset) Wait() { a.done.Wait() }

// MeshCount returns the number of meshes in the model.
func (a *ModelAsset) MeshCount() int { return int(a.meshCount) }

// LODCount returns the number of levels of detail in the model.
func (a *ModelAsset) LODCount() int { return int(a.lodCount) }

// LOD returns mesh's meshLodInfo record at the given LOD index.
func (a *ModelAsset) LOD(mesh, lod int) (vertexCount, indexCount, meshletCount, primitiveCount int) {
	l := a.lods[uint32(mesh)*a.lodCount+uint32(lod)]
	return int(l.VertexCount), int(l.IndexCount), int(l.MeshletCount), int(l.PrimitiveCount)
}

// LODErrorStats returns the mean and standard deviation of the
// model's inter-LOD geometric error estimates, computed with
// gonum.org/v1/gonum/stat over the lodCount-1 error floats the
// asset file carries (spec.md §6). It reports ok=false for a
// single-LOD model, which carries no error floats.
func (a *ModelAsset) LODErrorStats() (mean, stddev float64, ok bool) {
	if len(a.lodErrors) == 0 {
		return 0, 0, false
	}
	errs := make([]float64, len(a.lodErrors))
	for i, e := range a.lodErrors {
		errs[i] = float64(e)
	}
	mean, stddev = stat.MeanStdDev(errs, nil)
	return mean, stddev, true
}

// ModelManager loads ModelAssets from a root directory, scheduling
// header and LOD-body reads on a job.System and routing every GPU
// upload through a copyqueue.Queue, the Go counterpart of
// ModelAssetManager.
type ModelManager struct {
	root  string
	jobs  *job.System
	queue *copyqueue.Queue
}

// NewModelManager creates a ModelManager rooted at root. jobs and
// queue must outlive every asset the manager loads.
func NewModelManager(root string, jobs *job.System, queue *copyqueue.Queue) *ModelManager {
	return &ModelManager{root: root, jobs: jobs, queue: queue}
}

// modelRequest is the per-load bookkeeping counterpart of
// ModelAssetManager::Request.
type modelRequest struct {
	asset      *ModelAsset
	loadedLODs int32
}

// Load begins loading the model asset named name (resolved under
// m.root) and returns immediately with a ModelAsset whose Status
// starts at Uninitialized and whose Wait unblocks once loading
// completes or fails.
func (m *ModelManager) Load(name string) *ModelAsset {
	asset := &ModelAsset{name: name, done: wait.New(1)}
	track(asset.done, &asset.status)
	req := &modelRequest{asset: asset}
	m.jobs.Schedule(func() { m.readHeaders(req) }, job.HardDrive)
	return asset
}

func (m *ModelManager) readHeaders(req *modelRequest) {
	path := filepath.Join(m.root, req.asset.name)
	data, err := os.ReadFile(path)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}

	header, meshes, lods, lodErrors, err := decodeModelHeader(data)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}

	asset := req.asset
	asset.meshCount = header.MeshCount
	asset.lodCount = header.LodCount
	asset.meshes = meshes
	asset.lods = lods
	asset.lodErrors = lodErrors
	asset.GeometryBuffers = make([]gpu.Buffer, header.LodCount)
	asset.status.store(HeaderLoaded)

	off := modelHeaderByteLen(meshes, header.LodCount) + 4*uint32(len(lodErrors))
	for lod := uint32(0); lod < header.LodCount; lod++ {
		sz := lodByteSize(meshes, lods, header.LodCount, lod)
		start, end := off, off+sz
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		off = end
		lod, body := lod, data[start:end]
		m.jobs.Schedule(func() { m.onLODLoaded(req, lod, body) }, job.HardDrive)
	}
}

// modelHeaderByteLen computes the byte offset of the LOD-error
// floats, mirroring decodeModelHeader's struct walk: magic +
// meshCount + lodCount + per-mesh(meshInfo + lodCount*meshLodInfo).
func modelHeaderByteLen(meshes []meshInfo, lodCount uint32) uint32 {
	const magicLen = 4
	const countsLen = 8
	const meshInfoLen = 8
	const lodInfoLen = 16
	return magicLen + countsLen + uint32(len(meshes))*(meshInfoLen+lodCount*lodInfoLen)
}

func (m *ModelManager) onLODLoaded(req *modelRequest, lod uint32, body []byte) {
	asset := req.asset
	buf, err := ctxt.GPU().NewBuffer(int64(len(body)), false, gpu.UVertexData|gpu.UIndexData|gpu.UShaderRead|gpu.UCopyDst)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}
	asset.GeometryBuffers[lod] = buf

	list := copyqueue.NewBuilder().
		UploadBuffer(buf, 0, body).
		Build()
	upload := m.queue.Submit(list)

	m.jobs.Schedule(func() {
		upload.Wait()
		if upload.Failed() {
			fail(req.asset.done, &req.asset.status)
			return
		}
		loaded := atomic.AddInt32(&req.loadedLODs, 1)
		switch {
		case loaded == int32(asset.lodCount):
			markComplete(asset.done, &asset.status, CompletelyLoaded)
		case loaded == 1:
			asset.status.store(HasLoadedMips) // HasLoadedLODs, shared enum value
		}
	}, job.Light)
}
