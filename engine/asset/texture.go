// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"bytes"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"
	"golang.org/x/image/draw"

	"github.com/ferrum3d/core/engine/copyqueue"
	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/engine/job"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/wait"
)

// TextureAsset is the handle TextureManager.Load returns. Fields
// other than the accessor methods below are only meaningful once
// Status has advanced past HeaderLoaded.
type TextureAsset struct {
	name string

	status statusBox
	done   *wait.Group

	image    gpu.Image
	views    []gpu.ImageView // one per mip chain, spanning its [MostDetailedMip, MostDetailedMip+MipCount) levels
	pixelFmt gpu.PixelFmt

	baseW, baseH int
}

// Name returns the asset name TextureManager.Load was called with.
func (a *TextureAsset) Name() string { return a.name }

// Status reports the asset's current load state.
func (a *TextureAsset) Status() Status { return a.status.load() }

// Wait blocks until loading completes or fails.
func (a *TextureAsset) Wait() { a.done.Wait() }

// Image returns the underlying gpu.Image. It is valid to call once
// Status is at least HeaderLoaded, though sampling mip levels that
// haven't finished uploading yet produces undefined pixel data.
func (a *TextureAsset) Image() gpu.Image { return a.image }

// mipExtent returns the width/height of mip level, halving the base
// size down to a minimum of 1, the standard mip-chain convention.
func (a *TextureAsset) mipExtent(level int) (w, h int) {
	w, h = a.baseW, a.baseH
	for i := 0; i < level; i++ {
		if w > 1 {
			w /= 2
		}
		if h > 1 {
			h /= 2
		}
	}
	return
}

// TextureManager loads TextureAssets from a root directory,
// scheduling header and block reads on a job.System and routing
// every GPU upload through a copyqueue.Queue, mirroring
// TextureAssetManager's constructor dependencies (logger, job
// system, async IO, resource pool, async copy queue) minus the
// logger: failures are reported through Status/Wait instead, the
// same typed-result convention spec.md §7 uses everywhere else in
// this core.
type TextureManager struct {
	root  string
	jobs  *job.System
	queue *copyqueue.Queue
}

// NewTextureManager creates a TextureManager rooted at root. jobs
// and queue must outlive every asset the manager loads.
func NewTextureManager(root string, jobs *job.System, queue *copyqueue.Queue) *TextureManager {
	return &TextureManager{root: root, jobs: jobs, queue: queue}
}

// textureRequest is the pooled per-load bookkeeping
// TextureAssetManager::Request corresponds to: everything Load
// needs beyond the TextureAsset itself, discarded once loading
// finishes (the Go GC plays the role of m_requestPool.Delete).
type textureRequest struct {
	asset  *TextureAsset
	chains []mipChainInfo
	loaded maskLock
}

// Load begins loading the texture asset named name (resolved under
// m.root) and returns immediately with a TextureAsset whose Status
// starts at Uninitialized and whose Wait unblocks once loading
// completes or fails.
func (m *TextureManager) Load(name string) *TextureAsset {
	asset := &TextureAsset{name: name, done: wait.New(1)}
	track(asset.done, &asset.status)
	req := &textureRequest{asset: asset}
	m.jobs.Schedule(func() { m.readHeader(req) }, job.HardDrive)
	return asset
}

func (m *TextureManager) readHeader(req *textureRequest) {
	path := filepath.Join(m.root, req.asset.name)
	data, err := os.ReadFile(path)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}

	if !bytes.HasPrefix(data, textureMagic[:]) {
		// Not our container format; sniff it as a plain image
		// file (PNG/JPEG) and take the fallback decode path
		// instead of failing outright.
		if kind, ierr := filetype.Match(data); ierr == nil && kind != filetype.Unknown {
			if m.loadFallback(req.asset, data) {
				return
			}
		}
		fail(req.asset.done, &req.asset.status)
		return
	}

	header, chains, err := decodeTextureHeader(data)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}
	pf, err := header.Desc.pixelFmt()
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}

	size := gpu.Dim3D{Width: int(header.Desc.Width), Height: int(header.Desc.Height), Depth: int(header.Desc.Depth)}
	if size.Depth == 0 {
		size.Depth = 1
	}
	img, err := ctxt.GPU().NewImage(pf, size, 1, int(header.Desc.Levels), int(header.Desc.Samples), gpu.UShaderSample|gpu.UCopyDst)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}

	views := make([]gpu.ImageView, len(chains))
	for i, c := range chains {
		v, verr := img.NewView(gpu.IView2D, int(c.ArraySlice), 1, int(c.MostDetailedMip), int(c.MipCount))
		if verr != nil {
			img.Destroy()
			fail(req.asset.done, &req.asset.status)
			return
		}
		views[i] = v
	}

	req.asset.image = img
	req.asset.views = views
	req.asset.pixelFmt = pf
	req.asset.baseW = size.Width
	req.asset.baseH = size.Height
	req.asset.status.store(HeaderLoaded)
	req.chains = chains
	req.loaded.n = len(chains)

	// os.ReadFile already pulled in the whole file, so every mip
	// chain's blocks are already resident; schedule their
	// finalization as separate jobs anyway to mirror
	// OnHeaderLoaded's per-chain dispatch (including the case
	// where the least-detailed chain shares the header's block).
	off := textureHeaderByteLen(len(chains))
	for i, c := range chains {
		start := off
		end := start + int(c.BlockCount)*blockSize
		if end > len(data) {
			end = len(data)
		}
		off = end
		i, c, block := i, c, data[start:end]
		m.jobs.Schedule(func() { m.onMipChainLoaded(req, i, block, c) }, job.HardDrive)
	}
}

// textureHeaderByteLen computes the byte offset of the first mip
// chain's block data, mirroring the struct layout decodeTextureHeader
// walks: magic + imageDesc + mipChainCount + n*mipChainInfo.
func textureHeaderByteLen(n int) int {
	const magicLen = 4
	const descLen = 7 * 4
	const countLen = 4
	const chainLen = 5 * 4
	return magicLen + descLen + countLen + n*chainLen
}

// onMipChainLoaded decodes one mip chain's compression block and
// uploads each of its levels, finest first, issuing one
// BufImgCopy-backed UploadTexture per level since gpu.BufImgCopy
// addresses a single mip level at a time.
func (m *TextureManager) onMipChainLoaded(req *textureRequest, chainIndex int, blockData []byte, info mipChainInfo) {
	raw, err := decodeBlock(blockData)
	if err != nil {
		fail(req.asset.done, &req.asset.status)
		return
	}

	view := req.asset.views[chainIndex]
	builder := copyqueue.NewBuilder()
	off := 0
	for j := 0; j < int(info.MipCount); j++ {
		level := int(info.MostDetailedMip) + j
		w, h := req.asset.mipExtent(level)
		n := w * h * req.asset.pixelFmt.Size()
		if off+n > len(raw) {
			n = len(raw) - off
		}
		if n <= 0 {
			break
		}
		builder = builder.UploadTexture(req.asset.image, view, int(info.ArraySlice), level,
			gpu.Off3D{}, gpu.Dim3D{Width: w, Height: h, Depth: 1}, raw[off:off+n])
		off += n
	}
	list := builder.Build()
	upload := m.queue.Submit(list)

	m.jobs.Schedule(func() {
		upload.Wait()
		if upload.Failed() {
			fail(req.asset.done, &req.asset.status)
			return
		}
		complete := req.loaded.setBit(chainIndex, len(req.chains))
		if complete {
			markComplete(req.asset.done, &req.asset.status, CompletelyLoaded)
		} else {
			req.asset.status.store(HasLoadedMips)
		}
	}, job.Light)
}

// loadFallback decodes a plain PNG/JPEG (anything the stdlib image
// package registers a decoder for) and uploads it as a single-
// layer texture, generating the mip chain on the CPU with
// golang.org/x/image/draw instead of expecting a pre-baked
// mip-chain container.
func (m *TextureManager) loadFallback(asset *TextureAsset, data []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}
	b := img.Bounds()
	levels := 1
	for w, h := b.Dx(), b.Dy(); w > 1 || h > 1; w, h = (w+1)/2, (h+1)/2 {
		levels++
	}

	gimg, err := ctxt.GPU().NewImage(gpu.RGBA8un, gpu.Dim3D{Width: b.Dx(), Height: b.Dy(), Depth: 1}, 1, levels, 1, gpu.UShaderSample|gpu.UCopyDst)
	if err != nil {
		return false
	}
	view, err := gimg.NewView(gpu.IView2D, 0, 1, 0, levels)
	if err != nil {
		gimg.Destroy()
		return false
	}

	builder := copyqueue.NewBuilder()
	level := image.NewRGBA(b)
	stddraw.Draw(level, b, img, b.Min, stddraw.Src)
	w, h := b.Dx(), b.Dy()
	for l := 0; l < levels; l++ {
		builder = builder.UploadTexture(gimg, view, 0, l, gpu.Off3D{}, gpu.Dim3D{Width: w, Height: h, Depth: 1}, level.Pix)
		if w == 1 && h == 1 {
			break
		}
		nw, nh := (w+1)/2, (h+1)/2
		next := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.BiLinear.Scale(next, next.Bounds(), level, level.Bounds(), draw.Over, nil)
		level, w, h = next, nw, nh
	}

	asset.image = gimg
	asset.views = []gpu.ImageView{view}
	asset.pixelFmt = gpu.RGBA8un
	asset.baseW, asset.baseH = b.Dx(), b.Dy()
	asset.status.store(HeaderLoaded)

	list := builder.Invoke(func() {
		markComplete(asset.done, &asset.status, CompletelyLoaded)
	}).Build()
	m.queue.Submit(list)
	return true
}
