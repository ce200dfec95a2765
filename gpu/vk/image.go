// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"sort"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// image implements gpu.Image.
type image struct {
	d      *Driver
	m      *devMemory
	img    vk.Image
	fmt    vk.Format
	aspect vk.ImageAspectFlags
	layers int
	levels int
	layout vk.ImageLayout
	id     gpu.ResourceID

	// viewCache holds every view created from this image,
	// keyed by its (layer, layers, level, levels) range and kept sorted by key so
	// that lookups are a binary search and insertion is an
	// append-then-reshuffle: views are created rarely relative
	// to how often the same subresource is requested again
	// (texture streaming re-requests the same mip range every
	// frame it is bound), so a sorted slice beats a tree here.
	viewMu sync.Mutex
	views  []cachedView
}

type cachedView struct {
	key  uint64
	view *imageView
}

func viewKey(layer, layers, level, levels int) uint64 {
	return uint64(uint16(layer))<<48 | uint64(uint16(layers))<<32 | uint64(uint16(level))<<16 | uint64(uint16(levels))
}

// NewImage creates a new image.
func (d *Driver) NewImage(pf gpu.PixelFmt, size gpu.Dim3D, layers, levels, samples int, usg gpu.Usage) (gpu.Image, error) {
	format := convPixelFmt(pf)
	scount := convSamples(samples)
	aspect := aspectOf(pf)

	var typ vk.ImageType
	var flags vk.ImageCreateFlags
	switch {
	case size.Depth > 1:
		typ = vk.ImageType3d
	case size.Height > 1:
		if samples == 1 && size.Width == size.Height && layers >= 6 {
			flags |= vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
		}
		typ = vk.ImageType2d
	default:
		typ = vk.ImageType1d
	}

	var usage vk.ImageUsageFlags
	if usg&(gpu.UShaderRead|gpu.UShaderWrite) != 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if usg&gpu.UShaderSample != 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if usg&gpu.URenderTarget != 0 {
		if aspect == vk.ImageAspectFlags(vk.ImageAspectColorBit) {
			usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		} else {
			usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		}
	}
	if usage == 0 {
		panic("cannot create image without a valid usage")
	}
	usage |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit) | vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)

	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: typ,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(size.Width),
			Height: uint32(size.Height),
			Depth:  uint32(size.Depth),
		},
		MipLevels:     uint32(levels),
		ArrayLayers:   uint32(layers),
		Samples:       scount,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var img vk.Image
	if res := vk.CreateImage(d.dev, &info, nil, &img); res != vk.Success {
		return nil, checkResult(res)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.dev, img, &req)
	m, err := d.newMemory(req, false)
	if err != nil {
		vk.DestroyImage(d.dev, img, nil)
		return nil, err
	}
	if res := vk.BindImageMemory(d.dev, img, m.mem, 0); res != vk.Success {
		m.free()
		vk.DestroyImage(d.dev, img, nil)
		return nil, checkResult(res)
	}
	m.bound = true

	im := &image{
		d:      d,
		m:      m,
		img:    img,
		fmt:    format,
		aspect: aspect,
		layers: layers,
		levels: levels,
		layout: vk.ImageLayoutUndefined,
		id:     gpu.ResourceID(d.ids.Next()),
	}
	if err := im.transitionToGeneral(); err != nil {
		im.Destroy()
		return nil, err
	}
	return im, nil
}

// ID returns the resource identifier.
func (im *image) ID() gpu.ResourceID { return im.id }

// transitionToGeneral issues a one-off command buffer that
// transitions the freshly created image out of UNDEFINED.
func (im *image) transitionToGeneral() error {
	if im.layout == vk.ImageLayoutGeneral {
		return nil
	}
	cbi, err := im.d.NewCmdBuffer()
	if err != nil {
		return err
	}
	cb := cbi.(*cmdBuffer)
	defer cb.Destroy()
	if err := cb.Begin(); err != nil {
		return err
	}
	cb.transitionImage(im, vk.ImageLayoutGeneral, vk.ImageSubresourceRange{
		AspectMask: im.aspect,
		LevelCount: uint32(im.levels),
		LayerCount: uint32(im.layers),
	})
	if err := cb.End(); err != nil {
		return err
	}
	ch := make(chan error, 1)
	im.d.Commit([]gpu.CmdBuffer{cb}, ch)
	err = <-ch
	if err == nil {
		im.layout = vk.ImageLayoutGeneral
	}
	return err
}

// Destroy destroys the image and every view created from it.
func (im *image) Destroy() {
	if im == nil || im.d == nil {
		return
	}
	d, img, m := im.d, im.img, im.m
	views := im.views
	d.destroy.push(d.destroy.last(), func() {
		for _, cv := range views {
			vk.DestroyImageView(d.dev, cv.view.view, nil)
		}
		vk.DestroyImage(d.dev, img, nil)
		m.free()
		d.ids.Release(uint32(im.id))
	})
	*im = image{}
}

// imageView implements gpu.ImageView.
type imageView struct {
	i    *image     // Created from an image (s is nil).
	s    *swapchain // Created from a swapchain (i is nil).
	view vk.ImageView
	sub  gpu.Subresource
}

// NewView creates a new image view, returning a cached view
// if one was already created for the same subresource range.
func (im *image) NewView(typ gpu.ViewType, layer, layers, level, levels int) (gpu.ImageView, error) {
	k := viewKey(layer, layers, level, levels)

	im.viewMu.Lock()
	defer im.viewMu.Unlock()
	i := sort.Search(len(im.views), func(i int) bool { return im.views[i].key >= k })
	if i < len(im.views) && im.views[i].key == k {
		return im.views[i].view, nil
	}

	viewType := convViewType(typ)
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    im.img,
		ViewType: viewType,
		Format:   im.fmt,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     im.aspect,
			BaseMipLevel:   uint32(level),
			LevelCount:     uint32(levels),
			BaseArrayLayer: uint32(layer),
			LayerCount:     uint32(layers),
		},
	}
	var v vk.ImageView
	if res := vk.CreateImageView(im.d.dev, &info, nil, &v); res != vk.Success {
		return nil, checkResult(res)
	}
	iv := &imageView{i: im, view: v, sub: gpu.Subresource{
		MostDetailedMip: level,
		MipCount:        levels,
		FirstArraySlice: layer,
		ArraySize:       layers,
	}}

	im.views = append(im.views, cachedView{})
	copy(im.views[i+1:], im.views[i:])
	im.views[i] = cachedView{key: k, view: iv}
	return iv, nil
}

// Destroy destroys the image view.
// Views created from an image are owned by that image's cache
// and are actually freed when the image itself is destroyed;
// calling Destroy on one of those is a documented no-op that
// keeps the cache valid for other callers still holding it.
// Views created from a swapchain have no such cache and are
// destroyed immediately.
func (v *imageView) Destroy() {
	if v.s != nil {
		vk.DestroyImageView(v.s.d.dev, v.view, nil)
	}
}

// convPixelFmt converts a gpu.PixelFmt to a vk.Format.
func convPixelFmt(pf gpu.PixelFmt) vk.Format {
	if pf.IsInternal() {
		return vk.Format(^gpu.FInternal & pf)
	}
	switch pf {
	case gpu.RGBA8un:
		return vk.FormatR8g8b8a8Unorm
	case gpu.RGBA8n:
		return vk.FormatR8g8b8a8Snorm
	case gpu.RGBA8sRGB:
		return vk.FormatR8g8b8a8Srgb
	case gpu.BGRA8un:
		return vk.FormatB8g8r8a8Unorm
	case gpu.BGRA8sRGB:
		return vk.FormatB8g8r8a8Srgb
	case gpu.RG8un:
		return vk.FormatR8g8Unorm
	case gpu.RG8n:
		return vk.FormatR8g8Snorm
	case gpu.R8un:
		return vk.FormatR8Unorm
	case gpu.R8n:
		return vk.FormatR8Snorm
	case gpu.RGBA16f:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.RG16f:
		return vk.FormatR16g16Sfloat
	case gpu.R16f:
		return vk.FormatR16Sfloat
	case gpu.RGBA32f:
		return vk.FormatR32g32b32a32Sfloat
	case gpu.RG32f:
		return vk.FormatR32g32Sfloat
	case gpu.R32f:
		return vk.FormatR32Sfloat
	case gpu.D16un:
		return vk.FormatD16Unorm
	case gpu.D32f:
		return vk.FormatD32Sfloat
	case gpu.S8ui:
		return vk.FormatS8Uint
	case gpu.D24unS8ui:
		return vk.FormatD24UnormS8Uint
	case gpu.D32fS8ui:
		return vk.FormatD32SfloatS8Uint
	}
	return vk.FormatUndefined
}

// convSamples converts a sample count to a vk.SampleCountFlagBits.
func convSamples(ns int) vk.SampleCountFlagBits {
	switch ns {
	case 1:
		return vk.SampleCount1Bit
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	case 32:
		return vk.SampleCount32Bit
	case 64:
		return vk.SampleCount64Bit
	}
	return vk.SampleCount1Bit
}

// aspectOf returns the VkImageAspectFlags for a gpu.PixelFmt.
func aspectOf(pf gpu.PixelFmt) vk.ImageAspectFlags {
	switch pf {
	case gpu.D24unS8ui, gpu.D32fS8ui:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit) | vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	case gpu.D16un, gpu.D32f:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case gpu.S8ui:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// convViewType converts a gpu.ViewType to a vk.ImageViewType.
func convViewType(typ gpu.ViewType) vk.ImageViewType {
	switch typ {
	case gpu.IView1D, gpu.IView1DArray:
		if typ == gpu.IView1DArray {
			return vk.ImageViewType1dArray
		}
		return vk.ImageViewType1d
	case gpu.IView2D, gpu.IView2DMS:
		return vk.ImageViewType2d
	case gpu.IView2DArray, gpu.IView2DMSArray:
		return vk.ImageViewType2dArray
	case gpu.IView3D:
		return vk.ImageViewType3d
	case gpu.IViewCube:
		return vk.ImageViewTypeCube
	case gpu.IViewCubeArray:
		return vk.ImageViewTypeCubeArray
	}
	return vk.ImageViewType2d
}
