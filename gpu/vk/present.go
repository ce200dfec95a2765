// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/wsi"
)

// swapchain implements gpu.Swapchain.
type swapchain struct {
	d    *Driver
	win  wsi.Window
	qfam uint32
	sf   vk.Surface
	sc   vk.Swapchain
	pf   gpu.PixelFmt

	views []gpu.ImageView
	// imgs holds a bare *image wrapper per entry in views, used
	// only to carry aspect/layer/level counts and the current
	// layout into cmdBuffer.transitionImage; swapchain images
	// have no gpu.Image/memory allocation of their own.
	imgs []*image
	mu   sync.Mutex

	// minImg and curImg bound the number of images that may be
	// acquired at once: 1 + len(views) - minImg.
	minImg int
	curImg int

	// sems holds one acquire semaphore per possible in-flight
	// acquisition; viewSync/syncUsed track which of them is
	// currently bound to which acquired view.
	sems     []vk.Semaphore
	viewSync []int
	syncUsed []bool

	// broken is set once an Out-of-date/Suboptimal result is
	// observed; Recreate or Destroy is expected to follow.
	broken bool
}

// NewSwapchain creates a new swapchain for win.
func (d *Driver) NewSwapchain(win wsi.Window, imageCount int) (gpu.Swapchain, error) {
	if !d.surfaceExt {
		return nil, gpu.ErrCannotPresent
	}
	s := &swapchain{d: d, win: win}
	if err := s.initSurface(); err != nil {
		return nil, err
	}
	if err := s.initSwapchain(imageCount); err != nil {
		vk.DestroySurface(d.inst, s.sf, nil)
		return nil, err
	}
	if err := s.newViews(); err != nil {
		vk.DestroySwapchain(d.dev, s.sc, nil)
		vk.DestroySurface(d.inst, s.sf, nil)
		return nil, err
	}
	if err := s.syncSetup(); err != nil {
		vk.DestroySwapchain(d.dev, s.sc, nil)
		vk.DestroySurface(d.inst, s.sf, nil)
		return nil, err
	}
	return s, nil
}

// initSurface creates the VkSurfaceKHR for s.win and picks a
// queue family able to present to it.
func (s *swapchain) initSurface() error {
	glfwWin, err := wsi.Handle(s.win)
	if err != nil {
		return err
	}
	surfPtr, err := glfwWin.CreateWindowSurface(s.d.inst, nil)
	if err != nil {
		return gpu.ErrWindow
	}
	s.sf = vk.SurfaceFromPointer(surfPtr)
	qfam, err := s.d.presQueueFor(s.sf)
	if err != nil {
		return err
	}
	s.qfam = qfam
	return nil
}

// initSwapchain (re)creates the swapchain object from s.sf.
func (s *swapchain) initSwapchain(imageCount int) error {
	var capab vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(s.d.pdev, s.sf, &capab); res != vk.Success {
		return checkResult(res)
	}
	capab.Deref()
	capab.CurrentExtent.Deref()
	capab.MinImageExtent.Deref()
	capab.MaxImageExtent.Deref()

	nimg := uint32(imageCount)
	if capab.MinImageCount > nimg {
		nimg = capab.MinImageCount
	} else if capab.MaxImageCount != 0 && capab.MaxImageCount < nimg {
		nimg = capab.MaxImageCount
	}

	var extent vk.Extent2D
	if capab.CurrentExtent.Width == vk.MaxUint32 {
		extent.Width = uint32(s.win.Width())
		extent.Height = uint32(s.win.Height())
	} else {
		extent = capab.CurrentExtent
	}
	if extent.Width == 0 || extent.Height == 0 {
		return gpu.ErrWindow
	}

	xform := capab.CurrentTransform

	var calpha vk.CompositeAlphaFlagBits
	switch ca := vk.CompositeAlphaFlags(capab.SupportedCompositeAlpha); {
	case ca&vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit) != 0:
		calpha = vk.CompositeAlphaOpaqueBit
	case ca&vk.CompositeAlphaFlags(vk.CompositeAlphaInheritBit) != 0:
		calpha = vk.CompositeAlphaInheritBit
	default:
		return gpu.ErrCompositor
	}

	var nfmt uint32
	vk.GetPhysicalDeviceSurfaceFormats(s.d.pdev, s.sf, &nfmt, nil)
	if nfmt == 0 {
		return gpu.ErrCannotPresent
	}
	fmts := make([]vk.SurfaceFormat, nfmt)
	vk.GetPhysicalDeviceSurfaceFormats(s.d.pdev, s.sf, &nfmt, fmts)
	for i := range fmts {
		fmts[i].Deref()
	}

	prefFmts := []struct {
		pf  gpu.PixelFmt
		fmt vk.Format
	}{
		{gpu.RGBA8sRGB, vk.FormatR8g8b8a8Srgb},
		{gpu.BGRA8sRGB, vk.FormatB8g8r8a8Srgb},
		{gpu.RGBA8un, vk.FormatR8g8b8a8Unorm},
		{gpu.BGRA8un, vk.FormatB8g8r8a8Unorm},
		{gpu.RGBA16f, vk.FormatR16g16b16a16Sfloat},
	}
	ifmt := -1
fmtLoop:
	for i := range prefFmts {
		for j := range fmts {
			if prefFmts[i].fmt == fmts[j].Format {
				s.pf = prefFmts[i].pf
				ifmt = j
				break fmtLoop
			}
		}
	}
	if ifmt == -1 {
		if len(fmts) == 1 && fmts[0].Format == vk.FormatUndefined {
			fmts[0].Format = prefFmts[0].fmt
			fmts[0].ColorSpace = vk.ColorSpaceSrgbNonlinear
			s.pf = prefFmts[0].pf
			ifmt = 0
		} else {
			// Not one of the formats convPixelFmt knows about;
			// store the raw VkFormat so convPixelFmt's inverse
			// (IsInternal) can recover it.
			s.pf = gpu.PixelFmt(fmts[0].Format) | gpu.FInternal
			ifmt = 0
		}
	}

	mode := vk.PresentModeFifo

	old := s.sc
	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.sf,
		MinImageCount:    nimg,
		ImageFormat:      fmts[ifmt].Format,
		ImageColorSpace:  fmts[ifmt].ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformFlagBits(xform),
		CompositeAlpha:   calpha,
		PresentMode:      mode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	var sc vk.Swapchain
	res := vk.CreateSwapchain(s.d.dev, &info, nil, &sc)
	if old != nil {
		vk.DestroySwapchain(s.d.dev, old, nil)
	}
	if res != vk.Success {
		s.sc = nil
		return checkResult(res)
	}
	s.sc = sc
	s.minImg = int(capab.MinImageCount)
	s.curImg = 0
	return nil
}

// newViews creates a gpu.ImageView for every image in s.sc,
// destroying any views from a previous call.
func (s *swapchain) newViews() error {
	var nimg uint32
	if res := vk.GetSwapchainImages(s.d.dev, s.sc, &nimg, nil); res != vk.Success {
		return checkResult(res)
	}
	imgs := make([]vk.Image, nimg)
	if res := vk.GetSwapchainImages(s.d.dev, s.sc, &nimg, imgs); res != vk.Success {
		return checkResult(res)
	}

	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		ViewType: vk.ImageViewType2d,
		Format:   convPixelFmt(s.pf),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	for _, v := range s.views {
		v.Destroy()
	}
	views := make([]gpu.ImageView, nimg)
	for i := range views {
		info.Image = imgs[i]
		var view vk.ImageView
		if res := vk.CreateImageView(s.d.dev, &info, nil, &view); res != vk.Success {
			for j := 0; j < i; j++ {
				views[j].Destroy()
			}
			return checkResult(res)
		}
		views[i] = &imageView{s: s, view: view, sub: gpu.Subresource{MipCount: 1, ArraySize: 1}}
	}
	s.views = views
	s.imgs = make([]*image, nimg)
	for i := range s.imgs {
		s.imgs[i] = &image{
			d:      s.d,
			img:    imgs[i],
			fmt:    info.Format,
			aspect: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			layers: 1,
			levels: 1,
			layout: vk.ImageLayoutUndefined,
		}
	}
	return nil
}

// syncSetup (re)creates the semaphores used to synchronize
// image acquisition.
func (s *swapchain) syncSetup() error {
	if len(s.viewSync) != len(s.views) {
		s.viewSync = make([]int, len(s.views))
	}
	n := 1 + len(s.views) - s.minImg
	if len(s.syncUsed) != n {
		s.syncUsed = make([]bool, n)
	}
	i := len(s.sems)
	switch {
	case i < n:
		info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		for ; i < n; i++ {
			var sem vk.Semaphore
			if res := vk.CreateSemaphore(s.d.dev, &info, nil, &sem); res != vk.Success {
				return checkResult(res)
			}
			s.sems = append(s.sems, sem)
		}
	case i > n:
		for ; i > n; i-- {
			vk.DestroySemaphore(s.d.dev, s.sems[i-1], nil)
		}
		s.sems = s.sems[:n]
	}
	return nil
}

// Views returns the list of image views that comprises the
// swapchain.
func (s *swapchain) Views() []gpu.ImageView {
	views := make([]gpu.ImageView, len(s.views))
	copy(views, s.views)
	return views
}

// Next returns the index of the next writable image view.
func (s *swapchain) Next(cbi gpu.CmdBuffer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return -1, gpu.ErrSwapchain
	}
	if s.curImg > len(s.views)-s.minImg {
		return -1, gpu.ErrNoBackbuffer
	}
	sync := -1
	for i := range s.syncUsed {
		if !s.syncUsed[i] {
			sync = i
			break
		}
	}
	if sync == -1 {
		panic("vk: no swapchain sync data to use")
	}

	var idx uint32
	res := vk.AcquireNextImage(s.d.dev, s.sc, vk.MaxUint64, s.sems[sync], vk.NullFence, &idx)
	switch res {
	case vk.Success:
	case vk.Suboptimal:
		s.curImg++
		s.broken = true
		return -1, gpu.ErrSwapchain
	case vk.ErrorOutOfDate:
		s.broken = true
		return -1, gpu.ErrSwapchain
	default:
		return -1, checkResult(res)
	}
	s.curImg++
	s.viewSync[idx] = sync
	s.syncUsed[sync] = true

	cb := cbi.(*cmdBuffer)
	// The acquired image's contents are discarded; transition it
	// straight to the layout every render pass expects.
	cb.transitionImage(s.imgs[idx], vk.ImageLayoutGeneral, vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	})
	return int(idx), nil
}

// Present records the transition to the present layout for
// the image view identified by index.
// The actual presentation request is queued on cb and carried
// out by Driver.Commit once cb is submitted.
func (s *swapchain) Present(index int, cbi gpu.CmdBuffer) error {
	if s.broken {
		return gpu.ErrSwapchain
	}
	cb := cbi.(*cmdBuffer)
	cb.transitionImage(s.imgs[index], vk.ImageLayoutPresentSrc, vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	})
	cb.pres = append(cb.pres, presentOp{sc: s, view: index})
	return nil
}

// present submits a presentation request for index, waiting
// on waitSem (a semaphore signaled by the queue submission
// that rendered into it).
func (s *swapchain) present(index int, waitSem vk.Semaphore) error {
	scs := []vk.Swapchain{s.sc}
	idxs := []uint32{uint32(index)}
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{waitSem},
		SwapchainCount:     1,
		PSwapchains:        scs,
		PImageIndices:      idxs,
	}
	s.d.qmus[s.qfam].Lock()
	res := vk.QueuePresent(s.d.ques[s.qfam], &info)
	s.d.qmus[s.qfam].Unlock()
	switch res {
	case vk.Success:
		s.mu.Lock()
		s.curImg--
		s.syncUsed[s.viewSync[index]] = false
		s.mu.Unlock()
		return nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		s.broken = true
		return gpu.ErrSwapchain
	}
	return checkResult(res)
}

// Recreate recreates the swapchain, reusing the existing
// surface.
func (s *swapchain) Recreate() error {
	vk.QueueWaitIdle(s.d.ques[s.qfam])
	if err := s.initSwapchain(len(s.views)); err != nil {
		return err
	}
	if err := s.newViews(); err != nil {
		return err
	}
	if err := s.syncSetup(); err != nil {
		return err
	}
	s.broken = false
	return nil
}

// Format returns the image views' gpu.PixelFmt.
func (s *swapchain) Format() gpu.PixelFmt { return s.pf }

// Destroy destroys the swapchain.
func (s *swapchain) Destroy() {
	if s == nil || s.d == nil {
		return
	}
	vk.QueueWaitIdle(s.d.ques[s.qfam])
	for _, sem := range s.sems {
		vk.DestroySemaphore(s.d.dev, sem, nil)
	}
	for _, v := range s.views {
		v.Destroy()
	}
	vk.DestroySwapchain(s.d.dev, s.sc, nil)
	vk.DestroySurface(s.d.inst, s.sf, nil)
	*s = swapchain{}
}

// presQueueFor returns the index of a queue family that
// supports presentation to sf, preferring the graphics family
// and caching the result in d.presentFam since every surface
// created by this driver's wsi backend shares one display
// connection and is satisfied by the same family in practice.
func (d *Driver) presQueueFor(sf vk.Surface) (uint32, error) {
	if d.presentFamSet {
		var sup vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(d.pdev, d.presentFam, sf, &sup); res == vk.Success && sup == vk.True {
			return d.presentFam, nil
		}
	}

	n := uint32(len(d.ques))
	e := gpu.ErrCannotPresent
	var sup vk.Bool32
	for i := uint32(0); i < n; i++ {
		qfam := (i + d.graphicsFam) % n
		res := vk.GetPhysicalDeviceSurfaceSupport(d.pdev, qfam, sf, &sup)
		if res != vk.Success {
			e = checkResult(res)
			continue
		}
		if sup == vk.True {
			d.presentFam = qfam
			d.presentFamSet = true
			return qfam, nil
		}
	}
	return ^uint32(0), e
}
