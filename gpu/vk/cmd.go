// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"errors"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// cmdBuffer implements gpu.CmdBuffer.
type cmdBuffer struct {
	d    *Driver
	pool vk.CommandPool
	cb   vk.CommandBuffer

	pass vk.RenderPass
	fb   vk.Framebuffer

	graphPipe *graphPipeline
	compPipe  *compPipeline

	// batcher stages Transition calls so that they are flushed
	// as a single vkCmdPipelineBarrier2 call on EndBlit.
	// Barrier calls do not go through it.
	batcher *barrierBatcher

	// pres accumulates swapchain presentation requests recorded
	// via Present, to be issued by Driver.Commit once the
	// buffer's submission has been queued.
	pres []presentOp

	recording bool
}

// presentOp records a pending presentation request against a
// swapchain image, to be carried out by Driver.Commit after
// the owning command buffer is submitted.
type presentOp struct {
	sc   *swapchain
	view int
}

// NewCmdBuffer creates a new command buffer from a transient
// pool bound to the graphics queue family.
func (d *Driver) NewCmdBuffer() (gpu.CmdBuffer, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.graphicsFam,
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.dev, &poolInfo, nil, &pool); res != vk.Success {
		return nil, checkResult(res)
	}
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.dev, &allocInfo, cbs); res != vk.Success {
		vk.DestroyCommandPool(d.dev, pool, nil)
		return nil, checkResult(res)
	}
	cb := &cmdBuffer{d: d, pool: pool, cb: cbs[0]}
	if bb, ok := d.NewBarrierBatcher().(*barrierBatcher); ok {
		bb.cb = cb
		cb.batcher = bb
	}
	return cb, nil
}

// Begin prepares the command buffer for recording.
func (cb *cmdBuffer) Begin() error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(cb.cb, &info); res != vk.Success {
		return checkResult(res)
	}
	cb.pres = cb.pres[:0]
	cb.recording = true
	return nil
}

// BeginPass begins the first subpass of pass.
func (cb *cmdBuffer) BeginPass(passI gpu.RenderPass, fbI gpu.Framebuf, clear []gpu.ClearValue) {
	rp := passI.(*renderPass)
	fb := fbI.(*framebuf)
	clears := make([]vk.ClearValue, len(clear))
	for i, c := range clear {
		var cv vk.ClearValue
		cv.SetColor([]float32{c.Color[0], c.Color[1], c.Color[2], c.Color[3]})
		clears[i] = cv
	}
	info := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.pass,
		Framebuffer:     fb.fb,
		RenderArea:      vk.Rect2D{Extent: vk.Extent2D{Width: uint32(fb.width), Height: uint32(fb.height)}},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(cb.cb, &info, vk.SubpassContentsInline)
	cb.pass, cb.fb = rp.pass, fb.fb
}

// NextSubpass advances to the next subpass.
func (cb *cmdBuffer) NextSubpass() {
	vk.CmdNextSubpass(cb.cb, vk.SubpassContentsInline)
}

// EndPass ends the current render pass.
func (cb *cmdBuffer) EndPass() {
	vk.CmdEndRenderPass(cb.cb)
	cb.pass, cb.fb = nil, nil
}

// BeginWork begins compute work.
func (cb *cmdBuffer) BeginWork(wait bool) {
	if wait {
		cb.fullBarrier()
	}
}

// EndWork ends compute work.
func (cb *cmdBuffer) EndWork() { cb.compPipe = nil }

// BeginBlit begins data transfer.
func (cb *cmdBuffer) BeginBlit(wait bool) {
	if wait {
		cb.fullBarrier()
	}
}

// EndBlit ends data transfer, flushing any image barriers
// staged by Transition calls.
func (cb *cmdBuffer) EndBlit() {
	if cb.batcher != nil {
		cb.batcher.Flush(cb)
	}
}

// fullBarrier inserts a coarse, all-commands/all-accesses
// barrier, used when a caller requests that a block of work
// wait on everything recorded so far in the same buffer.
func (cb *cmdBuffer) fullBarrier() {
	mb := vk.MemoryBarrier2{
		SType:         vk.StructureTypeMemoryBarrier2,
		SrcStageMask:  vk.PipelineStageFlags2(vk.PipelineStage2AllCommandsBit),
		SrcAccessMask: vk.AccessFlags2(vk.AccessMemoryWriteBit),
		DstStageMask:  vk.PipelineStageFlags2(vk.PipelineStage2AllCommandsBit),
		DstAccessMask: vk.AccessFlags2(vk.AccessMemoryReadBit) | vk.AccessFlags2(vk.AccessMemoryWriteBit),
	}
	dep := vk.DependencyInfo{
		SType:              vk.StructureTypeDependencyInfo,
		MemoryBarrierCount: 1,
		PMemoryBarriers:    []vk.MemoryBarrier2{mb},
	}
	vk.CmdPipelineBarrier2(cb.cb, &dep)
}

// SetPipeline sets the bound pipeline.
func (cb *cmdBuffer) SetPipeline(plI gpu.Pipeline) {
	switch p := plI.(type) {
	case *graphPipeline:
		cb.graphPipe = p
		vk.CmdBindPipeline(cb.cb, vk.PipelineBindPointGraphics, p.pipe)
	case *compPipeline:
		cb.compPipe = p
		vk.CmdBindPipeline(cb.cb, vk.PipelineBindPointCompute, p.pipe)
	}
}

// SetViewport sets one or more viewports.
func (cb *cmdBuffer) SetViewport(vp []gpu.Viewport) {
	vs := make([]vk.Viewport, len(vp))
	for i, v := range vp {
		vs[i] = vk.Viewport{X: v.X, Y: v.Y, Width: v.Width, Height: v.Height, MinDepth: v.Znear, MaxDepth: v.Zfar}
	}
	vk.CmdSetViewport(cb.cb, 0, uint32(len(vs)), vs)
}

// SetScissor sets one or more scissor rectangles.
func (cb *cmdBuffer) SetScissor(sciss []gpu.Scissor) {
	ss := make([]vk.Rect2D, len(sciss))
	for i, s := range sciss {
		ss[i] = vk.Rect2D{
			Offset: vk.Offset2D{X: int32(s.X), Y: int32(s.Y)},
			Extent: vk.Extent2D{Width: uint32(s.Width), Height: uint32(s.Height)},
		}
	}
	vk.CmdSetScissor(cb.cb, 0, uint32(len(ss)), ss)
}

// SetBlendColor sets the constant blend color.
func (cb *cmdBuffer) SetBlendColor(r, g, b, a float32) {
	vk.CmdSetBlendConstants(cb.cb, [4]float32{r, g, b, a})
}

// SetStencilRef sets the stencil reference value.
func (cb *cmdBuffer) SetStencilRef(value uint32) {
	vk.CmdSetStencilReference(cb.cb, vk.StencilFaceFlags(vk.StencilFrontAndBack), value)
}

// SetVertexBuf sets one or more vertex buffers.
func (cb *cmdBuffer) SetVertexBuf(start int, buf []gpu.Buffer, off []int64) {
	bufs := make([]vk.Buffer, len(buf))
	offs := make([]vk.DeviceSize, len(off))
	for i, b := range buf {
		bufs[i] = b.(*buffer).buf
		offs[i] = vk.DeviceSize(off[i])
	}
	vk.CmdBindVertexBuffers(cb.cb, uint32(start), uint32(len(bufs)), bufs, offs)
}

// SetIndexBuf sets the index buffer.
func (cb *cmdBuffer) SetIndexBuf(format gpu.IndexFmt, buf gpu.Buffer, off int64) {
	t := vk.IndexTypeUint16
	if format == gpu.Index32 {
		t = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(cb.cb, buf.(*buffer).buf, vk.DeviceSize(off), t)
}

// SetDescTableGraph binds a descriptor table for graphics
// pipelines.
func (cb *cmdBuffer) SetDescTableGraph(table gpu.DescTable, start int, heapCopy []int) {
	cb.bindDescTable(vk.PipelineBindPointGraphics, table, start, heapCopy)
}

// SetDescTableComp binds a descriptor table for compute
// pipelines.
func (cb *cmdBuffer) SetDescTableComp(table gpu.DescTable, start int, heapCopy []int) {
	cb.bindDescTable(vk.PipelineBindPointCompute, table, start, heapCopy)
}

func (cb *cmdBuffer) bindDescTable(bp vk.PipelineBindPoint, table gpu.DescTable, start int, heapCopy []int) {
	dt := table.(*descTable)
	var layout vk.PipelineLayout
	if bp == vk.PipelineBindPointGraphics && cb.graphPipe != nil {
		layout = cb.graphPipe.layout
	} else if cb.compPipe != nil {
		layout = cb.compPipe.layout
	}
	sets := dt.setsFor(start, heapCopy)
	vk.CmdBindDescriptorSets(cb.cb, bp, layout, uint32(start), uint32(len(sets)), sets, 0, nil)
}

// Draw draws non-indexed primitives.
func (cb *cmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {
	vk.CmdDraw(cb.cb, uint32(vertCount), uint32(instCount), uint32(baseVert), uint32(baseInst))
}

// DrawIndexed draws indexed primitives.
func (cb *cmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	vk.CmdDrawIndexed(cb.cb, uint32(idxCount), uint32(instCount), uint32(baseIdx), int32(vertOff), uint32(baseInst))
}

// Dispatch dispatches compute work groups.
func (cb *cmdBuffer) Dispatch(x, y, z int) {
	vk.CmdDispatch(cb.cb, uint32(x), uint32(y), uint32(z))
}

// CopyBuffer copies data between buffers.
func (cb *cmdBuffer) CopyBuffer(p *gpu.BufferCopy) {
	r := vk.BufferCopy{SrcOffset: vk.DeviceSize(p.FromOff), DstOffset: vk.DeviceSize(p.ToOff), Size: vk.DeviceSize(p.Size)}
	vk.CmdCopyBuffer(cb.cb, p.From.(*buffer).buf, p.To.(*buffer).buf, 1, []vk.BufferCopy{r})
}

// CopyImage copies data between images.
func (cb *cmdBuffer) CopyImage(p *gpu.ImageCopy) {
	from := p.From.(*image)
	to := p.To.(*image)
	r := vk.ImageCopy{
		SrcSubresource: vk.ImageSubresourceLayers{AspectMask: from.aspect, MipLevel: uint32(p.FromLevel), BaseArrayLayer: uint32(p.FromLayer), LayerCount: uint32(p.Layers)},
		SrcOffset:      vk.Offset3D{X: int32(p.FromOff.X), Y: int32(p.FromOff.Y), Z: int32(p.FromOff.Z)},
		DstSubresource: vk.ImageSubresourceLayers{AspectMask: to.aspect, MipLevel: uint32(p.ToLevel), BaseArrayLayer: uint32(p.ToLayer), LayerCount: uint32(p.Layers)},
		DstOffset:      vk.Offset3D{X: int32(p.ToOff.X), Y: int32(p.ToOff.Y), Z: int32(p.ToOff.Z)},
		Extent:         vk.Extent3D{Width: uint32(p.Size.Width), Height: uint32(p.Size.Height), Depth: uint32(p.Size.Depth)},
	}
	vk.CmdCopyImage(cb.cb, from.img, vk.ImageLayoutGeneral, to.img, vk.ImageLayoutGeneral, 1, []vk.ImageCopy{r})
}

// aspectFor returns the aspect to use for a buffer/image copy,
// honoring DepthCopy when img has a combined depth/stencil
// format.
func aspectFor(img *image, depthCopy bool) vk.ImageAspectFlags {
	combined := img.aspect == vk.ImageAspectFlags(vk.ImageAspectDepthBit)|vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	if !combined {
		return img.aspect
	}
	if depthCopy {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
}

// CopyBufToImg copies data from a buffer to an image.
func (cb *cmdBuffer) CopyBufToImg(p *gpu.BufImgCopy) {
	img := p.Img.(*image)
	r := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(p.BufOff),
		BufferRowLength:   uint32(p.Stride[0]),
		BufferImageHeight: uint32(p.Stride[1]),
		ImageSubresource:  vk.ImageSubresourceLayers{AspectMask: aspectFor(img, p.DepthCopy), MipLevel: uint32(p.Level), BaseArrayLayer: uint32(p.Layer), LayerCount: 1},
		ImageOffset:       vk.Offset3D{X: int32(p.ImgOff.X), Y: int32(p.ImgOff.Y), Z: int32(p.ImgOff.Z)},
		ImageExtent:       vk.Extent3D{Width: uint32(p.Size.Width), Height: uint32(p.Size.Height), Depth: uint32(p.Size.Depth)},
	}
	vk.CmdCopyBufferToImage(cb.cb, p.Buf.(*buffer).buf, img.img, vk.ImageLayoutGeneral, 1, []vk.BufferImageCopy{r})
}

// CopyImgToBuf copies data from an image to a buffer.
func (cb *cmdBuffer) CopyImgToBuf(p *gpu.BufImgCopy) {
	img := p.Img.(*image)
	r := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(p.BufOff),
		BufferRowLength:   uint32(p.Stride[0]),
		BufferImageHeight: uint32(p.Stride[1]),
		ImageSubresource:  vk.ImageSubresourceLayers{AspectMask: aspectFor(img, p.DepthCopy), MipLevel: uint32(p.Level), BaseArrayLayer: uint32(p.Layer), LayerCount: 1},
		ImageOffset:       vk.Offset3D{X: int32(p.ImgOff.X), Y: int32(p.ImgOff.Y), Z: int32(p.ImgOff.Z)},
		ImageExtent:       vk.Extent3D{Width: uint32(p.Size.Width), Height: uint32(p.Size.Height), Depth: uint32(p.Size.Depth)},
	}
	vk.CmdCopyImageToBuffer(cb.cb, img.img, vk.ImageLayoutGeneral, p.Buf.(*buffer).buf, 1, []vk.BufferImageCopy{r})
}

// Fill fills a buffer range with value replicated across size
// bytes (vkCmdFillBuffer fills with a 32-bit word, so value
// is replicated four times).
func (cb *cmdBuffer) Fill(buf gpu.Buffer, off int64, value byte, size int64) {
	word := uint32(value) | uint32(value)<<8 | uint32(value)<<16 | uint32(value)<<24
	vk.CmdFillBuffer(cb.cb, buf.(*buffer).buf, vk.DeviceSize(off), vk.DeviceSize(size), word)
}

// Barrier inserts a number of global barriers. gpu.Barrier
// carries only coarse Sync/Access masks rather than a concrete
// resource to key on, so it is recorded as a single
// conservative memory barrier instead of going through the
// per-resource dedup that ResourceBarrierBatcher provides.
func (cb *cmdBuffer) Barrier(b []gpu.Barrier) {
	if len(b) == 0 {
		return
	}
	cb.fullBarrier()
}

// Transition inserts image layout transitions, staging them in
// the command buffer's barrier batcher so that several
// transitions recorded in the same blit block collapse into a
// single vkCmdPipelineBarrier2 call on EndBlit.
func (cb *cmdBuffer) Transition(t []gpu.Transition) {
	for _, tr := range t {
		v, ok := tr.IView.(*imageView)
		if !ok || v.i == nil {
			continue
		}
		if cb.batcher != nil {
			cb.batcher.AddImageBarrier(gpu.ImageBarrierDesc{
				Img:   v.i,
				Sub:   v.sub,
				Write: convWriteType(tr.AccessAfter),
				Read:  convReadType(tr.AccessAfter),
			})
			continue
		}
		cb.transitionImage(v.i, convLayout(tr.LayoutAfter), vk.ImageSubresourceRange{
			AspectMask:     v.i.aspect,
			BaseMipLevel:   uint32(v.sub.MostDetailedMip),
			LevelCount:     uint32(v.sub.MipCount),
			BaseArrayLayer: uint32(v.sub.FirstArraySlice),
			LayerCount:     uint32(v.sub.ArraySize),
		})
	}
}

func convWriteType(a gpu.Access) *gpu.ImageWriteType {
	var w gpu.ImageWriteType
	switch {
	case a&gpu.AColorWrite != 0:
		w = gpu.ImageWriteColorTarget
	case a&gpu.ADSWrite != 0:
		w = gpu.ImageWriteDSTarget
	case a&gpu.AShaderWrite != 0:
		w = gpu.ImageWriteUnorderedAccess
	case a&gpu.ACopyWrite != 0:
		w = gpu.ImageWriteTransferDst
	default:
		return nil
	}
	return &w
}

func convReadType(a gpu.Access) *gpu.ImageReadType {
	var r gpu.ImageReadType
	switch {
	case a&gpu.AColorRead != 0:
		r = gpu.ImageReadColorTarget
	case a&gpu.ADSRead != 0:
		r = gpu.ImageReadDepthRead
	case a&gpu.AShaderRead != 0:
		r = gpu.ImageReadShaderResource
	case a&gpu.ACopyRead != 0:
		r = gpu.ImageReadTransferSrc
	default:
		return nil
	}
	return &r
}

// transitionImage issues a single image-memory barrier that
// moves img's named subresource range to newLayout.
func (cb *cmdBuffer) transitionImage(img *image, newLayout vk.ImageLayout, sub vk.ImageSubresourceRange) {
	b := vk.ImageMemoryBarrier2{
		SType:               vk.StructureTypeImageMemoryBarrier2,
		SrcStageMask:        vk.PipelineStageFlags2(vk.PipelineStage2AllCommandsBit),
		SrcAccessMask:       vk.AccessFlags2(vk.AccessMemoryWriteBit),
		DstStageMask:        vk.PipelineStageFlags2(vk.PipelineStage2AllCommandsBit),
		DstAccessMask:       vk.AccessFlags2(vk.AccessMemoryReadBit) | vk.AccessFlags2(vk.AccessMemoryWriteBit),
		OldLayout:           img.layout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.img,
		SubresourceRange:    sub,
	}
	dep := vk.DependencyInfo{SType: vk.StructureTypeDependencyInfo, ImageMemoryBarrierCount: 1, PImageMemoryBarriers: []vk.ImageMemoryBarrier2{b}}
	vk.CmdPipelineBarrier2(cb.cb, &dep)
	img.layout = newLayout
}

func convLayout(l gpu.Layout) vk.ImageLayout {
	switch l {
	case gpu.LColorTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LDSTarget, gpu.LDSRead:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LResolveSrc, gpu.LCopySrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LResolveDst, gpu.LCopyDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LShaderRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LPresent:
		return vk.ImageLayoutPresentSrc
	case gpu.LUndefined:
		return vk.ImageLayoutUndefined
	default:
		return vk.ImageLayoutGeneral
	}
}

// End ends command recording.
func (cb *cmdBuffer) End() error {
	if res := vk.EndCommandBuffer(cb.cb); res != vk.Success {
		vk.ResetCommandBuffer(cb.cb, vk.CommandBufferResetFlags(0))
		return checkResult(res)
	}
	cb.recording = false
	return nil
}

// Reset discards all recorded commands.
func (cb *cmdBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(cb.cb, vk.CommandBufferResetFlags(0)); res != vk.Success {
		return checkResult(res)
	}
	cb.pres = cb.pres[:0]
	cb.recording = false
	return nil
}

// Destroy destroys the command buffer and its pool.
func (cb *cmdBuffer) Destroy() {
	if cb == nil || cb.d == nil {
		return
	}
	d, pool := cb.d, cb.pool
	d.destroy.push(d.destroy.last(), func() { vk.DestroyCommandPool(d.dev, pool, nil) })
	*cb = cmdBuffer{}
}

// Commit submits cb to the graphics queue in order, reporting
// completion on ch once a fence signals.
func (d *Driver) Commit(cb []gpu.CmdBuffer, ch chan<- error) {
	if len(cb) == 0 {
		if ch != nil {
			ch <- nil
		}
		return
	}
	bufs := make([]vk.CommandBuffer, len(cb))
	var pending []presentOp
	for i, c := range cb {
		cc, ok := c.(*cmdBuffer)
		if !ok {
			if ch != nil {
				ch <- errors.New("vk: foreign command buffer")
			}
			return
		}
		bufs[i] = cc.cb
		pending = append(pending, cc.pres...)
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(bufs)),
		PCommandBuffers:    bufs,
	}

	// When a command buffer recorded a swapchain Present, the
	// queue submission must signal a semaphore for QueuePresent
	// to wait on, since presentation happens on the GPU timeline
	// and must not begin before the render work completes.
	var presentSem vk.Semaphore
	if len(pending) > 0 {
		semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if res := vk.CreateSemaphore(d.dev, &semInfo, nil, &presentSem); res != vk.Success {
			if ch != nil {
				ch <- checkResult(res)
			}
			return
		}
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{presentSem}
	}

	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(d.dev, &fenceInfo, nil, &fence); res != vk.Success {
		if presentSem != nil {
			vk.DestroySemaphore(d.dev, presentSem, nil)
		}
		if ch != nil {
			ch <- checkResult(res)
		}
		return
	}

	d.qmus[d.graphicsFam].Lock()
	res := vk.QueueSubmit(d.ques[d.graphicsFam], 1, []vk.SubmitInfo{submit}, fence)
	d.qmus[d.graphicsFam].Unlock()

	val := d.destroy.bump()
	if res != vk.Success {
		vk.DestroyFence(d.dev, fence, nil)
		if presentSem != nil {
			vk.DestroySemaphore(d.dev, presentSem, nil)
		}
		if ch != nil {
			ch <- checkResult(res)
		}
		return
	}

	var presErr error
	for _, p := range pending {
		if err := p.sc.present(p.view, presentSem); err != nil && presErr == nil {
			presErr = err
		}
	}

	go func() {
		vk.WaitForFences(d.dev, 1, []vk.Fence{fence}, vk.True, ^uint64(0))
		vk.DestroyFence(d.dev, fence, nil)
		if presentSem != nil {
			vk.DestroySemaphore(d.dev, presentSem, nil)
		}
		d.destroy.advance(val)
		if ch != nil {
			ch <- presErr
		}
	}()
}
