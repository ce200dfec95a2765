// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"errors"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// renderPass implements gpu.RenderPass.
type renderPass struct {
	d    *Driver
	pass vk.RenderPass
	// aspect holds the image aspect of each attachment, needed
	// when clearing attachments in a render pass.
	aspect []vk.ImageAspectFlags
	// ncolor holds the number of color attachments used by
	// each subpass, needed when defining color blend state.
	ncolor []int
}

// NewRenderPass creates a new render pass.
func (d *Driver) NewRenderPass(att []gpu.Attachment, sub []gpu.Subpass) (gpu.RenderPass, error) {
	var attDescs []vk.AttachmentDescription
	subDescs := make([]vk.SubpassDescription, len(sub))

	if len(att) > 0 {
		attDescs = make([]vk.AttachmentDescription, len(att))
		for i := range attDescs {
			attDescs[i] = vk.AttachmentDescription{
				Format:         convPixelFmt(att[i].Format),
				Samples:        convSamples(att[i].Samples),
				LoadOp:         convLoadOp(att[i].Load[0]),
				StoreOp:        convStoreOp(att[i].Store[0]),
				StencilLoadOp:  convLoadOp(att[i].Load[1]),
				StencilStoreOp: convStoreOp(att[i].Store[1]),
				InitialLayout:  vk.ImageLayoutGeneral,
				FinalLayout:    vk.ImageLayoutGeneral,
			}
		}

		// noPre tracks attachments referenced by this subpass, so
		// that anything left unused is added to the preserve list.
		noPre := make([]bool, len(att))

		for i := range subDescs {
			var colorRefs []vk.AttachmentReference
			var dsRef *vk.AttachmentReference
			var resolveRefs []vk.AttachmentReference

			for _, k := range sub[i].Color {
				colorRefs = append(colorRefs, vk.AttachmentReference{
					Attachment: uint32(k),
					Layout:     vk.ImageLayoutColorAttachmentOptimal,
				})
				noPre[k] = true
			}
			if sub[i].DS >= 0 && sub[i].DS < len(att) {
				dsRef = &vk.AttachmentReference{
					Attachment: uint32(sub[i].DS),
					Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
				}
				noPre[sub[i].DS] = true
			}
			for _, k := range sub[i].MSR {
				if k >= 0 && k < len(att) {
					resolveRefs = append(resolveRefs, vk.AttachmentReference{
						Attachment: uint32(k),
						Layout:     vk.ImageLayoutColorAttachmentOptimal,
					})
					noPre[k] = true
				} else {
					resolveRefs = append(resolveRefs, vk.AttachmentReference{
						Attachment: vk.AttachmentUnused,
						Layout:     vk.ImageLayoutUndefined,
					})
				}
			}

			var preserve []uint32
			for j := range noPre {
				if !noPre[j] {
					preserve = append(preserve, uint32(j))
				} else {
					noPre[j] = false
				}
			}

			sd := vk.SubpassDescription{
				PipelineBindPoint:       vk.PipelineBindPointGraphics,
				ColorAttachmentCount:    uint32(len(colorRefs)),
				PreserveAttachmentCount: uint32(len(preserve)),
			}
			if len(colorRefs) > 0 {
				sd.PColorAttachments = colorRefs
			}
			if len(resolveRefs) > 0 {
				sd.PResolveAttachments = resolveRefs
			}
			if dsRef != nil {
				sd.PDepthStencilAttachment = dsRef
			}
			if len(preserve) > 0 {
				sd.PPreserveAttachments = preserve
			}
			subDescs[i] = sd
		}
	} else {
		// A render pass with no render targets.
		for i := range subDescs {
			subDescs[i] = vk.SubpassDescription{PipelineBindPoint: vk.PipelineBindPointGraphics}
		}
	}

	// In the worst case, half the subpasses run in parallel with
	// external dependencies while the other half, also running
	// in parallel, waits for the first half to complete.
	const (
		srcStg = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		dstStg = vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit)
		srcAcc = vk.AccessFlags(vk.AccessMemoryWriteBit)
		dstAcc = vk.AccessFlags(vk.AccessMemoryWriteBit) | vk.AccessFlags(vk.AccessMemoryReadBit)
	)

	var deps []vk.SubpassDependency
	var iwait, idep int
	if sub[0].Wait {
		deps = append(deps, vk.SubpassDependency{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  srcStg,
			DstStageMask:  dstStg,
			SrcAccessMask: srcAcc,
			DstAccessMask: dstAcc,
		})
		idep++
	}
	for i := 1; i < len(sub); i++ {
		switch {
		case sub[i].Wait:
			for j := iwait; j < i; j++ {
				deps = append(deps, vk.SubpassDependency{
					SrcSubpass:    uint32(j),
					DstSubpass:    uint32(i),
					SrcStageMask:  srcStg,
					DstStageMask:  dstStg,
					SrcAccessMask: srcAcc,
					DstAccessMask: dstAcc,
				})
			}
			iwait = i
			idep = len(deps)
		case len(deps) > 0:
			for j := idep - 1; j >= 0 && deps[j].DstSubpass == uint32(iwait); j-- {
				deps = append(deps, vk.SubpassDependency{
					SrcSubpass:    deps[j].SrcSubpass,
					DstSubpass:    uint32(i),
					SrcStageMask:  srcStg,
					DstStageMask:  dstStg,
					SrcAccessMask: srcAcc,
					DstAccessMask: dstAcc,
				})
			}
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attDescs)),
		SubpassCount:    uint32(len(subDescs)),
		PSubpasses:      subDescs,
		DependencyCount: uint32(len(deps)),
	}
	if len(attDescs) > 0 {
		info.PAttachments = attDescs
	}
	if len(deps) > 0 {
		info.PDependencies = deps
	}
	var pass vk.RenderPass
	if res := vk.CreateRenderPass(d.dev, &info, nil, &pass); res != vk.Success {
		return nil, checkResult(res)
	}

	aspect := make([]vk.ImageAspectFlags, len(att))
	for i := range aspect {
		aspect[i] = aspectOf(att[i].Format)
	}
	ncolor := make([]int, len(sub))
	for i := range ncolor {
		ncolor[i] = len(sub[i].Color)
	}
	return &renderPass{d: d, pass: pass, aspect: aspect, ncolor: ncolor}, nil
}

// Destroy destroys the render pass.
func (p *renderPass) Destroy() {
	if p == nil || p.d == nil {
		return
	}
	d, pass := p.d, p.pass
	d.destroy.push(d.destroy.last(), func() { vk.DestroyRenderPass(d.dev, pass, nil) })
	*p = renderPass{}
}

// framebuf implements gpu.Framebuf.
type framebuf struct {
	p      *renderPass
	fb     vk.Framebuffer
	width  int
	height int
}

// NewFB creates a new framebuffer.
func (p *renderPass) NewFB(iv []gpu.ImageView, width, height, layers int) (gpu.Framebuf, error) {
	views := make([]vk.ImageView, len(iv))
	for i := range iv {
		v, ok := iv[i].(*imageView)
		if !ok || v == nil {
			return nil, errors.New("vk: nil image view")
		}
		views[i] = v.view
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      p.pass,
		AttachmentCount: uint32(len(views)),
		Width:           uint32(width),
		Height:          uint32(height),
		Layers:          uint32(layers),
	}
	if len(views) > 0 {
		info.PAttachments = views
	}
	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(p.d.dev, &info, nil, &fb); res != vk.Success {
		return nil, checkResult(res)
	}
	return &framebuf{p: p, fb: fb, width: width, height: height}, nil
}

// Destroy destroys the framebuffer.
func (f *framebuf) Destroy() {
	if f == nil || f.p == nil {
		return
	}
	d, fb := f.p.d, f.fb
	d.destroy.push(d.destroy.last(), func() { vk.DestroyFramebuffer(d.dev, fb, nil) })
	*f = framebuf{}
}

// convLoadOp converts a gpu.LoadOp to a VkAttachmentLoadOp.
func convLoadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LDontCare:
		return vk.AttachmentLoadOpDontCare
	case gpu.LClear:
		return vk.AttachmentLoadOpClear
	case gpu.LLoad:
		return vk.AttachmentLoadOpLoad
	}
	return vk.AttachmentLoadOpDontCare
}

// convStoreOp converts a gpu.StoreOp to a VkAttachmentStoreOp.
func convStoreOp(op gpu.StoreOp) vk.AttachmentStoreOp {
	switch op {
	case gpu.SDontCare:
		return vk.AttachmentStoreOpDontCare
	case gpu.SStore:
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}
