// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"errors"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// descHeap implements gpu.DescHeap.
type descHeap struct {
	d      *Driver
	layout vk.DescriptorSetLayout
	pool   vk.DescriptorPool
	sets   []vk.DescriptorSet
	ds     []gpu.Descriptor

	// Number of descriptors of each type in ds. These values
	// are needed every time new sets are allocated, so they
	// are computed once up front.
	nbuf   int
	nimg   int
	nconst int
	ntex   int
	nsplr  int
}

// NewDescHeap creates a new descriptor heap.
func (d *Driver) NewDescHeap(ds []gpu.Descriptor) (gpu.DescHeap, error) {
	var nbuf, nimg, nconst, ntex, nsplr int
	binds := make([]vk.DescriptorSetLayoutBinding, len(ds))
	for i := range ds {
		switch ds[i].Type {
		case gpu.DBuffer:
			nbuf += ds[i].Len
			binds[i].DescriptorType = vk.DescriptorTypeStorageBuffer
		case gpu.DImage:
			nimg += ds[i].Len
			binds[i].DescriptorType = vk.DescriptorTypeStorageImage
		case gpu.DConstant:
			nconst += ds[i].Len
			binds[i].DescriptorType = vk.DescriptorTypeUniformBuffer
		case gpu.DTexture:
			ntex += ds[i].Len
			binds[i].DescriptorType = vk.DescriptorTypeSampledImage
		case gpu.DSampler:
			nsplr += ds[i].Len
			binds[i].DescriptorType = vk.DescriptorTypeSampler
		}
		// Descriptor.Nr is the binding number in Vulkan, which
		// must be unique within a descriptor set.
		for j := i + 1; j < len(ds); j++ {
			if ds[i].Nr == ds[j].Nr {
				return nil, errors.New("vk: descriptor number is not unique")
			}
		}
		binds[i].Binding = uint32(ds[i].Nr)
		binds[i].DescriptorCount = uint32(ds[i].Len)
		binds[i].StageFlags = vk.ShaderStageFlags(convStage(ds[i].Stages))
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.dev, &info, nil, &layout); res != vk.Success {
		return nil, checkResult(res)
	}
	// Pool creation and descriptor set allocation are left to
	// New, to avoid consuming memory needlessly.
	return &descHeap{
		d:      d,
		layout: layout,
		ds:     ds,
		nbuf:   nbuf,
		nimg:   nimg,
		nconst: nconst,
		ntex:   ntex,
		nsplr:  nsplr,
	}, nil
}

// New creates enough storage for n copies of each descriptor.
func (h *descHeap) New(n int) error {
	switch {
	case n == len(h.sets):
		return nil
	case len(h.sets) == 0:
		// Nothing to destroy/free.
	default:
		vk.DestroyDescriptorPool(h.d.dev, h.pool, nil)
		h.sets = nil
		if n == 0 {
			return nil
		}
	}

	dc := []struct {
		typ vk.DescriptorType
		cnt int
	}{
		{vk.DescriptorTypeStorageBuffer, h.nbuf * n},
		{vk.DescriptorTypeStorageImage, h.nimg * n},
		{vk.DescriptorTypeUniformBuffer, h.nconst * n},
		{vk.DescriptorTypeSampledImage, h.ntex * n},
		{vk.DescriptorTypeSampler, h.nsplr * n},
	}
	var sizes []vk.DescriptorPoolSize
	for _, c := range dc {
		if c.cnt == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{Type: c.typ, DescriptorCount: uint32(c.cnt)})
	}

	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(n),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(h.d.dev, &info, nil, &pool); res != vk.Success {
		return checkResult(res)
	}

	layouts := make([]vk.DescriptorSetLayout, n)
	for i := range layouts {
		layouts[i] = h.layout
	}
	sinfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: uint32(n),
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, n)
	if res := vk.AllocateDescriptorSets(h.d.dev, &sinfo, sets); res != vk.Success {
		vk.DestroyDescriptorPool(h.d.dev, pool, nil)
		return checkResult(res)
	}
	h.pool = pool
	h.sets = sets
	return nil
}

// SetBuffer updates the buffer ranges referred by the given
// descriptor of the given heap copy.
func (h *descHeap) SetBuffer(cpy, nr, start int, buf []gpu.Buffer, off, size []int64) {
	infos := make([]vk.DescriptorBufferInfo, len(buf))
	for i := range infos {
		infos[i] = vk.DescriptorBufferInfo{Buffer: buf[i].(*buffer).buf, Offset: vk.DeviceSize(off[i]), Range: vk.DeviceSize(size[i])}
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.sets[cpy],
		DstBinding:      uint32(nr),
		DstArrayElement: uint32(start),
		DescriptorCount: uint32(len(buf)),
		DescriptorType:  h.typeOf(nr),
		PBufferInfo:     infos,
	}
	vk.UpdateDescriptorSets(h.d.dev, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// SetImage updates the image views referred by the given
// descriptor of the given heap copy.
func (h *descHeap) SetImage(cpy, nr, start int, iv []gpu.ImageView) {
	typ := h.typeOf(nr)
	lay := vk.ImageLayoutGeneral
	if typ == vk.DescriptorTypeSampledImage {
		lay = vk.ImageLayoutShaderReadOnlyOptimal
	}
	infos := make([]vk.DescriptorImageInfo, len(iv))
	for i := range infos {
		infos[i] = vk.DescriptorImageInfo{ImageView: iv[i].(*imageView).view, ImageLayout: lay}
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.sets[cpy],
		DstBinding:      uint32(nr),
		DstArrayElement: uint32(start),
		DescriptorCount: uint32(len(iv)),
		DescriptorType:  typ,
		PImageInfo:      infos,
	}
	vk.UpdateDescriptorSets(h.d.dev, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// SetSampler updates the samplers referred by the given
// descriptor of the given heap copy.
func (h *descHeap) SetSampler(cpy, nr, start int, splr []gpu.Sampler) {
	infos := make([]vk.DescriptorImageInfo, len(splr))
	for i := range infos {
		infos[i] = vk.DescriptorImageInfo{Sampler: splr[i].(*sampler).splr}
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.sets[cpy],
		DstBinding:      uint32(nr),
		DstArrayElement: uint32(start),
		DescriptorCount: uint32(len(splr)),
		DescriptorType:  h.typeOf(nr),
		PImageInfo:      infos,
	}
	vk.UpdateDescriptorSets(h.d.dev, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// Count returns the number of heap copies created by New.
func (h *descHeap) Count() int { return len(h.sets) }

// Destroy destroys the descriptor heap.
func (h *descHeap) Destroy() {
	if h == nil || h.d == nil {
		return
	}
	d, layout, pool, n := h.d, h.layout, h.pool, len(h.sets)
	d.destroy.push(d.destroy.last(), func() {
		vk.DestroyDescriptorSetLayout(d.dev, layout, nil)
		if n != 0 {
			vk.DestroyDescriptorPool(d.dev, pool, nil)
		}
	})
	*h = descHeap{}
}

// typeOf returns the VkDescriptorType of the descriptor in h
// identified by the binding descNr.
func (h *descHeap) typeOf(descNr int) vk.DescriptorType {
	for i := range h.ds {
		if h.ds[i].Nr != descNr {
			continue
		}
		switch h.ds[i].Type {
		case gpu.DBuffer:
			return vk.DescriptorTypeStorageBuffer
		case gpu.DImage:
			return vk.DescriptorTypeStorageImage
		case gpu.DConstant:
			return vk.DescriptorTypeUniformBuffer
		case gpu.DTexture:
			return vk.DescriptorTypeSampledImage
		case gpu.DSampler:
			return vk.DescriptorTypeSampler
		}
	}
	return 0
}

// descTable implements gpu.DescTable.
type descTable struct {
	d      *Driver
	h      []*descHeap
	layout vk.PipelineLayout
}

// NewDescTable creates a new descriptor table.
func (d *Driver) NewDescTable(dh []gpu.DescHeap) (gpu.DescTable, error) {
	h := make([]*descHeap, len(dh))
	layouts := make([]vk.DescriptorSetLayout, len(dh))
	for i := range h {
		h[i] = dh[i].(*descHeap)
		layouts[i] = h[i].layout
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.dev, &info, nil, &layout); res != vk.Success {
		return nil, checkResult(res)
	}
	return &descTable{d: d, h: h, layout: layout}, nil
}

// setsFor returns the descriptor set handles for the heap
// range [start, start+len(heapCopy)), picking heapCopy[i] out
// of the i-th heap's allocated copies.
func (t *descTable) setsFor(start int, heapCopy []int) []vk.DescriptorSet {
	sets := make([]vk.DescriptorSet, len(heapCopy))
	for i, cpy := range heapCopy {
		sets[i] = t.h[start+i].sets[cpy]
	}
	return sets
}

// Destroy destroys the descriptor table.
func (t *descTable) Destroy() {
	if t == nil || t.d == nil {
		return
	}
	d, layout := t.d, t.layout
	d.destroy.push(d.destroy.last(), func() { vk.DestroyPipelineLayout(d.dev, layout, nil) })
	*t = descTable{}
}

// convStage converts a gpu.Stage to a VkShaderStageFlags.
func convStage(stg gpu.Stage) (flags vk.ShaderStageFlagBits) {
	if stg&gpu.SVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if stg&gpu.SFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if stg&gpu.SCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return
}
