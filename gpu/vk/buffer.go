// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// buffer implements gpu.Buffer.
type buffer struct {
	d   *Driver
	m   *devMemory
	buf vk.Buffer
	id  gpu.ResourceID
}

// NewBuffer creates a new buffer.
func (d *Driver) NewBuffer(size int64, visible bool, usg gpu.Usage) (gpu.Buffer, error) {
	// TODO: Some of these usages may not be required.
	u := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit) |
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit) |
		vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	if usg&(gpu.UShaderRead|gpu.UShaderWrite) != 0 {
		u |= vk.BufferUsageFlags(vk.BufferUsageStorageTexelBufferBit) | vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if usg&gpu.UShaderConst != 0 {
		u |= vk.BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit) | vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usg&gpu.UVertexData != 0 {
		u |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usg&gpu.UIndexData != 0 {
		u |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}

	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       u,
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(d.dev, &info, nil, &buf); res != vk.Success {
		return nil, checkResult(res)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.dev, buf, &req)
	m, err := d.newMemory(req, visible)
	if err != nil {
		vk.DestroyBuffer(d.dev, buf, nil)
		return nil, err
	}
	if res := vk.BindBufferMemory(d.dev, buf, m.mem, 0); res != vk.Success {
		m.free()
		vk.DestroyBuffer(d.dev, buf, nil)
		return nil, checkResult(res)
	}
	m.bound = true
	if visible {
		if err := m.mmap(); err != nil {
			m.free()
			vk.DestroyBuffer(d.dev, buf, nil)
			return nil, err
		}
	}

	return &buffer{d: d, m: m, buf: buf, id: gpu.ResourceID(d.ids.Next())}, nil
}

// ID returns the resource identifier.
func (b *buffer) ID() gpu.ResourceID { return b.id }

// Visible returns whether the buffer is host visible.
func (b *buffer) Visible() bool { return b.m.vis }

// Bytes returns a slice of length b.Cap() referring to the underlying data.
func (b *buffer) Bytes() []byte { return b.m.p }

// Cap returns the capacity of the buffer in bytes.
func (b *buffer) Cap() int64 { return b.m.size }

// Destroy destroys the buffer, deferring the underlying Vulkan
// calls until any work that references it has completed.
func (b *buffer) Destroy() {
	if b == nil || b.d == nil {
		return
	}
	d, buf, m, id := b.d, b.buf, b.m, b.id
	d.destroy.push(d.destroy.last(), func() {
		vk.DestroyBuffer(d.dev, buf, nil)
		m.free()
		d.ids.Release(uint32(id))
	})
	*b = buffer{}
}
