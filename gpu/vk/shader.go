// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"errors"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// shaderCode implements gpu.ShaderCode.
type shaderCode struct {
	d   *Driver
	mod vk.ShaderModule
}

// NewShaderCode creates a new shader code.
func (d *Driver) NewShaderCode(data []byte) (gpu.ShaderCode, error) {
	n := len(data)
	// The spec mandates that the code size be a multiple of four.
	if n == 0 || n&3 != 0 {
		return nil, errors.New("vk: invalid shader code size")
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(data)))&3 != 0 {
		return nil, errors.New("vk: misaligned shader code data")
	}
	words := unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(data))), n/4)
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(n),
		PCode:    words,
	}
	var mod vk.ShaderModule
	if res := vk.CreateShaderModule(d.dev, &info, nil, &mod); res != vk.Success {
		return nil, checkResult(res)
	}
	return &shaderCode{d: d, mod: mod}, nil
}

// Destroy destroys the shader code.
func (c *shaderCode) Destroy() {
	if c == nil || c.d == nil {
		return
	}
	d, mod := c.d, c.mod
	d.destroy.push(d.destroy.last(), func() { vk.DestroyShaderModule(d.dev, mod, nil) })
	*c = shaderCode{}
}
