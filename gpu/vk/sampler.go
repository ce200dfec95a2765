// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// sampler implements gpu.Sampler.
type sampler struct {
	d    *Driver
	splr vk.Sampler
}

// NewSampler creates a new sampler.
func (d *Driver) NewSampler(spln *gpu.Sampling) (gpu.Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    convFilter(spln.Mag),
		MinFilter:    convFilter(spln.Min),
		MipmapMode:   convMipFilter(spln.Mipmap),
		AddressModeU: convAddrMode(spln.AddrU),
		AddressModeV: convAddrMode(spln.AddrV),
		AddressModeW: convAddrMode(spln.AddrW),
		// TODO: Anisotropy is a feature - leave disabled for
		// adapters that did not report it.
		AnisotropyEnable: vk.False,
		CompareEnable:    vk.True,
		CompareOp:        convCmpFunc(spln.Cmp),
		MinLod:           spln.MinLOD,
		MaxLod:           spln.MaxLOD,
		BorderColor:      vk.BorderColorFloatOpaqueBlack,
	}
	var splr vk.Sampler
	if res := vk.CreateSampler(d.dev, &info, nil, &splr); res != vk.Success {
		return nil, checkResult(res)
	}
	return &sampler{d: d, splr: splr}, nil
}

// Destroy destroys the sampler.
func (s *sampler) Destroy() {
	if s == nil || s.d == nil {
		return
	}
	d, splr := s.d, s.splr
	d.destroy.push(d.destroy.last(), func() { vk.DestroySampler(d.dev, splr, nil) })
	*s = sampler{}
}

func convFilter(f gpu.Filter) vk.Filter {
	switch f {
	case gpu.FNearest:
		return vk.FilterNearest
	case gpu.FLinear:
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func convMipFilter(f gpu.Filter) vk.SamplerMipmapMode {
	switch f {
	case gpu.FNoMipmap, gpu.FNearest:
		return vk.SamplerMipmapModeNearest
	case gpu.FLinear:
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func convAddrMode(am gpu.AddrMode) vk.SamplerAddressMode {
	switch am {
	case gpu.AWrap:
		return vk.SamplerAddressModeRepeat
	case gpu.AMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case gpu.AClamp:
		return vk.SamplerAddressModeClampToEdge
	}
	return vk.SamplerAddressModeRepeat
}

func convCmpFunc(cf gpu.CmpFunc) vk.CompareOp {
	switch cf {
	case gpu.CNever:
		return vk.CompareOpNever
	case gpu.CLess:
		return vk.CompareOpLess
	case gpu.CEqual:
		return vk.CompareOpEqual
	case gpu.CLessEqual:
		return vk.CompareOpLessOrEqual
	case gpu.CGreater:
		return vk.CompareOpGreater
	case gpu.CNotEqual:
		return vk.CompareOpNotEqual
	case gpu.CGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case gpu.CAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpAlways
}
