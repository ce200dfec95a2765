// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"errors"

	vk "github.com/goki/vulkan"

	"github.com/ferrum3d/core/gpu"
)

// graphPipeline implements gpu.Pipeline for graphics pipelines.
type graphPipeline struct {
	d      *Driver
	pipe   vk.Pipeline
	layout vk.PipelineLayout
}

// compPipeline implements gpu.Pipeline for compute pipelines.
type compPipeline struct {
	d      *Driver
	pipe   vk.Pipeline
	layout vk.PipelineLayout
}

// NewPipeline creates a new pipeline.
func (d *Driver) NewPipeline(state any) (gpu.Pipeline, error) {
	switch t := state.(type) {
	case *gpu.GraphState:
		return d.newGraphics(t)
	case *gpu.CompState:
		return d.newCompute(t)
	}
	return nil, errors.New("vk: unknown pipeline state type")
}

// layoutOf returns the VkPipelineLayout to use, creating a
// throwaway descriptor table when desc is nil so the pipeline
// still has a valid layout.
func (d *Driver) layoutOf(desc gpu.DescTable) (vk.PipelineLayout, error) {
	if desc == nil {
		dt, err := d.NewDescTable(nil)
		if err != nil {
			return nil, err
		}
		defer dt.Destroy()
		return dt.(*descTable).layout, nil
	}
	return desc.(*descTable).layout, nil
}

// newGraphics creates a new graphics pipeline.
func (d *Driver) newGraphics(gs *gpu.GraphState) (gpu.Pipeline, error) {
	layout, err := d.layoutOf(gs.Desc)
	if err != nil {
		return nil, err
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(vk.ShaderStageVertexBit),
			Module: gs.VertFunc.Code.(*shaderCode).mod,
			PName:  gs.VertFunc.Name + "\x00",
		},
	}
	if gs.FragFunc.Code != nil {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(vk.ShaderStageFragmentBit),
			Module: gs.FragFunc.Code.(*shaderCode).mod,
			PName:  gs.FragFunc.Name + "\x00",
		})
	}

	var vertIn vk.PipelineVertexInputStateCreateInfo
	vertIn.SType = vk.StructureTypePipelineVertexInputStateCreateInfo
	if nin := len(gs.Input); nin > 0 {
		// Vertex input data is non-interleaved: each attribute
		// maps to its own binding number, equal to its index
		// within gs.Input.
		binds := make([]vk.VertexInputBindingDescription, nin)
		attrs := make([]vk.VertexInputAttributeDescription, nin)
		for i := range gs.Input {
			binds[i] = vk.VertexInputBindingDescription{
				Binding:   uint32(i),
				Stride:    uint32(gs.Input[i].Stride),
				InputRate: vk.VertexInputRateVertex,
			}
			attrs[i] = vk.VertexInputAttributeDescription{
				Location: uint32(gs.Input[i].Nr),
				Binding:  uint32(i),
				Format:   convVertexFmt(gs.Input[i].Format),
			}
		}
		vertIn.VertexBindingDescriptionCount = uint32(nin)
		vertIn.PVertexBindingDescriptions = binds
		vertIn.VertexAttributeDescriptionCount = uint32(nin)
		vertIn.PVertexAttributeDescriptions = attrs
	}

	ia := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: convTopology(gs.Topology),
	}

	// One viewport/scissor, both set dynamically every frame.
	vp := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	var depthBias vk.Bool32
	if gs.Raster.DepthBias {
		depthBias = vk.True
	}
	frontFace := vk.FrontFaceCounterClockwise
	if gs.Raster.Clockwise {
		frontFace = vk.FrontFaceClockwise
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode:             convFillMode(gs.Raster.Fill),
		CullMode:                vk.CullModeFlags(convCullMode(gs.Raster.Cull)),
		FrontFace:               frontFace,
		DepthBiasEnable:         depthBias,
		DepthBiasConstantFactor: gs.Raster.BiasValue,
		DepthBiasClamp:          gs.Raster.BiasClamp,
		DepthBiasSlopeFactor:    gs.Raster.BiasSlope,
		LineWidth:               1.0,
	}

	ms := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: convSamples(gs.Samples),
	}

	ds := vk.PipelineDepthStencilStateCreateInfo{SType: vk.StructureTypePipelineDepthStencilStateCreateInfo}
	if gs.DS.DepthTest {
		ds.DepthTestEnable = vk.True
		if gs.DS.DepthWrite {
			ds.DepthWriteEnable = vk.True
		}
		ds.DepthCompareOp = convCmpFunc(gs.DS.DepthCmp)
	}
	if gs.DS.StencilTest {
		ds.StencilTestEnable = vk.True
		ds.Front = vk.StencilOpState{
			FailOp:      convStencilOp(gs.DS.Front.DSFail[1]),
			PassOp:      convStencilOp(gs.DS.Front.Pass),
			DepthFailOp: convStencilOp(gs.DS.Front.DSFail[0]),
			CompareOp:   convCmpFunc(gs.DS.Front.Cmp),
			CompareMask: uint32(gs.DS.Front.ReadMask),
			WriteMask:   uint32(gs.DS.Front.WriteMask),
		}
		ds.Back = vk.StencilOpState{
			FailOp:      convStencilOp(gs.DS.Back.DSFail[1]),
			PassOp:      convStencilOp(gs.DS.Back.Pass),
			DepthFailOp: convStencilOp(gs.DS.Back.DSFail[0]),
			CompareOp:   convCmpFunc(gs.DS.Back.Cmp),
			CompareMask: uint32(gs.DS.Back.ReadMask),
			WriteMask:   uint32(gs.DS.Back.WriteMask),
		}
	}

	ncolor := gs.Pass.(*renderPass).ncolor[gs.Subpass]
	var blend *vk.PipelineColorBlendStateCreateInfo
	if ncolor > 0 {
		atts := make([]vk.PipelineColorBlendAttachmentState, ncolor)
		set := func(i int, c gpu.ColorBlend) {
			var en vk.Bool32
			if c.Blend {
				en = vk.True
			}
			atts[i] = vk.PipelineColorBlendAttachmentState{
				BlendEnable:         en,
				SrcColorBlendFactor: convBlendFac(c.SrcFac[0]),
				DstColorBlendFactor: convBlendFac(c.DstFac[0]),
				ColorBlendOp:        convBlendOp(c.Op[0]),
				SrcAlphaBlendFactor: convBlendFac(c.SrcFac[1]),
				DstAlphaBlendFactor: convBlendFac(c.DstFac[1]),
				AlphaBlendOp:        convBlendOp(c.Op[1]),
				ColorWriteMask:      convColorMask(c.WriteMask),
			}
		}
		if gs.Blend.IndependentBlend {
			for i := range atts {
				set(i, gs.Blend.Color[i])
			}
		} else {
			set(0, gs.Blend.Color[0])
			for i := 1; i < ncolor; i++ {
				atts[i] = atts[0]
			}
		}
		blend = &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(ncolor),
			PAttachments:    atts,
		}
	}

	dynStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	if ncolor > 0 {
		dynStates = append(dynStates, vk.DynamicStateBlendConstants)
	}
	if gs.DS.StencilTest {
		dynStates = append(dynStates, vk.DynamicStateStencilReference)
	}
	dyn := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynStates)),
		PDynamicStates:    dynStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertIn,
		PInputAssemblyState: &ia,
		PViewportState:      &vp,
		PRasterizationState: &raster,
		PMultisampleState:   &ms,
		PDepthStencilState:  &ds,
		PColorBlendState:    blend,
		PDynamicState:       &dyn,
		Layout:              layout,
		RenderPass:          gs.Pass.(*renderPass).pass,
		Subpass:             uint32(gs.Subpass),
		BasePipelineIndex:   -1,
	}

	pipes := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(d.dev, nil, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipes); res != vk.Success {
		return nil, checkResult(res)
	}
	return &graphPipeline{d: d, pipe: pipes[0], layout: layout}, nil
}

// newCompute creates a new compute pipeline.
func (d *Driver) newCompute(cs *gpu.CompState) (gpu.Pipeline, error) {
	layout, err := d.layoutOf(cs.Desc)
	if err != nil {
		return nil, err
	}
	info := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(vk.ShaderStageComputeBit),
			Module: cs.Func.Code.(*shaderCode).mod,
			PName:  cs.Func.Name + "\x00",
		},
		Layout:            layout,
		BasePipelineIndex: -1,
	}
	pipes := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(d.dev, nil, 1, []vk.ComputePipelineCreateInfo{info}, nil, pipes); res != vk.Success {
		return nil, checkResult(res)
	}
	return &compPipeline{d: d, pipe: pipes[0], layout: layout}, nil
}

// Destroy destroys the graphics pipeline.
func (p *graphPipeline) Destroy() {
	if p == nil || p.d == nil {
		return
	}
	d, pipe := p.d, p.pipe
	d.destroy.push(d.destroy.last(), func() { vk.DestroyPipeline(d.dev, pipe, nil) })
	*p = graphPipeline{}
}

// Destroy destroys the compute pipeline.
func (p *compPipeline) Destroy() {
	if p == nil || p.d == nil {
		return
	}
	d, pipe := p.d, p.pipe
	d.destroy.push(d.destroy.last(), func() { vk.DestroyPipeline(d.dev, pipe, nil) })
	*p = compPipeline{}
}

// convVertexFmt converts from a gpu.VertexFmt to a VkFormat.
func convVertexFmt(vf gpu.VertexFmt) vk.Format {
	switch vf {
	case gpu.Int8:
		return vk.FormatR8sint
	case gpu.Int8x2:
		return vk.FormatR8g8Sint
	case gpu.Int8x3:
		return vk.FormatR8g8b8Sint
	case gpu.Int8x4:
		return vk.FormatR8g8b8a8Sint

	case gpu.Int16:
		return vk.FormatR16sint
	case gpu.Int16x2:
		return vk.FormatR16g16Sint
	case gpu.Int16x3:
		return vk.FormatR16g16b16Sint
	case gpu.Int16x4:
		return vk.FormatR16g16b16a16Sint

	case gpu.Int32:
		return vk.FormatR32sint
	case gpu.Int32x2:
		return vk.FormatR32g32Sint
	case gpu.Int32x3:
		return vk.FormatR32g32b32Sint
	case gpu.Int32x4:
		return vk.FormatR32g32b32a32Sint

	case gpu.UInt8:
		return vk.FormatR8uint
	case gpu.UInt8x2:
		return vk.FormatR8g8Uint
	case gpu.UInt8x3:
		return vk.FormatR8g8b8Uint
	case gpu.UInt8x4:
		return vk.FormatR8g8b8a8Uint

	case gpu.UInt16:
		return vk.FormatR16uint
	case gpu.UInt16x2:
		return vk.FormatR16g16Uint
	case gpu.UInt16x3:
		return vk.FormatR16g16b16Uint
	case gpu.UInt16x4:
		return vk.FormatR16g16b16a16Uint

	case gpu.UInt32:
		return vk.FormatR32uint
	case gpu.UInt32x2:
		return vk.FormatR32g32Uint
	case gpu.UInt32x3:
		return vk.FormatR32g32b32Uint
	case gpu.UInt32x4:
		return vk.FormatR32g32b32a32Uint

	case gpu.Float32:
		return vk.FormatR32sfloat
	case gpu.Float32x2:
		return vk.FormatR32g32Sfloat
	case gpu.Float32x3:
		return vk.FormatR32g32b32Sfloat
	case gpu.Float32x4:
		return vk.FormatR32g32b32a32Sfloat
	}

	// Expected to be unreachable.
	return vk.FormatUndefined
}

// convTopology converts a gpu.Topology to a VkPrimitiveTopology.
func convTopology(top gpu.Topology) vk.PrimitiveTopology {
	switch top {
	case gpu.TPoint:
		return vk.PrimitiveTopologyPointList
	case gpu.TLine:
		return vk.PrimitiveTopologyLineList
	case gpu.TLnStrip:
		return vk.PrimitiveTopologyLineStrip
	case gpu.TTriangle:
		return vk.PrimitiveTopologyTriangleList
	case gpu.TTriStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}

	// Expected to be unreachable.
	return ^vk.PrimitiveTopology(0)
}

// convCullMode converts a gpu.CullMode to a VkCullModeFlagBits.
func convCullMode(cm gpu.CullMode) vk.CullModeFlagBits {
	switch cm {
	case gpu.CNone:
		return vk.CullModeFlagBits(vk.CullModeNone)
	case gpu.CFront:
		return vk.CullModeFrontBit
	case gpu.CBack:
		return vk.CullModeBackBit
	}

	// Expected to be unreachable.
	return ^vk.CullModeFlagBits(0)
}

// convFillMode converts a gpu.FillMode to a VkPolygonMode.
func convFillMode(fm gpu.FillMode) vk.PolygonMode {
	switch fm {
	case gpu.FFill:
		return vk.PolygonModeFill
	case gpu.FLines:
		return vk.PolygonModeLine
	}

	// Expected to be unreachable.
	return ^vk.PolygonMode(0)
}

// convStencilOp converts a gpu.StencilOp to a VkStencilOp.
func convStencilOp(op gpu.StencilOp) vk.StencilOp {
	switch op {
	case gpu.SKeep:
		return vk.StencilOpKeep
	case gpu.SZero:
		return vk.StencilOpZero
	case gpu.SReplace:
		return vk.StencilOpReplace
	case gpu.SIncClamp:
		return vk.StencilOpIncrementAndClamp
	case gpu.SDecClamp:
		return vk.StencilOpDecrementAndClamp
	case gpu.SInvert:
		return vk.StencilOpInvert
	case gpu.SIncWrap:
		return vk.StencilOpIncrementAndWrap
	case gpu.SDecWrap:
		return vk.StencilOpDecrementAndWrap
	}

	// Expected to be unreachable.
	return ^vk.StencilOp(0)
}

// convBlendOp converts a gpu.BlendOp to a VkBlendOp.
func convBlendOp(op gpu.BlendOp) vk.BlendOp {
	switch op {
	case gpu.BAdd:
		return vk.BlendOpAdd
	case gpu.BSubtract:
		return vk.BlendOpSubtract
	case gpu.BRevSubtract:
		return vk.BlendOpReverseSubtract
	case gpu.BMin:
		return vk.BlendOpMin
	case gpu.BMax:
		return vk.BlendOpMax
	}

	// Expected to be unreachable.
	return ^vk.BlendOp(0)
}

// convBlendFac converts a gpu.BlendFac to a VkBlendFactor.
func convBlendFac(fac gpu.BlendFac) vk.BlendFactor {
	switch fac {
	case gpu.BZero:
		return vk.BlendFactorZero
	case gpu.BOne:
		return vk.BlendFactorOne
	case gpu.BSrcColor:
		return vk.BlendFactorSrcColor
	case gpu.BInvSrcColor:
		return vk.BlendFactorOneMinusSrcColor
	case gpu.BSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gpu.BInvSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case gpu.BDstColor:
		return vk.BlendFactorDstColor
	case gpu.BInvDstColor:
		return vk.BlendFactorOneMinusDstColor
	case gpu.BDstAlpha:
		return vk.BlendFactorDstAlpha
	case gpu.BInvDstAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case gpu.BSrcAlphaSaturated:
		return vk.BlendFactorSrcAlphaSaturate
	case gpu.BBlendColor:
		return vk.BlendFactorConstantColor
	case gpu.BInvBlendColor:
		return vk.BlendFactorOneMinusConstantColor
	}

	// Expected to be unreachable.
	return ^vk.BlendFactor(0)
}

// convColorMask converts a gpu.ColorMask to a VkColorComponentFlags.
func convColorMask(cm gpu.ColorMask) (flags vk.ColorComponentFlags) {
	if cm == gpu.CAll {
		return vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)
	}
	if cm&gpu.CRed != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentRBit)
	}
	if cm&gpu.CGreen != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentGBit)
	}
	if cm&gpu.CBlue != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentBBit)
	}
	if cm&gpu.CAlpha != 0 {
		flags |= vk.ColorComponentFlags(vk.ColorComponentABit)
	}
	return
}
