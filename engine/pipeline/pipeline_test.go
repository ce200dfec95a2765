// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrum3d/core/engine/shader"
)

func newUnavailableFactory(t *testing.T) *PipelineFactory {
	return NewPipelineFactory(shader.NewCompiler("definitely-not-a-real-dxc-binary", shader.NewSourceCache(t.TempDir())))
}

func TestCreateGraphicsPipelineFailsOnEmptyVertexShader(t *testing.T) {
	f := newUnavailableFactory(t)
	_, err := f.CreateGraphicsPipeline(GraphicsPipelineDesc{})
	require.Error(t, err)
}

func TestCreateGraphicsPipelineFailsOnCompileError(t *testing.T) {
	f := newUnavailableFactory(t)
	_, err := f.CreateGraphicsPipeline(GraphicsPipelineDesc{VertexShader: "missing.hlsl"})
	require.Error(t, err)
}

func TestCreateComputePipelineFailsOnCompileError(t *testing.T) {
	f := newUnavailableFactory(t)
	_, err := f.CreateComputePipeline(ComputePipelineRequest{Shader: "missing.hlsl"})
	require.Error(t, err)
}
