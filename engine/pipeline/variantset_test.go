// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrum3d/core/engine/job"
	"github.com/ferrum3d/core/engine/shader"
)

// fakeGraphicsSet is a minimal graphicsVariantSetImpl: 3 variants,
// the middle one discarded, none of them resolving to a real shader
// (CreateGraphicsPipeline is expected to fail gracefully for each of
// the other two, exercising the "null pipeline slot" path spec.md §7
// requires rather than needing a working dxc install).
type fakeGraphicsSet struct {
	requested []int
}

func (s *fakeGraphicsSet) VariantCount() int { return 3 }
func (s *fakeGraphicsSet) GetDefines(int) []shader.Define { return nil }
func (s *fakeGraphicsSet) GetSpecializationConstants(int) []SpecializationConstant { return nil }
func (s *fakeGraphicsSet) SetupRequest(variantIndex int, desc *GraphicsPipelineDesc) {
	s.requested = append(s.requested, variantIndex)
}
func (s *fakeGraphicsSet) IsVariantDiscarded(variantIndex int) bool { return variantIndex == 1 }

func TestGraphicsPipelineVariantSetCompile(t *testing.T) {
	resetGlobalForTest(t)

	impl := &fakeGraphicsSet{}
	set := NewGraphicsPipelineVariantSet(impl)
	require.Equal(t, 3, set.variantCount())

	factory := newUnavailableFactory(t)
	jobs := job.NewSystem(2)
	defer jobs.Close()

	group := CompileGlobalPipelineSets(factory, jobs)
	group.Wait()
	WaitForGlobalPipelineSets()

	// Variant 1 was discarded: SetupRequest never ran for it, and its
	// slot stays nil with no recorded error.
	require.NotContains(t, impl.requested, 1)
	require.Nil(t, set.Pipeline(1))
	require.NoError(t, set.Err(1))

	// Variants 0 and 2 attempted compilation and failed gracefully
	// (no shader name was ever set on the request), leaving a null
	// slot and a recorded error rather than panicking or aborting
	// the whole batch.
	for _, i := range []int{0, 2} {
		require.Contains(t, impl.requested, i)
		require.Nil(t, set.Pipeline(i))
		require.Error(t, set.Err(i))
	}
}

type fakeComputeSet struct{}

func (fakeComputeSet) VariantCount() int { return 1 }
func (fakeComputeSet) GetDefines(int) []shader.Define { return nil }
func (fakeComputeSet) GetSpecializationConstants(int) []SpecializationConstant { return nil }
func (fakeComputeSet) SetupRequest(int, *ComputePipelineRequest) {}

func TestComputePipelineVariantSetCompile(t *testing.T) {
	resetGlobalForTest(t)

	set := NewComputePipelineVariantSet(fakeComputeSet{})
	factory := newUnavailableFactory(t)
	jobs := job.NewSystem(1)
	defer jobs.Close()

	CompileGlobalPipelineSets(factory, jobs).Wait()

	require.Nil(t, set.Pipeline(0))
	require.Error(t, set.Err(0))
}

// resetGlobalForTest clears the package-level variant set registry so
// each test starts from a known state; production code never needs
// this since CompileGlobalPipelineSets is meant to run once per
// process lifetime over whatever registered itself at init time.
func resetGlobalForTest(t *testing.T) {
	globalMu.Lock()
	prevSets, prevCompile := globalSets, lastCompile
	globalSets, lastCompile = nil, nil
	globalMu.Unlock()

	t.Cleanup(func() {
		globalMu.Lock()
		globalSets, lastCompile = prevSets, prevCompile
		globalMu.Unlock()
	})
}
