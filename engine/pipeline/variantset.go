// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package pipeline

import (
	"sync"

	"github.com/ferrum3d/core/engine/job"
	"github.com/ferrum3d/core/engine/shader"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/wait"
)

// PipelineVariantSetBase is the Go counterpart of
// PipelineVariantSetBase: a dense, per-variant vector of compiled
// pipelines plus the bookkeeping CompileGlobalPipelineSets needs.
// C++'s macro-generated boilerplate (FE_DECLARE_PIPELINE_SET_1/_2) has
// no Go equivalent; NewGraphicsPipelineVariantSet/
// NewComputePipelineVariantSet play that role instead, taking the
// concrete variant set as a plain interface implementation rather than
// expanding one at the call site.
type PipelineVariantSetBase struct {
	mu       sync.Mutex
	variants []gpu.Pipeline
	errs     []error
}

func (b *PipelineVariantSetBase) init(n int) {
	b.variants = make([]gpu.Pipeline, n)
	b.errs = make([]error, n)
}

// Pipeline returns the variantIndex-th compiled pipeline, or nil if
// compilation hasn't run yet, was discarded, or failed — callers must
// check for nil before binding, per spec.md §7's pipeline-compile
// failure rule.
func (b *PipelineVariantSetBase) Pipeline(variantIndex int) gpu.Pipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.variants[variantIndex]
}

// Err returns the error that compiling the variantIndex-th variant
// produced, or nil if it compiled successfully (or hasn't run yet).
func (b *PipelineVariantSetBase) Err(variantIndex int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errs[variantIndex]
}

func (b *PipelineVariantSetBase) set(variantIndex int, p gpu.Pipeline, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.variants[variantIndex] = p
	b.errs[variantIndex] = err
}

// variantSet is the interface the global registry compiles through,
// implemented by GraphicsPipelineVariantSet and
// ComputePipelineVariantSet.
type variantSet interface {
	variantCount() int
	compileVariant(variantIndex int, factory *PipelineFactory)
}

// discardChecker is the optional interface a concrete variant set can
// implement to skip compiling some variants, mirroring
// PipelineVariantSetBase::IsVariantDiscarded's default-false virtual.
type discardChecker interface {
	IsVariantDiscarded(variantIndex int) bool
}

func discarded(impl any, variantIndex int) bool {
	if d, ok := impl.(discardChecker); ok {
		return d.IsVariantDiscarded(variantIndex)
	}
	return false
}

// graphicsVariantSetImpl is what a concrete graphics variant set
// implements, the Go counterpart of GraphicsPipelineVariantSet's
// pure-virtual surface.
type graphicsVariantSetImpl interface {
	VariantCount() int
	GetDefines(variantIndex int) []shader.Define
	GetSpecializationConstants(variantIndex int) []SpecializationConstant
	SetupRequest(variantIndex int, desc *GraphicsPipelineDesc)
}

// GraphicsPipelineVariantSet is the Go counterpart of
// GraphicsPipelineVariantSet.
type GraphicsPipelineVariantSet struct {
	PipelineVariantSetBase
	impl graphicsVariantSetImpl
}

// NewGraphicsPipelineVariantSet creates a GraphicsPipelineVariantSet
// backed by impl and registers it on the global list
// CompileGlobalPipelineSets walks.
func NewGraphicsPipelineVariantSet(impl graphicsVariantSetImpl) *GraphicsPipelineVariantSet {
	s := &GraphicsPipelineVariantSet{impl: impl}
	s.init(impl.VariantCount())
	registerGlobal(s)
	return s
}

func (s *GraphicsPipelineVariantSet) variantCount() int { return len(s.variants) }

func (s *GraphicsPipelineVariantSet) compileVariant(variantIndex int, factory *PipelineFactory) {
	if discarded(s.impl, variantIndex) {
		return
	}
	var desc GraphicsPipelineDesc
	s.impl.SetupRequest(variantIndex, &desc)

	defines := s.impl.GetDefines(variantIndex)
	desc.VertexDefines = append(append([]shader.Define(nil), desc.VertexDefines...), defines...)
	if desc.FragmentShader != "" {
		desc.FragmentDefines = append(append([]shader.Define(nil), desc.FragmentDefines...), defines...)
	}
	desc.SpecConstants = append(append([]SpecializationConstant(nil), desc.SpecConstants...),
		s.impl.GetSpecializationConstants(variantIndex)...)

	p, err := factory.CreateGraphicsPipeline(desc)
	s.set(variantIndex, p, err)
}

// computeVariantSetImpl is what a concrete compute variant set
// implements, the Go counterpart of ComputePipelineVariantSet's
// pure-virtual surface.
type computeVariantSetImpl interface {
	VariantCount() int
	GetDefines(variantIndex int) []shader.Define
	GetSpecializationConstants(variantIndex int) []SpecializationConstant
	SetupRequest(variantIndex int, req *ComputePipelineRequest)
}

// ComputePipelineVariantSet is the Go counterpart of
// ComputePipelineVariantSet.
type ComputePipelineVariantSet struct {
	PipelineVariantSetBase
	impl computeVariantSetImpl
}

// NewComputePipelineVariantSet creates a ComputePipelineVariantSet
// backed by impl and registers it on the global list
// CompileGlobalPipelineSets walks.
func NewComputePipelineVariantSet(impl computeVariantSetImpl) *ComputePipelineVariantSet {
	s := &ComputePipelineVariantSet{impl: impl}
	s.init(impl.VariantCount())
	registerGlobal(s)
	return s
}

func (s *ComputePipelineVariantSet) variantCount() int { return len(s.variants) }

func (s *ComputePipelineVariantSet) compileVariant(variantIndex int, factory *PipelineFactory) {
	if discarded(s.impl, variantIndex) {
		return
	}
	var req ComputePipelineRequest
	s.impl.SetupRequest(variantIndex, &req)
	req.Defines = append(append([]shader.Define(nil), req.Defines...), s.impl.GetDefines(variantIndex)...)
	req.SpecConstants = append(append([]SpecializationConstant(nil), req.SpecConstants...),
		s.impl.GetSpecializationConstants(variantIndex)...)

	p, err := factory.CreateComputePipeline(req)
	s.set(variantIndex, p, err)
}

// Global registry: the Go stand-in for PipelineVariantSetBase's
// intrusive m_next linked list, which exists in C++ purely so
// file-scope static instances can self-register without a central
// container. A guarded slice serves the same purpose more plainly.
var (
	globalMu   sync.Mutex
	globalSets []variantSet
)

func registerGlobal(s variantSet) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalSets = append(globalSets, s)
}

// CompileGlobalPipelineSets compiles every variant of every
// registered PipelineVariantSet using factory, scheduling one
// compilation job per variant on jobs and returning a wait.Group
// signaled once all of them finish. It mirrors
// CompileGlobalPipelineSets's walk of the global intrusive list,
// fanned out through engine/job instead of synchronous per-set
// compilation.
func CompileGlobalPipelineSets(factory *PipelineFactory, jobs *job.System) *wait.Group {
	globalMu.Lock()
	sets := append([]variantSet(nil), globalSets...)
	globalMu.Unlock()

	total := 0
	for _, s := range sets {
		total += s.variantCount()
	}
	group := wait.New(total)
	for _, s := range sets {
		s := s
		for i := 0; i < s.variantCount(); i++ {
			i := i
			jobs.Schedule(func() {
				s.compileVariant(i, factory)
				group.Done()
			}, job.Heavy)
		}
	}
	globalMu.Lock()
	lastCompile = group
	globalMu.Unlock()
	return group
}

// lastCompile is the wait.Group WaitForGlobalPipelineSets blocks on,
// the Go stand-in for the original's internal static WaitGroup that
// CompileGlobalPipelineSets populates and WaitForGlobalPipelineSets
// consumes. Guarded by globalMu alongside globalSets.
var lastCompile *wait.Group

// WaitForGlobalPipelineSets blocks until the most recent
// CompileGlobalPipelineSets call finishes compiling every variant. It
// is a no-op if CompileGlobalPipelineSets hasn't been called yet.
func WaitForGlobalPipelineSets() {
	globalMu.Lock()
	g := lastCompile
	globalMu.Unlock()
	if g != nil {
		g.Wait()
	}
}
