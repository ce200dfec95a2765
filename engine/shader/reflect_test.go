// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package shader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrum3d/core/gpu"
)

// spirvBuilder assembles a minimal, well-formed SPIR-V module word
// stream by hand, the same fixture-construction approach
// format_test.go uses for the container formats: no SPIR-V library
// exists in the retrieval pack to generate one instead.
type spirvBuilder struct {
	words []uint32
}

func newSPIRVBuilder() *spirvBuilder {
	b := &spirvBuilder{}
	b.words = append(b.words, 0x07230203, 0x00010400, 0, 100, 0)
	return b
}

func (b *spirvBuilder) instr(opcode uint32, operands ...uint32) {
	word0 := uint32(len(operands)+1)<<16 | opcode
	b.words = append(b.words, word0)
	b.words = append(b.words, operands...)
}

func packString(s string) []uint32 {
	buf := append([]byte(s), 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words
}

func (b *spirvBuilder) name(target uint32, s string) {
	ops := append([]uint32{target}, packString(s)...)
	b.instr(opName, ops...)
}

func (b *spirvBuilder) bytes() []byte {
	data := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}

// buildModule assembles a module with one vec3 stage input, one
// sampled-image resource binding, one push-constant struct and one
// specialization constant, exercising every branch NewReflection's
// per-variable switch has.
func buildModule() []byte {
	b := newSPIRVBuilder()

	// Stage input: %10 = OpVariable %8 Input, %8 = ptr(Input, %7 vec3).
	b.instr(opTypeFloat, 6, 32)
	b.instr(opTypeVector, 7, 6, 3)
	b.instr(opTypePointer, 8, scInput, 7)
	b.instr(opVariable, 8, 10, scInput)
	b.name(10, "in.var.POSITION0")
	b.instr(opDecorate, 10, decLocation, 0)

	// Resource binding: %23 = OpVariable %22 UniformConstant,
	// %22 = ptr(UniformConstant, %21 sampled-image of %20).
	b.instr(opTypeImage, 20, 6, 1, 0, 0, 0, 1, 0)
	b.instr(opTypeSampledImg, 21, 20)
	b.instr(opTypePointer, 22, scUniformConstant, 21)
	b.instr(opVariable, 22, 23, scUniformConstant)
	b.name(23, "tex")
	b.instr(opDecorate, 23, decDescriptorSet, 0)
	b.instr(opDecorate, 23, decBinding, 2)

	// Push constant: %33 = OpVariable %32 PushConstant,
	// %32 = ptr(PushConstant, %31 struct{float}).
	b.instr(opTypeStruct, 31, 6)
	b.instr(opTypePointer, 32, scPushConstant, 31)
	b.instr(opVariable, 32, 33, scPushConstant)
	b.name(33, "pushConsts")
	b.instr(opMemberDecorate, 31, 0, decOffset, 0)

	// Specialization constant.
	b.instr(opTypeInt, 40, 32, 1)
	b.instr(opSpecConstant, 40, 41, 5)
	b.instr(opDecorate, 41, decSpecId, 3)
	b.name(41, "specConst")

	return b.bytes()
}

func TestNewReflection(t *testing.T) {
	r, err := NewReflection(buildModule())
	require.NoError(t, err)

	require.Equal(t, []InputAttribute{{Location: 0, Semantic: "POSITION", Format: gpu.Float32x3}}, r.InputAttributes())
	loc, ok := r.InputAttributeLocation("POSITION")
	require.True(t, ok)
	require.Equal(t, 0, loc)

	require.Len(t, r.ResourceBindings(), 1)
	rb := r.ResourceBindings()[0]
	require.Equal(t, "tex", rb.Name)
	require.Equal(t, TextureSRV, rb.Type)
	require.Equal(t, 0, rb.Set)
	require.Equal(t, 2, rb.Slot)
	require.Equal(t, 1, rb.Count)
	slot, ok := r.ResourceBindingIndex("tex")
	require.True(t, ok)
	require.Equal(t, 2, slot)

	require.Len(t, r.RootConstants(), 1)
	rc := r.RootConstants()[0]
	require.Equal(t, "pushConsts", rc.Name)
	require.Equal(t, 0, rc.Offset)
	require.Equal(t, 16, rc.ByteSize)

	require.Equal(t, []string{"specConst"}, r.SpecializationConstantNames())
}

func TestNewReflectionRejectsBadMagic(t *testing.T) {
	data := make([]byte, 20)
	_, err := NewReflection(data)
	require.Error(t, err)
}

func TestNewReflectionRejectsUnalignedLength(t *testing.T) {
	_, err := NewReflection([]byte{1, 2, 3})
	require.Error(t, err)
}
