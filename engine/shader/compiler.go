// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package shader

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os/exec"
)

// Stage identifies a programmable shader stage, mirroring
// ShaderCompilerDXC.cpp's ShaderStage parameter.
type Stage int

// Shader stages.
const (
	Vertex Stage = iota
	Pixel
	Hull
	Domain
	Geometry
	Compute
)

// targetProfile returns the DXC target profile for s, mirroring
// GetShaderTargetProfile in ShaderCompilerDXC.cpp.
func (s Stage) targetProfile() (string, error) {
	switch s {
	case Vertex:
		return "vs_6_6", nil
	case Pixel:
		return "ps_6_6", nil
	case Hull:
		return "hs_6_6", nil
	case Domain:
		return "ds_6_6", nil
	case Geometry:
		return "gs_6_6", nil
	case Compute:
		return "cs_6_6", nil
	}
	return "", fmt.Errorf("%sinvalid Stage %d", prefix, s)
}

// EntryPoint returns the fixed entry-point name CompileShader passes
// via -E for s, also used by engine/pipeline to name the
// gpu.ShaderFunc a compiled stage is bound under. The original's
// per-stage GetShaderEntryPointName table isn't in the retrieval
// pack; this uses the conventional stage-suffixed HLSL entry names
// instead.
func (s Stage) EntryPoint() (string, error) {
	switch s {
	case Vertex:
		return "VSMain", nil
	case Pixel:
		return "PSMain", nil
	case Hull:
		return "HSMain", nil
	case Domain:
		return "DSMain", nil
	case Geometry:
		return "GSMain", nil
	case Compute:
		return "CSMain", nil
	}
	return "", fmt.Errorf("%sinvalid Stage %d", prefix, s)
}

// Define is a preprocessor define passed to the compiler as -D
// name=value.
type Define struct{ Name, Value string }

// CompileArgs is the Go counterpart of ShaderCompilerArgs.
type CompileArgs struct {
	ShaderName string
	Stage      Stage
	Defines    []Define
}

// CompileResult is the Go counterpart of ShaderCompilerResult.
type CompileResult struct {
	ByteCode     []byte
	ByteCodeSize int
	Hash         [sha256.Size]byte
	HashValid    bool
	CodeValid    bool
}

// fixedArgs are the DXC arguments CompileShader always passes,
// mirroring kCompilerArgs in ShaderCompilerDXC.cpp, updated per
// spec.md §6's "Shader input contract" (SPIR-V 1.4 target, scalar
// block layout) in place of the original's dx-layout flag.
var fixedArgs = []string{
	"-spirv",
	"-fspv-target-env=vulkan1.1spirv1.4",
	"-fspv-extension=KHR",
	"-fspv-extension=SPV_EXT_descriptor_indexing",
	"-fspv-extension=SPV_GOOGLE_hlsl_functionality1",
	"-fspv-extension=SPV_GOOGLE_user_type",
	"-fvk-use-scalar-layout",
	"-fspv-reflect",
	"-Od",
	"-Zi",
	"-Qstrip_debug",
}

// Compiler invokes an external dxc toolchain to compile HLSL sources
// resolved through a SourceCache into SPIR-V, the Go counterpart of
// ShaderCompilerDXC. Unlike the original, which drives DXC in-process
// through its COM API with a custom IDxcIncludeHandler that reads
// through the ShaderSourceCache, this shells out to the dxc binary
// (os/exec, no in-process COM callback is possible from Go without a
// cgo binding this module doesn't carry) and points it at the cache's
// root directory with -I so its own include resolution serves
// #include directives.
type Compiler struct {
	dxcPath string
	cache   *SourceCache
}

// NewCompiler creates a Compiler that resolves shader sources through
// cache and invokes the dxc binary found as dxcPath (commonly just
// "dxc", resolved via PATH).
func NewCompiler(dxcPath string, cache *SourceCache) *Compiler {
	if dxcPath == "" {
		dxcPath = "dxc"
	}
	return &Compiler{dxcPath: dxcPath, cache: cache}
}

// CompileShader resolves args.ShaderName through the Compiler's
// SourceCache and invokes dxc, returning an empty, CodeValid=false
// result on any failure rather than an error — mirroring
// ShaderCompilerDXC::CompileShader, whose failure path logs and
// returns a default-constructed ShaderCompilerResult instead of
// propagating an error type.
func (c *Compiler) CompileShader(args CompileArgs) CompileResult {
	src, err := c.cache.GetSource(args.ShaderName)
	if err != nil {
		return CompileResult{}
	}

	profile, err := args.Stage.targetProfile()
	if err != nil {
		return CompileResult{}
	}
	entry, err := args.Stage.EntryPoint()
	if err != nil {
		return CompileResult{}
	}

	cliArgs := []string{"-E", entry, "-T", profile, "-I", c.cache.root}
	for _, d := range args.Defines {
		cliArgs = append(cliArgs, "-D", d.Name+"="+d.Value)
	}
	cliArgs = append(cliArgs, fixedArgs...)

	cmd := exec.Command(c.dxcPath, cliArgs...)
	cmd.Stdin = bytes.NewReader(src.Source())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return CompileResult{}
	}

	binary := stdout.Bytes()
	if len(binary) == 0 {
		return CompileResult{}
	}

	const dword = 4
	aligned := (len(binary) + dword - 1) &^ (dword - 1)
	byteCode := make([]byte, aligned)
	copy(byteCode, binary)

	return CompileResult{
		ByteCode:     byteCode,
		ByteCodeSize: len(binary),
		// DXC's DXC_OUT_SHADER_HASH output requires the in-process
		// COM API this Compiler doesn't use; sha256 over the object
		// blob serves the same "stable identity for this exact byte
		// code" role ShaderCompilerResult.m_hash plays downstream
		// (pipeline/shader cache keys).
		Hash:      sha256.Sum256(binary),
		HashValid: true,
		CodeValid: true,
	}
}

// dxcAvailable reports whether c's dxc binary can be located. It is
// used by the package's tests to check for a DXC install.
func (c *Compiler) dxcAvailable() bool {
	_, err := exec.LookPath(c.dxcPath)
	return err == nil
}
