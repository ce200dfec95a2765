// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package shader implements HLSL-to-SPIR-V compilation and SPIR-V
// reflection (spec.md §4.I): a SourceCache that pins loaded
// source bytes by canonical path, a Compiler that shells out to an
// external dxc toolchain, and a Reflection that walks a compiled
// module's SPIR-V word stream directly.
package shader

import (
	"os"
	"path/filepath"
	"sync"
)

const prefix = "shader: "

// SourceFile is a pinned shader source file, the Go counterpart of
// ShaderSourceFile: once loaded, its bytes never change underneath a
// caller holding a reference.
type SourceFile struct {
	path   string
	source []byte
}

// Path returns the canonical path SourceCache resolved this file
// under.
func (f *SourceFile) Path() string { return f.path }

// Source returns the file's pinned byte content.
func (f *SourceFile) Source() []byte { return f.source }

// SourceCache loads and pins shader source files keyed by canonical
// path, grounded on spec.md §3's "ShaderSourceCache: keyed by
// canonical path, loads and pins source bytes" contract. A Compiler
// loads the shader named in a CompileArgs through GetSource and passes
// the cache's root directory to dxc with -I, so #include directives
// are resolved by dxc itself rather than through the cache.
type SourceCache struct {
	root string

	mu    sync.Mutex
	files map[string]*SourceFile
}

// NewSourceCache creates a SourceCache resolving names under root.
func NewSourceCache(root string) *SourceCache {
	return &SourceCache{root: root, files: make(map[string]*SourceFile)}
}

// GetSource returns the pinned SourceFile for name, loading and
// caching it on first access. name is resolved under the cache's
// root and cleaned, so "a/../b.hlsl" and "b.hlsl" share one entry.
func (c *SourceCache) GetSource(name string) (*SourceFile, error) {
	canon := filepath.Clean(filepath.Join(c.root, name))

	c.mu.Lock()
	if f, ok := c.files[canon]; ok {
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(canon)
	if err != nil {
		return nil, err
	}
	f := &SourceFile{path: canon, source: data}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.files[canon]; ok {
		// Lost a race with a concurrent load of the same file;
		// keep whichever copy is already pinned.
		return existing, nil
	}
	c.files[canon] = f
	return f, nil
}
