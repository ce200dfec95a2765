// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package shader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceCacheGetSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hlsl"), []byte("// a"), 0o644))

	c := NewSourceCache(dir)
	f, err := c.GetSource("a.hlsl")
	require.NoError(t, err)
	require.Equal(t, []byte("// a"), f.Source())
	require.Equal(t, filepath.Join(dir, "a.hlsl"), f.Path())

	// Same path through a different but equivalent relative form
	// resolves to the same pinned entry.
	f2, err := c.GetSource(filepath.Join("sub", "..", "a.hlsl"))
	require.NoError(t, err)
	require.Same(t, f, f2)
}

func TestSourceCacheGetSourceMissing(t *testing.T) {
	c := NewSourceCache(t.TempDir())
	_, err := c.GetSource("missing.hlsl")
	require.Error(t, err)
}
