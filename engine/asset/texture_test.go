// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrum3d/core/engine/copyqueue"
	"github.com/ferrum3d/core/engine/job"
)

// writePNG writes a tiny solid-color PNG to dir/name and returns
// its path, exercising the fallback decode path (no container
// magic, so TextureManager must sniff it with h2non/filetype and
// decode it with the stdlib image package).
func writePNG(t *testing.T, dir, name string) string {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestTextureManagerLoadFallbackPNG(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "solid.png")

	jobs := job.NewSystem(2)
	defer jobs.Close()
	queue, err := copyqueue.New(1)
	require.NoError(t, err)
	defer queue.Close()

	mgr := NewTextureManager(dir, jobs, queue)
	asset := mgr.Load("solid.png")
	asset.Wait()

	require.False(t, asset.Status() == Failed, "unexpected Failed status")
	require.Equal(t, CompletelyLoaded, asset.Status())
	require.NotNil(t, asset.Image())
}

func TestTextureManagerLoadMissingFileFails(t *testing.T) {
	jobs := job.NewSystem(1)
	defer jobs.Close()
	queue, err := copyqueue.New(1)
	require.NoError(t, err)
	defer queue.Close()

	mgr := NewTextureManager(t.TempDir(), jobs, queue)
	asset := mgr.Load("does-not-exist.bin")
	asset.Wait()

	require.Equal(t, Failed, asset.Status())
	require.True(t, asset.done.Failed())
}
