package assets

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func TestMipCount(t *testing.T) {
	assert.Equal(t, uint32(1), MipCount(1, 1))
	assert.Equal(t, uint32(2), MipCount(2, 1))
	assert.Equal(t, uint32(9), MipCount(256, 16))
	assert.Equal(t, uint32(9), MipCount(300, 300))
}

func TestNewImageChain(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.NRGBA{G: 200, A: 255})
		}
	}

	img := NewImage("green", src, ImageOptions{Mips: true, Srgb: true})
	assert.Equal(t, metadata.FormatR8G8B8A8UnormSrgb, img.Desc.Format)
	assert.Equal(t, metadata.LayoutShaderResource, img.Desc.InitialLayout)
	require.Len(t, img.Subresources, 4)

	sizes := [][2]uint32{{8, 4}, {4, 2}, {2, 1}, {1, 1}}
	for i, sub := range img.Subresources {
		assert.Equal(t, sizes[i][0]*4, sub.RowPitch, "mip %d", i)
		assert.Equal(t, sizes[i][0]*sizes[i][1]*4, sub.SlicePitch, "mip %d", i)
	}
	last := img.Subresources[3].Data
	require.Len(t, last, 4)
	assert.InDelta(t, 200, int(last[1]), 1)
	assert.Equal(t, byte(255), last[3])
}

func TestNewImageFlip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1, 2))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(0, 1, color.RGBA{B: 255, A: 255})

	img := NewImage("flip", src, ImageOptions{FlipY: true})
	require.Len(t, img.Subresources, 1)
	assert.Equal(t, []byte{0, 0, 255, 255, 255, 0, 0, 255}, img.Subresources[0].Data)
}
