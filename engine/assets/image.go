package assets

import (
	"fmt"
	"image"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Image is a decoded texture ready for Device.CreateTexture.
type Image struct {
	Desc         metadata.TextureDesc
	Subresources []metadata.SubresourceData
}

type ImageOptions struct {
	FlipY bool
	// Mips builds the full chain down to 1x1.
	Mips bool
	Srgb bool
}

type ImageLoader struct {
	Options ImageOptions
}

func (il *ImageLoader) Load(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return NewImage(path, src, il.Options), nil
}

// NewImage converts src to RGBA8 and lays out its mip chain as subresources.
func NewImage(name string, src image.Image, opts ImageOptions) *Image {
	bounds := src.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(base, base.Bounds(), src, bounds.Min, draw.Src)
	if opts.FlipY {
		flipRows(base)
	}

	format := metadata.FormatR8G8B8A8Unorm
	if opts.Srgb {
		format = metadata.FormatR8G8B8A8UnormSrgb
	}
	img := &Image{
		Desc: metadata.TextureDesc{
			Name:          name,
			Type:          metadata.Texture2D,
			Width:         uint32(base.Rect.Dx()),
			Height:        uint32(base.Rect.Dy()),
			Depth:         1,
			ArraySize:     1,
			MipLevels:     1,
			SampleCount:   1,
			Format:        format,
			Usage:         metadata.UsageImmutable,
			BindFlags:     metadata.BindShaderResource,
			InitialLayout: metadata.LayoutShaderResource,
		},
	}
	if opts.Mips {
		img.Desc.MipLevels = MipCount(img.Desc.Width, img.Desc.Height)
	}

	level := base
	for mip := uint32(0); mip < img.Desc.MipLevels; mip++ {
		if mip > 0 {
			w := math.Max(level.Rect.Dx()/2, 1)
			h := math.Max(level.Rect.Dy()/2, 1)
			next := image.NewRGBA(image.Rect(0, 0, w, h))
			draw.BiLinear.Scale(next, next.Rect, level, level.Rect, draw.Src, nil)
			level = next
		}
		img.Subresources = append(img.Subresources, metadata.SubresourceData{
			Data:       level.Pix,
			RowPitch:   uint32(level.Stride),
			SlicePitch: uint32(len(level.Pix)),
		})
	}
	return img
}

// MipCount returns the number of levels down to 1x1.
func MipCount(width, height uint32) uint32 {
	levels := uint32(1)
	for size := math.Max(width, height); size > 1; size /= 2 {
		levels++
	}
	return levels
}

func flipRows(img *image.RGBA) {
	row := make([]byte, img.Stride)
	h := img.Rect.Dy()
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}
