// Package imagex converts between Go images and cimg images
package imagex

import (
	"image"

	"github.com/bmharper/cimg/v2"
)

// DefaultJPEGQuality is used for frames, snapshots, and inference uploads
const DefaultJPEGQuality = 85

// ToCImageRGB copies img into a tightly packed 24-bit RGB image.
// *image.RGBA is copied directly. Other formats go through the generic color model.
func ToCImageRGB(img image.Image) *cimg.Image {
	b := img.Bounds()
	dst := cimg.NewImage(b.Dx(), b.Dy(), cimg.PixelFormatRGB)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < dst.Height; y++ {
			src := rgba.Pix[(y+b.Min.Y-rgba.Rect.Min.Y)*rgba.Stride+(b.Min.X-rgba.Rect.Min.X)*4:]
			line := dst.Pixels[y*dst.Stride:]
			for x := 0; x < dst.Width; x++ {
				line[x*3] = src[x*4]
				line[x*3+1] = src[x*4+1]
				line[x*3+2] = src[x*4+2]
			}
		}
		return dst
	}
	for y := 0; y < dst.Height; y++ {
		line := dst.Pixels[y*dst.Stride:]
		for x := 0; x < dst.Width; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			line[x*3] = uint8(r >> 8)
			line[x*3+1] = uint8(g >> 8)
			line[x*3+2] = uint8(bb >> 8)
		}
	}
	return dst
}

// EncodeJPEG compresses img with 4:2:0 chroma sampling
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return cimg.Compress(ToCImageRGB(img), cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}
