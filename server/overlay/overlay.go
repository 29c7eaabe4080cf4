// Package overlay draws detection boxes and labels onto a transparent layer
// that sits on top of the video frame.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/cyclopcam/lookout/pkg/nn"
	"github.com/cyclopcam/lookout/server/registry"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	LineWidth   = 3
	FontSize    = 16
	LabelHeight = 25
	LabelPadX   = 5 // Text inset from the left edge of the label band
	LabelAlpha  = 0x90
)

var (
	fontOnce   sync.Once
	parsedFont *truetype.Font
)

// A font.Face caches glyphs and is not safe for concurrent use, so each surface gets its own
func newLabelFace() font.Face {
	fontOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic(err)
		}
		parsedFont = f
	})
	return truetype.NewFace(parsedFont, &truetype.Options{Size: FontSize})
}

// Surface is a transparent RGBA layer, sized to match the video frame.
// Surface is not safe for concurrent use.
type Surface struct {
	registry *registry.Registry
	face     font.Face
	img      *image.RGBA
	dc       *gg.Context
	nDraws   int64
}

func NewSurface(reg *registry.Registry) *Surface {
	s := &Surface{
		registry: reg,
		face:     newLabelFace(),
	}
	s.Resize(0, 0)
	return s
}

// Resize the surface if the dimensions differ. Content is discarded on resize.
// Returns true if the size changed.
func (s *Surface) Resize(width, height int) bool {
	if s.img != nil && s.img.Rect.Dx() == width && s.img.Rect.Dy() == height {
		return false
	}
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
	s.dc = gg.NewContextForRGBA(s.img)
	s.dc.SetFontFace(s.face)
	return true
}

func (s *Surface) Width() int {
	return s.img.Rect.Dx()
}

func (s *Surface) Height() int {
	return s.img.Rect.Dy()
}

// Draws counts calls to Clear and Render, so that callers can verify that nothing was drawn
func (s *Surface) Draws() int64 {
	return s.nDraws
}

// Clear makes every pixel transparent
func (s *Surface) Clear() {
	s.nDraws++
	clear(s.img.Pix)
}

// Render draws each detection, in order
func (s *Surface) Render(detections []nn.Detection) {
	s.nDraws++
	if s.Width() == 0 || s.Height() == 0 {
		return
	}
	dc := s.dc
	for _, d := range detections {
		c := s.registry.Color(d.Label)
		x := float64(d.Box.X)
		y := float64(d.Box.Y)

		dc.SetLineWidth(LineWidth)
		dc.SetColor(c)
		dc.DrawRectangle(x, y, float64(d.Box.Width), float64(d.Box.Height))
		dc.Stroke()

		label := LabelText(s.registry, d)
		textWidth, _ := dc.MeasureString(label)
		band, textX, textY := LabelLayout(d.Box, textWidth)

		dc.SetColor(color.NRGBA{c.R, c.G, c.B, LabelAlpha})
		dc.DrawRectangle(band[0], band[1], band[2], band[3])
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawString(label, textX, textY)
	}
}

// Image returns a copy of the layer
func (s *Surface) Image() *image.RGBA {
	cp := image.NewRGBA(s.img.Rect)
	copy(cp.Pix, s.img.Pix)
	return cp
}

// LabelText is "<display name> (<confidence as a percentage, 1 decimal>%)"
func LabelText(reg *registry.Registry, d nn.Detection) string {
	return fmt.Sprintf("%v (%.1f%%)", reg.DisplayName(d.Label), d.Confidence*100)
}

// LabelLayout places the label band above the box when there is room, otherwise
// just inside its top edge. band is [x, y, width, height], and (textX, textY) is the text baseline origin.
func LabelLayout(box nn.Rect, textWidth float64) (band [4]float64, textX, textY float64) {
	x := float64(box.X)
	y := float64(box.Y)
	band = [4]float64{x, y, textWidth + 2*LabelPadX, LabelHeight}
	textY = y + 18
	if y > LabelHeight {
		band[1] = y - LabelHeight
		textY = y - 5
	}
	return band, x + LabelPadX, textY
}

// Composite draws layer over frame, and returns the result as a new image
func Composite(frame image.Image, layer *image.RGBA) *image.RGBA {
	dc := gg.NewContextForImage(frame)
	if layer != nil {
		dc.DrawImage(layer, 0, 0)
	}
	return dc.Image().(*image.RGBA)
}
