package nn

import (
	"encoding/json"
	"fmt"

	"github.com/chewxy/math32"
)

// Rect is a box in frame pixel coordinates.
// On the wire it is the 4 element array [x, y, width, height].
type Rect struct {
	X      float32
	Y      float32
	Width  float32
	Height float32
}

func MakeRect(x, y, width, height float32) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

func (r Rect) Area() float32 {
	return r.Width * r.Height
}

func (r Rect) Right() float32 {
	return r.X + r.Width
}

func (r Rect) Bottom() float32 {
	return r.Y + r.Height
}

// Valid returns false for negative or NaN dimensions
func (r Rect) Valid() bool {
	return r.Width >= 0 && r.Height >= 0 && !math32.IsNaN(r.X) && !math32.IsNaN(r.Y)
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := math32.Max(r.X, b.X)
	y1 := math32.Max(r.Y, b.Y)
	x2 := math32.Min(r.Right(), b.Right())
	y2 := math32.Min(r.Bottom(), b.Bottom())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  math32.Max(0, x2-x1),
		Height: math32.Max(0, y2-y1),
	}
}

// Clamp restricts the rectangle to a frame of the given size
func (r Rect) Clamp(frameWidth, frameHeight int) Rect {
	return r.Intersection(Rect{Width: float32(frameWidth), Height: float32(frameHeight)})
}

func (r Rect) Array() [4]float32 {
	return [4]float32{r.X, r.Y, r.Width, r.Height}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%.1f, %.1f, %.1f, %.1f]", r.X, r.Y, r.Width, r.Height)
}

func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Array())
}

func (r *Rect) UnmarshalJSON(b []byte) error {
	var a []float32
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if len(a) != 4 {
		return fmt.Errorf("Bounding box must have 4 elements, but has %v", len(a))
	}
	*r = Rect{X: a[0], Y: a[1], Width: a[2], Height: a[3]}
	return nil
}
