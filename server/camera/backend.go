package camera

import (
	"context"
	"image"
)

// Facing is the direction a camera points, relative to the user
type Facing string

const (
	FacingEnvironment Facing = "environment" // rear camera
	FacingUser        Facing = "user"        // front camera
)

// Opposite returns the other facing
func (f Facing) Opposite() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// Range is a constraint on an integer stream property
type Range struct {
	Min   int `json:"min"`
	Ideal int `json:"ideal"`
	Max   int `json:"max"`
}

// FloatRange is a constraint on a fractional stream property
type FloatRange struct {
	Min   float32 `json:"min"`
	Ideal float32 `json:"ideal"`
	Max   float32 `json:"max"`
}

// Constraints for a video-only capture stream
type Constraints struct {
	Facing    Facing     `json:"facing"`
	Width     Range      `json:"width"`
	Height    Range      `json:"height"`
	FrameRate FloatRange `json:"frameRate"`
}

// Ideal 640x480 at 30 FPS, no smaller than 320x240, no faster than 60 FPS
func DefaultConstraints(facing Facing) Constraints {
	return Constraints{
		Facing:    facing,
		Width:     Range{Min: 320, Ideal: 640, Max: 4096},
		Height:    Range{Min: 240, Ideal: 480, Max: 2160},
		FrameRate: FloatRange{Min: 0, Ideal: 30, Max: 60},
	}
}

// DeviceInfo describes a video input
type DeviceInfo struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing"`
}

// Stream is an open capture stream
type Stream interface {
	// ReadFrame blocks until the next frame arrives.
	// The returned image is owned by the caller.
	ReadFrame() (image.Image, error)

	// Close stops every track of the stream
	Close() error
}

// Backend opens capture streams
type Backend interface {
	Open(ctx context.Context, constraints Constraints) (Stream, error)
	Devices() []DeviceInfo
}
