package camera

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pion/mediadevices"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
)

var initializeDriversOnce sync.Once

// MediaDevices opens local capture devices (V4L2 on Linux, AVFoundation on macOS).
// A server has no notion of front and rear cameras, so devices are mapped to a facing
// by label (EnvironmentLabel/UserLabel), or else by enumeration order.
type MediaDevices struct {
	Log              logs.Log
	EnvironmentLabel string // eg "video0"
	UserLabel        string // eg "video2"
}

func NewMediaDevices(log logs.Log) *MediaDevices {
	initializeDriversOnce.Do(mediadevicescamera.Initialize)
	return &MediaDevices{Log: log}
}

func (m *MediaDevices) Devices() []DeviceInfo {
	devices := []DeviceInfo{}
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		devices = append(devices, DeviceInfo{
			ID:    d.DeviceID,
			Label: d.Label,
		})
	}
	// Assign facings
	for i := range devices {
		devices[i].Facing = m.facingOf(devices[i], i)
	}
	return devices
}

func (m *MediaDevices) facingOf(d DeviceInfo, idx int) Facing {
	if m.EnvironmentLabel != "" && strings.Contains(d.Label, m.EnvironmentLabel) {
		return FacingEnvironment
	}
	if m.UserLabel != "" && strings.Contains(d.Label, m.UserLabel) {
		return FacingUser
	}
	if m.EnvironmentLabel == "" && idx == 0 {
		return FacingEnvironment
	}
	if m.UserLabel == "" && idx == 1 {
		return FacingUser
	}
	return ""
}

func (m *MediaDevices) Open(ctx context.Context, c Constraints) (Stream, error) {
	deviceID := ""
	for _, d := range m.Devices() {
		if d.Facing == c.Facing {
			deviceID = d.ID
			break
		}
	}
	if deviceID == "" {
		return nil, &Error{Kind: ErrorDeviceNotFound, Err: fmt.Errorf("%w facing %v", ErrNoDevice, c.Facing)}
	}
	m.Log.Infof("Opening camera %v for facing %v", deviceID, c.Facing)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(t *mediadevices.MediaTrackConstraints) {
			t.DeviceID = prop.StringExact(deviceID)
			t.Width = prop.IntRanged{Min: c.Width.Min, Ideal: c.Width.Ideal, Max: c.Width.Max}
			t.Height = prop.IntRanged{Min: c.Height.Min, Ideal: c.Height.Ideal, Max: c.Height.Max}
			t.FrameRate = prop.FloatRanged{Min: c.FrameRate.Min, Ideal: c.FrameRate.Ideal, Max: c.FrameRate.Max}
			t.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatRGBA,
				frame.FormatMJPEG,
				frame.FormatNV12,
				frame.FormatNV21,
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to open camera %v: %w", deviceID, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, &Error{Kind: ErrorDeviceNotFound, Err: ErrNoDevice}
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(stream)
		return nil, &Error{Kind: ErrorDeviceUnsupported, Err: fmt.Errorf("Unexpected track type %T", tracks[0])}
	}
	return &mediaStream{
		stream: stream,
		reader: vt.NewReader(false),
	}, nil
}

type mediaStream struct {
	stream mediadevices.MediaStream
	reader video.Reader
}

func (s *mediaStream) ReadFrame() (image.Image, error) {
	img, release, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	// The driver reuses its buffer after release, so take a copy
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	release()
	return rgba, nil
}

func (s *mediaStream) Close() error {
	return closeTracks(s.stream)
}

func closeTracks(stream mediadevices.MediaStream) error {
	var firstErr error
	for _, t := range stream.GetTracks() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
