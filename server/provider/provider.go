// Package provider adapts an object detection model to a single Detect operation
package provider

import (
	"context"
	"image"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/nn"
)

// Provider maps a video frame to raw detections.
// A nil or empty frame yields no detections and no error.
type Provider interface {
	Name() string
	Detect(ctx context.Context, frame image.Image) ([]nn.RawDetection, error)
}

// Loader produces a Provider, typically by fetching model assets
type Loader interface {
	Load(ctx context.Context) (Provider, error)
}

// LoadWithFallback loads the real model, or returns a SyntheticProvider if that fails.
// It never fails. loadErr is the reason for degradation, if any.
func LoadWithFallback(ctx context.Context, log logs.Log, loader Loader, labels []string) (p Provider, degraded bool, loadErr error) {
	if loader != nil {
		log.Infof("Loading detection model")
		p, loadErr = loader.Load(ctx)
		if loadErr == nil {
			log.Infof("Detection model '%v' loaded", p.Name())
			return p, false, nil
		}
		log.Warnf("Failed to load detection model: %v. Using simulation mode", loadErr)
	} else {
		log.Warnf("No detection model configured. Using simulation mode")
	}
	return NewSyntheticProvider(labels, nil), true, loadErr
}

func frameReady(frame image.Image) bool {
	if frame == nil {
		return false
	}
	b := frame.Bounds()
	return b.Dx() > 0 && b.Dy() > 0
}
