package nn

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// Package nn holds the types that cross the boundary between a detection model and the rest of the system.

// RawDetection is one object as reported by a detection model, before any filtering.
type RawDetection struct {
	Class string  `json:"class"`
	Score float32 `json:"score"`
	Box   Rect    `json:"bbox"`
}

// Detection is a RawDetection that has passed the supported object filter
type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"boundingBox"`
}

// Results of one detection tick
type DetectionResult struct {
	ImageWidth  int         `json:"imageWidth"`
	ImageHeight int         `json:"imageHeight"`
	Objects     []Detection `json:"objects"`
	FrameTime   time.Time   `json:"frameTime"`
}

// ModelConfig describes a remotely hosted detection model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "ssd_mobilenet_v2"
	Width        int      `json:"width"`        // eg 300
	Height       int      `json:"height"`       // eg 300
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Parse a model config JSON document
func ParseModelConfig(b []byte) (*ModelConfig, error) {
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Parse a text file with class names on each line
func ParseClassList(r io.Reader) ([]string, error) {
	classes := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
