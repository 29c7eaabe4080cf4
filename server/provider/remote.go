package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/imagex"
	"github.com/cyclopcam/lookout/pkg/nn"
	"github.com/cyclopcam/www"
)

// RemoteConfig points at a detection model served over HTTP
type RemoteConfig struct {
	ModelURL       string `json:"modelURL"`       // JSON document holding nn.ModelConfig
	LabelsURL      string `json:"labelsURL"`      // Text file with one class per line. Optional if the model config lists classes.
	InferenceURL   string `json:"inferenceURL"`   // Frames are POSTed here as image/jpeg
	TimeoutSeconds int    `json:"timeoutSeconds"` // Per request. Default 10.
	JPEGQuality    int    `json:"jpegQuality"`    // Default imagex.DefaultJPEGQuality
}

func (c *RemoteConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RemoteLoader fetches the two model assets, and then produces a RemoteProvider
type RemoteLoader struct {
	Log    logs.Log
	Config RemoteConfig
}

func NewRemoteLoader(log logs.Log, config RemoteConfig) *RemoteLoader {
	return &RemoteLoader{
		Log:    log,
		Config: config,
	}
}

func (l *RemoteLoader) Load(ctx context.Context) (Provider, error) {
	if l.Config.ModelURL == "" || l.Config.InferenceURL == "" {
		return nil, fmt.Errorf("Model URL and inference URL must both be configured")
	}
	ctx, cancel := context.WithTimeout(ctx, l.Config.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", l.Config.ModelURL, nil)
	if err != nil {
		return nil, err
	}
	model := &nn.ModelConfig{}
	if err := www.FetchJSON(req, model); err != nil {
		return nil, fmt.Errorf("Failed to fetch model config %v: %w", l.Config.ModelURL, err)
	}

	if l.Config.LabelsURL != "" {
		req, err = http.NewRequestWithContext(ctx, "GET", l.Config.LabelsURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := www.Do(req)
		if err != nil {
			return nil, fmt.Errorf("Failed to fetch class list %v: %w", l.Config.LabelsURL, err)
		}
		classes, err := nn.ParseClassList(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("Failed to read class list %v: %w", l.Config.LabelsURL, err)
		}
		model.Classes = classes
	}
	if len(model.Classes) == 0 {
		l.Log.Infof("Model config has no classes. Assuming COCO")
		model.Classes = nn.COCOClasses
	}
	l.Log.Infof("Model %v (%v x %v) has %v classes", model.Architecture, model.Width, model.Height, len(model.Classes))

	return &RemoteProvider{
		log:    l.Log,
		config: l.Config,
		model:  model,
	}, nil
}

// RemoteProvider sends each frame to an inference service
type RemoteProvider struct {
	log    logs.Log
	config RemoteConfig
	model  *nn.ModelConfig

	// Overridden by unit tests
	encode func(img image.Image, quality int) ([]byte, error)
}

// A detection as returned by the inference service.
// Either Class or ClassIndex identifies the object.
type remoteDetection struct {
	Class      string  `json:"class"`
	ClassIndex *int    `json:"classIndex"`
	Score      float32 `json:"score"`
	Box        nn.Rect `json:"bbox"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

func (p *RemoteProvider) Name() string {
	if p.model.Architecture != "" {
		return p.model.Architecture
	}
	return "remote"
}

func (p *RemoteProvider) Model() *nn.ModelConfig {
	return p.model
}

func (p *RemoteProvider) Detect(ctx context.Context, frame image.Image) ([]nn.RawDetection, error) {
	if !frameReady(frame) {
		return nil, nil
	}
	encode := p.encode
	if encode == nil {
		encode = imagex.EncodeJPEG
	}
	jpg, err := encode(frame, p.config.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.timeout())
	defer cancel()

	b := frame.Bounds()
	u, err := url.Parse(p.config.InferenceURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("width", strconv.Itoa(b.Dx()))
	q.Set("height", strconv.Itoa(b.Dy()))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp := remoteResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("Inference request failed: %w", err)
	}

	result := make([]nn.RawDetection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		class := d.Class
		if class == "" && d.ClassIndex != nil {
			if *d.ClassIndex < 0 || *d.ClassIndex >= len(p.model.Classes) {
				p.log.Warnf("Inference returned out of range class index %v", *d.ClassIndex)
				continue
			}
			class = p.model.Classes[*d.ClassIndex]
		}
		result = append(result, nn.RawDetection{
			Class: class,
			Score: d.Score,
			Box:   d.Box,
		})
	}
	return result, nil
}
