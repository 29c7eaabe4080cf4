// Package pipeline coordinates the camera, the detection model, and the detection loop
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/nn"
	"github.com/cyclopcam/lookout/server/camera"
	"github.com/cyclopcam/lookout/server/monitor"
	"github.com/cyclopcam/lookout/server/provider"
	"github.com/cyclopcam/lookout/server/registry"
)

type CameraState string

const (
	CameraInitializing CameraState = "initializing"
	CameraReady        CameraState = "ready"
	CameraError        CameraState = "error"
)

// ModelFallbackMessage is shown when the real model could not be loaded
const ModelFallbackMessage = "failed to load AI model, using simulation mode"

var ErrNotReady = errors.New("camera or model not ready")

type Pipeline struct {
	Log      logs.Log
	acquirer *camera.Acquirer
	loader   provider.Loader
	registry *registry.Registry
	monitor  *monitor.Monitor
	facing   camera.Facing
	interval time.Duration

	lock        sync.Mutex
	state       CameraState
	cameraErr   *camera.Error
	session     *camera.Session
	provider    provider.Provider
	degraded    bool
	modelErr    error
	noticeSeen  bool // The degraded-model notice was dismissed by starting detection
	initCancel  context.CancelFunc
	initialized bool
	torndown    bool
}

// New creates a pipeline. Nothing happens until Start is called.
// loader may be nil, in which case the synthetic provider is used.
func New(log logs.Log, acquirer *camera.Acquirer, loader provider.Loader, reg *registry.Registry, facing camera.Facing, interval time.Duration) *Pipeline {
	if facing == "" {
		facing = camera.FacingEnvironment
	}
	if interval <= 0 {
		interval = monitor.DefaultInterval
	}
	return &Pipeline{
		Log:      log,
		acquirer: acquirer,
		loader:   loader,
		registry: reg,
		monitor:  monitor.NewMonitor(log, reg),
		facing:   facing,
		interval: interval,
		state:    CameraInitializing,
	}
}

func (p *Pipeline) Monitor() *monitor.Monitor {
	return p.monitor
}

func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Start acquires the camera and loads the model concurrently.
// It returns once both have resolved. Each outcome is handled independently,
// so a model failure does not block the camera, and vice versa.
func (p *Pipeline) Start(ctx context.Context) {
	p.lock.Lock()
	if p.torndown {
		p.lock.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.initCancel = cancel
	p.state = CameraInitializing
	p.lock.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.acquireCamera(ctx)
	}()
	go func() {
		defer wg.Done()
		p.loadModel(ctx)
	}()
	wg.Wait()

	p.lock.Lock()
	p.initialized = true
	p.lock.Unlock()
	p.Log.Infof("Pipeline initialized")
}

func (p *Pipeline) acquireCamera(ctx context.Context) {
	session, err := p.acquirer.Acquire(ctx, p.facing)

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.torndown {
		if session != nil {
			p.acquirer.Release()
		}
		return
	}
	if err != nil {
		p.state = CameraError
		p.cameraErr = camera.Classify(err)
		p.session = nil
		p.monitor.SetSource(nil)
		p.Log.Errorf("Camera unavailable: %v", err)
		return
	}
	p.state = CameraReady
	p.cameraErr = nil
	p.session = session
	p.monitor.SetSource(session)
}

func (p *Pipeline) loadModel(ctx context.Context) {
	prov, degraded, loadErr := provider.LoadWithFallback(ctx, p.Log, p.loader, p.registry.Labels())

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.torndown {
		return
	}
	p.provider = prov
	p.degraded = degraded
	p.modelErr = loadErr
	p.monitor.SetProvider(prov)
}

// StartDetection begins the detection loop.
// Returns ErrNotReady, and changes nothing, unless the camera is ready and a provider is loaded.
func (p *Pipeline) StartDetection() error {
	p.lock.Lock()
	if p.state != CameraReady || p.provider == nil || p.torndown {
		p.lock.Unlock()
		return ErrNotReady
	}
	p.noticeSeen = true
	p.lock.Unlock()
	p.monitor.Start(p.interval)
	return nil
}

// StopDetection stops the loop. Calling it while idle does nothing.
func (p *Pipeline) StopDetection() {
	p.monitor.Stop()
}

// Retry stops detection and acquires the camera again
func (p *Pipeline) Retry(ctx context.Context) {
	p.StopDetection()
	p.lock.Lock()
	if p.torndown {
		p.lock.Unlock()
		return
	}
	p.state = CameraInitializing
	p.cameraErr = nil
	p.session = nil
	p.monitor.SetSource(nil)
	p.lock.Unlock()

	p.Log.Infof("Retrying camera")
	p.acquireCamera(ctx)
}

// Teardown stops everything and releases the camera
func (p *Pipeline) Teardown() {
	p.lock.Lock()
	p.torndown = true
	if p.initCancel != nil {
		p.initCancel()
	}
	p.session = nil
	p.lock.Unlock()

	p.monitor.Close()
	p.monitor.SetSource(nil)
	p.acquirer.Release()
}

// Frame returns the latest camera frame, or nil
func (p *Pipeline) Frame() *camera.Frame {
	p.lock.Lock()
	session := p.session
	p.lock.Unlock()
	if session == nil {
		return nil
	}
	return session.Frame()
}

func (p *Pipeline) Devices() []camera.DeviceInfo {
	return p.acquirer.Backend.Devices()
}

// A camera error outranks the degraded-model notice, which stays up until detection is started
func (p *Pipeline) bannerLocked() string {
	if p.cameraErr != nil {
		return p.cameraErr.UserMessage()
	}
	if p.degraded && !p.noticeSeen {
		return ModelFallbackMessage
	}
	return ""
}

type CameraStatus struct {
	State     CameraState   `json:"state"`
	SessionID int64         `json:"sessionID,omitempty"`
	Facing    camera.Facing `json:"facing,omitempty"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FPS       float64       `json:"fps"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type ModelStatus struct {
	Loaded   bool   `json:"loaded"`
	Degraded bool   `json:"degraded"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Status struct {
	Initialized bool                `json:"initialized"`
	Camera      CameraStatus        `json:"camera"`
	Model       ModelStatus         `json:"model"`
	Detecting   bool                `json:"detecting"`
	Message     string              `json:"message"`
	Detections  *nn.DetectionResult `json:"detections"`
	Stats       monitor.Stats       `json:"stats"`
}

func (p *Pipeline) Status() *Status {
	p.lock.Lock()
	s := &Status{
		Initialized: p.initialized,
		Camera: CameraStatus{
			State: p.state,
		},
		Model: ModelStatus{
			Loaded:   p.provider != nil,
			Degraded: p.degraded,
		},
		Message: p.bannerLocked(),
	}
	if p.cameraErr != nil {
		s.Camera.ErrorKind = p.cameraErr.Kind.String()
		s.Camera.Error = p.cameraErr.UserMessage()
	}
	if p.provider != nil {
		s.Model.Provider = p.provider.Name()
	}
	if p.modelErr != nil {
		s.Model.Error = p.modelErr.Error()
	}
	session := p.session
	p.lock.Unlock()

	if session != nil {
		s.Camera.SessionID = session.ID
		s.Camera.Facing = session.Facing
		s.Camera.Width, s.Camera.Height = session.Dimensions()
		s.Camera.FPS = session.FPS()
	}
	s.Detecting = p.monitor.Detecting()
	s.Detections = p.monitor.Current()
	s.Stats = p.monitor.Stats()
	return s
}
