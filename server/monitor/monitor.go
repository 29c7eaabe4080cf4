package monitor

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/nn"
	"github.com/cyclopcam/lookout/pkg/perfstats"
	"github.com/cyclopcam/lookout/server/camera"
	"github.com/cyclopcam/lookout/server/overlay"
	"github.com/cyclopcam/lookout/server/provider"
	"github.com/cyclopcam/lookout/server/registry"
)

// monitor runs the detection loop: on a fixed cadence it pulls the latest camera
// frame, runs it through the provider, filters the result, and draws the overlay.

const DefaultInterval = 500 * time.Millisecond

// FrameSource supplies the latest camera frame. *camera.Session satisfies this.
type FrameSource interface {
	Frame() *camera.Frame
}

type Monitor struct {
	Log      logs.Log
	registry *registry.Registry
	ctx      context.Context
	cancel   context.CancelFunc

	// publishLock is taken before lock. It orders a tick's publication against Stop,
	// so that watchers never receive a tick's result after the empty result of a Stop.
	publishLock sync.Mutex

	lock          sync.Mutex
	provider      provider.Provider
	source        FrameSource
	surface       *overlay.Surface
	detecting     bool
	generation    int64         // Incremented on every Start and Stop. A tick only publishes if the generation is unchanged.
	stopTicker    chan struct{} // Closed by Stop
	current       *nn.DetectionResult
	currentFrame  *camera.Frame // Frame that produced 'current'
	inferenceTime perfstats.TimeAccumulator
	nTicks        int64
	nSkipped      int64
	nErrors       int64
	lastErrAt     time.Time
	lastErr       error

	watchersLock sync.RWMutex
	watchers     []chan *nn.DetectionResult
}

func NewMonitor(logger logs.Log, reg *registry.Registry) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		Log:      logger,
		registry: reg,
		ctx:      ctx,
		cancel:   cancel,
		surface:  overlay.NewSurface(reg),
		current:  emptyResult(),
	}
}

func emptyResult() *nn.DetectionResult {
	return &nn.DetectionResult{Objects: []nn.Detection{}}
}

// Close stops the loop, and aborts any inference that is in flight
func (m *Monitor) Close() {
	m.Stop()
	m.cancel()
}

func (m *Monitor) SetProvider(p provider.Provider) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.provider = p
}

// SetSource changes the frame source. Pass nil when the camera is released.
func (m *Monitor) SetSource(src FrameSource) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.source = src
}

// Start the detection loop.
// If the loop is already running, this does nothing and returns false.
func (m *Monitor) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.detecting {
		return false
	}
	m.detecting = true
	m.generation++
	m.stopTicker = make(chan struct{})
	m.Log.Infof("Detection started (interval %v)", interval)
	go m.loop(m.generation, interval, m.stopTicker)
	return true
}

// Stop the detection loop, clear the overlay, and empty the detection list.
// If the loop is not running, this does nothing and returns false.
// A tick that is still in flight will have its result discarded.
func (m *Monitor) Stop() bool {
	m.publishLock.Lock()
	defer m.publishLock.Unlock()
	m.lock.Lock()
	if !m.detecting {
		m.lock.Unlock()
		return false
	}
	m.detecting = false
	m.generation++
	close(m.stopTicker)
	m.stopTicker = nil
	m.surface.Clear()
	m.current = emptyResult()
	m.currentFrame = nil
	cleared := m.current
	m.lock.Unlock()

	m.Log.Infof("Detection stopped")
	m.sendToWatchers(cleared)
	return true
}

func (m *Monitor) Detecting() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.detecting
}

// A time.Ticker drops ticks for a slow receiver, so a tick whose inference outlasts
// the interval causes the next tick to be skipped instead of overlapping with it.
func (m *Monitor) loop(generation int64, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	expectedNext := time.Now().Add(interval)
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if missed := int64(now.Sub(expectedNext) / interval); missed > 0 {
				m.lock.Lock()
				m.nSkipped += missed
				m.lock.Unlock()
			}
			m.tick(m.ctx, generation)
			expectedNext = now.Add(interval)
		}
	}
}

// Tick runs one detection cycle immediately.
// It does nothing unless the loop has been started.
func (m *Monitor) Tick(ctx context.Context) {
	m.lock.Lock()
	generation := m.generation
	m.lock.Unlock()
	m.tick(ctx, generation)
}

func (m *Monitor) tick(ctx context.Context, generation int64) {
	m.lock.Lock()
	if !m.detecting || m.generation != generation || m.provider == nil || m.source == nil {
		m.lock.Unlock()
		return
	}
	p := m.provider
	frame := m.source.Frame()
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		m.lock.Unlock()
		return
	}
	m.nTicks++
	m.surface.Resize(frame.Width, frame.Height)
	m.surface.Clear()
	m.lock.Unlock()

	start := time.Now()
	raw, err := p.Detect(ctx, frame.Image)
	elapsed := time.Since(start)

	if err != nil {
		m.lock.Lock()
		m.nErrors++
		m.lastErr = err
		logIt := time.Since(m.lastErrAt) > 15*time.Second
		if logIt {
			m.lastErrAt = time.Now()
		}
		nErrors := m.nErrors
		m.lock.Unlock()
		if logIt {
			m.Log.Errorf("Detection failed (%v errors so far): %v", nErrors, err)
		}
		return
	}

	result := &nn.DetectionResult{
		ImageWidth:  frame.Width,
		ImageHeight: frame.Height,
		Objects:     m.registry.Filter(raw),
		FrameTime:   frame.Time,
	}

	m.publishLock.Lock()
	defer m.publishLock.Unlock()
	m.lock.Lock()
	if !m.detecting || m.generation != generation {
		m.lock.Unlock()
		m.Log.Debugf("Discarding detection result that arrived after stop")
		return
	}
	m.inferenceTime.AddSample(elapsed)
	m.current = result
	m.currentFrame = frame
	m.surface.Render(result.Objects)
	m.lock.Unlock()

	m.sendToWatchers(result)
}

// Current returns the most recently published result. Never nil.
func (m *Monitor) Current() *nn.DetectionResult {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current
}

// Overlay returns a copy of the drawing surface
func (m *Monitor) Overlay() *image.RGBA {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.surface.Image()
}

// SurfaceDraws counts every clear and render of the drawing surface
func (m *Monitor) SurfaceDraws() int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.surface.Draws()
}

// Snapshot composites the overlay onto the frame that produced it.
// Returns nil if nothing has been detected since the last start.
func (m *Monitor) Snapshot() *image.RGBA {
	m.lock.Lock()
	frame := m.currentFrame
	layer := m.surface.Image()
	m.lock.Unlock()
	if frame == nil {
		return nil
	}
	return overlay.Composite(frame.Image, layer)
}

type Stats struct {
	Ticks     int64             `json:"ticks"`
	Skipped   int64             `json:"skipped"`
	Errors    int64             `json:"errors"`
	LastError string            `json:"lastError,omitempty"`
	Inference perfstats.Summary `json:"inference"`
}

func (m *Monitor) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()
	s := Stats{
		Ticks:     m.nTicks,
		Skipped:   m.nSkipped,
		Errors:    m.nErrors,
		Inference: m.inferenceTime.Summary(),
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
