package monitor

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/gen"
	"github.com/cyclopcam/lookout/pkg/nn"
	"github.com/cyclopcam/lookout/server/camera"
	"github.com/cyclopcam/lookout/server/registry"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	lock  sync.Mutex
	frame *camera.Frame
}

func (s *fakeSource) SetSize(width, height int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.frame = &camera.Frame{
		Image:  image.NewRGBA(image.Rect(0, 0, width, height)),
		Width:  width,
		Height: height,
		Time:   time.Now(),
	}
}

func (s *fakeSource) Frame() *camera.Frame {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.frame
}

// fakeProvider returns 'result', optionally blocking until 'release' is closed
type fakeProvider struct {
	result    []nn.RawDetection
	err       error
	delay     time.Duration
	entered   chan struct{}
	release   chan struct{}
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	enterOnce sync.Once
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func (p *fakeProvider) Detect(ctx context.Context, frame image.Image) ([]nn.RawDetection, error) {
	p.calls.Add(1)
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.maxActive.Load()
		if n <= old || p.maxActive.CompareAndSwap(old, n) {
			break
		}
	}
	if p.entered != nil {
		p.enterOnce.Do(func() { close(p.entered) })
	}
	if p.release != nil {
		<-p.release
	}
	if p.delay != 0 {
		time.Sleep(p.delay)
	}
	return p.result, p.err
}

var scenario = []nn.RawDetection{
	{Class: "cell phone", Score: 0.87, Box: nn.MakeRect(10, 10, 50, 50)},
	{Class: "car", Score: 0.99, Box: nn.MakeRect(0, 0, 10, 10)},
}

func newTestMonitor(t *testing.T, p *fakeProvider) (*Monitor, *fakeSource) {
	m := NewMonitor(logs.NewTestingLog(t), registry.Default())
	src := &fakeSource{}
	src.SetSize(640, 480)
	m.SetSource(src)
	if p != nil {
		m.SetProvider(p)
	}
	t.Cleanup(m.Close)
	return m, src
}

func TestTickPublishesFilteredResult(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeProvider{result: scenario})
	watcher := m.AddWatcher()
	defer m.RemoveWatcher(watcher)

	require.True(t, m.Start(time.Hour))
	m.Tick(context.Background())

	cur := m.Current()
	require.Equal(t, []nn.Detection{{Label: "cell phone", Confidence: 0.87, Box: nn.MakeRect(10, 10, 50, 50)}}, cur.Objects)
	require.Equal(t, 640, cur.ImageWidth)
	require.Equal(t, 480, cur.ImageHeight)
	require.Equal(t, int64(2), m.SurfaceDraws()) // clear + render

	published := gen.Drain(watcher)
	require.Len(t, published, 1)
	require.Same(t, cur, published[0])

	snap := m.Snapshot()
	require.NotNil(t, snap)
	require.Equal(t, 640, snap.Rect.Dx())
	require.Equal(t, int64(1), m.Stats().Inference.Samples)
}

func TestStartTwiceCreatesOneTimer(t *testing.T) {
	p := &fakeProvider{}
	m, _ := newTestMonitor(t, p)
	require.True(t, m.Start(20*time.Millisecond))
	require.False(t, m.Start(20*time.Millisecond))
	time.Sleep(210 * time.Millisecond)
	m.Stop()
	calls := p.calls.Load()
	require.GreaterOrEqual(t, calls, int32(3))
	require.LessOrEqual(t, calls, int32(12))
}

func TestStopIsIdempotent(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeProvider{result: scenario})
	m.Start(time.Hour)
	m.Tick(context.Background())
	require.Len(t, m.Current().Objects, 1)

	require.True(t, m.Stop())
	require.Empty(t, m.Current().Objects)
	draws := m.SurfaceDraws()
	require.Equal(t, int64(3), draws)
	require.Nil(t, m.Snapshot())

	require.False(t, m.Stop())
	require.Empty(t, m.Current().Objects)
	require.Equal(t, draws, m.SurfaceDraws())

	// Ticks after stop do nothing
	m.Tick(context.Background())
	require.Equal(t, draws, m.SurfaceDraws())
	require.False(t, m.Detecting())
}

func TestResultAfterStopIsDiscarded(t *testing.T) {
	p := &fakeProvider{
		result:  scenario,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m, _ := newTestMonitor(t, p)
	watcher := m.AddWatcher()
	m.Start(time.Hour)

	done := make(chan struct{})
	go func() {
		m.Tick(context.Background())
		close(done)
	}()
	<-p.entered
	m.Stop()
	draws := m.SurfaceDraws()
	close(p.release)
	<-done

	require.Empty(t, m.Current().Objects)
	require.Equal(t, draws, m.SurfaceDraws())
	published := gen.Drain(watcher)
	require.Len(t, published, 1)
	require.Empty(t, published[len(published)-1].Objects)

	// A new start also invalidates the old tick
	p2 := &fakeProvider{result: scenario, entered: make(chan struct{}), release: make(chan struct{})}
	m.SetProvider(p2)
	m.Start(time.Hour)
	done = make(chan struct{})
	go func() {
		m.Tick(context.Background())
		close(done)
	}()
	<-p2.entered
	m.Stop()
	m.Start(time.Hour)
	close(p2.release)
	<-done
	require.Empty(t, m.Current().Objects)
}

func TestStopIsLastPublication(t *testing.T) {
	// Race a tick against Stop many times. Whatever order they land in,
	// the final message a watcher sees must be the empty list.
	for i := 0; i < 200; i++ {
		m, _ := newTestMonitor(t, &fakeProvider{result: scenario})
		watcher := m.AddWatcher()
		m.Start(time.Hour)
		done := make(chan struct{})
		go func() {
			m.Tick(context.Background())
			close(done)
		}()
		m.Stop()
		<-done
		published := gen.Drain(watcher)
		require.NotEmpty(t, published)
		require.Empty(t, published[len(published)-1].Objects, "iteration %v", i)
		m.Close()
	}
}

func TestSurfaceFollowsResolution(t *testing.T) {
	m, src := newTestMonitor(t, &fakeProvider{})
	m.Start(time.Hour)
	m.Tick(context.Background())
	require.Equal(t, image.Rect(0, 0, 640, 480), m.Overlay().Rect)

	src.SetSize(1280, 720)
	m.Tick(context.Background())
	require.Equal(t, image.Rect(0, 0, 1280, 720), m.Overlay().Rect)
	require.Equal(t, 1280, m.Current().ImageWidth)
}

func TestTickGuards(t *testing.T) {
	// No provider
	m, src := newTestMonitor(t, nil)
	m.Start(time.Hour)
	m.Tick(context.Background())
	require.Equal(t, int64(0), m.SurfaceDraws())

	// Frame not ready
	p := &fakeProvider{result: scenario}
	m.SetProvider(p)
	src.SetSize(0, 0)
	m.Tick(context.Background())
	require.Equal(t, int64(0), m.SurfaceDraws())

	// No source
	m.SetSource(nil)
	m.Tick(context.Background())
	require.Equal(t, int32(0), p.calls.Load())
	require.Equal(t, int64(0), m.Stats().Ticks)
}

func TestDetectErrorKeepsPreviousList(t *testing.T) {
	p := &fakeProvider{result: scenario}
	m, _ := newTestMonitor(t, p)
	m.Start(time.Hour)
	m.Tick(context.Background())
	require.Len(t, m.Current().Objects, 1)

	p.err = errors.New("inference service unavailable")
	m.Tick(context.Background())
	require.Len(t, m.Current().Objects, 1)
	stats := m.Stats()
	require.Equal(t, int64(1), stats.Errors)
	require.Contains(t, stats.LastError, "unavailable")
}

func TestSlowInferenceDoesNotOverlap(t *testing.T) {
	p := &fakeProvider{delay: 60 * time.Millisecond}
	m, _ := newTestMonitor(t, p)
	m.Start(20 * time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	m.Stop()
	require.Equal(t, int32(1), p.maxActive.Load())
	require.Greater(t, m.Stats().Skipped, int64(0))
}
