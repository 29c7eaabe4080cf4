package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
)

// Frame is a single decoded video frame. Frames are immutable once published.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
	Time   time.Time
	Seq    int64
}

// Session wraps one active capture stream.
// A reader goroutine keeps the most recent frame available via Frame().
type Session struct {
	ID     int64
	Facing Facing

	log       logs.Log
	stream    Stream
	released  atomic.Bool
	readyOnce sync.Once
	ready     chan struct{} // closed when the first frame with non-zero dimensions arrives
	finished  chan struct{} // closed when the reader goroutine exits

	lock      sync.Mutex
	latest    *Frame
	intervals []time.Duration
}

func newSession(log logs.Log, id int64, facing Facing, stream Stream) *Session {
	return &Session{
		ID:       id,
		Facing:   facing,
		log:      log,
		stream:   stream,
		ready:    make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *Session) readLoop() {
	defer close(s.finished)
	lastErrorAt := time.Time{}
	nErrors := 0
	seq := int64(0)
	for !s.released.Load() {
		img, err := s.stream.ReadFrame()
		if s.released.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Infof("Camera session %v stream ended", s.ID)
				return
			}
			nErrors++
			if time.Since(lastErrorAt) > 15*time.Second {
				s.log.Warnf("Camera session %v read error (%v errors so far): %v", s.ID, nErrors, err)
				lastErrorAt = time.Now()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		seq++
		b := img.Bounds()
		now := time.Now()
		frame := &Frame{
			Image:  img,
			Width:  b.Dx(),
			Height: b.Dy(),
			Time:   now,
			Seq:    seq,
		}
		s.lock.Lock()
		if s.latest != nil {
			s.intervals = append(s.intervals, now.Sub(s.latest.Time))
			if len(s.intervals) > fpsWindow {
				s.intervals = s.intervals[1:]
			}
		}
		s.latest = frame
		s.lock.Unlock()
		if frame.Width > 0 && frame.Height > 0 {
			s.readyOnce.Do(func() { close(s.ready) })
		}
	}
}

// WaitReady resolves on the first of: a frame with usable dimensions, or the timeout.
// When the timeout fires we poll the latest frame once more before giving up.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return nil
	case <-timer.C:
		if w, h := s.Dimensions(); w > 0 && h > 0 {
			return nil
		}
		return &Error{Kind: ErrorUnknown, Err: ErrPlaybackFailed}
	case <-s.finished:
		return &Error{Kind: ErrorUnknown, Err: ErrPlaybackFailed}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frame returns the most recent frame, or nil if none has arrived yet
func (s *Session) Frame() *Frame {
	if s.released.Load() {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.latest
}

// Dimensions of the most recent frame
func (s *Session) Dimensions() (width, height int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.latest == nil {
		return 0, 0
	}
	return s.latest.Width, s.latest.Height
}

// FPS is an estimate of the delivered frame rate
func (s *Session) FPS() float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return EstimateFPS(s.intervals)
}

// Released is true once Release has been called
func (s *Session) Released() bool {
	return s.released.Load()
}

// Release stops every track of the stream. It is safe to call more than once.
func (s *Session) Release() {
	if s.released.Swap(true) {
		return
	}
	s.log.Infof("Releasing camera session %v", s.ID)
	if err := s.stream.Close(); err != nil {
		s.log.Warnf("Error closing camera session %v: %v", s.ID, err)
	}
	select {
	case <-s.finished:
	case <-time.After(2 * time.Second):
		s.log.Warnf("Camera session %v reader did not exit after release", s.ID)
	}
}
