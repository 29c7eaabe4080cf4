package camera

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// DefaultReadyTimeout bounds how long we wait for the first usable frame
const DefaultReadyTimeout = 5 * time.Second

// Acquirer owns the single active camera session.
// Acquiring a new session releases the previous one first.
type Acquirer struct {
	Log          logs.Log
	Backend      Backend
	Constraints  Constraints // Facing is overridden on each attempt
	ReadyTimeout time.Duration

	lock    sync.Mutex
	current *Session
	nextID  int64
}

func NewAcquirer(log logs.Log, backend Backend) *Acquirer {
	return &Acquirer{
		Log:          log,
		Backend:      backend,
		Constraints:  DefaultConstraints(FacingEnvironment),
		ReadyTimeout: DefaultReadyTimeout,
	}
}

// Acquire opens a camera, trying the preferred facing first and then the opposite one.
// A permission failure is not retried, because it applies to every device.
// The returned error is always an *Error.
func (a *Acquirer) Acquire(ctx context.Context, preferred Facing) (*Session, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.releaseLocked()

	var lastErr *Error
	for _, facing := range []Facing{preferred, preferred.Opposite()} {
		session, err := a.open(ctx, facing)
		if err == nil {
			a.current = session
			w, h := session.Dimensions()
			a.Log.Infof("Camera ready (%v) with resolution %v x %v", facing, w, h)
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrorUnknown, Err: ctx.Err()}
		}
		lastErr = Classify(err)
		a.Log.Warnf("Failed to open %v camera: %v", facing, err)
		if lastErr.Kind == ErrorPermissionDenied {
			break
		}
	}
	return nil, lastErr
}

func (a *Acquirer) open(ctx context.Context, facing Facing) (*Session, error) {
	constraints := a.Constraints
	constraints.Facing = facing
	stream, err := a.Backend.Open(ctx, constraints)
	if err != nil {
		return nil, err
	}
	a.nextID++
	session := newSession(a.Log, a.nextID, facing, stream)
	go session.readLoop()
	if err := session.WaitReady(ctx, a.ReadyTimeout); err != nil {
		session.Release()
		return nil, err
	}
	return session, nil
}

// Current returns the active session, or nil
func (a *Acquirer) Current() *Session {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.current
}

// Release the active session, if any
func (a *Acquirer) Release() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.releaseLocked()
}

func (a *Acquirer) releaseLocked() {
	if a.current != nil {
		a.current.Release()
		a.current = nil
	}
}
