package camera

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorPermissionDenied
	ErrorDeviceNotFound
	ErrorDeviceUnsupported
	ErrorDeviceBusy
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPermissionDenied:
		return "PermissionDenied"
	case ErrorDeviceNotFound:
		return "DeviceNotFound"
	case ErrorDeviceUnsupported:
		return "DeviceUnsupported"
	case ErrorDeviceBusy:
		return "DeviceBusy"
	}
	return "Unknown"
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a camera acquisition failure
type Error struct {
	Kind ErrorKind
	Err  error
}

var (
	ErrNoDevice       = errors.New("no video input device")
	ErrPlaybackFailed = errors.New("failed to play video stream")
	ErrReleased       = errors.New("camera session released")
)

func (e *Error) Error() string {
	return fmt.Sprintf("Camera error (%v): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is shown in the UI banner
func (e *Error) UserMessage() string {
	switch e.Kind {
	case ErrorPermissionDenied:
		return "Camera permission denied. Please allow camera access and retry."
	case ErrorDeviceNotFound:
		return "No camera was found on this device."
	case ErrorDeviceUnsupported:
		return "The camera is not supported on this system."
	case ErrorDeviceBusy:
		return "The camera is in use by another application."
	}
	if errors.Is(e.Err, ErrPlaybackFailed) {
		return "Failed to play the video stream."
	}
	return "Failed to access the camera."
}

// KindOf returns the ErrorKind of err, or ErrorUnknown if err is not a camera error
func KindOf(err error) ErrorKind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return ErrorUnknown
}

// Classify wraps err in an *Error, inferring the kind from the error chain.
// An err that is already an *Error is returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	if kind, ok := classifyErrno(err); ok {
		return &Error{Kind: kind, Err: err}
	}
	if errors.Is(err, ErrNoDevice) {
		return &Error{Kind: ErrorDeviceNotFound, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return &Error{Kind: ErrorPermissionDenied, Err: err}
	case strings.Contains(msg, "failed to find the best driver"), strings.Contains(msg, "no such device"):
		return &Error{Kind: ErrorDeviceNotFound, Err: err}
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return &Error{Kind: ErrorDeviceUnsupported, Err: err}
	case strings.Contains(msg, "busy"):
		return &Error{Kind: ErrorDeviceBusy, Err: err}
	}
	return &Error{Kind: ErrorUnknown, Err: err}
}
