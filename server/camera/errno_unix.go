//go:build unix

package camera

import (
	"errors"

	"golang.org/x/sys/unix"
)

// V4L2 reports device failures as errno values
func classifyErrno(err error) (ErrorKind, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ErrorUnknown, false
	}
	switch errno {
	case unix.EACCES, unix.EPERM:
		return ErrorPermissionDenied, true
	case unix.ENOENT, unix.ENODEV, unix.ENXIO:
		return ErrorDeviceNotFound, true
	case unix.EINVAL, unix.ENOTTY, unix.EOPNOTSUPP:
		return ErrorDeviceUnsupported, true
	case unix.EBUSY:
		return ErrorDeviceBusy, true
	}
	return ErrorUnknown, false
}
