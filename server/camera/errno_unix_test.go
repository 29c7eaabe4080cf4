//go:build unix

package camera

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestClassifyErrno(t *testing.T) {
	busy := &os.PathError{Op: "open", Path: "/dev/video0", Err: unix.EBUSY}
	require.Equal(t, ErrorDeviceBusy, Classify(fmt.Errorf("Failed to open camera: %w", busy)).Kind)
	require.Equal(t, ErrorPermissionDenied, Classify(&os.PathError{Op: "open", Path: "/dev/video0", Err: unix.EACCES}).Kind)
	require.Equal(t, ErrorDeviceNotFound, Classify(unix.ENODEV).Kind)
	require.Equal(t, ErrorDeviceUnsupported, Classify(unix.ENOTTY).Kind)
}
