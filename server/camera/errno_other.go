//go:build !unix

package camera

func classifyErrno(err error) (ErrorKind, bool) {
	return ErrorUnknown, false
}
