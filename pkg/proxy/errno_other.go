//go:build !unix && !plan9

package proxy

import (
	"errors"
	"io/fs"
	"syscall"
)

// Errno maps an error from GetProxySettings to the closest syscall.Errno.
// It returns 0 for a nil error.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrTimeout):
		return syscall.ETIMEDOUT
	case errors.Is(err, ErrInvalidURI), errors.Is(err, ErrInvalidProxyHost):
		return syscall.EINVAL
	case errors.Is(err, ErrPACFetchFailed) && errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	default:
		return syscall.EIO
	}
}
