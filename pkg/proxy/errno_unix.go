//go:build unix

package proxy

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Errno maps an error from GetProxySettings to the errno value a C caller
// would consult. It returns 0 for a nil error.
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrTimeout):
		return unix.ETIMEDOUT
	case errors.Is(err, ErrInvalidURI), errors.Is(err, ErrInvalidProxyHost):
		return unix.EINVAL
	case errors.Is(err, ErrPACFetchFailed) && errors.Is(err, fs.ErrNotExist):
		return unix.ENOENT
	default:
		return unix.EIO
	}
}
