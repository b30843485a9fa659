package common

import (
	"context"
	"errors"
	"net"
	"os"
)

// IsTimeoutError reports whether err is a deadline or network timeout,
// however deeply wrapped.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
