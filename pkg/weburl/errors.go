package weburl

import (
	"errors"
	"fmt"
)

var (
	ErrMissingScheme        = errors.New("missing or malformed scheme and no usable base URL")
	ErrHostMissing          = errors.New("host is required")
	ErrInvalidHostCodePoint = errors.New("host contains a forbidden code point")
	ErrInvalidDomain        = errors.New("domain cannot be converted to ASCII")
	ErrInvalidIPv4          = errors.New("invalid IPv4 address")
	ErrInvalidIPv6          = errors.New("invalid IPv6 address")
	ErrInvalidPort          = errors.New("invalid port")
)

// ParseError records a failed parse and the input that caused it.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
