package proxy

import (
	"errors"
	"fmt"
)

// Error kinds reported by the resolver. Match them with errors.Is.
var (
	ErrInvalidURI          = errors.New("invalid URI")
	ErrTimeout             = errors.New("PAC resolution timed out")
	ErrPACFetchFailed      = errors.New("PAC script fetch failed")
	ErrPACEvaluationFailed = errors.New("PAC evaluation failed")
	ErrInvalidProxyHost    = errors.New("invalid proxy host")
	ErrProvider            = errors.New("proxy configuration provider failed")
)

// ResolveError is returned by GetProxySettings. Kind is one of the Err*
// sentinels above; Err is the underlying cause, if any.
type ResolveError struct {
	Kind error
	URI  string
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve proxy for %q: %v", e.URI, e.Kind)
	}
	return fmt.Sprintf("resolve proxy for %q: %v: %v", e.URI, e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newResolveError(kind error, uri string, err error) *ResolveError {
	return &ResolveError{Kind: kind, URI: uri, Err: err}
}
