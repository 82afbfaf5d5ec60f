package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the identity service could not be reached or answered
	// with an unexpected status.
	ErrAuth = errors.New("hydroshare authentication failed")

	// ErrInvalidCredentials means the identity service rejected the login.
	ErrInvalidCredentials = errors.New("hydroshare rejected credentials")

	// ErrMalformedCredentialResponse means no known credential shape was found.
	ErrMalformedCredentialResponse = errors.New("hydroshare S3 credentials response was malformed")

	ErrMissingToken          = errors.New("missing STREAMS session token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired STREAMS session token")

	// ErrUnknownSelection means a variable or dataset label is not in the catalog.
	ErrUnknownSelection = errors.New("unknown selection")

	// ErrInvalidRequest covers structural request problems (no gauges, end before start).
	ErrInvalidRequest = errors.New("invalid request")
)

// DatasetReadError wraps any failure while reading a remote dataset.
type DatasetReadError struct {
	Path string
	Err  error
}

func (e *DatasetReadError) Error() string {
	return fmt.Sprintf("read dataset %s: %v", e.Path, e.Err)
}

func (e *DatasetReadError) Unwrap() error { return e.Err }

// Kind is the transport-facing class of an error.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindBadRequest:
		return "bad_request"
	default:
		return "error"
	}
}

// Classify maps an error to its transport-facing kind. Dataset read failures
// are checked first so a cancelled read never masquerades as an auth problem.
func Classify(err error) Kind {
	var readErr *DatasetReadError
	switch {
	case errors.As(err, &readErr):
		return KindInternal
	case errors.Is(err, ErrAuth),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrMalformedCredentialResponse),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrInvalidOrExpiredToken):
		return KindUnauthenticated
	case errors.Is(err, ErrUnknownSelection),
		errors.Is(err, ErrInvalidRequest):
		return KindBadRequest
	default:
		return KindInternal
	}
}
