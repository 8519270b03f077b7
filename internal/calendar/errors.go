package calendar

import (
	"errors"
	"fmt"
)

// ErrorKind classifies source failures for retry handling.
type ErrorKind int

const (
	// KindTransient covers network timeouts, 5xx responses and rate
	// limiting. Retried with backoff.
	KindTransient ErrorKind = iota
	// KindAuth covers invalid, expired or insufficient credentials.
	// Sources retry once with a fresh token before surfacing this.
	KindAuth
	// KindConfig covers bad calendar identifiers and unparseable source
	// configuration. Not worth retrying quickly; the sync engine goes
	// straight to its maximum backoff.
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConfig:
		return "config"
	default:
		return "transient"
	}
}

// SourceError is the error type returned by Source implementations.
type SourceError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError wraps err with a kind and the operation that failed.
func NewSourceError(kind ErrorKind, op string, err error) *SourceError {
	return &SourceError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind from err. Unclassified errors are
// treated as transient, which is the safe default for retry purposes.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsTransient reports whether err is retryable with normal backoff.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsAuth reports whether err is an authentication/permission failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsConfig reports whether err requires operator intervention.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }
