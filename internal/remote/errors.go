package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a remote failure for retry purposes.
type Kind int

const (
	// KindTransient covers timeouts, connection failures, and 5xx
	// responses. Retried via the queue's attempt counter.
	KindTransient Kind = iota
	// KindAuth covers expired or missing sessions (401/403). Never
	// retried by the sync engine; re-authentication is external.
	KindAuth
	// KindValidation covers payload rejections (4xx other than auth).
	// Never retried; the entry is dropped so it cannot block the queue.
	KindValidation
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified remote store failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for network-level failures
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status code to a failure kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 408 || status == 429 || status >= 500:
		return KindTransient
	default:
		return KindValidation
	}
}

// classifyErr wraps a transport-level error. Timeouts and connection
// failures are transient.
func classifyErr(err error, message string) *Error {
	kind := KindTransient
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindAuth
}

// IsValidation reports whether err is a permanent payload rejection.
func IsValidation(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindValidation
}

// kindOf extracts the kind; unclassified errors are treated as transient
// so unknown failures stay on the retry path rather than dropping data.
func kindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}
