package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorKind classifies an adapter failure for the host state machine.
type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"
	ErrUnreachable ErrorKind = "unreachable"
	ErrAuthFailed  ErrorKind = "auth_failed"
	ErrParse       ErrorKind = "parse_error"
	ErrOther       ErrorKind = "other"
)

// CollectError is the tagged error every adapter returns on failure. The
// runner switches on Kind; no string matching happens outside this package.
type CollectError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CollectError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *CollectError) Unwrap() error {
	return e.Err
}

// NewCollectError wraps err with the given kind, preserving its message.
func NewCollectError(kind ErrorKind, err error) *CollectError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &CollectError{Kind: kind, Message: msg, Err: err}
}

// Timeoutf builds a timeout error.
func Timeoutf(format string, args ...interface{}) *CollectError {
	return &CollectError{Kind: ErrTimeout, Message: fmt.Sprintf(format, args...)}
}

// Unreachablef builds an unreachable error.
func Unreachablef(format string, args ...interface{}) *CollectError {
	return &CollectError{Kind: ErrUnreachable, Message: fmt.Sprintf(format, args...)}
}

// AuthFailedf builds an authentication error.
func AuthFailedf(format string, args ...interface{}) *CollectError {
	return &CollectError{Kind: ErrAuthFailed, Message: fmt.Sprintf(format, args...)}
}

// ParseErrorf builds a malformed-data error.
func ParseErrorf(format string, args ...interface{}) *CollectError {
	return &CollectError{Kind: ErrParse, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind from any error, classifying plain network
// and context errors when the adapter did not tag them itself.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *CollectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrUnreachable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrUnreachable
	}
	return ErrOther
}

// Classify wraps an untagged error into a CollectError with a derived kind.
func Classify(err error) *CollectError {
	if err == nil {
		return nil
	}
	var ce *CollectError
	if errors.As(err, &ce) {
		return ce
	}
	return NewCollectError(KindOf(err), err)
}

// maxErrorMessageLen bounds error messages surfaced to job records and audit
// consumers.
const maxErrorMessageLen = 200

// TruncateMessage shortens an error message for storage on job and snapshot
// records.
func TruncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	return msg[:maxErrorMessageLen]
}
