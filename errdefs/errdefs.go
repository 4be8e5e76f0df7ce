// Package errdefs defines the error kinds shared by every component of the
// bridge. Handlers and producers return errors built here so that the request
// servers can turn any failure into a protocol-appropriate error response.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	// Unknown is used for errors that were not produced through this package.
	Unknown Kind = iota
	NotFound
	ValidationError
	Timeout
	AnalysisFailure
	IOFailure
	ProtocolError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case ValidationError:
		return "ValidationError"
	case Timeout:
		return "Timeout"
	case AnalysisFailure:
		return "AnalysisFailure"
	case IOFailure:
		return "IOFailure"
	case ProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// Error is a failure tagged with a Kind. Err is the wrapped cause and may be
// nil.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFoundf(format string, args ...interface{}) error {
	return New(NotFound, format, args...)
}

func Validationf(format string, args ...interface{}) error {
	return New(ValidationError, format, args...)
}

func Protocolf(format string, args ...interface{}) error {
	return New(ProtocolError, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func IsNotFound(err error) bool        { return KindOf(err) == NotFound }
func IsValidation(err error) bool      { return KindOf(err) == ValidationError }
func IsTimeout(err error) bool         { return KindOf(err) == Timeout }
func IsAnalysisFailure(err error) bool { return KindOf(err) == AnalysisFailure }
func IsIOFailure(err error) bool       { return KindOf(err) == IOFailure }
func IsProtocol(err error) bool        { return KindOf(err) == ProtocolError }

// Cause renders the whole wrap chain of err, one error per line. It is what
// the framed protocol reports as the "cause" of a failed request.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	lines := []string{}
	for e := err; e != nil; e = errors.Unwrap(e) {
		prefix := ""
		if len(lines) > 0 {
			prefix = "caused by: "
		}
		if te, ok := e.(*Error); ok {
			lines = append(lines, fmt.Sprintf("%s%s (%s)", prefix, te.Error(), te.Kind))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%T: %s", prefix, e, e.Error()))
	}
	return strings.Join(lines, "\n")
}
