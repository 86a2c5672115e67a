// Package apperr defines the error taxonomy the HTTP layer maps onto status
// codes. Provider and parse failures are deliberately absent from the HTTP
// mapping: the conversation service recovers them in-band.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindPersistence
	KindProvider
	KindParse
	KindUpstreamFetch
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindProvider:
		return "provider"
	case KindParse:
		return "parse"
	case KindUpstreamFetch:
		return "upstream_fetch"
	default:
		return "unknown"
	}
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// Message is the caller-safe text, without wrapped internal detail.
func (e *Error) Message() string { return e.msg }

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Persistence(err error, format string, args ...interface{}) *Error {
	return newError(KindPersistence, err, format, args...)
}

func Provider(err error, format string, args ...interface{}) *Error {
	return newError(KindProvider, err, format, args...)
}

func Parse(err error, format string, args ...interface{}) *Error {
	return newError(KindParse, err, format, args...)
}

func UpstreamFetch(err error, format string, args ...interface{}) *Error {
	return newError(KindUpstreamFetch, err, format, args...)
}

// KindOf returns the taxonomy kind of err, or KindUnknown for plain errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
