package volview

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the volume pipeline so callers can decide
// between client-correctable and server-side errors.
type ErrorKind string

const (
	CorruptStream       ErrorKind = "CorruptStream"
	CorruptHeader       ErrorKind = "CorruptHeader"
	UnsupportedDatatype ErrorKind = "UnsupportedDatatype"
	NotFound            ErrorKind = "NotFound"
	IndexOutOfRange     ErrorKind = "IndexOutOfRange"
	InvalidWindow       ErrorKind = "InvalidWindow"
	IOFailure           ErrorKind = "IOFailure"
	BadRequest          ErrorKind = "BadRequest"
)

// Sentinels usable with errors.Is.  Any *Error of the same kind matches.
var (
	ErrCorruptStream       = &Error{Kind: CorruptStream}
	ErrCorruptHeader       = &Error{Kind: CorruptHeader}
	ErrUnsupportedDatatype = &Error{Kind: UnsupportedDatatype}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrIndexOutOfRange     = &Error{Kind: IndexOutOfRange}
	ErrInvalidWindow       = &Error{Kind: InvalidWindow}
	ErrIOFailure           = &Error{Kind: IOFailure}
	ErrBadRequest          = &Error{Kind: BadRequest}
)

// Error is a typed failure with an optional underlying cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError returns an *Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError returns an *Error of the given kind wrapping err.  If err already
// carries a kind, it is returned unchanged.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain or IOFailure
// for untyped errors.  A nil error has an empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IOFailure
}

// ClientError returns true if the error kind is correctable by the requester.
func (k ErrorKind) ClientError() bool {
	switch k {
	case IndexOutOfRange, InvalidWindow, BadRequest, NotFound:
		return true
	}
	return false
}
