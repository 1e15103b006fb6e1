package mapdata

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindFormat  ErrorKind = "format"
	KindParse   ErrorKind = "parse"
	KindTimeout ErrorKind = "timeout"
	KindProcess ErrorKind = "process"
	KindStorage ErrorKind = "storage"
)

// Error is the pipeline failure type. Kind decides how callers react:
// format and parse errors are surfaced to the uploader, timeout and process
// errors are transient, storage errors roll back the enclosing transaction.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

var (
	ErrFormat  = &Error{Kind: KindFormat}
	ErrParse   = &Error{Kind: KindParse}
	ErrTimeout = &Error{Kind: KindTimeout}
	ErrProcess = &Error{Kind: KindProcess}
	ErrStorage = &Error{Kind: KindStorage}
)

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrParse) works
// for every parse failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
