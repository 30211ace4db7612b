// Package apperrors provides the error scaffolding shared by every layer of
// the service. Each layer declares sentinel errors with New and derives more
// specific ones with New/Msg/Err; errors.Is works across the whole chain.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

type Error interface {
	error
	Unwrap() error
	// New derives a child error that matches this error under errors.Is.
	New(msg string) Error
	// Msg returns a copy of this error with a different message.
	Msg(msg string) Error
	// Err wraps one or more causes under this error.
	Err(err ...error) Error
	// MsgErr combines Msg and Err.
	MsgErr(msg string, err ...error) Error
	// SetStatusCode pins the HTTP status this error should surface as.
	SetStatusCode(code int) Error
	StatusCode() int
	// SetExpandError controls whether ErrorAll walks the cause chain.
	SetExpandError(expand bool) Error
	// ErrorAll renders the message, including causes when expansion is on.
	ErrorAll() string
}

type appError struct {
	msg        string
	parent     *appError
	cause      error
	statusCode int
	expand     bool
}

func New(msg string) Error {
	return &appError{msg: msg}
}

func (e *appError) Error() string {
	return e.msg
}

func (e *appError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	if e.parent != nil {
		return e.parent
	}
	return nil
}

// Is matches any error derived from the target through New, Msg or Err.
func (e *appError) Is(target error) bool {
	t, ok := target.(*appError)
	if !ok {
		return false
	}
	for cur := e; cur != nil; cur = cur.parent {
		if cur == t {
			return true
		}
	}
	return false
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:        msg,
		parent:     e,
		statusCode: e.statusCode,
		expand:     e.expand,
	}
}

func (e *appError) Msg(msg string) Error {
	return &appError{
		msg:        msg,
		parent:     e,
		statusCode: e.statusCode,
		expand:     e.expand,
	}
}

func (e *appError) Err(err ...error) Error {
	return &appError{
		msg:        e.msg,
		parent:     e,
		cause:      join(err),
		statusCode: e.statusCode,
		expand:     e.expand,
	}
}

func (e *appError) MsgErr(msg string, err ...error) Error {
	return &appError{
		msg:        msg,
		parent:     e,
		cause:      join(err),
		statusCode: e.statusCode,
		expand:     e.expand,
	}
}

func (e *appError) SetStatusCode(code int) Error {
	c := *e
	c.statusCode = code
	return &c
}

func (e *appError) StatusCode() int {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.statusCode != 0 {
			return cur.statusCode
		}
	}
	return 0
}

func (e *appError) SetExpandError(expand bool) Error {
	c := *e
	c.expand = expand
	return &c
}

func (e *appError) ErrorAll() string {
	if !e.expandEnabled() {
		return e.msg
	}
	parts := []string{e.msg}
	for err := e.Unwrap(); err != nil; err = errors.Unwrap(err) {
		msg := err.Error()
		if msg != "" && msg != parts[len(parts)-1] {
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, ": ")
}

func (e *appError) expandEnabled() bool {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.expand {
			return true
		}
	}
	return false
}

func join(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	f := strings.TrimRight(strings.Repeat("%w ", len(errs)), " ")
	args := make([]any, len(errs))
	for i, err := range errs {
		args[i] = err
	}
	return fmt.Errorf(f, args...)
}
