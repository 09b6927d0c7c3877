package message

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure reported on the wire in a TypeError reply.
type ErrorCode uint64

const (
	CodeInternal         ErrorCode = 1
	CodeMalformedRequest ErrorCode = 2
	CodeUnknownType      ErrorCode = 3
	CodeTimeout          ErrorCode = 4
	CodeRateLimited      ErrorCode = 5
	CodeUnavailable      ErrorCode = 6

	// CodeDomainBase is the first code available to domain interfaces.
	CodeDomainBase ErrorCode = 0x100
)

// Coded is implemented by errors that know their wire code.
type Coded interface {
	ErrorCode() ErrorCode
}

// RemoteError is the payload of a TypeError reply.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

func (e *RemoteError) ErrorCode() ErrorCode {
	return e.Code
}

// Is matches any target reporting the same code, so sentinel errors of a
// domain package compare equal to their decoded remote form.
func (e *RemoteError) Is(target error) bool {
	c, ok := target.(Coded)
	return ok && c.ErrorCode() == e.Code
}

// CodeOf returns the wire code for err, CodeInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}

// ToRemote converts err into the form sent on the wire.
func ToRemote(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Code: CodeOf(err), Message: err.Error()}
}
