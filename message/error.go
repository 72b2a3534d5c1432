package message

import (
	"errors"
	"fmt"
)

// Code classifies a failed call.
type Code uint16

const (
	CodeBusiness        Code = 500 // Business logic returned an error
	CodeInternal        Code = 501 // Panic or unencodable result
	CodeServiceNotFound Code = 404
	CodeMethodNotFound  Code = 405
	CodeBadRequest      Code = 400 // Arguments could not be decoded
	CodeTimeout         Code = 408
	CodeRateLimited     Code = 429
	CodeOverloaded      Code = 503 // Business pool queue is full
	CodeUnavailable     Code = 504 // Server is shutting down
)

// ErrorDescriptor describes a call-scoped failure. It travels inside a Response
// and is also an error, so business code can return one to pick the code itself.
type ErrorDescriptor struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDescriptor) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Errorf creates an ErrorDescriptor with the given code.
func Errorf(code Code, format string, args ...any) *ErrorDescriptor {
	return &ErrorDescriptor{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DescriptorOf converts err to a descriptor, keeping the code of a wrapped descriptor.
func DescriptorOf(err error, fallback Code) *ErrorDescriptor {
	var d *ErrorDescriptor
	if errors.As(err, &d) {
		return d
	}
	return &ErrorDescriptor{Code: fallback, Message: err.Error()}
}
