package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorAuthentication ErrorCode = "AUTHENTICATION_FAILED"
	ErrorValidation     ErrorCode = "VALIDATION_FAILED"
	ErrorStorage        ErrorCode = "STORAGE_ERROR"
	ErrorSigning        ErrorCode = "SIGNING_FAILED"
	ErrorDelivery       ErrorCode = "DELIVERY_FAILED"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) && ue != nil {
		return ue.Code
	}
	return ErrorInternal
}
