// Package apperr defines the machine-readable error taxonomy shared by the
// sale workflow and the installment ledger.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies which rule blocked an operation.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeAlreadySigned     Code = "ALREADY_SIGNED"
	CodeLocked            Code = "LOCKED"
	CodeNotFound          Code = "NOT_FOUND"
	CodePrecondition      Code = "PRECONDITION_FAILED"
	CodeNothingToRefund   Code = "NOTHING_TO_REFUND"
	CodeNotInProgress     Code = "NOT_IN_PROGRESS"
	CodeAlreadyPaid       Code = "ALREADY_PAID"
	CodeConflict          Code = "CONFLICT"
	CodeForbidden         Code = "FORBIDDEN"
	CodeUpstream          Code = "UPSTREAM_FAILURE"
	CodeInternal          Code = "INTERNAL"
)

// Error carries a Code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrInvalidState      = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrAlreadySigned     = &Error{Code: CodeAlreadySigned, Message: "already signed"}
	ErrLocked            = &Error{Code: CodeLocked, Message: "installment is locked"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrPrecondition      = &Error{Code: CodePrecondition, Message: "precondition failed"}
	ErrNothingToRefund   = &Error{Code: CodeNothingToRefund, Message: "nothing to refund"}
	ErrNotInProgress     = &Error{Code: CodeNotInProgress, Message: "schedule is not in progress"}
	ErrAlreadyPaid       = &Error{Code: CodeAlreadyPaid, Message: "installment already paid"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "concurrent modification"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrUpstream          = &Error{Code: CodeUpstream, Message: "collaborator failure"}
)

// New builds an error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeInternal
}
