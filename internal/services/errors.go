package services

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorForbidden    ErrorCode = "forbidden"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorBadGateway   ErrorCode = "bad_gateway"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

// ExternalError marks a failed store, storage, render or mail call. The
// cause stays reachable through errors.Is/As.
func ExternalError(op string, err error) error {
	if err == nil {
		return nil
	}
	if se, ok := AsServiceError(err); ok {
		return se
	}
	return &ServiceError{Code: ErrorBadGateway, Message: fmt.Sprintf("%s failed", op), Err: fmt.Errorf("%s: %w", op, err)}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCode reports whether err is a ServiceError carrying code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == code
}

// ErrAlreadyExists is returned by stores when a create hits an existing key.
var ErrAlreadyExists = errors.New("already exists")

// ErrOutcomeUnknown marks a call abandoned after it may already have taken
// effect, such as a mail still being handed to the relay. It is never retried,
// so mail delivery is at most once per Retry call.
var ErrOutcomeUnknown = errors.New("outcome unknown")
