// Package apierror defines the domain error type carried through the
// proxy pipeline and mapped to a JSON error response by the handlers
// and middleware that receive it.
package apierror

import "net/http"

// Error is a domain error carrying the HTTP status it should be
// reported as, plus a client-facing detail message.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

// New builds an Error with the given status and detail.
func New(status int, detail string) *Error {
	return &Error{Status: status, Detail: detail}
}

// Unauthorized builds a 401 domain error.
func Unauthorized(detail string) *Error {
	return New(http.StatusUnauthorized, detail)
}

// RateLimited builds a 429 domain error.
func RateLimited(detail string) *Error {
	return New(http.StatusTooManyRequests, detail)
}

// BadRequest builds a 400 domain error.
func BadRequest(detail string) *Error {
	return New(http.StatusBadRequest, detail)
}

// Validation builds a 422 domain error.
func Validation(detail string) *Error {
	return New(http.StatusUnprocessableEntity, detail)
}

// BadGateway builds a 502 domain error.
func BadGateway(detail string) *Error {
	return New(http.StatusBadGateway, detail)
}

// GatewayTimeout builds a 504 domain error.
func GatewayTimeout(detail string) *Error {
	return New(http.StatusGatewayTimeout, detail)
}

// Internal builds a 500 domain error.
func Internal(detail string) *Error {
	return New(http.StatusInternalServerError, detail)
}
