package request

import (
	"errors"
	"net/http"
)

var (
	ErrVersionNotSupported      = errors.New("http version not supported")
	ErrEmptyURI                 = errors.New("empty request uri")
	ErrDuplicateHost            = errors.New("more than one host header")
	ErrInvalidHost              = errors.New("invalid host")
	ErrMissingHost              = errors.New("http/1.1 request without host")
	ErrInvalidTarget            = errors.New("invalid request target")
	ErrAsteriskTarget           = errors.New("asterisk target is only allowed for OPTIONS")
	ErrContentLengthSyntax      = errors.New("content-length is not a number")
	ErrContentLengthNegative    = errors.New("content-length is negative")
	ErrContentLengthOverflow    = errors.New("content-length out of range")
	ErrConflictingContentLength = errors.New("conflicting content-length headers")
	ErrUnsupportedExpectation   = errors.New("unsupported expectation")
	ErrExpectOnHTTP10           = errors.New("expect sent by http/1.0 client")
	ErrBodyNotAllowed           = errors.New("content-length not allowed for GET or HEAD")
	ErrLengthRequired           = errors.New("content-length required")
)

// Rejection is a validation failure together with the status code the
// client gets back.
type Rejection struct {
	err  error
	code int
}

func reject(code int, err error) *Rejection {
	return &Rejection{err: err, code: code}
}

func (r *Rejection) Error() string {
	return r.err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.err
}

func (r *Rejection) HTTPCode() int {
	return r.code
}

// Code extracts the status code carried by err. A nil error is 200 and
// an error without a Rejection in its chain is 500.
func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.code
	}
	return http.StatusInternalServerError
}
