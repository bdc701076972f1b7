package errutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

func (e BaseError) URL() string {
	values := url.Values{}

	values.Set("error_code", string(e.Code))
	values.Set("error_message", e.Message)

	for _, d := range e.Details {
		values.Set("details["+strings.TrimSpace(d.Field)+"]", d.Message)
	}

	return values.Encode()
}

func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
			"details": e.Details,
		},
	}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = details }
}

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

// From returns the BaseError carried by err, or a StatusInternal wrapper when
// err does not carry one.
func From(err error) BaseError {
	var be BaseError
	if errors.As(err, &be) {
		return be
	}
	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}

func newWithCause(code CoreStatus, msg string, err error, options []Option) error {
	if err != nil {
		options = append([]Option{WithErr(err)}, options...)
	}
	return New(code, msg, options...)
}

func NotFound(msg string, err error, options ...Option) error {
	return newWithCause(StatusNotFound, msg, err, options)
}

func UnprocessableEntity(msg string, err error, options ...Option) error {
	return newWithCause(StatusUnprocessableEntity, msg, err, options)
}

func UnsupportedMediaType(msg string, err error, options ...Option) error {
	return newWithCause(StatusUnsupportedMediaType, msg, err, options)
}

func Conflict(msg string, err error, options ...Option) error {
	return newWithCause(StatusConflict, msg, err, options)
}

func BadRequest(msg string, err error, options ...Option) error {
	return newWithCause(StatusBadRequest, msg, err, options)
}

func ValidationFailed(msg string, err error, options ...Option) error {
	return newWithCause(StatusValidationFailed, msg, err, options)
}

func Internal(msg string, err error, options ...Option) error {
	return newWithCause(StatusInternal, msg, err, options)
}

func Timeout(msg string, err error, options ...Option) error {
	return newWithCause(StatusTimeout, msg, err, options)
}

func Unauthorized(msg string, err error, options ...Option) error {
	return newWithCause(StatusUnauthorized, msg, err, options)
}

func Forbidden(msg string, err error, options ...Option) error {
	return newWithCause(StatusForbidden, msg, err, options)
}

func TooManyRequest(msg string, err error, options ...Option) error {
	return newWithCause(StatusTooManyRequests, msg, err, options)
}

func ClientClosedRequest(msg string, err error, options ...Option) error {
	return newWithCause(StatusClientClosedRequest, msg, err, options)
}

func NotImplemented(msg string, err error, options ...Option) error {
	return newWithCause(StatusNotImplemented, msg, err, options)
}

func BadGateway(msg string, err error, options ...Option) error {
	return newWithCause(StatusBadGateway, msg, err, options)
}

func ServiceUnavailable(msg string, err error, options ...Option) error {
	return newWithCause(StatusServiceUnavailable, msg, err, options)
}
