package errors

import (
	"errors"
)

type Kind string

const (
	KindInvalidParams          Kind = "invalid_params"
	KindPlatformLoginFailed    Kind = "platform_login_failed"
	KindPlatformUserInfoFailed Kind = "platform_user_info_failed"
	KindServerLoginFailed      Kind = "server_login_failed"
	KindSessionNotReceived     Kind = "session_not_received"
	KindSessionExpired         Kind = "session_expired"
	KindRequestFailed          Kind = "request_failed"
)

const (
	KindUnknown Kind = "unknown"
)

var (
	ErrMissingPlatform  = errors.New("weappauth: platform is required")
	ErrMissingTransport = errors.New("weappauth: transport is required")
	ErrClientClosed     = errors.New("weappauth: client is closed")
)

type Error struct {
	Kind       Kind
	Message    string
	ServerCode string
	Detail     any
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
		Detail:  err,
	}
}

func (e *Error) WithDetail(detail any) *Error {
	if e == nil {
		return nil
	}
	e.Detail = detail
	return e
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func KindOf(err error) Kind {
	var typed *Error
	if !errors.As(err, &typed) || typed == nil {
		return KindUnknown
	}
	return typed.Kind
}
