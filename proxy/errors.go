package proxy

import "errors"

var (
	// ErrUnsupportedProtocol indicates that no transport is registered for the
	// protocol of a request.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrMissingHost indicates that the upstream host of a request could not
	// be determined.
	ErrMissingHost = errors.New("request does not specify a host")

	// ErrDenied indicates that an interceptor denied the exchange.
	ErrDenied = errors.New("denied by interceptor")

	// ErrInterceptorPanic wraps the value of a panic raised by an interceptor.
	ErrInterceptorPanic = errors.New("interceptor panicked")

	// ErrInvalidHead indicates that a pipeline emitted a head of the wrong
	// type.
	ErrInvalidHead = errors.New("pipeline emitted an invalid head")
)
