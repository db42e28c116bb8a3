package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for forwarding.
var (
	// ErrUnknownService indicates the route names no configured service.
	ErrUnknownService = errors.New("unknown service")

	// ErrMalformedBody indicates the inbound body could not be parsed.
	ErrMalformedBody = errors.New("malformed request body")

	// ErrBodyTooLarge indicates the inbound body exceeded the configured limit.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrBackendUnreachable indicates the backend could not be reached.
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// ProxyError is a forwarding failure with request details.
type ProxyError struct {
	Op      string
	Service string
	Target  string
	Kind    error
	Cause   error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	msg := fmt.Sprintf("proxy error [%s]", e.Op)
	if e.Service != "" {
		msg += " service=" + e.Service
	}
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	msg += ": " + e.Kind.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is matches the error's kind as well as any *ProxyError.
func (e *ProxyError) Is(target error) bool {
	if _, ok := target.(*ProxyError); ok {
		return true
	}
	return target == e.Kind
}

// NewUnknownServiceError creates an error for a service missing from the registry.
func NewUnknownServiceError(service string) *ProxyError {
	return &ProxyError{Op: "route", Service: service, Kind: ErrUnknownService}
}

// NewMalformedBodyError creates an error for an unparseable inbound body.
func NewMalformedBodyError(service string, cause error) *ProxyError {
	return &ProxyError{Op: "read_body", Service: service, Kind: ErrMalformedBody, Cause: cause}
}

// NewBodyTooLargeError creates an error for an inbound body over the limit.
func NewBodyTooLargeError(service string, cause error) *ProxyError {
	return &ProxyError{Op: "read_body", Service: service, Kind: ErrBodyTooLarge, Cause: cause}
}

// NewBackendUnreachableError creates an error for a failed backend call.
func NewBackendUnreachableError(service, target string, cause error) *ProxyError {
	return &ProxyError{Op: "forward", Service: service, Target: target, Kind: ErrBackendUnreachable, Cause: cause}
}
