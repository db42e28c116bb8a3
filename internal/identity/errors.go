package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for identity resolution.
var (
	// ErrUnauthenticated is matched by every failed resolution.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrNoCredential indicates the request carried no credential.
	ErrNoCredential = fmt.Errorf("%w: no credential presented", ErrUnauthenticated)

	// ErrInvalidCredential indicates local verification rejected the credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnauthorized indicates the identity service rejected the credential.
	ErrUnauthorized = errors.New("identity service rejected credential")

	// ErrUnreachable indicates the identity service could not be consulted.
	ErrUnreachable = errors.New("identity service unreachable")

	// ErrNoVerificationSecret is returned when a LocalVerifier is built without a secret.
	ErrNoVerificationSecret = errors.New("verification secret is empty")
)

// ResolutionError is returned when no step produced a subject. It matches
// ErrUnauthenticated and wraps each step's failure.
type ResolutionError struct {
	Causes []error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if len(e.Causes) == 0 {
		return ErrUnauthenticated.Error()
	}
	msgs := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("%s: %s", ErrUnauthenticated, strings.Join(msgs, "; "))
}

// Is reports whether target is ErrUnauthenticated.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrUnauthenticated
}

// Unwrap returns the step failures.
func (e *ResolutionError) Unwrap() []error {
	return e.Causes
}

// VerificationError describes why a credential failed local verification.
type VerificationError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidCredential, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidCredential, e.Reason)
}

// Is reports whether target is ErrInvalidCredential.
func (e *VerificationError) Is(target error) bool {
	return target == ErrInvalidCredential
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// RemoteError describes a failed identity service lookup. Kind is either
// ErrUnauthorized or ErrUnreachable.
type RemoteError struct {
	Kind       error
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Is reports whether target is the error's kind.
func (e *RemoteError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// callerAbortedError marks a lookup that failed because the caller's
// context ended.
type callerAbortedError struct {
	cause error
}

func (e *callerAbortedError) Error() string { return e.cause.Error() }

func (e *callerAbortedError) Unwrap() error { return e.cause }

func unauthorized(status int, cause error) *RemoteError {
	return &RemoteError{Kind: ErrUnauthorized, StatusCode: status, Cause: cause}
}

func unreachable(cause error) *RemoteError {
	return &RemoteError{Kind: ErrUnreachable, Cause: cause}
}
