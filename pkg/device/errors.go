package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures that every backend reports the same way.
type ErrorKind string

const (
	NotConnected   ErrorKind = "not_connected"
	NotReady       ErrorKind = "not_ready"
	NotSupported   ErrorKind = "not_supported"
	ServiceChanged ErrorKind = "service_changed"
	Internal       ErrorKind = "internal"
)

// Error is a backend-independent failure of a given kind.
// Err optionally carries the native cause for diagnostics.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is makes errors.Is match any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Sentinels for errors.Is.
var (
	ErrNotConnected   = &Error{Kind: NotConnected}
	ErrNotReady       = &Error{Kind: NotReady}
	ErrNotSupported   = &Error{Kind: NotSupported}
	ErrServiceChanged = &Error{Kind: ServiceChanged}
	ErrInternal       = &Error{Kind: Internal}
)

// Plain sentinels that sit beside the taxonomy.
var (
	ErrTimeout         = errors.New("timeout")
	ErrNoAdapter       = errors.New("no bluetooth adapter available")
	ErrBluetoothOff    = errors.New("bluetooth is turned off")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidDeviceID = errors.New("invalid device identifier")
	ErrUnknownBackend  = errors.New("unknown backend")
)

// NewError builds an *Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error of the given kind around a native cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the taxonomy kind carried by err, or "" for passthrough errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// BackendError wraps a native failure (timeouts, rejected writes, ATT errors) that has no
// taxonomy kind. The original error is kept for errors.Is/As and logging.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps err unless it is nil or already classified.
func NewBackendError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if KindOf(err) != "" || errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// NotFoundError reports a missing service, characteristic or descriptor.
type NotFoundError struct {
	Resource string // "service", "characteristic", "descriptor"
	UUIDs    []UUID // lookup path, parent first
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parent := "service"
	if e.Resource == "descriptor" {
		parent = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[len(e.UUIDs)-2])
}

// ContainsIgnoreCase is shared by backends that classify errors by message.
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
