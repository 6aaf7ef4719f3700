package happycache

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured happycache error carrying the failed operation,
// the path involved, and the kernel errno when one applies.
type Error struct {
	Op    string        // Operation that failed (e.g., "open", "mmap", "rename")
	Path  string        // Path involved ("" if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Op != "" {
		return fmt.Sprintf("happycache: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("happycache: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by code
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeUsage         ErrorCode = "usage error"
	ErrCodeNotFound      ErrorCode = "not found"
	ErrCodePermission    ErrorCode = "permission denied"
	ErrCodeMapFormat     ErrorCode = "corrupt map file"
	ErrCodeIOError       ErrorCode = "I/O error"
	ErrCodeUnsupported   ErrorCode = "operation not supported"
	ErrCodeOutOfMemory   ErrorCode = "insufficient memory"
	ErrCodeInvalidConfig ErrorCode = "invalid configuration"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewPathError creates a structured error naming a path
func NewPathError(op, path string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Code: code,
		Msg:  msg,
	}
}

// WrapError wraps an existing error with happycache context
func WrapError(op, path string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if he, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Path:  he.Path,
			Code:  he.Code,
			Errno: he.Errno,
			Msg:   he.Msg,
			Inner: he.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Path:  path,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Path:  path,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to happycache error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR:
		return ErrCodeNotFound
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermission
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidConfig
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeUnsupported
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeOutOfMemory
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Errno == errno
	}
	return false
}
