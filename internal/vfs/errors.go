package vfs

import (
	"errors"
	"fmt"
)

// Error codes matching the emulated runtime's errno names.
const (
	CodeNotFound  = "ENOENT"
	CodeExists    = "EEXIST"
	CodeNotDir    = "ENOTDIR"
	CodeIsDir     = "EISDIR"
	CodeNotEmpty  = "ENOTEMPTY"
	CodeInvalid   = "EINVAL"
	CodePermitted = "EPERM"
)

// Error is a filesystem failure with a stable short code.
type Error struct {
	Code string
	Op   string
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s '%s'", e.Code, e.Op, e.Path)
}

func newError(code, op, path string) *Error {
	return &Error{Code: code, Op: op, Path: path}
}

// CodeOf extracts the short code from a filesystem error, or "" when the
// error did not originate here.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsNotFound reports whether err is an ENOENT failure.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsExists reports whether err is an EEXIST failure.
func IsExists(err error) bool { return CodeOf(err) == CodeExists }
