// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package zerr provides error-handling wrappers that carry a POSIX errno
// alongside a regular Go error.
//
// The vdev layer signals policy decisions with errno values (a read the
// cache refuses to absorb returns EINVAL/EOVERFLOW/EXDEV, a stale line
// returns ESTALE, allocation pressure returns ENOMEM) and callers branch on
// zerr.Is(err, zerr.StaleError) rather than on error strings.
//
// The package is implemented on top of ansel1/merry, which also records a
// stack trace at wrap time; Details() exposes it for log output.
package zerr

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

// IOErrno is the type of the errno constants used in the zettafs namespace.
type IOErrno int

const (
	InvalidArgError   IOErrno = IOErrno(int(unix.EINVAL))    // Invalid argument
	OverflowError     IOErrno = IOErrno(int(unix.EOVERFLOW)) // Value too large
	CrossDeviceError  IOErrno = IOErrno(int(unix.EXDEV))     // Cross-device link
	StaleError        IOErrno = IOErrno(int(unix.ESTALE))    // Stale handle
	OutOfMemoryError  IOErrno = IOErrno(int(unix.ENOMEM))    // Out of memory
	IOError           IOErrno = IOErrno(int(unix.EIO))       // I/O error
	TryAgainError     IOErrno = IOErrno(int(unix.EAGAIN))    // Try again
	BusyError         IOErrno = IOErrno(int(unix.EBUSY))     // Device or resource busy
	NotSupportedError IOErrno = IOErrno(int(unix.ENOTSUP))   // Operation not supported
)

// SuccessError is the errno of a nil error.
const SuccessError IOErrno = 0

const (
	successErrno = 0
	failureErrno = -1
)

// Value returns the int value for the specified IOErrno constant.
func (errno IOErrno) Value() int {
	return int(errno)
}

// NewError creates a new merry-wrapped error carrying the given errno, using
// the supplied format string and arguments.
func NewError(errValue IOErrno, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError attaches an errno to an existing Go error, wrapping it if needed.
func AddError(e error, errValue IOErrno) error {
	if nil == e {
		return merry.New("errno error").WithValue("errno", int(errValue))
	}
	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts the errno from an error previously wrapped by this package.
// A nil error maps to 0; an unwrapped error maps to -1.
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	tmp := merry.Value(e, "errno")
	if nil == tmp {
		return failureErrno
	}
	return tmp.(int)
}

// Is reports whether the error carries the given errno.
//
// Note that the comparison is on the underlying errno value, so constants
// that alias the same errno are indistinguishable here.
func Is(e error, errno IOErrno) bool {
	return Errno(e) == errno.Value()
}

// IsNot reports whether the error does not carry the given errno.
func IsNot(e error, errno IOErrno) bool {
	return Errno(e) != errno.Value()
}

// IsSuccess reports whether the error is nil (errno 0).
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// ErrorString returns the error text annotated with its errno, if any.
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errno := Errno(e)
	if failureErrno == errno {
		return e.Error()
	}
	return fmt.Sprintf("%s (errno %d)", e.Error(), errno)
}

// Details returns the full error details, including the stack trace recorded
// at wrap time.
func Details(e error) string {
	return merry.Details(e)
}
