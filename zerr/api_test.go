// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package zerr

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"golang.org/x/sys/unix"
)

func TestNewError(t *testing.T) {
	err := NewError(StaleError, "line at 0x%X invalidated during fill", 0x10000)

	assert.Equal(t, int(unix.ESTALE), Errno(err))
	assert.True(t, Is(err, StaleError))
	assert.True(t, IsNot(err, OutOfMemoryError))
	assert.False(t, IsSuccess(err))
	assert.True(t, strings.Contains(err.Error(), "0x10000"))
	assert.True(t, strings.Contains(ErrorString(err), "errno"))
}

func TestAddError(t *testing.T) {
	plain := fmt.Errorf("device said no")

	// a plain error has no errno
	assert.Equal(t, -1, Errno(plain))

	wrapped := AddError(plain, IOError)
	assert.True(t, Is(wrapped, IOError))
	assert.True(t, strings.Contains(wrapped.Error(), "device said no"))

	// AddError on nil still produces a carrier
	fromNil := AddError(nil, OutOfMemoryError)
	assert.True(t, Is(fromNil, OutOfMemoryError))
}

func TestNilError(t *testing.T) {
	assert.Equal(t, 0, Errno(nil))
	assert.True(t, IsSuccess(nil))
	assert.Equal(t, "", ErrorString(nil))
	assert.Equal(t, SuccessError.Value(), Errno(nil))
}

func TestDistinctErrnos(t *testing.T) {
	// the read path's taxonomy must stay distinguishable
	errnos := map[int]bool{}
	for _, errno := range []IOErrno{InvalidArgError, OverflowError, CrossDeviceError, StaleError, OutOfMemoryError, IOError} {
		errnos[errno.Value()] = true
	}
	assert.Equal(t, 6, len(errnos))
}

func TestDetails(t *testing.T) {
	err := NewError(InvalidArgError, "bad argument")
	// merry records a stack trace at wrap time
	assert.True(t, strings.Contains(Details(err), "zerr"))
}
