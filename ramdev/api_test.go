// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package ramdev

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	dev := New("rw", 8192)
	defer dev.Close()

	wbuf := []byte("zettafs block device")
	n, err := dev.WriteAt(wbuf, 100)
	require.Nil(t, err)
	assert.Equal(t, len(wbuf), n)

	rbuf := make([]byte, len(wbuf))
	n, err = dev.ReadAt(rbuf, 100)
	require.Nil(t, err)
	assert.Equal(t, len(wbuf), n)
	assert.Equal(t, wbuf, rbuf)

	// the rest of the device reads back zero
	zbuf := make([]byte, 10)
	_, err = dev.ReadAt(zbuf, 0)
	require.Nil(t, err)
	assert.Equal(t, make([]byte, 10), zbuf)

	assert.Equal(t, uint64(2), dev.Stats().ReadOps.TotalGet())
	assert.Equal(t, uint64(1), dev.Stats().WriteOps.TotalGet())
	assert.Equal(t, uint64(len(wbuf)), dev.Stats().BytesWritten.TotalGet())
}

func TestBounds(t *testing.T) {
	dev := New("bounds", 4096)
	defer dev.Close()

	assert.Equal(t, uint64(4096), dev.Size())

	// read entirely beyond the end
	_, err := dev.ReadAt(make([]byte, 16), 4096)
	assert.Equal(t, io.EOF, err)

	// read crossing the end is truncated
	n, err := dev.ReadAt(make([]byte, 32), 4080)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 16, n)

	// write crossing the end is refused outright
	_, err = dev.WriteAt(make([]byte, 32), 4080)
	assert.NotNil(t, err)
}

func TestHooks(t *testing.T) {
	dev := New("hooks", 4096)
	defer dev.Close()

	var hookedOffset int64
	dev.SetReadHook(func(off int64, length int) (err error) {
		hookedOffset = off
		err = fmt.Errorf("injected failure")
		return
	})

	_, err := dev.ReadAt(make([]byte, 16), 128)
	assert.NotNil(t, err)
	assert.Equal(t, int64(128), hookedOffset)
	assert.Equal(t, uint64(0), dev.Stats().ReadOps.TotalGet())

	dev.SetReadHook(nil)
	_, err = dev.ReadAt(make([]byte, 16), 128)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), dev.Stats().ReadOps.TotalGet())

	dev.SetWriteHook(func(off int64, length int) (err error) {
		err = fmt.Errorf("write failure")
		return
	})
	_, err = dev.WriteAt(make([]byte, 16), 0)
	assert.NotNil(t, err)
	assert.Equal(t, uint64(0), dev.Stats().WriteOps.TotalGet())
}
