// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package ramdev provides an in-memory block device.
//
// A Device serves io.ReaderAt / io.WriterAt over a byte slab, counts its
// operations in a kstat group, and accepts per-operation hooks that tests
// use to stall or fail device I/O deterministically.
package ramdev

import (
	"fmt"
	"io"

	"github.com/zettafs/zettafs/kstat"
	"github.com/zettafs/zettafs/locktrack"
)

// Hook is invoked before a read or write touches the slab. A non-nil return
// fails the operation with that error; the hook may also block to hold the
// operation in flight.
type Hook func(offset int64, length int) (err error)

// Stats counts a Device's operations.
type Stats struct {
	ReadOps      kstat.Total
	WriteOps     kstat.Total
	BytesRead    kstat.Total
	BytesWritten kstat.Total
}

// Device is an in-memory block device.
type Device struct {
	lock      locktrack.Mutex
	name      string
	slab      []byte
	stats     Stats
	readHook  Hook
	writeHook Hook
}

// New returns a zero-filled Device of the given size whose stats are
// registered under kstat group ("zettafs.ramdev", name).
func New(name string, size uint64) (dev *Device) {
	dev = &Device{
		name: name,
		slab: make([]byte, size),
	}
	kstat.Register("zettafs.ramdev", name, &dev.stats)
	return
}

// Close unregisters the Device's stats; the Device must not be used after.
func (dev *Device) Close() {
	kstat.UnRegister("zettafs.ramdev", dev.name)
}

// Size returns the device size in bytes.
func (dev *Device) Size() (size uint64) {
	size = uint64(len(dev.slab))
	return
}

// Stats returns the Device's operation counters.
func (dev *Device) Stats() (stats *Stats) {
	stats = &dev.stats
	return
}

// SetReadHook installs hook on the read path; nil removes it.
func (dev *Device) SetReadHook(hook Hook) {
	dev.lock.Lock()
	dev.readHook = hook
	dev.lock.Unlock()
}

// SetWriteHook installs hook on the write path; nil removes it.
func (dev *Device) SetWriteHook(hook Hook) {
	dev.lock.Lock()
	dev.writeHook = hook
	dev.lock.Unlock()
}

// ReadAt implements io.ReaderAt. Reads entirely beyond the device return
// io.EOF; reads crossing the end are truncated and return io.EOF.
func (dev *Device) ReadAt(p []byte, off int64) (n int, err error) {
	dev.lock.Lock()
	hook := dev.readHook
	dev.lock.Unlock()

	// the hook must run unlocked so it may block without wedging the
	// device
	if nil != hook {
		err = hook(off, len(p))
		if nil != err {
			return
		}
	}

	if (off < 0) || (off >= int64(len(dev.slab))) {
		err = io.EOF
		return
	}

	dev.lock.Lock()
	n = copy(p, dev.slab[off:])
	dev.lock.Unlock()

	dev.stats.ReadOps.Increment()
	dev.stats.BytesRead.Add(uint64(n))

	if n < len(p) {
		err = io.EOF
		return
	}

	err = nil
	return
}

// WriteAt implements io.WriterAt. Writes must lie entirely within the
// device.
func (dev *Device) WriteAt(p []byte, off int64) (n int, err error) {
	dev.lock.Lock()
	hook := dev.writeHook
	dev.lock.Unlock()

	if nil != hook {
		err = hook(off, len(p))
		if nil != err {
			return
		}
	}

	if (off < 0) || (off+int64(len(p)) > int64(len(dev.slab))) {
		err = fmt.Errorf("ramdev %s: write [%d,%d) outside device of size %d",
			dev.name, off, off+int64(len(p)), len(dev.slab))
		return
	}

	dev.lock.Lock()
	n = copy(dev.slab[off:], p)
	dev.lock.Unlock()

	dev.stats.WriteOps.Increment()
	dev.stats.BytesWritten.Add(uint64(n))

	err = nil
	return
}
