// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package zio implements the asynchronous vdev I/O framework.
//
// A ZIO describes one block I/O against a Vdev. Callers construct a ZIO,
// hand it to Nowait() (or Wait() to block for completion), and a worker
// drawn from the vdev's pool services it: reads are first offered to the
// vdev's read cache, which may absorb them; everything else goes to the
// underlying device, with bounded retry. Completion runs the ZIO's
// callbacks and releases anyone blocked in Wait().
//
// A caching layer that absorbs an I/O marks it with VdevIOBypass() and later
// resumes it with Execute(); between the two the framework does not touch
// the I/O. Child I/Os (VdevChildIO) carry a completion callback that runs
// before the child is marked done; the read cache uses this to service
// delegated readers from a completed fill.
package zio

import (
	"sync/atomic"

	"github.com/google/btree"

	"github.com/zettafs/zettafs/logger"
	"github.com/zettafs/zettafs/zerr"
)

// IOType discriminates reads from writes.
type IOType uint8

const (
	TypeNull IOType = iota
	TypeRead
	TypeWrite
)

// Priority orders pending I/Os within a vdev's queue; lower values are
// serviced first.
type Priority uint8

const (
	PriorityNow Priority = iota
	PrioritySyncRead
	PrioritySyncWrite
	PriorityCacheFill
	PriorityAsyncRead
	PriorityAsyncWrite
	PriorityScrub
)

// Flag is a bitmask of per-I/O behavior modifiers.
type Flag uint32

const (
	// FlagDontCache keeps the read cache from looking at this I/O.
	FlagDontCache Flag = 1 << iota
	// FlagDontPropagate keeps this I/O's error out of the vdev's error
	// counters.
	FlagDontPropagate
	// FlagDontRetry fails this I/O on the first device error.
	FlagDontRetry
	// FlagNoBookmark suppresses the per-error log annotation.
	FlagNoBookmark
	// FlagIORetry marks a reissued I/O; set by the framework.
	FlagIORetry
)

// DoneFunc is invoked when an I/O completes; z.Error holds the outcome.
type DoneFunc func(z *ZIO)

// ReadCache is the interface a per-vdev caching layer presents to the
// framework. Read returns nil when it absorbs the I/O (the framework must
// not issue it) and an errno-carrying error when the caller should proceed
// uncached. Write never fails.
type ReadCache interface {
	Read(z *ZIO) (err error)
	Write(z *ZIO)
}

// ZIO describes one block I/O.
type ZIO struct {
	Type     IOType
	Priority Priority
	Flags    Flag
	Offset   uint64
	Size     uint64
	Data     []byte
	Error    error

	// Private is an opaque cookie for the owner of the completion
	// callback; the read cache points it at the entry a fill populates.
	Private interface{}

	vd        *Vdev
	parent    *ZIO
	childDone DoneFunc // runs before done/doneChan on completion
	done      DoneFunc
	doneChan  chan struct{}
	completed uint32 // set once by complete()
	bypassed  bool
	seq       uint64 // queue admission order

	// intrusive delegate list; guarded by the owning cache's lock
	delegateNext *ZIO
	delegateHead *ZIO
	delegateTail *ZIO
}

func newZIO(vd *Vdev, ioType IOType, priority Priority, flags Flag, offset uint64, size uint64, data []byte, done DoneFunc) (z *ZIO) {
	z = &ZIO{
		Type:     ioType,
		Priority: priority,
		Flags:    flags,
		Offset:   offset,
		Size:     size,
		Data:     data,
		vd:       vd,
		done:     done,
		doneChan: make(chan struct{}),
	}
	return
}

// ReadZIO constructs (but does not submit) a read of [offset, offset+size)
// into data against vd.
func ReadZIO(vd *Vdev, offset uint64, size uint64, data []byte, flags Flag, done DoneFunc) (z *ZIO) {
	z = newZIO(vd, TypeRead, PrioritySyncRead, flags, offset, size, data, done)
	return
}

// WriteZIO constructs (but does not submit) a write of data to
// [offset, offset+size) against vd.
func WriteZIO(vd *Vdev, offset uint64, size uint64, data []byte, flags Flag, done DoneFunc) (z *ZIO) {
	z = newZIO(vd, TypeWrite, PrioritySyncWrite, flags, offset, size, data, done)
	return
}

// VdevChildIO constructs (but does not submit) a child I/O on behalf of
// parent. callback runs on the child's completion, before the child is
// marked done; private is stashed in the child's Private field.
func VdevChildIO(parent *ZIO, vd *Vdev, offset uint64, data []byte, size uint64, ioType IOType, priority Priority, flags Flag, callback DoneFunc, private interface{}) (child *ZIO) {
	child = newZIO(vd, ioType, priority, flags, offset, size, data, nil)
	child.parent = parent
	child.childDone = callback
	child.Private = private
	return
}

// Nowait submits z for asynchronous servicing and returns immediately.
func Nowait(z *ZIO) {
	z.vd.enqueue(z)
}

// Wait submits z, blocks until it completes, and returns its Error.
func Wait(z *ZIO) (err error) {
	Nowait(z)
	<-z.doneChan
	err = z.Error
	return
}

// Done blocks until a previously submitted (or absorbed) z completes and
// returns its Error.
func Done(z *ZIO) (err error) {
	<-z.doneChan
	err = z.Error
	return
}

// VdevIOBypass marks z as absorbed by a caching layer; the framework will
// not issue it, and the layer resumes it later via Execute.
func VdevIOBypass(z *ZIO) {
	z.bypassed = true
}

// Bypassed reports whether z was absorbed by a caching layer.
func (z *ZIO) Bypassed() (bypassed bool) {
	bypassed = z.bypassed
	return
}

// Execute resumes a previously bypassed I/O, completing it with whatever
// Error it now carries.
func Execute(z *ZIO) {
	if !z.bypassed {
		logger.PanicfWithError(nil, "zio.Execute() on I/O at offset 0x%X that was never bypassed", z.Offset)
	}
	complete(z)
}

// complete finishes z exactly once: child callback, done callback, then the
// done channel.
func complete(z *ZIO) {
	if !atomic.CompareAndSwapUint32(&z.completed, 0, 1) {
		logger.PanicfWithError(nil, "zio: double completion of I/O at offset 0x%X", z.Offset)
	}

	if nil != z.childDone {
		z.childDone(z)
	}
	if nil != z.done {
		z.done(z)
	}
	close(z.doneChan)
}

// completeWithError finishes z carrying err.
func completeWithError(z *ZIO, err error) {
	z.Error = err
	complete(z)
}

//
// Intrusive delegate list. Append and traversal happen under the owning
// cache's lock; once no new delegate can arrive, the fill's owner drains
// the list with PopDelegate, which clears each link as it goes. Traversal
// of the links after completion is not permitted.
//

// AppendDelegate appends dio to z's delegate list in FIFO order, O(1).
func (z *ZIO) AppendDelegate(dio *ZIO) {
	if nil != dio.delegateNext {
		logger.PanicfWithError(nil, "zio: delegate at offset 0x%X already linked", dio.Offset)
	}
	if nil == z.delegateHead {
		z.delegateHead = dio
		z.delegateTail = dio
	} else {
		z.delegateTail.delegateNext = dio
		z.delegateTail = dio
	}
}

// DelegateList returns the head of z's delegate list, nil if empty.
func (z *ZIO) DelegateList() (head *ZIO) {
	head = z.delegateHead
	return
}

// NextDelegate returns the delegate queued after z, nil at the tail.
func (z *ZIO) NextDelegate() (next *ZIO) {
	next = z.delegateNext
	return
}

// PopDelegate removes and returns the head of z's delegate list, clearing
// its link; nil once the list is drained.
func (z *ZIO) PopDelegate() (dio *ZIO) {
	dio = z.delegateHead
	if nil == dio {
		return
	}
	z.delegateHead = dio.delegateNext
	if nil == z.delegateHead {
		z.delegateTail = nil
	}
	dio.delegateNext = nil
	return
}

// Less orders pending I/Os by (Priority, admission sequence) for the vdev
// queue's btree.
func (z *ZIO) Less(than btree.Item) (less bool) {
	other := than.(*ZIO)
	if z.Priority != other.Priority {
		less = z.Priority < other.Priority
		return
	}
	less = z.seq < other.seq
	return
}

// ioError wraps a device-level failure as an EIO unless it already carries
// an errno.
func ioError(err error) error {
	if zerr.Errno(err) > 0 {
		return err
	}
	return zerr.AddError(err, zerr.IOError)
}
