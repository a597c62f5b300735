// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package zio

import (
	"io"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/zettafs/zettafs/kstat"
	"github.com/zettafs/zettafs/locktrack"
	"github.com/zettafs/zettafs/logger"
	"github.com/zettafs/zettafs/zerr"
)

// Device is the raw block device a Vdev sits on.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

type vdevStats struct {
	ReadOps      kstat.Total
	WriteOps     kstat.Total
	ReadErrors   kstat.Total
	WriteErrors  kstat.Total
	BytesRead    kstat.Total
	BytesWritten kstat.Total
	RetriedOps   kstat.Average // Count = ops retried, Total = retries issued
}

// Vdev owns one device, a priority queue of pending I/Os, and the worker
// pool that services them.
type Vdev struct {
	lock        locktrack.Mutex
	name        string
	dev         Device
	cache       ReadCache
	pending     *btree.BTree // *ZIO ordered by (Priority, seq)
	pendingCond *sync.Cond   // signaled on enqueue and on close
	seq         uint64
	closed      bool
	workerWG    sync.WaitGroup
	stats       vdevStats
}

// NewVdev returns a Vdev over dev with its worker pool running. Its stats
// are registered under kstat group ("zettafs.zio", "vdev_"+name).
func NewVdev(name string, dev Device) (vd *Vdev) {
	vd = &Vdev{
		name:    name,
		dev:     dev,
		pending: btree.New(2),
	}
	vd.pendingCond = sync.NewCond(&vd.lock)

	kstat.Register("zettafs.zio", "vdev_"+name, &vd.stats)

	workerCount := globals.vdevWorkerCount
	if 0 == workerCount {
		workerCount = 1
	}
	vd.workerWG.Add(int(workerCount))
	for i := uint32(0); i < workerCount; i++ {
		go vd.worker()
	}

	logger.Infof("zio: vdev %s up with %d workers", name, workerCount)
	return
}

// Name returns the vdev's name.
func (vd *Vdev) Name() (name string) {
	name = vd.name
	return
}

// SetReadCache attaches (or, with nil, detaches) a caching layer. Callers
// quiesce the vdev around the switch.
func (vd *Vdev) SetReadCache(cache ReadCache) {
	vd.lock.Lock()
	vd.cache = cache
	vd.lock.Unlock()
}

// GetReadCache returns the attached caching layer, nil if none.
func (vd *Vdev) GetReadCache() (cache ReadCache) {
	vd.lock.Lock()
	cache = vd.cache
	vd.lock.Unlock()
	return
}

// Close stops the worker pool once the workers have serviced every I/O
// already queued; anything still pending after that fails with EIO.
// Submitting to a closed Vdev fails the I/O with EIO.
func (vd *Vdev) Close() {
	vd.lock.Lock()
	vd.closed = true
	vd.pendingCond.Broadcast()
	vd.lock.Unlock()

	vd.workerWG.Wait()

	// workers are gone; whatever is left was admitted after the close
	// raced in, fail it
	vd.lock.Lock()
	for vd.pending.Len() > 0 {
		z := vd.pending.DeleteMin().(*ZIO)
		vd.lock.Unlock()
		completeWithError(z, zerr.NewError(zerr.IOError, "zio: vdev %s closed", vd.name))
		vd.lock.Lock()
	}
	vd.lock.Unlock()

	kstat.UnRegister("zettafs.zio", "vdev_"+vd.name)
	logger.Infof("zio: vdev %s down", vd.name)
}

func (vd *Vdev) enqueue(z *ZIO) {
	vd.lock.Lock()
	if vd.closed {
		vd.lock.Unlock()
		completeWithError(z, zerr.NewError(zerr.IOError, "zio: vdev %s closed", vd.name))
		return
	}
	vd.seq++
	z.seq = vd.seq
	vd.pending.ReplaceOrInsert(z)
	vd.pendingCond.Signal()
	vd.lock.Unlock()
}

func (vd *Vdev) worker() {
	defer vd.workerWG.Done()

	for {
		vd.lock.Lock()
		for (0 == vd.pending.Len()) && !vd.closed {
			vd.pendingCond.Wait()
		}
		if 0 == vd.pending.Len() {
			vd.lock.Unlock()
			return
		}
		z := vd.pending.DeleteMin().(*ZIO)
		cache := vd.cache
		vd.lock.Unlock()

		vd.service(z, cache)
	}
}

// service runs one dequeued I/O through the vdev pipeline.
func (vd *Vdev) service(z *ZIO, cache ReadCache) {
	if (TypeRead == z.Type) && (nil != cache) && !z.bypassed && (0 == z.Flags&FlagDontCache) {
		err := cache.Read(z)
		if nil == err {
			// absorbed; the cache completes it via Execute()
			return
		}
		// not eligible, stale, or out of line budget: proceed to
		// the device uncached
		logger.Debugf("zio: vdev %s read at 0x%X size 0x%X uncached: %v",
			vd.name, z.Offset, z.Size, err)
	}

	err := vd.deviceIO(z)

	if (TypeWrite == z.Type) && (nil == err) && (nil != cache) {
		// patch the cache on write completion
		cache.Write(z)
	}

	completeWithError(z, err)
}

// deviceIO issues z against the device, retrying per config unless the I/O
// opted out.
func (vd *Vdev) deviceIO(z *ZIO) (err error) {
	var retries uint32

	for {
		err = vd.deviceIOOnce(z)
		if nil == err {
			if 0 != retries {
				vd.stats.RetriedOps.Add(uint64(retries))
			}
			return
		}

		if (0 != z.Flags&FlagDontRetry) || (retries >= globals.retryLimit) {
			break
		}
		retries++
		z.Flags |= FlagIORetry
		time.Sleep(globals.retryDelay)
	}

	if 0 == z.Flags&FlagNoBookmark {
		logger.WarnfWithError(err, "zio: vdev %s %s at 0x%X size 0x%X failed after %d retries",
			vd.name, typeName(z.Type), z.Offset, z.Size, retries)
	}
	if 0 == z.Flags&FlagDontPropagate {
		if TypeWrite == z.Type {
			vd.stats.WriteErrors.Increment()
		} else {
			vd.stats.ReadErrors.Increment()
		}
	}
	return
}

func (vd *Vdev) deviceIOOnce(z *ZIO) (err error) {
	switch z.Type {
	case TypeRead:
		var n int
		n, err = vd.dev.ReadAt(z.Data[:z.Size], int64(z.Offset))
		if (io.EOF == err) && (uint64(n) == z.Size) {
			// a ReaderAt may return EOF alongside a full read at
			// the very end of the device
			err = nil
		}
		if (nil == err) && (uint64(n) < z.Size) {
			err = io.ErrUnexpectedEOF
		}
		if nil != err {
			err = ioError(err)
			return
		}
		vd.stats.ReadOps.Increment()
		vd.stats.BytesRead.Add(z.Size)
	case TypeWrite:
		_, err = vd.dev.WriteAt(z.Data[:z.Size], int64(z.Offset))
		if nil != err {
			err = ioError(err)
			return
		}
		vd.stats.WriteOps.Increment()
		vd.stats.BytesWritten.Add(z.Size)
	default:
		err = zerr.NewError(zerr.NotSupportedError, "zio: vdev %s cannot service I/O type %d", vd.name, z.Type)
	}
	return
}

func typeName(ioType IOType) (name string) {
	switch ioType {
	case TypeRead:
		name = "read"
	case TypeWrite:
		name = "write"
	default:
		name = "null"
	}
	return
}
