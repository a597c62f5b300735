// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package vdevcache implements a per-vdev LRU read-ahead cache.
//
// When the DMU reads a given block it will often want other, nearby blocks
// soon thereafter. The cache takes advantage of this by reading a larger
// aligned region (a cache line) and keeping the result: in the best case a
// burst of back-to-back 512-byte reads becomes a single 64 KiB device read
// followed by in-memory hits. In the worst case an isolated small read is
// inflated into a full line, which costs bandwidth but little latency.
//
// There are five cache operations: allocate, fill, read, write, evict.
//
// Allocate reserves an entry for a region before its data exists, so that
// concurrent threads missing on the same line do not each generate device
// I/O: they are instead queued as delegates of the single outstanding fill
// and serviced from it when it completes. Write updates cache contents
// after write completion, either by patching a ready line in place or, for
// a line whose fill is still in flight, by flagging it stale so the fill
// callback discards it (after servicing the delegates that were queued
// before the conflicting write, whose view legitimately predates it).
// Evict removes the LRU entry when allocating one more line would take the
// cache past its byte budget.
//
// All indices and entry fields are guarded by one mutex per cache; buffer
// copies happen inside it, device submission and I/O resumption outside it.
package vdevcache

import (
	"github.com/zettafs/zettafs/kstat"
	"github.com/zettafs/zettafs/logger"
	"github.com/zettafs/zettafs/zerr"
	"github.com/zettafs/zettafs/zio"
)

type cacheStats struct {
	Delegations kstat.Total
	Hits        kstat.Total
	Misses      kstat.Total
}

var stats cacheStats

// StatInit registers the cache-wide counters under kstat group
// ("zettafs.vdevcache", "vdev_cache_stats").
func StatInit() {
	kstat.Register("zettafs.vdevcache", "vdev_cache_stats", &stats)
}

// StatFini unregisters the cache-wide counters.
func StatFini() {
	kstat.UnRegister("zettafs.vdevcache", "vdev_cache_stats")
}

// Init creates a cache for vd and attaches it as vd's read cache.
func Init(vd *zio.Vdev) {
	vd.SetReadCache(newCache(vd))
}

// Fini purges vd's cache and detaches it. The caller quiesces the vdev
// first; no fill may be in flight.
func Fini(vd *zio.Vdev) {
	c := cacheOf(vd)
	if nil == c {
		return
	}
	c.purge()
	c.lock.Lock()
	c.offsetTree.Reset()
	c.lastUsedTree.Reset()
	c.lock.Unlock()
	vd.SetReadCache(nil)
}

// Purge evicts every entry from vd's cache. The caller quiesces the vdev
// first; no fill may be in flight.
func Purge(vd *zio.Vdev) {
	c := cacheOf(vd)
	if nil == c {
		return
	}
	c.purge()
}

func cacheOf(vd *zio.Vdev) (c *Cache) {
	readCache := vd.GetReadCache()
	if nil == readCache {
		return
	}
	c, ok := readCache.(*Cache)
	if !ok {
		logger.PanicfWithError(nil, "vdevcache: vdev %s read cache is not a vdevcache.Cache", vd.Name())
	}
	return
}

// Read attempts to satisfy a read from the cache. A nil return means the
// I/O was absorbed: it has been bypassed and will be (or already was)
// resumed by the cache; the caller must not issue it. A non-nil return
// carries the errno telling the caller why it must proceed uncached:
//
//	EINVAL    the I/O asked not to be cached
//	EOVERFLOW the I/O is larger than VdevCache.MaxReadSize
//	EXDEV     the I/O straddles a cache line boundary
//	ESTALE    a write invalidated the line while its fill was in flight
//	ENOMEM    no line can be allocated right now
func (c *Cache) Read(z *zio.ZIO) (err error) {
	if zio.TypeRead != z.Type {
		logger.PanicfWithError(nil, "vdevcache: Read() passed I/O of type %d", z.Type)
	}

	if 0 != z.Flags&zio.FlagDontCache {
		err = zerr.NewError(zerr.InvalidArgError, "vdevcache: I/O at 0x%X asked not to be cached", z.Offset)
		return
	}

	if z.Size > maxReadSize() {
		err = zerr.NewError(zerr.OverflowError, "vdevcache: I/O at 0x%X size 0x%X exceeds cacheable maximum", z.Offset, z.Size)
		return
	}

	// refuse an I/O that straddles two or more cache lines
	if 0 != (z.Offset^(z.Offset+z.Size-1))>>c.lineShift {
		err = zerr.NewError(zerr.CrossDeviceError, "vdevcache: I/O at 0x%X size 0x%X straddles a line boundary", z.Offset, z.Size)
		return
	}

	lineOffset := z.Offset &^ (c.lineSize - 1)

	c.lock.Lock()

	// one coarse tick per read that reaches the lookup keeps the LRU
	// ordering monotonic and cheap
	c.tick++

	ve := c.lookup(lineOffset)

	if nil != ve {
		if ve.missedUpdate {
			c.lock.Unlock()
			err = zerr.NewError(zerr.StaleError, "vdevcache: line at 0x%X invalidated during fill", lineOffset)
			return
		}

		if fio := ve.fillIO; nil != fio {
			fio.AppendDelegate(z)
			zio.VdevIOBypass(z)
			c.lock.Unlock()
			stats.Delegations.Increment()
			err = nil
			return
		}

		c.hit(ve, z)
		zio.VdevIOBypass(z)
		c.lock.Unlock()
		zio.Execute(z)
		stats.Hits.Increment()
		err = nil
		return
	}

	ve = c.allocate(lineOffset)
	if nil == ve {
		c.lock.Unlock()
		err = zerr.NewError(zerr.OutOfMemoryError, "vdevcache: no line available for 0x%X", lineOffset)
		return
	}

	fio := zio.VdevChildIO(z, c.vd, lineOffset, ve.data, c.lineSize,
		zio.TypeRead, zio.PriorityCacheFill,
		zio.FlagDontCache|zio.FlagDontPropagate|zio.FlagDontRetry|zio.FlagNoBookmark,
		c.fill, ve)

	ve.fillIO = fio
	fio.AppendDelegate(z)
	zio.VdevIOBypass(z)

	c.lock.Unlock()
	zio.Nowait(fio)
	stats.Misses.Increment()

	err = nil
	return
}

// Write updates cache contents after a write completes. Ready lines
// overlapping the write are patched in place; lines still filling are
// flagged for post-fill eviction. Write issues no I/O and never fails.
func (c *Cache) Write(z *zio.ZIO) {
	if zio.TypeWrite != z.Type {
		logger.PanicfWithError(nil, "vdevcache: Write() passed I/O of type %d", z.Type)
	}
	if 0 == z.Size {
		return
	}

	ioStart := z.Offset
	ioEnd := ioStart + z.Size
	minOffset := ioStart &^ (c.lineSize - 1)
	maxOffset := (ioEnd + c.lineSize - 1) &^ (c.lineSize - 1)

	c.lock.Lock()

	index, _, err := c.offsetTree.BisectRight(minOffset)
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: offset tree BisectRight(0x%X) failed", minOffset)
	}

	for ; ; index++ {
		_, value, ok, getErr := c.offsetTree.GetByIndex(index)
		if nil != getErr {
			logger.PanicfWithError(getErr, "vdevcache: offset tree GetByIndex(%d) failed", index)
		}
		if !ok {
			break
		}

		ve := value.(*entry)
		if ve.offset >= maxOffset {
			break
		}

		start := ve.offset
		if ioStart > start {
			start = ioStart
		}
		end := ve.offset + c.lineSize
		if ioEnd < end {
			end = ioEnd
		}

		if nil != ve.fillIO {
			// the fill may be storing into ve.data right now;
			// flag the entry instead and let the fill callback
			// discard it
			ve.missedUpdate = true
		} else {
			copy(ve.data[start-ve.offset:end-ve.offset], z.Data[start-ioStart:end-ioStart])
		}
	}

	c.lock.Unlock()
}
