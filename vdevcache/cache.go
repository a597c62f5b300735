// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package vdevcache

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/zettafs/zettafs/locktrack"
	"github.com/zettafs/zettafs/logger"
	"github.com/zettafs/zettafs/zio"
)

// entry is one resident cache line.
type entry struct {
	offset       uint64   // aligned to the cache's line size
	lastUsed     uint64   // tick of the most recent absorbing access
	hits         uint32   // per-entry telemetry
	missedUpdate bool     // a write overlapped this entry mid-fill
	data         []byte   // exactly lineSize bytes; nil once evicted
	fillIO       *zio.ZIO // outstanding fill, nil once filled
}

// lastUsedKey orders the LRU index. Among entries last used on the same
// tick, offset breaks the tie so the ordering is a strict total order.
type lastUsedKey struct {
	lastUsed uint64
	offset   uint64
}

// Cache is one vdev's read-ahead cache. An entry is in both indices or in
// neither; every field of Cache and of its entries is guarded by lock.
type Cache struct {
	lock         locktrack.Mutex
	vd           *zio.Vdev
	lineShift    uint64 // snapshotted at Init; resident lines assume it stable
	lineSize     uint64 // 1 << lineShift
	tick         uint64 // coarse monotonic clock for LRU ordering
	offsetTree   sortedmap.LLRBTree // uint64 line offset -> *entry
	lastUsedTree sortedmap.LLRBTree // lastUsedKey -> *entry
}

func newCache(vd *zio.Vdev) (c *Cache) {
	c = &Cache{
		vd:        vd,
		lineShift: lineShift(),
	}
	c.lineSize = uint64(1) << c.lineShift
	c.offsetTree = sortedmap.NewLLRBTree(sortedmap.CompareUint64, &treeDumpCallbacks{})
	c.lastUsedTree = sortedmap.NewLLRBTree(compareLastUsedKey, &treeDumpCallbacks{})
	return
}

func compareLastUsedKey(key1 sortedmap.Key, key2 sortedmap.Key) (result int, err error) {
	k1, ok := key1.(lastUsedKey)
	if !ok {
		err = fmt.Errorf("compareLastUsedKey(non-lastUsedKey,) not supported")
		return
	}
	k2, ok := key2.(lastUsedKey)
	if !ok {
		err = fmt.Errorf("compareLastUsedKey(lastUsedKey, non-lastUsedKey) not supported")
		return
	}

	if k1.lastUsed < k2.lastUsed {
		result = -1
	} else if k1.lastUsed > k2.lastUsed {
		result = 1
	} else if k1.offset < k2.offset {
		result = -1
	} else if k1.offset > k2.offset {
		result = 1
	} else {
		result = 0
	}

	err = nil
	return
}

type treeDumpCallbacks struct{}

func (*treeDumpCallbacks) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	switch typedKey := key.(type) {
	case uint64:
		keyAsString = fmt.Sprintf("0x%016X", typedKey)
	case lastUsedKey:
		keyAsString = fmt.Sprintf("%d:0x%016X", typedKey.lastUsed, typedKey.offset)
	default:
		err = fmt.Errorf("DumpKey() argument not a recognized key type")
	}
	return
}

func (*treeDumpCallbacks) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	ve, ok := value.(*entry)
	if !ok {
		err = fmt.Errorf("DumpValue() argument not an *entry")
		return
	}
	valueAsString = fmt.Sprintf("entry{offset: 0x%X, lastUsed: %d, hits: %d, missedUpdate: %v, filling: %v}",
		ve.offset, ve.lastUsed, ve.hits, ve.missedUpdate, nil != ve.fillIO)
	return
}

// lookup returns the entry at lineOffset, nil if absent. Caller holds the
// lock.
func (c *Cache) lookup(lineOffset uint64) (ve *entry) {
	value, ok, err := c.offsetTree.GetByKey(lineOffset)
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: offset tree GetByKey(0x%X) failed", lineOffset)
	}
	if !ok {
		return
	}
	ve = value.(*entry)
	return
}

// lruFront returns the least recently used entry, nil if the cache is
// empty. Caller holds the lock.
func (c *Cache) lruFront() (ve *entry) {
	_, value, ok, err := c.lastUsedTree.GetByIndex(0)
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: lastUsed tree GetByIndex(0) failed")
	}
	if !ok {
		return
	}
	ve = value.(*entry)
	return
}

// evict removes ve from both indices and drops its line buffer. Caller
// holds the lock; ve's fill must have completed and its delegates must
// already have been serviced.
func (c *Cache) evict(ve *entry) {
	if nil != ve.fillIO {
		logger.PanicfWithError(nil, "vdevcache: evicting entry at 0x%X with fill in flight", ve.offset)
	}
	if nil == ve.data {
		logger.PanicfWithError(nil, "vdevcache: evicting entry at 0x%X twice", ve.offset)
	}

	logger.Tracef("vdevcache: evicting 0x%X, LRU %d, age %d, hits %d, stale %v",
		ve.offset, ve.lastUsed, c.tick-ve.lastUsed, ve.hits, ve.missedUpdate)

	c.treeDelete(c.lastUsedTree, lastUsedKey{lastUsed: ve.lastUsed, offset: ve.offset})
	c.treeDelete(c.offsetTree, ve.offset)
	ve.data = nil
}

// allocate reserves an entry for lineOffset, evicting the LRU entry if the
// byte budget requires it. It returns nil when caching is disabled or when
// the LRU front is pinned by an in-flight fill. Caller holds the lock; no
// entry exists for lineOffset.
func (c *Cache) allocate(lineOffset uint64) (ve *entry) {
	budget := totalSize()
	if 0 == budget {
		return
	}

	count, err := c.offsetTree.Len()
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: offset tree Len() failed")
	}

	if (uint64(count)+1)*c.lineSize > budget {
		front := c.lruFront()
		if nil != front {
			if nil != front.fillIO {
				// cannot evict mid-fill; the miss proceeds
				// uncached
				logger.Tracef("vdevcache: cannot evict 0x%X, still filling", front.offset)
				return
			}
			c.evict(front)
		}
	}

	ve = &entry{
		offset:   lineOffset,
		lastUsed: c.tick,
		data:     make([]byte, c.lineSize),
	}

	c.treePut(c.offsetTree, lineOffset, ve)
	c.treePut(c.lastUsedTree, lastUsedKey{lastUsed: ve.lastUsed, offset: lineOffset}, ve)

	return
}

// hit copies the requested slice of ve into z's buffer and refreshes ve's
// LRU position. Caller holds the lock; ve's fill has completed.
func (c *Cache) hit(ve *entry, z *zio.ZIO) {
	if nil != ve.fillIO {
		logger.PanicfWithError(nil, "vdevcache: hit on entry at 0x%X with fill in flight", ve.offset)
	}

	if ve.lastUsed != c.tick {
		c.treeDelete(c.lastUsedTree, lastUsedKey{lastUsed: ve.lastUsed, offset: ve.offset})
		ve.lastUsed = c.tick
		c.treePut(c.lastUsedTree, lastUsedKey{lastUsed: ve.lastUsed, offset: ve.offset}, ve)
	}

	ve.hits++
	linePhase := z.Offset - ve.offset
	copy(z.Data[:z.Size], ve.data[linePhase:linePhase+z.Size])
}

// fill is the completion callback of the child I/O that populates an
// entry. It services the delegates queued on the fill (they were issued
// before any conflicting write, so they are entitled to the fill's view
// even if the entry went stale), discards the entry on error or staleness,
// and resumes the delegates outside the lock.
func (c *Cache) fill(fio *zio.ZIO) {
	ve := fio.Private.(*entry)

	c.lock.Lock()

	if fio != ve.fillIO {
		logger.PanicfWithError(nil, "vdevcache: fill completion at 0x%X does not match entry's fill", fio.Offset)
	}
	if fio.Offset != ve.offset {
		logger.PanicfWithError(nil, "vdevcache: fill at 0x%X completed against entry at 0x%X", fio.Offset, ve.offset)
	}

	ve.fillIO = nil

	if nil == fio.Error {
		for dio := fio.DelegateList(); nil != dio; dio = dio.NextDelegate() {
			c.hit(ve, dio)
		}
	}

	if (nil != fio.Error) || ve.missedUpdate {
		c.evict(ve)
	}

	c.lock.Unlock()

	// nobody can append to the list once fillIO is cleared; drain it
	// unlocked, exactly as delegates were queued
	for dio := fio.PopDelegate(); nil != dio; dio = fio.PopDelegate() {
		dio.Error = fio.Error
		zio.Execute(dio)
	}
}

// purge evicts every entry. The caller has quiesced the vdev; a fill still
// in flight here is a caller bug.
func (c *Cache) purge() {
	c.lock.Lock()
	for {
		_, value, ok, err := c.offsetTree.GetByIndex(0)
		if nil != err {
			logger.PanicfWithError(err, "vdevcache: offset tree GetByIndex(0) failed")
		}
		if !ok {
			break
		}
		ve := value.(*entry)
		if nil != ve.fillIO {
			logger.PanicfWithError(nil, "vdevcache: purge with fill in flight at 0x%X", ve.offset)
		}
		c.evict(ve)
	}
	c.lock.Unlock()
}

// residentBytes returns count * lineSize; tests use it to check the byte
// budget invariant.
func (c *Cache) residentBytes() (resident uint64) {
	c.lock.Lock()
	count, err := c.offsetTree.Len()
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: offset tree Len() failed")
	}
	c.lock.Unlock()
	resident = uint64(count) * c.lineSize
	return
}

func (c *Cache) treePut(tree sortedmap.SortedMap, key sortedmap.Key, ve *entry) {
	ok, err := tree.Put(key, ve)
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: tree Put() for entry at 0x%X failed", ve.offset)
	}
	if !ok {
		logger.PanicfWithError(nil, "vdevcache: tree Put() for entry at 0x%X hit a duplicate key", ve.offset)
	}
}

func (c *Cache) treeDelete(tree sortedmap.SortedMap, key sortedmap.Key) {
	ok, err := tree.DeleteByKey(key)
	if nil != err {
		logger.PanicfWithError(err, "vdevcache: tree DeleteByKey() failed")
	}
	if !ok {
		logger.PanicfWithError(nil, "vdevcache: tree DeleteByKey() missed")
	}
}
