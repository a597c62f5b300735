// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package vdevcache

import (
	"fmt"
	"sync"

	"github.com/zettafs/zettafs/conf"
	"github.com/zettafs/zettafs/logger"
)

type globalsStruct struct {
	sync.Mutex
	maxReadSize uint64 // largest read the cache will absorb
	totalSize   uint64 // per-vdev resident byte budget; 0 disables allocation
	lineShift   uint64 // log2 of the cache line size
}

var globals = globalsStruct{
	maxReadSize: 16 * 1024,
	totalSize:   10 * 1024 * 1024,
	lineShift:   16, // 64 KiB lines
}

// Up loads the package tunables. Caches created before Up use the defaults.
//
// Config options consumed (all optional):
//
//	VdevCache.MaxReadSize largest read absorbed (default 16Ki; 0 keeps the default)
//	VdevCache.TotalSize   per-vdev byte budget (default 10Mi; 0 disables allocation)
//	VdevCache.LineShift   log2 of the line size (default 16, accepted range 9..26)
//
// MaxReadSize and TotalSize take effect on live caches; LineShift is
// snapshotted by each cache at Init, since resident lines depend on it.
func Up(confMap conf.ConfMap) (err error) {
	maxReadSize, confErr := confMap.FetchOptionValueUint64("VdevCache", "MaxReadSize")
	if nil == confErr {
		if 0 == maxReadSize {
			logger.Warnf("config variable 'VdevCache.MaxReadSize' of 0 ignored; keeping %d", globals.maxReadSize)
		} else {
			globals.Lock()
			globals.maxReadSize = maxReadSize
			globals.Unlock()
		}
	}

	totalSize, confErr := confMap.FetchOptionValueUint64("VdevCache", "TotalSize")
	if nil == confErr {
		globals.Lock()
		globals.totalSize = totalSize
		globals.Unlock()
	}

	shift, confErr := confMap.FetchOptionValueUint64("VdevCache", "LineShift")
	if nil == confErr {
		if (shift < 9) || (shift > 26) {
			err = fmt.Errorf("config variable 'VdevCache.LineShift' (%d) must be between 9 and 26", shift)
			return
		}
		globals.Lock()
		globals.lineShift = shift
		globals.Unlock()
	}

	err = nil
	return
}

// Down terminates the package.
func Down() (err error) {
	err = nil
	return
}

func maxReadSize() (value uint64) {
	globals.Lock()
	value = globals.maxReadSize
	globals.Unlock()
	return
}

func totalSize() (value uint64) {
	globals.Lock()
	value = globals.totalSize
	globals.Unlock()
	return
}

func lineShift() (value uint64) {
	globals.Lock()
	value = globals.lineShift
	globals.Unlock()
	return
}
