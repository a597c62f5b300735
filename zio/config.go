// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package zio

import (
	"time"

	"github.com/zettafs/zettafs/conf"
	"github.com/zettafs/zettafs/logger"
)

type globalsStruct struct {
	vdevWorkerCount uint32        // goroutines servicing each vdev's queue
	retryLimit      uint32        // device retries per I/O (0 disables)
	retryDelay      time.Duration // pause between retries
}

var globals = globalsStruct{
	vdevWorkerCount: 8,
	retryLimit:      1,
	retryDelay:      10 * time.Millisecond,
}

// Up initializes the package; vdevs created before Up use the defaults.
//
// Config options consumed (all optional):
//
//	ZIO.VdevWorkerCount goroutines per vdev (default 8)
//	ZIO.RetryLimit      device retries per I/O (default 1)
//	ZIO.RetryDelay      pause between retries (default 10ms)
func Up(confMap conf.ConfMap) (err error) {
	vdevWorkerCount, confErr := confMap.FetchOptionValueUint32("ZIO", "VdevWorkerCount")
	if nil == confErr {
		if 0 == vdevWorkerCount {
			logger.Warnf("config variable 'ZIO.VdevWorkerCount' of 0 ignored; keeping %d", globals.vdevWorkerCount)
		} else {
			globals.vdevWorkerCount = vdevWorkerCount
		}
	}

	retryLimit, confErr := confMap.FetchOptionValueUint32("ZIO", "RetryLimit")
	if nil == confErr {
		globals.retryLimit = retryLimit
	}

	retryDelay, confErr := confMap.FetchOptionValueDuration("ZIO", "RetryDelay")
	if nil == confErr {
		globals.retryDelay = retryDelay
	}

	err = nil
	return
}

// Down terminates the package. Vdevs must already be closed.
func Down() (err error) {
	err = nil
	return
}
