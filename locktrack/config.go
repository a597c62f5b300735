// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package locktrack

import (
	"sync"
	"time"

	"github.com/zettafs/zettafs/conf"
	"github.com/zettafs/zettafs/logger"
)

type globalsStruct struct {
	mapMutex          sync.Mutex                  // protects mutexMap
	mutexMap          map[*mutexTrack]interface{} // locks being watched
	lockHoldTimeLimit time.Duration               // locks held longer get logged
	lockCheckPeriod   time.Duration               // watcher wakeup period
	lockCheckChan     <-chan time.Time
	lockCheckTicker   *time.Ticker
	stopChan          chan struct{}
	doneChan          chan struct{}
}

var globals globalsStruct

func parseConfMap(confMap conf.ConfMap) (err error) {
	globals.lockHoldTimeLimit, err = confMap.FetchOptionValueDuration("LockTrack", "LockHoldTimeLimit")
	if nil != err {
		globals.lockHoldTimeLimit = time.Duration(0)
	}

	globals.lockCheckPeriod, err = confMap.FetchOptionValueDuration("LockTrack", "LockCheckPeriod")
	if nil != err {
		globals.lockCheckPeriod = time.Duration(0)
	}

	// sub-second settings churn without benefit
	if (0 != globals.lockHoldTimeLimit) && (globals.lockHoldTimeLimit < time.Second) {
		logger.Warnf("config variable 'LockTrack.LockHoldTimeLimit' below 1s; defaulting to '40s'")
		globals.lockHoldTimeLimit = 40 * time.Second
	}
	if (0 != globals.lockCheckPeriod) && (globals.lockCheckPeriod < time.Second) {
		logger.Warnf("config variable 'LockTrack.LockCheckPeriod' below 1s; defaulting to '20s'")
		globals.lockCheckPeriod = 20 * time.Second
	}

	err = nil
	return
}

// Up initializes the package. Locks can be used before Up() is called but
// are not tracked until their first Lock() afterward.
func Up(confMap conf.ConfMap) (err error) {
	err = parseConfMap(confMap)
	if nil != err {
		return
	}

	globals.mutexMap = make(map[*mutexTrack]interface{}, 128)
	globals.stopChan = make(chan struct{})
	globals.doneChan = make(chan struct{})

	if (0 == globals.lockCheckPeriod) || (0 == globals.lockHoldTimeLimit) {
		return
	}

	logger.Infof("locktrack.Up(): LockHoldTimeLimit %v LockCheckPeriod %v",
		globals.lockHoldTimeLimit, globals.lockCheckPeriod)

	globals.lockCheckTicker = time.NewTicker(globals.lockCheckPeriod)
	globals.lockCheckChan = globals.lockCheckTicker.C
	go lockWatcher()

	return
}

// Down terminates the package, stopping the watcher daemon if one was
// started.
func Down() (err error) {
	if nil != globals.lockCheckTicker {
		globals.lockCheckTicker.Stop()
		globals.lockCheckTicker = nil
		globals.stopChan <- struct{}{}
		<-globals.doneChan
	}

	globals.lockHoldTimeLimit = 0
	globals.lockCheckPeriod = 0

	err = nil
	return
}
