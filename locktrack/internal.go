// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package locktrack

import (
	"runtime"
	"time"

	"github.com/zettafs/zettafs/logger"
	"github.com/zettafs/zettafs/utils"
)

// mutexTrack holds tracking state for one lock held in exclusive mode.
type mutexTrack struct {
	isWatched  bool      // lock is in the watcher's map
	isLocked   bool      // set between lockTrack and unlockTrack
	lockTime   time.Time // when the lock was last acquired
	lockerGoId uint64    // goroutine that last acquired the lock
	lockStack  []byte    // stack recorded at Lock() time, nil if untracked
}

func (mt *mutexTrack) lockTrack(wrappedLock interface{}) {
	// with tracking disabled just record the acquisition time; it is
	// still wanted so the watcher can age out idle locks after a
	// config change enables tracking
	if 0 == globals.lockHoldTimeLimit {
		mt.lockTime = time.Now()
		mt.isLocked = true
		return
	}

	var stackBuf [4040]byte

	cnt := runtime.Stack(stackBuf[:], false)
	mt.lockStack = make([]byte, cnt)
	copy(mt.lockStack, stackBuf[:cnt])
	mt.lockerGoId = utils.StackTraceToGoId(mt.lockStack)
	mt.lockTime = time.Now()
	mt.isLocked = true

	if !mt.isWatched && (0 != globals.lockCheckPeriod) {
		globals.mapMutex.Lock()
		globals.mutexMap[mt] = wrappedLock
		globals.mapMutex.Unlock()
		mt.isWatched = true
	}
}

func (mt *mutexTrack) unlockTrack(wrappedLock interface{}) {
	if 0 != globals.lockHoldTimeLimit {
		now := time.Now()
		if now.Sub(mt.lockTime) >= globals.lockHoldTimeLimit {
			var stackBuf [4040]byte

			cnt := runtime.Stack(stackBuf[:], false)

			lockStr := "locked before lock tracking was enabled\n"
			if nil != mt.lockStack {
				lockStr = string(mt.lockStack)
			}
			logger.Warnf("Unlock(): %T at %p locked for %f sec; stack at call to Lock():\n%s stack at Unlock():\n%s",
				wrappedLock, wrappedLock,
				float64(now.Sub(mt.lockTime))/float64(time.Second), lockStr, string(stackBuf[:cnt]))
		}
	}

	mt.isLocked = false
	mt.lockStack = nil
}

// lockWatcher periodically logs locks held longer than the limit and ages
// idle locks out of the watch map.
func lockWatcher() {
	for shutdown := false; !shutdown; {
		select {
		case <-globals.stopChan:
			shutdown = true
			logger.Infof("locktrack lock watcher shutting down")
			// fall through and perform one last check

		case <-globals.lockCheckChan:
			// fall through and perform checks
		}

		now := time.Now()

		globals.mapMutex.Lock()
		for mt, lockPtr := range globals.mutexMap {
			// The watcher is the only goroutine that deletes from
			// mutexMap, so mt stays valid after the map scan.
			if !mt.isLocked {
				if now.Sub(mt.lockTime) >= globals.lockCheckPeriod {
					mt.isWatched = false
					delete(globals.mutexMap, mt)
				}
				continue
			}

			lockedDuration := now.Sub(mt.lockTime)
			if lockedDuration <= globals.lockHoldTimeLimit {
				continue
			}

			// the lock could be released while we look; copy the
			// stack robustly
			lockStack := mt.lockStack
			lockStr := ""
			if nil != lockStack {
				lockStr = string(lockStack)
			}
			logger.Warnf("locktrack watcher: %T at %p locked by goroutine %d for %f sec; stack at call to Lock():\n%s",
				lockPtr, lockPtr, mt.lockerGoId,
				float64(lockedDuration)/float64(time.Second), lockStr)
		}
		globals.mapMutex.Unlock()
	}

	globals.doneChan <- struct{}{}
}
