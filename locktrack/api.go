// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package locktrack provides drop-in replacements for sync.Mutex and
// sync.RWMutex that track how long each lock is held.
//
// When LockTrack.LockHoldTimeLimit is non-zero, an Unlock() that releases a
// lock held longer than the limit logs a warning with the stack recorded at
// Lock() time. When LockTrack.LockCheckPeriod is also non-zero, a watcher
// daemon periodically logs locks that are still held past the limit.
//
// With both settings at zero (the default) the wrappers cost little more
// than the underlying sync primitives. Locks may be used before Up() is
// called; tracking begins with the first Lock() after initialization.
package locktrack

import (
	"sync"
)

// Mutex wraps sync.Mutex, adding hold-time tracking.
type Mutex struct {
	wrappedMutex sync.Mutex
	tracker      mutexTrack
}

func (m *Mutex) Lock() {
	m.wrappedMutex.Lock()

	m.tracker.lockTrack(m)
}

func (m *Mutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedMutex.Unlock()
}

// RWMutex wraps sync.RWMutex, adding hold-time tracking for exclusive
// holds. Shared holds are counted but not individually tracked.
type RWMutex struct {
	wrappedRWMutex sync.RWMutex
	tracker        mutexTrack
	sharedCount    int64 // updated while holding the lock shared
	sharedLock     sync.Mutex
}

func (m *RWMutex) Lock() {
	m.wrappedRWMutex.Lock()

	m.tracker.lockTrack(m)
}

func (m *RWMutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedRWMutex.Unlock()
}

func (m *RWMutex) RLock() {
	m.wrappedRWMutex.RLock()

	m.sharedLock.Lock()
	m.sharedCount++
	m.sharedLock.Unlock()
}

func (m *RWMutex) RUnlock() {
	m.sharedLock.Lock()
	m.sharedCount--
	m.sharedLock.Unlock()

	m.wrappedRWMutex.RUnlock()
}
