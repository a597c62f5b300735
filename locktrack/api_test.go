// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package locktrack

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettafs/zettafs/conf"
	"github.com/zettafs/zettafs/logger"
)

type logBuffer struct {
	sync.Mutex
	contents string
}

func (buf *logBuffer) Write(p []byte) (n int, err error) {
	buf.Lock()
	buf.contents += string(p)
	buf.Unlock()
	n = len(p)
	err = nil
	return
}

func (buf *logBuffer) String() (contents string) {
	buf.Lock()
	contents = buf.contents
	buf.Unlock()
	return
}

func TestUntrackedLocks(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{})
	require.Nil(t, err)
	require.Nil(t, logger.Up(confMap))
	require.Nil(t, Up(confMap))

	var (
		counter int
		mutex   Mutex
		rwMutex RWMutex
		wg      sync.WaitGroup
	)

	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)

	rwMutex.RLock()
	rwMutex.RLock()
	rwMutex.RUnlock()
	rwMutex.RUnlock()
	rwMutex.Lock()
	rwMutex.Unlock()

	require.Nil(t, Down())
	require.Nil(t, logger.Down())
}

func TestOverlongHoldLogged(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{
		"LockTrack.LockHoldTimeLimit=1s",
	})
	require.Nil(t, err)
	require.Nil(t, logger.Up(confMap))
	require.Nil(t, Up(confMap))

	buf := &logBuffer{}
	logger.AddLogTarget(buf)

	var mutex Mutex

	// a short hold stays quiet
	mutex.Lock()
	mutex.Unlock()
	assert.False(t, strings.Contains(buf.String(), "locked for"))

	// an overlong hold is reported at Unlock() with the Lock() stack
	mutex.Lock()
	time.Sleep(1100 * time.Millisecond)
	mutex.Unlock()

	captured := buf.String()
	assert.True(t, strings.Contains(captured, "locked for"))
	assert.True(t, strings.Contains(captured, "TestOverlongHoldLogged"))

	require.Nil(t, Down())
	require.Nil(t, logger.Down())
}

func TestWatcherStartStop(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{
		"LockTrack.LockHoldTimeLimit=1s",
		"LockTrack.LockCheckPeriod=1s",
	})
	require.Nil(t, err)
	require.Nil(t, logger.Up(confMap))
	require.Nil(t, Up(confMap))

	var mutex Mutex
	mutex.Lock()
	mutex.Unlock()

	// Down() stops the watcher daemon cleanly
	require.Nil(t, Down())
	require.Nil(t, logger.Down())
}
