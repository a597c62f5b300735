// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettafs/zettafs/conf"
)

// logBuffer is a goroutine-safe capture target.
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

func TestLoggingFields(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.TraceLevelLogging=logger",
	})
	require.Nil(t, err)
	require.Nil(t, Up(confMap))
	defer func() {
		_ = Down()
	}()

	buf := &logBuffer{}
	AddLogTarget(buf)

	Infof("informational %d", 42)
	captured := buf.String()
	assert.True(t, strings.Contains(captured, "informational 42"))
	assert.True(t, strings.Contains(captured, "package=logger"))
	assert.True(t, strings.Contains(captured, "function=TestLoggingFields"))

	Warnf("watch out")
	assert.True(t, strings.Contains(buf.String(), "watch out"))

	ErrorfWithError(assertableError{}, "operation failed")
	captured = buf.String()
	assert.True(t, strings.Contains(captured, "operation failed"))
	assert.True(t, strings.Contains(captured, "assertable error"))
}

func TestTraceGating(t *testing.T) {
	// trace enabled for this package
	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.TraceLevelLogging=logger",
	})
	require.Nil(t, err)
	require.Nil(t, Up(confMap))

	buf := &logBuffer{}
	AddLogTarget(buf)

	Tracef("trace line %s", "one")
	assert.True(t, strings.Contains(buf.String(), "trace line one"))

	// trace not enabled: Tracef is suppressed
	confMap, err = conf.MakeConfMapFromStrings([]string{})
	require.Nil(t, err)
	require.Nil(t, Up(confMap))

	buf2 := &logBuffer{}
	AddLogTarget(buf2)

	Tracef("trace line %s", "two")
	assert.False(t, strings.Contains(buf2.String(), "trace line two"))

	// debug follows the same gating
	Debugf("debug line")
	assert.False(t, strings.Contains(buf2.String(), "debug line"))

	_ = Down()
}

type assertableError struct{}

func (assertableError) Error() string {
	return "assertable error"
}
