// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package zio

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettafs/zettafs/conf"
	"github.com/zettafs/zettafs/locktrack"
	"github.com/zettafs/zettafs/logger"
	"github.com/zettafs/zettafs/ramdev"
	"github.com/zettafs/zettafs/zerr"
)

func testSetup(t *testing.T, confOverrides []string) (vd *Vdev, dev *ramdev.Device) {
	confStrings := []string{
		"ZIO.VdevWorkerCount=2",
		"ZIO.RetryLimit=1",
		"ZIO.RetryDelay=1ms",
	}
	confStrings = append(confStrings, confOverrides...)

	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	require.Nil(t, err)

	require.Nil(t, logger.Up(confMap))
	require.Nil(t, locktrack.Up(confMap))
	require.Nil(t, Up(confMap))

	dev = ramdev.New(t.Name(), 1024*1024)
	vd = NewVdev(t.Name(), dev)
	return
}

func testTeardown(t *testing.T, vd *Vdev, dev *ramdev.Device) {
	vd.Close()
	dev.Close()
	require.Nil(t, Down())
	require.Nil(t, locktrack.Down())
	require.Nil(t, logger.Down())
}

func TestReadWriteRoundTrip(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	wbuf := make([]byte, 4096)
	for i := range wbuf {
		wbuf[i] = byte(i % 251)
	}
	require.Nil(t, Wait(WriteZIO(vd, 8192, 4096, wbuf, 0, nil)))

	rbuf := make([]byte, 4096)
	require.Nil(t, Wait(ReadZIO(vd, 8192, 4096, rbuf, 0, nil)))
	assert.Equal(t, wbuf, rbuf)

	assert.Equal(t, uint64(1), vd.stats.ReadOps.TotalGet())
	assert.Equal(t, uint64(1), vd.stats.WriteOps.TotalGet())
	assert.Equal(t, uint64(4096), vd.stats.BytesRead.TotalGet())
	assert.Equal(t, uint64(4096), vd.stats.BytesWritten.TotalGet())
}

func TestDoneCallback(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	var (
		calledLock sync.Mutex
		calledWith error
		called     bool
	)
	z := ReadZIO(vd, 0, 512, make([]byte, 512), 0, func(z *ZIO) {
		calledLock.Lock()
		called = true
		calledWith = z.Error
		calledLock.Unlock()
	})
	require.Nil(t, Wait(z))

	calledLock.Lock()
	assert.True(t, called)
	assert.Nil(t, calledWith)
	calledLock.Unlock()
}

func TestRetry(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	var (
		attemptLock sync.Mutex
		attempts    int
	)
	dev.SetReadHook(func(off int64, length int) (err error) {
		attemptLock.Lock()
		attempts++
		failing := 1 == attempts
		attemptLock.Unlock()
		if failing {
			err = fmt.Errorf("transient device failure")
		}
		return
	})

	// first attempt fails, the retry succeeds
	require.Nil(t, Wait(ReadZIO(vd, 0, 512, make([]byte, 512), 0, nil)))

	attemptLock.Lock()
	assert.Equal(t, 2, attempts)
	attemptLock.Unlock()
	assert.Equal(t, uint64(1), vd.stats.RetriedOps.CountGet())
	assert.Equal(t, uint64(0), vd.stats.ReadErrors.TotalGet())

	// with FlagDontRetry the first failure is final
	attemptLock.Lock()
	attempts = 0
	attemptLock.Unlock()
	dev.SetReadHook(func(off int64, length int) (err error) {
		attemptLock.Lock()
		attempts++
		attemptLock.Unlock()
		err = fmt.Errorf("hard device failure")
		return
	})

	err := Wait(ReadZIO(vd, 0, 512, make([]byte, 512), FlagDontRetry|FlagNoBookmark, nil))
	require.NotNil(t, err)
	assert.True(t, zerr.Is(err, zerr.IOError))
	attemptLock.Lock()
	assert.Equal(t, 1, attempts)
	attemptLock.Unlock()
	assert.Equal(t, uint64(1), vd.stats.ReadErrors.TotalGet())
}

func TestDontPropagate(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	dev.SetReadHook(func(off int64, length int) (err error) {
		err = fmt.Errorf("device failure")
		return
	})

	err := Wait(ReadZIO(vd, 0, 512, make([]byte, 512), FlagDontRetry|FlagDontPropagate|FlagNoBookmark, nil))
	require.NotNil(t, err)
	assert.Equal(t, uint64(0), vd.stats.ReadErrors.TotalGet())
}

func TestPriorityOrdering(t *testing.T) {
	vd, dev := testSetup(t, []string{"ZIO.VdevWorkerCount=1"})
	defer testTeardown(t, vd, dev)

	gate := make(chan struct{})
	entered := make(chan struct{})
	var hookOnce sync.Once
	dev.SetReadHook(func(off int64, length int) (err error) {
		hookOnce.Do(func() {
			close(entered)
			<-gate
		})
		return
	})

	// occupy the only worker
	blocker := ReadZIO(vd, 0, 512, make([]byte, 512), 0, nil)
	Nowait(blocker)
	<-entered

	var (
		orderLock sync.Mutex
		order     []string
	)
	record := func(tag string) DoneFunc {
		return func(z *ZIO) {
			orderLock.Lock()
			order = append(order, tag)
			orderLock.Unlock()
		}
	}

	// queue a low-urgency scrub first, then a sync read; the sync read
	// must be serviced first once the worker frees up
	scrub := ReadZIO(vd, 4096, 512, make([]byte, 512), 0, record("scrub"))
	scrub.Priority = PriorityScrub
	Nowait(scrub)

	syncRead := ReadZIO(vd, 8192, 512, make([]byte, 512), 0, record("sync"))
	Nowait(syncRead)

	close(gate)
	require.Nil(t, Done(blocker))
	require.Nil(t, Done(scrub))
	require.Nil(t, Done(syncRead))

	orderLock.Lock()
	assert.Equal(t, []string{"sync", "scrub"}, order)
	orderLock.Unlock()
}

func TestDelegateListFIFO(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	fio := ReadZIO(vd, 0, 512, make([]byte, 512), 0, nil)
	d1 := ReadZIO(vd, 0, 128, make([]byte, 128), 0, nil)
	d2 := ReadZIO(vd, 128, 128, make([]byte, 128), 0, nil)
	d3 := ReadZIO(vd, 256, 128, make([]byte, 128), 0, nil)

	assert.Nil(t, fio.DelegateList())

	fio.AppendDelegate(d1)
	fio.AppendDelegate(d2)
	fio.AppendDelegate(d3)

	// forward traversal sees FIFO order
	want := []*ZIO{d1, d2, d3}
	got := []*ZIO{}
	for dio := fio.DelegateList(); nil != dio; dio = dio.NextDelegate() {
		got = append(got, dio)
	}
	assert.Equal(t, want, got)

	// drain pops in the same order and clears the links
	for _, expected := range want {
		dio := fio.PopDelegate()
		assert.Equal(t, expected, dio)
		assert.Nil(t, dio.NextDelegate())
	}
	assert.Nil(t, fio.PopDelegate())

	// the list is reusable after a drain
	fio.AppendDelegate(d1)
	assert.Equal(t, d1, fio.DelegateList())
	assert.Equal(t, d1, fio.PopDelegate())
}

func TestChildIOCallback(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	type cookie struct{ tag string }

	var (
		cbLock    sync.Mutex
		cbPrivate interface{}
		cbError   error
	)

	parent := ReadZIO(vd, 0, 512, make([]byte, 512), 0, nil)
	child := VdevChildIO(parent, vd, 0, make([]byte, 4096), 4096,
		TypeRead, PriorityCacheFill, FlagDontCache|FlagNoBookmark,
		func(z *ZIO) {
			cbLock.Lock()
			cbPrivate = z.Private
			cbError = z.Error
			cbLock.Unlock()
		},
		&cookie{tag: "fill"})

	require.Nil(t, Wait(child))

	cbLock.Lock()
	require.NotNil(t, cbPrivate)
	assert.Equal(t, "fill", cbPrivate.(*cookie).tag)
	assert.Nil(t, cbError)
	cbLock.Unlock()
}

func TestBypassAndExecute(t *testing.T) {
	vd, dev := testSetup(t, nil)
	defer testTeardown(t, vd, dev)

	z := ReadZIO(vd, 0, 512, make([]byte, 512), 0, nil)
	assert.False(t, z.Bypassed())

	VdevIOBypass(z)
	assert.True(t, z.Bypassed())

	done := make(chan struct{})
	go func() {
		_ = Done(z)
		close(done)
	}()

	Execute(z)
	<-done
	assert.Nil(t, z.Error)
}

func TestClosedVdev(t *testing.T) {
	vd, dev := testSetup(t, nil)

	vd.Close()

	err := Wait(ReadZIO(vd, 0, 512, make([]byte, 512), 0, nil))
	require.NotNil(t, err)
	assert.True(t, zerr.Is(err, zerr.IOError))

	dev.Close()
	require.Nil(t, Down())
	require.Nil(t, locktrack.Down())
	require.Nil(t, logger.Down())
}
