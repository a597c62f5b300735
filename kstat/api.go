// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package kstat implements a small in-process statistics registry.
//
// One or more statistics are placed as exported fields in a structure and
// registered, under a (pkgName, groupName) pair, via Register() before use.
// Statistics start at zero, grow by relaxed atomic adds, and are rendered in
// a one-line-per-stat parsable format by SprintStats().
//
// The statistic kinds provided are Total (a monotonic counter) and Average
// (a count plus total of the values added).
package kstat

import (
	"fmt"
	"sync/atomic"
)

// A Totaler can be incremented, or added to, and tracks the total of all
// values added. Adding a negative value is not supported.
type Totaler interface {
	Increment()
	Add(value uint64)
	TotalGet() (total uint64)
	Sprint(pkgName string, groupName string) (values string)
}

// An Averager is a Totaler that also counts the number of values added.
type Averager interface {
	Totaler
	CountGet() (count uint64)
	AverageGet() (avg uint64)
}

// Total is a monotonic counter. Name must be unique within the containing
// structure; if it is "" then Register() assigns the field's name.
type Total struct {
	total uint64 // held first to ensure 64-bit alignment
	Name  string
}

func (stat *Total) Add(value uint64) {
	atomic.AddUint64(&stat.total, value)
}

func (stat *Total) Increment() {
	atomic.AddUint64(&stat.total, 1)
}

func (stat *Total) TotalGet() (total uint64) {
	total = atomic.LoadUint64(&stat.total)
	return
}

func (stat *Total) Sprint(pkgName string, groupName string) (values string) {
	values = fmt.Sprintf("%s.%s.%s total:%d\n", pkgName, groupName, stat.Name, stat.TotalGet())
	return
}

// Average tracks a count of values added and their total. Name follows the
// same rules as Total.Name.
type Average struct {
	count uint64 // held first to ensure 64-bit alignment
	total uint64
	Name  string
}

func (stat *Average) Add(value uint64) {
	atomic.AddUint64(&stat.total, value)
	atomic.AddUint64(&stat.count, 1)
}

func (stat *Average) Increment() {
	stat.Add(1)
}

func (stat *Average) CountGet() (count uint64) {
	count = atomic.LoadUint64(&stat.count)
	return
}

func (stat *Average) TotalGet() (total uint64) {
	total = atomic.LoadUint64(&stat.total)
	return
}

func (stat *Average) AverageGet() (avg uint64) {
	count := atomic.LoadUint64(&stat.count)
	if 0 == count {
		avg = 0
		return
	}
	avg = atomic.LoadUint64(&stat.total) / count
	return
}

func (stat *Average) Sprint(pkgName string, groupName string) (values string) {
	values = fmt.Sprintf("%s.%s.%s count:%d total:%d avg:%d\n",
		pkgName, groupName, stat.Name, stat.CountGet(), stat.TotalGet(), stat.AverageGet())
	return
}

// Register initializes and registers a set of statistics.
//
// statsStruct is a pointer to a structure with one or more exported Total or
// Average fields; other fields are ignored. The (pkgName, groupName) pair
// must be unique among registered groups; one, but not both, may be "".
// Register panics on a duplicate or malformed registration, as that is a
// coding error.
func Register(pkgName string, groupName string, statsStruct interface{}) {
	register(pkgName, groupName, statsStruct)
}

// UnRegister removes a set of statistics. The same (pkgName, groupName) may
// be registered again afterward. UnRegister of an unknown group is a no-op.
func UnRegister(pkgName string, groupName string) {
	unRegister(pkgName, groupName)
}

// SprintStats renders the selected statistics groups, one statistic per
// line. Either or both of pkgName and groupName may be "*" to select all
// registered package or group names.
func SprintStats(pkgName string, groupName string) (values string) {
	values = sprintStats(pkgName, groupName)
	return
}
