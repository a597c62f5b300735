// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides small call-stack helpers shared by the logger and
// locktrack packages.
package utils

import (
	"bytes"
	"regexp"
	"runtime"
	"strconv"
)

// GetGoId returns the goroutine ID of the calling goroutine.
//
// There is no Go API for this; like everybody else we parse it out of the
// first line of a stack trace, which reads "goroutine 18 [running]:".
func GetGoId() uint64 {
	var stackBuf [64]byte

	cnt := runtime.Stack(stackBuf[:], false)
	return StackTraceToGoId(stackBuf[:cnt])
}

// StackTraceToGoId extracts the goroutine ID from a stack trace previously
// collected via runtime.Stack().
func StackTraceToGoId(buf []byte) uint64 {
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	spaceIndex := bytes.IndexByte(buf, ' ')
	if spaceIndex < 0 {
		return 0
	}
	idField := buf[:spaceIndex]

	goId, err := strconv.ParseUint(string(idField), 10, 64)
	if nil != err {
		return 0
	}
	return goId
}

// GetAFnName returns the package-qualified name of the function level frames
// up the call stack from the caller.
func GetAFnName(level int) string {
	// Skip GetAFnName itself plus the requested number of levels
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}

	fn := runtime.FuncForPC(pc)
	if nil == fn {
		return "unknown.unknown"
	}
	return trimFuncName(fn.Name())
}

// GetFuncPackage returns the function name, package name, and goroutine ID of
// the function level frames up the call stack from the caller.
func GetFuncPackage(level int) (fn string, pkg string, goId uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = extractPkgName.FindString(funcPkg)
	fn = extractFnName.FindString(funcPkg)
	goId = GetGoId()

	return
}

var (
	extractPkgName = regexp.MustCompile(`^[^.]*`)
	extractFnName  = regexp.MustCompile(`[^.]*$`)
)

// trimFuncName reduces "github.com/zettafs/zettafs/vdevcache.(*Cache).Read"
// to "vdevcache.(*Cache).Read".
func trimFuncName(funcName string) string {
	i := bytes.LastIndexByte([]byte(funcName), '/')
	if i < 0 {
		return funcName
	}
	return funcName[i+1:]
}
