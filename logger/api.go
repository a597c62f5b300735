// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package logger wraps logrus so that every entry carries the emitting
// package, function, and goroutine as structured fields.
//
// Tracef and Debugf are no-ops unless the emitting package is listed in
// Logging.TraceLevelLogging / Logging.DebugLevelLogging (see Up in
// config.go).
package logger

import (
	log "github.com/sirupsen/logrus"

	"github.com/zettafs/zettafs/utils"
)

const (
	functionKey  = "function"
	goroutineKey = "goroutine"
	packageKey   = "package"
)

func newLogEntry(pkg string, fn string, goId uint64) *log.Entry {
	fields := make(log.Fields)
	fields[packageKey] = pkg
	fields[functionKey] = fn
	fields[goroutineKey] = goId

	return log.WithFields(fields)
}

func callerEntry() *log.Entry {
	// skip callerEntry and the exported API function
	fn, pkg, goId := utils.GetFuncPackage(2)
	return newLogEntry(pkg, fn, goId)
}

// Infof logs at Info level.
func Infof(format string, args ...interface{}) {
	callerEntry().Infof(format, args...)
}

// Warnf logs at Warning level.
func Warnf(format string, args ...interface{}) {
	callerEntry().Warningf(format, args...)
}

// Errorf logs at Error level.
func Errorf(format string, args ...interface{}) {
	callerEntry().Errorf(format, args...)
}

// Fatalf logs at Fatal level and exits.
func Fatalf(format string, args ...interface{}) {
	callerEntry().Fatalf(format, args...)
}

// Tracef logs at Info level, tagged as trace output; suppressed unless trace
// logging is enabled for the emitting package.
func Tracef(format string, args ...interface{}) {
	fn, pkg, goId := utils.GetFuncPackage(1)
	if !traceEnabled(pkg) {
		return
	}
	newLogEntry(pkg, fn, goId).WithField("level", "trace").Infof(format, args...)
}

// Debugf logs at Debug level; suppressed unless debug logging is enabled for
// the emitting package.
func Debugf(format string, args ...interface{}) {
	fn, pkg, goId := utils.GetFuncPackage(1)
	if !debugEnabled(pkg) {
		return
	}
	newLogEntry(pkg, fn, goId).Debugf(format, args...)
}

// ErrorWithError logs the supplied error plus context at Error level.
func ErrorWithError(err error, args ...interface{}) {
	callerEntry().WithField("error", err).Error(args...)
}

// ErrorfWithError logs a formatted message plus the supplied error at Error
// level.
func ErrorfWithError(err error, format string, args ...interface{}) {
	callerEntry().WithField("error", err).Errorf(format, args...)
}

// WarnfWithError logs a formatted message plus the supplied error at Warning
// level.
func WarnfWithError(err error, format string, args ...interface{}) {
	callerEntry().WithField("error", err).Warningf(format, args...)
}

// PanicfWithError logs a formatted message plus the supplied error at Panic
// level; logrus then panics. Used for invariant violations.
func PanicfWithError(err error, format string, args ...interface{}) {
	callerEntry().WithField("error", err).Panicf(format, args...)
}
