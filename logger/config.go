// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/zettafs/zettafs/conf"
)

type globalsStruct struct {
	sync.Mutex
	logFile         *os.File
	output          *multiWriter
	traceEnabledPkg map[string]bool
	debugEnabledPkg map[string]bool
}

var globals = globalsStruct{
	traceEnabledPkg: map[string]bool{},
	debugEnabledPkg: map[string]bool{},
}

// multiWriter fans log output out to every registered target.
type multiWriter struct {
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.writers = append(mw.writers, writer)
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		if nil != err {
			return
		}
	}
	n = len(p)
	err = nil
	return
}

// Up initializes the package; logging before Up goes to stderr with defaults.
//
// Config options consumed (all optional):
//
//	Logging.LogFilePath       file to append log output to
//	Logging.LogToConsole      also log to stderr when a file is configured
//	Logging.TraceLevelLogging packages for which Tracef is enabled
//	Logging.DebugLevelLogging packages for which Debugf is enabled
func Up(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	globals.output = &multiWriter{}

	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")
	if "" != logFilePath {
		globals.logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			log.Errorf("couldn't open log file: %v", err)
			return
		}
		globals.output.addWriter(globals.logFile)

		logToConsole, confErr := confMap.FetchOptionValueBool("Logging", "LogToConsole")
		if (nil == confErr) && logToConsole {
			globals.output.addWriter(os.Stderr)
		}
	} else {
		globals.output.addWriter(os.Stderr)
	}

	log.SetOutput(globals.output)

	// logrus filtering is left wide open; trace/debug gating is
	// per-package in this layer
	log.SetLevel(log.DebugLevel)

	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	debugConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "DebugLevelLogging")

	globals.Lock()
	globals.traceEnabledPkg = map[string]bool{}
	for _, pkg := range traceConfSlice {
		globals.traceEnabledPkg[pkg] = true
	}
	globals.debugEnabledPkg = map[string]bool{}
	for _, pkg := range debugConfSlice {
		globals.debugEnabledPkg[pkg] = true
	}
	globals.Unlock()

	err = nil
	return
}

// Down terminates the package, closing the log file if one was opened.
func Down() (err error) {
	if nil != globals.logFile {
		err = globals.logFile.Close()
		globals.logFile = nil
	}
	return
}

// AddLogTarget adds an additional destination for log output; tests use this
// to capture and inspect what was logged.
func AddLogTarget(writer io.Writer) {
	if nil == globals.output {
		globals.output = &multiWriter{}
		globals.output.addWriter(os.Stderr)
		log.SetOutput(globals.output)
	}
	globals.output.addWriter(writer)
}

func traceEnabled(pkg string) bool {
	globals.Lock()
	enabled := globals.traceEnabledPkg[pkg]
	globals.Unlock()
	return enabled
}

func debugEnabled(pkg string) bool {
	globals.Lock()
	enabled := globals.debugEnabledPkg[pkg]
	globals.Unlock()
	return enabled
}
