// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

// Package conf provides a simple layered configuration map.
//
// A ConfMap is built from strings (or files containing such strings) of the
// form:
//
//	SectionName.OptionName=Value1,Value2,...
//
// Later updates replace earlier values for the same Section.Option. Values
// are held as string slices; typed accessors perform conversion at fetch
// time.
package conf

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"
)

type ConfMapOption []string

type ConfMapSection map[string]ConfMapOption

type ConfMap map[string]ConfMapSection

// MakeConfMap returns an empty ConfMap.
func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

// MakeConfMapFromStrings returns a ConfMap loaded from the supplied strings.
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromStrings(confStrings)
	return
}

// MakeConfMapFromFile returns a ConfMap loaded from the supplied file, one
// Section.Option=Value line per statement. Blank lines and lines starting
// with '#' or ';' are ignored.
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

// UpdateFromString applies a single Section.Option=Value statement.
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		optionName   string
		optionValues []string
		sectionName  string
	)

	equalsSplit := strings.SplitN(confString, "=", 2)
	if 2 != len(equalsSplit) {
		err = fmt.Errorf("confString '%s' missing '='", confString)
		return
	}

	dottedKey := strings.TrimSpace(equalsSplit[0])
	dotSplit := strings.SplitN(dottedKey, ".", 2)
	if (2 != len(dotSplit)) || ("" == dotSplit[0]) || ("" == dotSplit[1]) {
		err = fmt.Errorf("confString '%s' missing 'Section.Option' key", confString)
		return
	}

	sectionName = dotSplit[0]
	optionName = dotSplit[1]

	valueString := strings.TrimSpace(equalsSplit[1])
	if "" == valueString {
		optionValues = []string{}
	} else {
		optionValues = strings.Split(valueString, ",")
		for i := range optionValues {
			optionValues[i] = strings.TrimSpace(optionValues[i])
		}
	}

	section, ok := confMap[sectionName]
	if !ok {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}

	section[optionName] = optionValues

	err = nil
	return
}

// UpdateFromStrings applies each of the supplied statements in order.
func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}
	err = nil
	return
}

// UpdateFromFile applies each statement found in the supplied file.
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	confFileBytes, err := ioutil.ReadFile(confFilePath)
	if nil != err {
		return
	}

	for _, line := range strings.Split(string(confFileBytes), "\n") {
		line = strings.TrimSpace(line)
		if ("" == line) || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		err = confMap.UpdateFromString(line)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

func (confMap ConfMap) fetchOptionValueSlice(sectionName string, optionName string) (optionValues ConfMapOption, err error) {
	section, ok := confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%s] missing", sectionName)
		return
	}

	optionValues, ok = section[optionName]
	if !ok {
		err = fmt.Errorf("[%s]%s missing", sectionName, optionName)
		return
	}

	err = nil
	return
}

// FetchOptionValueStringSlice returns the option's values verbatim.
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	optionValue, err = confMap.fetchOptionValueSlice(sectionName, optionName)
	return
}

// FetchOptionValueString returns the option's single string value.
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	optionValues, err := confMap.fetchOptionValueSlice(sectionName, optionName)
	if nil != err {
		return
	}
	if 1 != len(optionValues) {
		err = fmt.Errorf("[%s]%s must have a single value", sectionName, optionName)
		return
	}

	optionValue = optionValues[0]
	err = nil
	return
}

// FetchOptionValueBool returns the option interpreted as a boolean. Accepted
// spellings (case insensitive): true/false, yes/no, on/off, 1/0.
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	switch strings.ToLower(optionValueString) {
	case "true", "yes", "on", "1":
		optionValue = true
	case "false", "no", "off", "0":
		optionValue = false
	default:
		err = fmt.Errorf("[%s]%s value '%s' not boolean", sectionName, optionName, optionValueString)
		return
	}

	err = nil
	return
}

// FetchOptionValueUint32 returns the option interpreted as a uint32.
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueUint64, err := strconv.ParseUint(optionValueString, 0, 32)
	if nil != err {
		err = fmt.Errorf("[%s]%s value '%s' not uint32: %v", sectionName, optionName, optionValueString, err)
		return
	}

	optionValue = uint32(optionValueUint64)
	err = nil
	return
}

// FetchOptionValueUint64 returns the option interpreted as a uint64.
func (confMap ConfMap) FetchOptionValueUint64(sectionName string, optionName string) (optionValue uint64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueString, 0, 64)
	if nil != err {
		err = fmt.Errorf("[%s]%s value '%s' not uint64: %v", sectionName, optionName, optionValueString, err)
		return
	}

	err = nil
	return
}

// FetchOptionValueDuration returns the option interpreted by
// time.ParseDuration (e.g. "100ms", "40s").
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = time.ParseDuration(optionValueString)
	if nil != err {
		err = fmt.Errorf("[%s]%s value '%s' not a duration: %v", sectionName, optionName, optionValueString, err)
		return
	}

	err = nil
	return
}
