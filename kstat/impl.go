// Copyright (c) 2021, Zettafs Contributors.
// SPDX-License-Identifier: Apache-2.0

package kstat

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

type statsGroup struct {
	pkgName   string
	groupName string
	stats     []Totaler // discovered statistics, in field order
}

type registryStruct struct {
	sync.Mutex
	groups map[string]*statsGroup // key: pkgName + ":" + groupName
}

var registry = registryStruct{
	groups: map[string]*statsGroup{},
}

func groupKey(pkgName string, groupName string) string {
	return pkgName + ":" + groupName
}

func register(pkgName string, groupName string, statsStruct interface{}) {
	if ("" == pkgName) && ("" == groupName) {
		panic(fmt.Sprintf("kstat.Register(): pkgName and groupName cannot both be empty"))
	}
	for _, name := range []string{pkgName, groupName} {
		if strings.ContainsAny(name, " \t\n\"*:") {
			panic(fmt.Sprintf("kstat.Register(%s, %s): illegal character in name", pkgName, groupName))
		}
	}

	structAsValue := reflect.ValueOf(statsStruct)
	if reflect.Ptr != structAsValue.Kind() || reflect.Struct != structAsValue.Elem().Kind() {
		panic(fmt.Sprintf("kstat.Register(%s, %s): statsStruct must be a pointer to a structure", pkgName, groupName))
	}
	structAsElem := structAsValue.Elem()
	structAsType := structAsElem.Type()

	group := &statsGroup{pkgName: pkgName, groupName: groupName}

	for i := 0; i < structAsElem.NumField(); i++ {
		fieldValue := structAsElem.Field(i)
		if !fieldValue.CanAddr() || !fieldValue.CanSet() {
			continue
		}

		switch stat := fieldValue.Addr().Interface().(type) {
		case *Total:
			if "" == stat.Name {
				stat.Name = structAsType.Field(i).Name
			}
			group.stats = append(group.stats, stat)
		case *Average:
			if "" == stat.Name {
				stat.Name = structAsType.Field(i).Name
			}
			group.stats = append(group.stats, stat)
		default:
			// not a statistic; skip it
		}
	}

	nameSeen := map[string]bool{}
	for _, stat := range group.stats {
		name := statName(stat)
		if nameSeen[name] {
			panic(fmt.Sprintf("kstat.Register(%s, %s): duplicate statistic name '%s'", pkgName, groupName, name))
		}
		nameSeen[name] = true
	}

	registry.Lock()
	defer registry.Unlock()

	key := groupKey(pkgName, groupName)
	if _, ok := registry.groups[key]; ok {
		panic(fmt.Sprintf("kstat.Register(%s, %s): already registered", pkgName, groupName))
	}
	registry.groups[key] = group
}

func unRegister(pkgName string, groupName string) {
	registry.Lock()
	delete(registry.groups, groupKey(pkgName, groupName))
	registry.Unlock()
}

func statName(stat Totaler) string {
	switch typedStat := stat.(type) {
	case *Total:
		return typedStat.Name
	case *Average:
		return typedStat.Name
	}
	return ""
}

func sprintStats(pkgName string, groupName string) (values string) {
	var selected []*statsGroup

	registry.Lock()
	for _, group := range registry.groups {
		if ("*" == pkgName) || (group.pkgName == pkgName) {
			if ("*" == groupName) || (group.groupName == groupName) {
				selected = append(selected, group)
			}
		}
	}
	registry.Unlock()

	sort.Slice(selected, func(i int, j int) bool {
		if selected[i].pkgName != selected[j].pkgName {
			return selected[i].pkgName < selected[j].pkgName
		}
		return selected[i].groupName < selected[j].groupName
	})

	for _, group := range selected {
		for _, stat := range group.stats {
			values += stat.Sprint(group.pkgName, group.groupName)
		}
	}
	return
}
