// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package setupenv assembles a build environment out of the environments
// dumped by setup scripts.
package setupenv

import (
	"strings"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/system/environ"
)

// DefaultPathLists are variables whose values are lists merged across
// setups. Names are compared case-insensitively.
var DefaultPathLists = []string{"path"}

// Env is a build environment.
//
// Variables listed as path lists accumulate items of every setup, keeping
// the order items were first seen in. Other variables keep the last value
// set.
type Env struct {
	delim     string
	pathLists stringset.Set
	env       environ.Env
}

// New returns an empty environment using delim to split path lists.
func New(delim string, pathLists ...string) *Env {
	if len(pathLists) == 0 {
		pathLists = DefaultPathLists
	}
	lists := stringset.New(len(pathLists))
	for _, p := range pathLists {
		lists.Add(strings.ToLower(p))
	}
	return &Env{delim: delim, pathLists: lists, env: environ.New(nil)}
}

// Store records a single variable.
func (e *Env) Store(key, value string) {
	if key == "" {
		return
	}
	if !e.pathLists.Has(strings.ToLower(key)) {
		e.env.Set(key, value)
		return
	}
	var items []string
	seen := stringset.New(0)
	add := func(list string) {
		for _, item := range strings.Split(list, e.delim) {
			if item != "" && seen.Add(item) {
				items = append(items, item)
			}
		}
	}
	if prev, ok := e.env.Lookup(key); ok {
		add(prev)
	}
	add(value)
	e.env.Set(key, strings.Join(items, e.delim))
}

// Parse records every KEY=VALUE line of env/set output. Other lines are
// ignored, as are exported bash functions and keys with blanks, which only
// come from continuation lines of multi-line values.
func (e *Env) Parse(output string) {
	inFunc := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if inFunc {
			inFunc = line != "}"
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		switch {
		case !ok || strings.ContainsAny(k, " \t"):
		case strings.HasPrefix(k, "BASH_FUNC_"):
			inFunc = strings.HasPrefix(v, "() {") && !strings.HasSuffix(v, "}")
		default:
			e.Store(k, v)
		}
	}
}

// Get returns a variable.
func (e *Env) Get(key string) (string, bool) {
	return e.env.Lookup(key)
}

// Map returns all variables.
func (e *Env) Map() map[string]string {
	return e.env.Map()
}

// Len is the number of variables.
func (e *Env) Len() int {
	return len(e.env.Map())
}
