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

package host

import (
	"fmt"
	"strconv"
)

// Well known build properties.
const (
	PropProject     = "inplace_project"
	PropProfile     = "inplace_profile"
	PropPlatform    = "inplace_platform"
	PropSetups      = "inplace_setups"
	PropBuildNumber = "buildnumber"
	PropBuilder     = "buildername"
	PropWorker      = "workername"
	// PropProductFiles is set by a products command to the list of files it
	// printed.
	PropProductFiles = "product_files"
)

// Properties are build properties.
type Properties map[string]any

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Update copies all of other into p.
func (p Properties) Update(other Properties) {
	for k, v := range other {
		p[k] = v
	}
}

// String returns a string property.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Strings returns a list of strings property.
func (p Properties) Strings(key string) ([]string, bool) {
	switch v := p[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Int returns an integer property.
func (p Properties) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	default:
		return 0, false
	}
}

// Render returns the property as it is shown to users.
func (p Properties) Render(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}
